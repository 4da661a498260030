package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultListenSendBufferSize = 4 * 1024 * 1024 // 4 MB
	DefaultListenRecvBufferSize = 4 * 1024 * 1024 // 4 MB
	DefaultClientSendBufferSize = 1024 * 1024     // 1 MB
	DefaultClientRecvBufferSize = 1024 * 1024     // 1 MB
	DefaultMaxBlockSize         = 64 * 1024       // 64 KB
	DefaultMaxMessageSize       = 16 * 1024 * 1024
	DefaultMaxAttachmentSize    = 256 * 1024 * 1024
	DefaultMaxDrainSize         = 64 * 1024 * 1024
	DefaultWorkerQueueSize      = 4096
	DefaultMaxEvents            = 256
	DefaultListenBacklog        = 1024
	DefaultEvictBatch           = 16
	DefaultSocketTimeoutMillis  = 5000
)

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

// SocketConf holds the kernel buffer sizes applied to a socket
type SocketConf struct {
	SendBufferSize int
	RecvBufferSize int
}

// TransportConfig holds all settings of the asynchronous transport engine.
// It is read once at setup and passed by reference into the reactor and
// every connection it creates.
type TransportConfig struct {
	// Kernel buffer sizes. Listening sockets (and the connections accepted
	// from them) use ListenSocket, outbound client sockets use ClientSocket.
	ListenSocket SocketConf
	ClientSocket SocketConf

	// TCP options
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // -1 keeps the OS default

	// SocketTimeoutMillis bounds the blocking handshake helpers and is set
	// as SO_SNDTIMEO / SO_RCVTIMEO on every socket (0 disables it)
	SocketTimeoutMillis int

	// MaxBlockSize is the largest single transfer unit. Attachments and
	// file payloads are split into blocks of at most this size.
	MaxBlockSize int

	// Limits for inbound messages
	MaxMessageSize    int
	MaxAttachmentSize int64
	MaxDrainSize      int64

	// Worker pool
	Workers         int
	WorkerQueueSize int
	MaxEvents       int

	// Server side
	ListenBacklog int
	EvictBatch    int
}

// DefaultTransportConfig returns a configuration with sensible defaults
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenSocket: SocketConf{
			SendBufferSize: DefaultListenSendBufferSize,
			RecvBufferSize: DefaultListenRecvBufferSize,
		},
		ClientSocket: SocketConf{
			SendBufferSize: DefaultClientSendBufferSize,
			RecvBufferSize: DefaultClientRecvBufferSize,
		},
		TCPNoDelay:          true,
		TCPLingerSec:        -1,
		SocketTimeoutMillis: DefaultSocketTimeoutMillis,
		MaxBlockSize:        DefaultMaxBlockSize,
		MaxMessageSize:      DefaultMaxMessageSize,
		MaxAttachmentSize:   DefaultMaxAttachmentSize,
		MaxDrainSize:        DefaultMaxDrainSize,
		Workers:             4,
		WorkerQueueSize:     DefaultWorkerQueueSize,
		MaxEvents:           DefaultMaxEvents,
		ListenBacklog:       DefaultListenBacklog,
		EvictBatch:          DefaultEvictBatch,
	}
}

// SocketTimeout returns the socket timeout as a duration
func (c *TransportConfig) SocketTimeout() time.Duration {
	return time.Duration(c.SocketTimeoutMillis) * time.Millisecond
}

// Validate checks the configuration for values the engine cannot work with
func (c *TransportConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.WorkerQueueSize < 2 {
		return fmt.Errorf("worker queue size must be at least 2, got %d", c.WorkerQueueSize)
	}
	if c.MaxBlockSize < 512 {
		return fmt.Errorf("max block size must be at least 512 bytes, got %d", c.MaxBlockSize)
	}
	if c.MaxMessageSize < 1 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	if c.MaxAttachmentSize < 0 || c.MaxDrainSize < 0 {
		return fmt.Errorf("size limits must not be negative")
	}
	if c.MaxEvents < 1 {
		return fmt.Errorf("max events must be positive, got %d", c.MaxEvents)
	}
	if c.SocketTimeoutMillis < 0 {
		return fmt.Errorf("socket timeout must not be negative, got %d", c.SocketTimeoutMillis)
	}
	return nil
}

// String returns a formatted string representation of the transport configuration
func (c *TransportConfig) String() string {
	var sb strings.Builder

	addSection, addField := reportHelpers(&sb)

	addSection("Transport")
	addField("Workers / direction", strconv.Itoa(c.Workers))
	addField("Worker queue size", strconv.Itoa(c.WorkerQueueSize))
	addField("Max events / wait", strconv.Itoa(c.MaxEvents))
	addField("Max block size", formatBytes(int64(c.MaxBlockSize)))
	addField("Max message size", formatBytes(int64(c.MaxMessageSize)))
	addField("Max attachment size", formatBytes(c.MaxAttachmentSize))
	addField("Max drain size", formatBytes(c.MaxDrainSize))

	addSection("Sockets")
	addField("Listen send buffer", formatBytes(int64(c.ListenSocket.SendBufferSize)))
	addField("Listen recv buffer", formatBytes(int64(c.ListenSocket.RecvBufferSize)))
	addField("Client send buffer", formatBytes(int64(c.ClientSocket.SendBufferSize)))
	addField("Client recv buffer", formatBytes(int64(c.ClientSocket.RecvBufferSize)))
	addField("TCP no delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP keep alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	addField("TCP linger", fmt.Sprintf("%d sec", c.TCPLingerSec))
	addField("Socket timeout", fmt.Sprintf("%d ms", c.SocketTimeoutMillis))
	addField("Listen backlog", strconv.Itoa(c.ListenBacklog))
	addField("Evict batch", strconv.Itoa(c.EvictBatch))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the RPC server
type ServerConfig struct {
	// Endpoint the server listens on (e.g. 0.0.0.0:7070)
	Endpoint string

	// StageWorkers is the number of goroutines executing request handlers
	StageWorkers int

	// FileDir is where inbound file payloads are stored (empty = files are discarded)
	FileDir string

	// MetricsEndpoint serves /metrics in Prometheus format (empty = disabled)
	MetricsEndpoint string

	// StatsIntervalSecond logs a transport summary periodically (0 = disabled)
	StatsIntervalSecond int

	// Logging configuration
	LogLevel string

	Transport TransportConfig
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection, addField := reportHelpers(&sb)

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Stage workers", strconv.Itoa(c.StageWorkers))
	addField("File directory", orNone(c.FileDir))
	addField("Metrics endpoint", orNone(c.MetricsEndpoint))
	addField("Stats interval", fmt.Sprintf("%d sec", c.StatsIntervalSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	sb.WriteString(c.Transport.String())
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	Transport     TransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection, addField := reportHelpers(&sb)

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers / direction", strconv.Itoa(int(math.Max(1, float64(c.Transport.Workers)))))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	sb.WriteString(c.Transport.String())
	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func reportHelpers(sb *strings.Builder) (func(string), func(string, string)) {
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	return addSection, addField
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024 && n%(1024*1024) == 0:
		return fmt.Sprintf("%d MB", n/(1024*1024))
	case n >= 1024 && n%1024 == 0:
		return fmt.Sprintf("%d KB", n/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
