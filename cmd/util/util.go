package util

import (
	"strings"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/serializer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is prepended to every environment variable, e.g. SEDARPC_ENDPOINT
	EnvPrefix = "sedarpc"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTransportFlags adds the transport engine flags to a command
func SetupTransportFlags(cmd *cobra.Command, listen bool) {
	d := common.DefaultTransportConfig()

	sendBuf, recvBuf := d.ClientSocket.SendBufferSize, d.ClientSocket.RecvBufferSize
	if listen {
		sendBuf, recvBuf = d.ListenSocket.SendBufferSize, d.ListenSocket.RecvBufferSize
	}

	key := "transport-send-buffer"
	cmd.PersistentFlags().Int(key, sendBuf/1024, WrapString("Kernel send buffer size of every socket (in KB)"))

	key = "transport-recv-buffer"
	cmd.PersistentFlags().Int(key, recvBuf/1024, WrapString("Kernel receive buffer size of every socket (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, d.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, d.TCPKeepAliveSec, WrapString("The keepalive interval (in seconds, 0 disables keepalive)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, d.TCPLingerSec, WrapString("The linger time (in seconds, -1 keeps the OS default)"))

	key = "transport-socket-timeout"
	cmd.PersistentFlags().Int(key, d.SocketTimeoutMillis, WrapString("Socket send/receive timeout in milliseconds (0 disables it)"))

	key = "transport-block-size"
	cmd.PersistentFlags().Int(key, d.MaxBlockSize/1024, WrapString("Largest single transfer unit; attachments and files are split into blocks of this size (in KB)"))

	key = "transport-max-message"
	cmd.PersistentFlags().Int(key, d.MaxMessageSize/1024, WrapString("Largest accepted serialized message (in KB)"))

	key = "transport-max-attachment"
	cmd.PersistentFlags().Int64(key, d.MaxAttachmentSize/1024, WrapString("Largest accepted attachment (in KB)"))

	key = "transport-max-drain"
	cmd.PersistentFlags().Int64(key, d.MaxDrainSize/1024, WrapString("Largest payload that is skipped after a protocol error before the connection is closed (in KB)"))

	key = "transport-workers"
	cmd.PersistentFlags().Int(key, d.Workers, WrapString("Number of send and of receive workers"))

	key = "transport-queue-size"
	cmd.PersistentFlags().Int(key, d.WorkerQueueSize, WrapString("Capacity of the readiness queue of every worker"))

	key = "transport-max-events"
	cmd.PersistentFlags().Int(key, d.MaxEvents, WrapString("Readiness events fetched per poll"))

	if listen {
		key = "transport-backlog"
		cmd.PersistentFlags().Int(key, d.ListenBacklog, WrapString("Listen backlog of the server socket"))

		key = "transport-evict-batch"
		cmd.PersistentFlags().Int(key, d.EvictBatch, WrapString("Idle connections closed at once when the process runs out of file descriptors"))
	}
}

// GetTransportConfig reads the transport flags from viper
func GetTransportConfig(listen bool) common.TransportConfig {
	c := common.DefaultTransportConfig()
	sock := common.SocketConf{
		SendBufferSize: viper.GetInt("transport-send-buffer") * 1024,
		RecvBufferSize: viper.GetInt("transport-recv-buffer") * 1024,
	}
	if listen {
		c.ListenSocket = sock
		c.ListenBacklog = viper.GetInt("transport-backlog")
		c.EvictBatch = viper.GetInt("transport-evict-batch")
	} else {
		c.ClientSocket = sock
	}
	c.TCPNoDelay = viper.GetBool("transport-tcp-nodelay")
	c.TCPKeepAliveSec = viper.GetInt("transport-tcp-keepalive")
	c.TCPLingerSec = viper.GetInt("transport-tcp-linger")
	c.SocketTimeoutMillis = viper.GetInt("transport-socket-timeout")
	c.MaxBlockSize = viper.GetInt("transport-block-size") * 1024
	c.MaxMessageSize = viper.GetInt("transport-max-message") * 1024
	c.MaxAttachmentSize = viper.GetInt64("transport-max-attachment") * 1024
	c.MaxDrainSize = viper.GetInt64("transport-max-drain") * 1024
	c.Workers = viper.GetInt("transport-workers")
	c.WorkerQueueSize = viper.GetInt("transport-queue-size")
	c.MaxEvents = viper.GetInt("transport-max-events")
	return c
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "localhost:7070", WrapString("The address of the sedarpc server. Multiple endpoints can be specified as a comma-separated list, calls are distributed round-robin"))

	SetupTransportFlags(cmd, false)
}

// InitConfig loads .env files and binds environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var endpoints []string
	for _, ep := range strings.Split(viper.GetString("endpoints"), ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}

	return &common.ClientConfig{
		Endpoints:     endpoints,
		TimeoutSecond: viper.GetInt("timeout"),
		Transport:     GetTransportConfig(false),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// InitLogging configures all loggers with the level of the log-level flag
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
