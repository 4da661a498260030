package conn

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/transport/buffer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// lineCodec encodes messages as "<id>|<payload>". Payloads starting with
// "BAD" are rejected by Decode.
type lineCodec struct{}

func (lineCodec) Encode(m wire.Decoded) ([]byte, error) {
	var p string
	switch v := m.(type) {
	case *wire.Request:
		p, _ = v.Payload.(string)
	case *wire.Response:
		p, _ = v.Payload.(string)
	}
	return []byte(fmt.Sprintf("%d|%s", m.RequestID(), p)), nil
}

func (c lineCodec) Decode(tag wire.Tag, b []byte) (wire.Decoded, error) {
	id, ok := c.PeekRequestID(b)
	if !ok {
		return nil, wire.ErrUndecodable
	}
	_, payload, _ := strings.Cut(string(b), "|")
	if strings.HasPrefix(payload, "BAD") {
		return nil, wire.ErrUndecodable
	}
	if tag == wire.TagRequest {
		return &wire.Request{ID: id, Payload: payload}, nil
	}
	return &wire.Response{ID: id, Payload: payload}, nil
}

func (lineCodec) PeekRequestID(b []byte) (uint64, bool) {
	idStr, _, found := strings.Cut(string(b), "|")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	return id, err == nil
}

func (lineCodec) ErrorResponse(id uint64, reason string) *wire.Response {
	return &wire.Response{ID: id, Payload: "error: " + reason}
}

// countingStats records a few counters for assertions
type countingStats struct {
	protocolErrors atomic.Int64
	drained        atomic.Int64
	sent           atomic.Int64
	received       atomic.Int64
}

func (s *countingStats) BytesSent(n int)                    { s.sent.Add(int64(n)) }
func (s *countingStats) BytesReceived(n int)                { s.received.Add(int64(n)) }
func (s *countingStats) VectorCompleted(bool, buffer.State) {}
func (s *countingStats) MessageReceived(wire.Tag)           {}
func (s *countingStats) ProtocolError()                     { s.protocolErrors.Add(1) }
func (s *countingStats) Drained(n int64)                    { s.drained.Add(n) }

// tempSink stores inbound files in a directory
type tempSink struct {
	dir       string
	discarded atomic.Int32
}

func (s *tempSink) Open(_ *Connection, _ wire.Decoded, _ int64) (FileTarget, error) {
	return os.CreateTemp(s.dir, "inbound-*")
}

func (s *tempSink) Discard(t FileTarget) {
	s.discarded.Add(1)
	_ = t.Close()
	_ = os.Remove(t.Name())
}

// requestLog collects requests delivered to a handler
type requestLog struct {
	mu  sync.Mutex
	got []*Inbound
}

func (l *requestLog) HandleRequest(_ *Connection, in *Inbound) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, in)
}

func (l *requestLog) all() []*Inbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Inbound(nil), l.got...)
}

func testConfig() *common.TransportConfig {
	cfg := common.DefaultTransportConfig()
	cfg.MaxBlockSize = 512
	cfg.MaxMessageSize = 4096
	cfg.MaxAttachmentSize = 1 << 20
	cfg.MaxDrainSize = 1 << 20
	return &cfg
}

func testEnv(handler Handler) *Env {
	return &Env{
		Config:  testConfig(),
		Codec:   lineCodec{},
		Handler: handler,
		Stats:   &countingStats{},
	}
}

// socketPair returns two connected non-blocking stream sockets
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

// pump drives the given connections until cond holds or the timeout expires
func pump(t *testing.T, cond func() bool, conns ...*Connection) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached while pumping connections")
		}
		for _, c := range conns {
			if c.Cleaning() {
				continue
			}
			c.SendProgress()
			c.RecvProgress()
		}
		time.Sleep(time.Millisecond)
	}
}

// rawFrame builds a frame by hand, tag and lengths are taken as given
func rawFrame(tag string, m, a, f int64, body ...[]byte) []byte {
	var t wire.Tag
	copy(t[:], tag)
	h := wire.Header{Tag: t, MessageLen: m, AttachmentLen: a, FileLen: f}
	b, err := h.Encode()
	if err != nil {
		panic(err)
	}
	for _, part := range body {
		b = append(b, part...)
	}
	return b
}
