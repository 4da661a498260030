package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sedarpc/rpc/client"
	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/serializer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/stretchr/testify/require"
)

func testConfig(workers int, fileDir string) common.ServerConfig {
	return common.ServerConfig{
		Endpoint:     "127.0.0.1:0",
		StageWorkers: workers,
		FileDir:      fileDir,
		LogLevel:     "info",
		Transport:    common.DefaultTransportConfig(),
	}
}

func startServer(t *testing.T, config common.ServerConfig) *RPCServer {
	t.Helper()
	s := NewRPCServer(config, serializer.NewBinarySerializer())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newClient(t *testing.T, s *RPCServer) *client.RPCClient {
	t.Helper()
	c, err := client.NewRPCClient(common.ClientConfig{
		Endpoints:     []string{s.Endpoint().String()},
		TimeoutSecond: 5,
		Transport:     common.DefaultTransportConfig(),
	}, serializer.NewBinarySerializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPingAndEcho(t *testing.T) {
	s := startServer(t, testConfig(4, ""))
	c := newClient(t, s)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	attachment := bytes.Repeat([]byte("abcdefgh"), 40*1024)
	resp, err := c.Echo(ctx, []byte("hello"), attachment)
	require.NoError(t, err)
	require.Equal(t, common.MsgTSuccess, resp.Message.MsgType)
	require.Equal(t, []byte("hello"), resp.Message.Value)
	require.Equal(t, attachment, resp.Attachment)
	require.Empty(t, resp.Message.Meta)

	var out bytes.Buffer
	s.WritePrometheus(&out)
	require.Contains(t, out.String(), `sedarpc_server_handle_duration_seconds_count{type="echo"} 1`)
	require.Contains(t, out.String(), `sedarpc_transport_messages_received_total{reactor="server",tag="request"} 2`)
}

func TestEchoStoresFile(t *testing.T) {
	dir := t.TempDir()
	s := startServer(t, testConfig(4, dir))
	c := newClient(t, s)

	content := bytes.Repeat([]byte("file-payload "), 20000)
	src := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	stored := make(chan string, 1)
	s.HandleMethod("store", HandlerFunc(func(req *Request) *Reply {
		stored <- req.File
		return Ok([]byte(strconv.FormatInt(req.FileLen, 10)))
	}))

	resp, err := c.SendFile(context.Background(), common.NewEchoRequest([]byte("with file")), src)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(len(content)), string(resp.Message.Meta))

	resp, err = c.SendFile(context.Background(), common.NewCustomRequest("store", nil), src)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(len(content)), string(resp.Message.Value))

	path := <-stored
	require.Equal(t, dir, filepath.Dir(path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestFileDrainedWithoutFileDir(t *testing.T) {
	s := startServer(t, testConfig(4, ""))
	c := newClient(t, s)

	src := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte{7}, 100000), 0o644))

	var sawFile atomic.Bool
	s.HandleMethod("check", HandlerFunc(func(req *Request) *Reply {
		sawFile.Store(req.File != "")
		return Ok(nil)
	}))

	resp, err := c.SendFile(context.Background(), common.NewEchoRequest(nil), src)
	require.NoError(t, err)
	require.Equal(t, "100000", string(resp.Message.Meta))

	_, err = c.SendFile(context.Background(), common.NewCustomRequest("check", nil), src)
	require.NoError(t, err)
	require.False(t, sawFile.Load())
}

func TestCustomMethods(t *testing.T) {
	s := startServer(t, testConfig(4, ""))
	c := newClient(t, s)
	ctx := context.Background()

	s.HandleMethod("upper", HandlerFunc(func(req *Request) *Reply {
		return Ok(bytes.ToUpper(req.Message.Value))
	}))
	s.HandleMethod("fail", HandlerFunc(func(req *Request) *Reply {
		return Fail("no luck with %s", req.Message.Value)
	}))

	out, err := c.Custom(ctx, "upper", []byte("shout"))
	require.NoError(t, err)
	require.Equal(t, []byte("SHOUT"), out)

	_, err = c.Custom(ctx, "fail", []byte("this"))
	require.ErrorIs(t, err, client.ErrRemote)
	require.Contains(t, err.Error(), "no luck with this")

	_, err = c.Custom(ctx, "missing", nil)
	require.ErrorIs(t, err, client.ErrRemote)
	require.Contains(t, err.Error(), "unknown method")
}

func TestBrokenHandlers(t *testing.T) {
	s := startServer(t, testConfig(4, ""))
	c := newClient(t, s)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler HandlerFunc
		wantErr string
	}{
		{"nil reply", func(*Request) *Reply { return nil }, "returned no reply"},
		{"request as reply", func(*Request) *Reply { return &Reply{Message: common.NewPingRequest()} }, "replied with a ping message"},
		{"panic", func(*Request) *Reply { panic("boom") }, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.HandleMethod(tt.name, tt.handler)
			_, err := c.Custom(ctx, tt.name, nil)
			require.ErrorIs(t, err, client.ErrRemote)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}

	// the server keeps serving
	require.NoError(t, c.Ping(ctx))
}

func TestStageBoundsConcurrency(t *testing.T) {
	s := startServer(t, testConfig(2, ""))
	c := newClient(t, s)

	var running, peak atomic.Int32
	s.HandleMethod("slow", HandlerFunc(func(req *Request) *Reply {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return Ok(req.Message.Value)
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := c.Custom(context.Background(), "slow", []byte(strconv.Itoa(i)))
			if err == nil && string(out) != strconv.Itoa(i) {
				err = context.DeadlineExceeded
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Equal(t, int32(2), peak.Load())
}

func TestCloseWaitsForHandlers(t *testing.T) {
	s := startServer(t, testConfig(4, ""))
	c := newClient(t, s)

	entered := make(chan struct{})
	release := make(chan struct{})
	s.HandleMethod("block", HandlerFunc(func(*Request) *Reply {
		close(entered)
		<-release
		return Ok(nil)
	}))

	call, err := c.Go(common.NewCustomRequest("block", nil), conn.Outbound{})
	require.NoError(t, err)
	<-entered

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-closed

	// the connection went away before the handler answered
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, call.Wait(ctx).Err())
}

func TestServeStopsOnCancel(t *testing.T) {
	s := NewRPCServer(testConfig(1, ""), serializer.NewJSONSerializer())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return s.Endpoint().Port != 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	require.Error(t, s.Start(), "a closed server cannot be started again")
}

func TestStartRejectsBadEndpoint(t *testing.T) {
	cfg := testConfig(1, "")
	cfg.Endpoint = "no-port"
	s := NewRPCServer(cfg, serializer.NewGOBSerializer())
	err := s.Start()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "invalid endpoint"))
	require.NoError(t, s.Close())
}
