package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{in: "localhost:7070", want: Endpoint{Host: "localhost", Port: 7070}},
		{in: "rack1/meta@10.0.0.4:80", want: Endpoint{Host: "10.0.0.4", Location: "rack1", Service: "meta", Port: 80}},
		{in: "[::1]:9000", want: Endpoint{Host: "::1", Port: 9000}},
		{in: "localhost", wantErr: true},
		{in: "host:notaport", wantErr: true},
		{in: "host:70000", wantErr: true},
		{in: "tagsonly@host:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			// string form must parse back to the same endpoint
			again, err := ParseEndpoint(got.String())
			if err != nil || again != got {
				t.Errorf("String() did not round trip: %q -> %+v (%v)", got.String(), again, err)
			}
		})
	}
}

func TestTransportConfigValidate(t *testing.T) {
	valid := DefaultTransportConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *TransportConfig)
	}{
		{"no workers", func(c *TransportConfig) { c.Workers = 0 }},
		{"tiny queue", func(c *TransportConfig) { c.WorkerQueueSize = 1 }},
		{"tiny block", func(c *TransportConfig) { c.MaxBlockSize = 16 }},
		{"no message", func(c *TransportConfig) { c.MaxMessageSize = 0 }},
		{"negative drain", func(c *TransportConfig) { c.MaxDrainSize = -1 }},
		{"no events", func(c *TransportConfig) { c.MaxEvents = 0 }},
		{"negative timeout", func(c *TransportConfig) { c.SocketTimeoutMillis = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultTransportConfig()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := ServerConfig{
		Endpoint:     "0.0.0.0:7070",
		StageWorkers: 8,
		LogLevel:     "info",
		Transport:    DefaultTransportConfig(),
	}
	out := cfg.String()
	for _, want := range []string{"RPC SERVER", "TRANSPORT", "SOCKETS", "4 MB", "64 KB", "(none)"} {
		if !strings.Contains(out, want) {
			t.Errorf("config report is missing %q:\n%s", want, out)
		}
	}
}

func TestMessageTypeNames(t *testing.T) {
	for mt := MsgTSuccess; mt <= MsgTCustom; mt++ {
		parsed, err := ParseMessageType(mt.String())
		if err != nil {
			t.Fatalf("type %d: %v", mt, err)
		}
		if parsed != mt {
			t.Errorf("expected %s, got %s", mt, parsed)
		}
	}
	if _, err := ParseMessageType("nope"); err == nil {
		t.Error("expected error for unknown type name")
	}
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	old := logWriter
	logWriter = &buf
	defer func() { logWriter = old }()

	l := CreateLogger("transport/conn")
	l.SetLevel(logger.WARNING)
	l.Infof("hidden %d", 1)
	l.Warningf("peer %s gone", "10.0.0.1:70")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warning level:\n%s", out)
	}
	if !strings.Contains(out, "WARN  | transport/conn     | peer 10.0.0.1:70 gone") {
		t.Errorf("unexpected log line:\n%s", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{in: "debug", want: logger.DEBUG},
		{in: "INFO", want: logger.INFO},
		{in: "", want: logger.INFO},
		{in: "warn", want: logger.WARNING},
		{in: "warning", want: logger.WARNING},
		{in: "error", want: logger.ERROR},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
