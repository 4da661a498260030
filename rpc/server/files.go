package server

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/sedarpc/rpc/transport/conn"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
)

// fileStore keeps inbound file payloads in a directory. Files of completed
// requests stay there, handlers get their path in Request.File.
type fileStore struct {
	dir string
}

func newFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file directory: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (f *fileStore) Open(_ *conn.Connection, msg wire.Decoded, _ int64) (conn.FileTarget, error) {
	return os.CreateTemp(f.dir, fmt.Sprintf("req-%d-*", msg.RequestID()))
}

func (f *fileStore) Discard(t conn.FileTarget) {
	_ = t.Close()
	if err := os.Remove(t.Name()); err != nil && !os.IsNotExist(err) {
		Logger.Warningf("failed to remove partial file %s: %v", t.Name(), err)
	}
}
