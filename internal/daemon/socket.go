package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

type SocketListener struct {
	path     string
	listener net.Listener
}

func NewSocketListener(socketPath string) *SocketListener {
	return &SocketListener{
		path: socketPath,
	}
}

// Start listens on the socket path, replacing a socket left behind by a
// process that did not shut down cleanly.
func (sl *SocketListener) Start() error {
	dir := filepath.Dir(sl.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "create socket directory")
	}

	if err := os.Remove(sl.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale socket")
	}

	listener, err := net.Listen("unix", sl.path)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", sl.path)
	}

	sl.listener = listener
	return errors.Wrap(os.Chmod(sl.path, 0700), "chmod socket")
}

func (sl *SocketListener) Accept() (net.Conn, error) {
	if sl.listener == nil {
		return nil, errors.New("listener not started")
	}
	return sl.listener.Accept()
}

func (sl *SocketListener) Close() error {
	if sl.listener == nil {
		return nil
	}
	err := sl.listener.Close()
	os.Remove(sl.path)
	return err
}

func (sl *SocketListener) Path() string {
	return sl.path
}

type SocketConnector struct {
	path    string
	timeout time.Duration
}

func NewSocketConnector(socketPath string) *SocketConnector {
	return &SocketConnector{
		path:    socketPath,
		timeout: 2 * time.Second,
	}
}

func (sc *SocketConnector) Connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: sc.timeout}
	conn, err := dialer.DialContext(ctx, "unix", sc.path)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to daemon at %s", sc.path)
	}
	return conn, nil
}

// Responsive reports whether something accepts connections on the socket.
func (sc *SocketConnector) Responsive() bool {
	conn, err := net.DialTimeout("unix", sc.path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
