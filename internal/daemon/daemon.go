// Package daemon serves editor sessions over a unix socket so that several
// clients share one warm workspace index.
package daemon

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alucardeht/scss-lsp/internal/logger"
	"github.com/alucardeht/scss-lsp/internal/lsp"
)

var log = logger.ForComponent("daemon")

type Config struct {
	SocketPath     string
	MaxConnections int
	Server         lsp.Options
}

type Daemon struct {
	config   Config
	ws       lsp.Workspace
	listener *SocketListener

	connections map[net.Conn]bool
	connMu      sync.Mutex
	sessions    sync.WaitGroup

	shutdown     chan struct{}
	shutdownOnce sync.Once
	startTime    time.Time

	served   atomic.Int64
	rejected atomic.Int64
}

func NewDaemon(ws lsp.Workspace, config Config) (*Daemon, error) {
	if ws == nil {
		return nil, errors.New("daemon needs a workspace")
	}
	if config.SocketPath == "" {
		return nil, errors.New("daemon needs a socket path")
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 32
	}

	return &Daemon{
		config:      config,
		ws:          ws,
		listener:    NewSocketListener(config.SocketPath),
		connections: make(map[net.Conn]bool),
		shutdown:    make(chan struct{}),
		startTime:   time.Now(),
	}, nil
}

// Start binds the socket. Connections are served once Serve runs.
func (d *Daemon) Start() error {
	if err := d.listener.Start(); err != nil {
		return err
	}
	log.Info("daemon listening", "socket", d.config.SocketPath, "max_connections", d.config.MaxConnections)
	return nil
}

// Serve accepts connections until ctx is cancelled or Shutdown is called, and
// returns once every session has ended.
func (d *Daemon) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			d.Shutdown()
		case <-d.shutdown:
		}
	}()

	defer d.sessions.Wait()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "listener closed")
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		if !d.track(conn) {
			d.rejected.Add(1)
			log.Warn("connection limit reached, rejecting client", "limit", d.config.MaxConnections)
			conn.Close()
			continue
		}

		d.sessions.Add(1)
		go d.handleConnection(ctx, conn)
	}
}

func (d *Daemon) track(conn net.Conn) bool {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if len(d.connections) >= d.config.MaxConnections {
		return false
	}
	d.connections[conn] = true
	return true
}

func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		d.connMu.Lock()
		delete(d.connections, conn)
		d.connMu.Unlock()
		d.sessions.Done()
	}()

	id := d.served.Add(1)
	log.Debug("session started", "session", id)

	srv, err := lsp.NewServer(d.ws, d.config.Server)
	if err != nil {
		log.Error("failed to create session", "session", id, "error", err)
		return
	}
	if err := srv.Serve(ctx, conn); err != nil {
		log.Warn("session failed", "session", id, "error", err)
	}
	log.Debug("session closed", "session", id)
}

func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdown)

		if err := d.listener.Close(); err != nil {
			log.Warn("failed to close listener", "error", err)
		}

		d.connMu.Lock()
		for conn := range d.connections {
			conn.Close()
		}
		d.connMu.Unlock()

		log.Info("daemon stopped", "uptime", d.Uptime().Round(time.Second), "sessions", d.served.Load())
	})
}

func (d *Daemon) SocketPath() string {
	return d.config.SocketPath
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startTime)
}

type Stats struct {
	ActiveConnections int           `json:"active_connections"`
	SessionsServed    int64         `json:"sessions_served"`
	Rejected          int64         `json:"rejected"`
	Uptime            time.Duration `json:"uptime"`
}

func (d *Daemon) Stats() Stats {
	d.connMu.Lock()
	active := len(d.connections)
	d.connMu.Unlock()
	return Stats{
		ActiveConnections: active,
		SessionsServed:    d.served.Load(),
		Rejected:          d.rejected.Load(),
		Uptime:            d.Uptime(),
	}
}
