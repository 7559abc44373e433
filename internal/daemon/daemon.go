// Package daemon serves run control for one browser page over a Unix
// socket, and provides the client used by the CLI.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/control"
)

// Controller is the run control surface the daemon serves.
type Controller interface {
	Start(ctx context.Context, mode control.Mode, settings control.Settings) (control.Status, error)
	Resume(ctx context.Context, settings *config.FeedConfig) (control.Status, error)
	Stop() control.Status
	Status() control.Status
}

// Daemon manages background execution with external control via Unix socket.
type Daemon struct {
	config     *config.Config
	controller Controller
	state      control.StateSource
	sockPath   string
	startTime  time.Time
	logger     *slog.Logger
	onShutdown func()

	listener net.Listener
	running  bool
	mu       sync.RWMutex
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStateSource reports persisted counters in status responses.
func WithStateSource(s control.StateSource) Option {
	return func(d *Daemon) { d.state = s }
}

// WithShutdown sets the function called when a client asks the daemon to
// exit. It is called once the listener is closed.
func WithShutdown(fn func()) Option {
	return func(d *Daemon) { d.onShutdown = fn }
}

// New creates a new Daemon with the given configuration and controller.
func New(cfg *config.Config, ctrl Controller, logger *slog.Logger, opts ...Option) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		config:     cfg,
		controller: ctrl,
		sockPath:   cfg.Paths.Socket,
		logger:     logger.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Running returns whether the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// StartTime returns when the daemon was started.
func (d *Daemon) StartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// SocketPath returns the Unix socket path.
func (d *Daemon) SocketPath() string {
	return d.sockPath
}
