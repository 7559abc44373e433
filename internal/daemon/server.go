package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const (
	// maxMessageSize is the maximum size of a JSON-RPC message (1MB).
	maxMessageSize = 1024 * 1024
	// readTimeout is the timeout for reading a request from a client.
	readTimeout = 30 * time.Second
	// socketPermissions are the file permissions for the Unix socket.
	socketPermissions = 0600
)

// ErrAlreadyServing is returned by Start on a daemon that is serving.
var ErrAlreadyServing = errors.New("daemon already running")

// Start begins listening on the Unix socket and serving requests.
// It blocks until the context is cancelled or the daemon is stopped.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyServing
	}
	d.mu.Unlock()

	// Clean up stale socket if it exists
	_ = os.Remove(d.sockPath)

	listener, err := net.Listen("unix", d.sockPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	if err := os.Chmod(d.sockPath, socketPermissions); err != nil {
		_ = listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	d.mu.Lock()
	d.listener = listener
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info("daemon started", "socket", d.sockPath)

	served := make(chan struct{})
	go func() {
		defer close(served)
		d.serve(ctx, listener)
	}()

	select {
	case <-ctx.Done():
	case <-served:
	}
	return d.Stop()
}

// Stop closes the listener and removes the socket. It is idempotent.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false

	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			d.logger.Error("error closing listener", "error", err)
		}
		d.listener = nil
	}

	_ = os.Remove(d.sockPath)

	d.logger.Info("daemon stopped")
	return nil
}

// serve accepts connections until the listener closes.
func (d *Daemon) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || !d.Running() || errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error("accept error", "error", err)
			continue
		}

		go d.handleConnection(ctx, conn)
	}
}

// handleConnection reads a request, dispatches it, and writes the response.
func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		d.logger.Error("set read deadline error", "error", err)
		return
	}

	decoder := json.NewDecoder(io.LimitReader(conn, maxMessageSize))
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(Response{Error: fmt.Sprintf("decode error: %v", err)})
		return
	}

	d.logger.Debug("request", "method", req.Method, "id", req.ID)
	resp := d.handleRequest(ctx, &req)
	resp.ID = req.ID
	if err := encoder.Encode(resp); err != nil {
		d.logger.Warn("write response failed", "method", req.Method, "error", err)
	}
}
