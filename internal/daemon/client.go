package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/control"
)

const (
	// DefaultClientTimeout is the default timeout for client operations.
	// Starting a run waits for the engine to locate the feed, so it is
	// longer than a plain status round trip needs.
	DefaultClientTimeout = 15 * time.Second
)

// ErrNotRunning is returned when no daemon listens on the socket.
var ErrNotRunning = errors.New("daemon not running")

// Client connects to the daemon via Unix socket.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// NewClient creates a new daemon client.
func NewClient(sockPath string) *Client {
	return &Client{
		sockPath: sockPath,
		timeout:  DefaultClientTimeout,
	}
}

// SetTimeout sets the timeout for client operations.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// call sends a JSON-RPC request to the daemon and decodes the result into
// out when out is non-nil.
func (c *Client) call(method string, params any, out any) error {
	req := Request{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	conn, err := net.DialTimeout("unix", c.sockPath, c.timeout)
	if err != nil {
		return c.wrapConnError(err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return c.wrapConnError(fmt.Errorf("read response: %w", err))
	}

	if resp.Error != "" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

// wrapConnError converts connection errors to user-friendly messages.
func (c *Client) wrapConnError(err error) error {
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ENOENT:
			return fmt.Errorf("%w (socket not found)", ErrNotRunning)
		case syscall.ECONNREFUSED:
			return fmt.Errorf("%w (connection refused)", ErrNotRunning)
		}
	}

	if os.IsNotExist(err) {
		return fmt.Errorf("%w (socket not found)", ErrNotRunning)
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.New("daemon request timed out")
	}

	return fmt.Errorf("connect to daemon: %w", err)
}

// Status returns the current daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Start begins a run in mode. Nil settings use the daemon's defaults.
func (c *Client) Start(mode control.Mode, feed *config.FeedConfig, reel *config.ReelConfig) (*control.Status, error) {
	var st control.Status
	params := StartParams{Mode: string(mode), Feed: feed, Reel: reel}
	if err := c.call(MethodStart, params, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Resume continues the last feed run.
func (c *Client) Resume(feed *config.FeedConfig) (*control.Status, error) {
	var st control.Status
	if err := c.call(MethodResume, ResumeParams{Feed: feed}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop ends the active run. With shutdown the daemon exits too.
func (c *Client) Stop(shutdown bool) (*control.Status, error) {
	var st control.Status
	if err := c.call(MethodStop, StopParams{Shutdown: shutdown}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// IsRunning checks if the daemon is running by attempting to connect.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
