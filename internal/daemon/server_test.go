package daemon

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
)

// waitForSocket waits for the socket to be ready to accept connections.
func waitForSocket(t *testing.T, socketPath string, timeout time.Duration) {
	t.Helper()
	if err := WaitForSocket(socketPath, timeout); err != nil {
		t.Fatalf("socket did not become ready: %v", err)
	}
}

// shortSocketPath creates a short socket path to avoid Unix socket length limits.
// macOS has a 104 byte limit, Linux has 108 bytes.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "sock")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	_ = f.Close()
	_ = os.Remove(path)
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

// startDaemon serves d until the test ends.
func startDaemon(t *testing.T, d *Daemon) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()
	t.Cleanup(cancel)
	waitForSocket(t, d.SocketPath(), 2*time.Second)
	return errCh
}

// rawCall sends one request and returns the decoded response.
func rawCall(t *testing.T, sock string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func newTestDaemon(t *testing.T, ctrl Controller, opts ...Option) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Socket = shortSocketPath(t)
	return New(cfg, ctrl, nil, opts...)
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Socket = shortSocketPath(t)
	d := New(cfg, &fakeController{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()
	waitForSocket(t, cfg.Paths.Socket, 2*time.Second)

	if !d.Running() {
		t.Error("daemon should be running after Start")
	}
	if d.StartTime().IsZero() {
		t.Error("StartTime() should be set")
	}

	info, err := os.Stat(cfg.Paths.Socket)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != socketPermissions {
		t.Errorf("socket permissions = %o, want %o", perm, socketPermissions)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if d.Running() {
		t.Error("daemon should not be running after Stop")
	}
	if _, err := os.Stat(cfg.Paths.Socket); !os.IsNotExist(err) {
		t.Error("socket should be removed after Stop")
	}
}

func TestDaemon_StartAlreadyRunning(t *testing.T) {
	d := newTestDaemon(t, &fakeController{})
	startDaemon(t, d)

	if err := d.Start(context.Background()); err != ErrAlreadyServing {
		t.Errorf("second Start() = %v, want ErrAlreadyServing", err)
	}
}

func TestDaemon_StopIdempotent(t *testing.T) {
	d := newTestDaemon(t, &fakeController{})
	startDaemon(t, d)

	if err := d.Stop(); err != nil {
		t.Errorf("first Stop() error: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestDaemon_CleanupStaleSocket(t *testing.T) {
	d := newTestDaemon(t, &fakeController{})
	if err := os.WriteFile(d.SocketPath(), []byte("stale"), 0644); err != nil {
		t.Fatalf("write stale socket: %v", err)
	}

	startDaemon(t, d)
	if !d.Running() {
		t.Error("daemon should start over a stale socket file")
	}
}

func TestDaemon_UnknownMethod(t *testing.T) {
	d := newTestDaemon(t, &fakeController{})
	startDaemon(t, d)

	resp := rawCall(t, d.SocketPath(), Request{Method: "pause", ID: 1})
	if resp.Error == "" {
		t.Error("expected error for unknown method")
	}
	if resp.ID != 1 {
		t.Errorf("ID = %d, want 1", resp.ID)
	}
}

func TestDaemon_InvalidJSON(t *testing.T) {
	d := newTestDaemon(t, &fakeController{})
	startDaemon(t, d)

	conn, err := net.Dial("unix", d.SocketPath())
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected error for invalid JSON")
	}
}

func TestDaemon_NoController(t *testing.T) {
	d := newTestDaemon(t, nil)
	startDaemon(t, d)

	for _, method := range []string{MethodStatus, MethodStart, MethodResume, MethodStop} {
		resp := rawCall(t, d.SocketPath(), Request{Method: method})
		if resp.Error != "no controller available" {
			t.Errorf("%s: error = %q, want no controller", method, resp.Error)
		}
	}
}

func TestDaemon_HandleStart(t *testing.T) {
	ctrl := &fakeController{}
	d := newTestDaemon(t, ctrl)
	startDaemon(t, d)

	params, _ := json.Marshal(StartParams{
		Mode: "reel",
		Reel: &config.ReelConfig{PlayCount: 3, Direction: "up"},
	})
	resp := rawCall(t, d.SocketPath(), Request{Method: MethodStart, Params: params})
	if resp.Error != "" {
		t.Fatalf("start error: %s", resp.Error)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.modes) != 1 || ctrl.modes[0] != control.ModeReel {
		t.Fatalf("modes = %v, want [reel]", ctrl.modes)
	}
	if ctrl.starts[0].Reel == nil || ctrl.starts[0].Reel.PlayCount != 3 {
		t.Errorf("reel settings = %+v", ctrl.starts[0].Reel)
	}
	if ctrl.starts[0].Feed != nil {
		t.Errorf("feed settings = %+v, want nil", ctrl.starts[0].Feed)
	}
}

func TestDaemon_HandleStartErrors(t *testing.T) {
	ctrl := &fakeController{err: errNoContainer}
	d := newTestDaemon(t, ctrl)
	startDaemon(t, d)

	params, _ := json.Marshal(StartParams{Mode: "stories"})
	resp := rawCall(t, d.SocketPath(), Request{Method: MethodStart, Params: params})
	if resp.Error == "" {
		t.Error("expected error for unknown mode")
	}

	resp = rawCall(t, d.SocketPath(), Request{Method: MethodStart, Params: json.RawMessage(`{"mode":1}`)})
	if resp.Error == "" {
		t.Error("expected error for malformed params")
	}

	resp = rawCall(t, d.SocketPath(), Request{Method: MethodStart})
	if resp.Error != errNoContainer.Error() {
		t.Errorf("error = %q, want %q", resp.Error, errNoContainer.Error())
	}
}

func TestDaemon_HandleResume(t *testing.T) {
	ctrl := &fakeController{}
	d := newTestDaemon(t, ctrl)
	startDaemon(t, d)

	resp := rawCall(t, d.SocketPath(), Request{Method: MethodResume})
	if resp.Error != "" {
		t.Fatalf("resume error: %s", resp.Error)
	}

	params, _ := json.Marshal(ResumeParams{Feed: &config.FeedConfig{ImageTime: 4 * time.Second, VideoMultiplier: 1}})
	resp = rawCall(t, d.SocketPath(), Request{Method: MethodResume, Params: params})
	if resp.Error != "" {
		t.Fatalf("resume error: %s", resp.Error)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.resumes) != 2 {
		t.Fatalf("resumes = %d, want 2", len(ctrl.resumes))
	}
	if ctrl.resumes[0] != nil {
		t.Error("first resume should carry no settings")
	}
	if ctrl.resumes[1] == nil || ctrl.resumes[1].ImageTime != 4*time.Second {
		t.Errorf("second resume settings = %+v", ctrl.resumes[1])
	}
}

func TestDaemon_HandleStatus(t *testing.T) {
	ctrl := &fakeController{status: control.Status{Running: true, Mode: control.ModeFeed, Index: 4}}
	d := newTestDaemon(t, ctrl, WithStateSource(fakeState{events.State{
		Status:  events.StatusRunning,
		Mode:    events.ModeFeed,
		Index:   4,
		Viewed:  9,
		Skipped: 2,
	}}))
	startDaemon(t, d)

	resp := rawCall(t, d.SocketPath(), Request{Method: MethodStatus})
	if resp.Error != "" {
		t.Fatalf("status error: %s", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Status != "running" {
		t.Errorf("Status = %q, want running", status.Status)
	}
	if status.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", status.PID, os.Getpid())
	}
	if status.Run.Index != 4 || status.Run.Mode != control.ModeFeed {
		t.Errorf("Run = %+v", status.Run)
	}
	if status.Stats.Viewed != 9 || status.Stats.Skipped != 2 || status.Stats.LastMode != "feed" {
		t.Errorf("Stats = %+v", status.Stats)
	}
}

func TestDaemon_HandleStopShutdown(t *testing.T) {
	ctrl := &fakeController{status: control.Status{Running: true, Mode: control.ModeFeed}}
	shutdown := make(chan struct{})
	d := newTestDaemon(t, ctrl, WithShutdown(func() { close(shutdown) }))
	errCh := startDaemon(t, d)

	// A plain stop keeps the daemon serving
	resp := rawCall(t, d.SocketPath(), Request{Method: MethodStop})
	if resp.Error != "" {
		t.Fatalf("stop error: %s", resp.Error)
	}
	if !d.Running() {
		t.Fatal("daemon should keep serving after a plain stop")
	}

	params, _ := json.Marshal(StopParams{Shutdown: true})
	resp = rawCall(t, d.SocketPath(), Request{Method: MethodStop, Params: params})
	if resp.Error != "" {
		t.Fatalf("stop error: %s", resp.Error)
	}

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown hook not called")
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after shutdown")
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.stopped != 2 {
		t.Errorf("controller stopped %d times, want 2", ctrl.stopped)
	}
}
