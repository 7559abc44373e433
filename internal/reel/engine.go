// Package reel implements the reels auto-advance engine. It advances on
// playback completion rather than a timer: each centered video plays a
// configured number of times before the engine scrolls to its neighbour.
package reel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/wait"
)

// ErrAlreadyRunning is returned by Start during a run.
var ErrAlreadyRunning = errors.New("reel engine already running")

// cleanupTimeout bounds the DOM calls made after a run is cancelled.
const cleanupTimeout = 2 * time.Second

// Direction is the order in which reels are visited.
type Direction string

const (
	DirectionDown Direction = "down"
	DirectionUp   Direction = "up"
)

// Step returns the list offset of the next reel.
func (d Direction) Step() int {
	if d == DirectionUp {
		return -1
	}
	return 1
}

// Settings are supplied per run and immutable for its duration.
type Settings struct {
	PlayCount        int       `json:"play_count"`
	Direction        Direction `json:"direction"`
	SkipWithComments bool      `json:"skip_with_comments"`
}

// Selectors locate reels and the overlays that pause them.
type Selectors struct {
	Video   string
	Overlay []dom.Probe
}

// Timing holds the engine's delays.
type Timing struct {
	GatePoll       time.Duration
	GateWait       time.Duration
	Monitor        time.Duration
	FallbackSettle time.Duration
	ScrollSettle   time.Duration
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		GatePoll:       500 * time.Millisecond,
		GateWait:       100 * time.Millisecond,
		Monitor:        200 * time.Millisecond,
		FallbackSettle: time.Second,
		ScrollSettle:   500 * time.Millisecond,
	}
}

// Config configures an Engine.
type Config struct {
	Selectors Selectors
	Timing    Timing
}

// Status is a snapshot of a reel run.
type Status struct {
	Running  bool
	Video    dom.ElementID
	Plays    int
	GateOpen bool
}

// Engine drives one reel run at a time. Run state is owned by the run
// goroutine; the mutex only guards what Status reports.
type Engine struct {
	doc    dom.Document
	cfg    Config
	router *events.Router
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	stopping bool
	runID    string
	settings Settings
	status   Status
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Owned by the run goroutine between Start and Stop.
	gate        *Gate
	current     dom.ElementID
	ended       *dom.Signal
	plays       int
	settleUntil time.Time
}

// New creates an idle engine over doc. router may be nil.
func New(doc dom.Document, cfg Config, router *events.Router, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		doc:    doc,
		cfg:    cfg,
		router: router,
		logger: logger.With("component", "reel"),
	}
}

// Start attaches to the centered reel and begins advancing.
func (e *Engine) Start(ctx context.Context, runID string, settings Settings) error {
	if settings.PlayCount < 1 {
		settings.PlayCount = 1
	}
	if settings.Direction == "" {
		settings.Direction = DirectionDown
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running || e.stopping {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.runID = runID
	e.settings = settings
	e.cancel = cancel
	e.status = Status{Running: true}
	e.gate = NewGate(e.doc, e.cfg.Selectors.Overlay)
	e.current = ""
	e.ended = nil
	e.plays = 0
	e.settleUntil = time.Time{}

	e.logger.Info("reel run started",
		"run_id", runID,
		"play_count", settings.PlayCount,
		"direction", settings.Direction,
		"skip_with_comments", settings.SkipWithComments)
	e.router.Emit(&events.RunStartEvent{
		BaseEvent: events.NewEvent(events.EventRunStart, events.SourceReel, runID),
		Mode:      events.ModeReel,
		Settings:  settings,
	})

	if centered, err := e.centered(runCtx); err != nil {
		e.logger.Warn("locate centered reel failed", "error", err)
	} else if centered != "" {
		e.subscribe(runCtx, centered)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx)
	}()
	return nil
}

// Stop ends the run, removes the ended listener and restores native
// looping on the last subscribed reel. It is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running || e.stopping {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stopping = true
	e.cancel()
	runID := e.runID
	e.mu.Unlock()

	e.wg.Wait()

	e.ended.Stop()
	e.ended = nil
	if e.current != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := e.doc.SetLoop(ctx, e.current, true); err != nil {
			e.logger.Debug("restore loop failed", "error", err)
		}
		cancel()
	}

	e.mu.Lock()
	e.status = Status{}
	e.stopping = false
	e.mu.Unlock()

	e.logger.Info("reel run stopped", "run_id", runID)
	e.router.Emit(&events.RunStopEvent{
		BaseEvent: events.NewEvent(events.EventRunStop, events.SourceReel, runID),
		Mode:      events.ModeReel,
	})
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns a snapshot of the run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Video = e.current
	e.status.Plays = e.plays
	e.status.GateOpen = e.gate.Open()
}

func (e *Engine) run(ctx context.Context) {
	gateTicker := time.NewTicker(e.cfg.Timing.GatePoll)
	defer gateTicker.Stop()
	monitor := time.NewTicker(e.cfg.Timing.Monitor)
	defer monitor.Stop()

	for {
		var endedC <-chan struct{}
		if e.ended != nil {
			endedC = e.ended.C
		}

		select {
		case <-ctx.Done():
			return
		case <-endedC:
			e.ended.Stop()
			e.ended = nil
			if err := e.onEnded(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("handle reel end failed", "error", err)
			}
		case <-gateTicker.C:
			e.watchGate(ctx)
		case <-monitor.C:
			e.follow(ctx)
		}
		e.publish()
	}
}

// centered returns the first reel that lies entirely inside the viewport.
func (e *Engine) centered(ctx context.Context) (dom.ElementID, error) {
	videos, err := e.doc.QueryAll(ctx, "", e.cfg.Selectors.Video)
	if err != nil {
		return "", fmt.Errorf("list reels: %w", err)
	}
	if len(videos) == 0 {
		return "", nil
	}
	vh, err := e.doc.ViewportHeight(ctx)
	if err != nil {
		return "", fmt.Errorf("viewport height: %w", err)
	}
	rects, err := e.doc.Rects(ctx, videos)
	if err != nil {
		return "", fmt.Errorf("read reel rects: %w", err)
	}
	for i, r := range rects {
		if r.Height > 0 && r.Top >= 0 && r.Bottom <= vh {
			return videos[i], nil
		}
	}
	return "", nil
}

// subscribe attaches to video with a fresh play counter.
func (e *Engine) subscribe(ctx context.Context, video dom.ElementID) {
	e.ended.Stop()
	e.ended = nil
	e.current = video
	e.plays = 0

	if err := e.doc.SetLoop(ctx, video, false); err != nil {
		e.logger.Debug("clear loop failed", "video", video, "error", err)
	}
	sig, err := e.doc.Once(ctx, video, dom.EventEnded)
	if err != nil {
		e.logger.Warn("subscribe to reel failed", "video", video, "error", err)
		return
	}
	e.ended = sig
	e.logger.Debug("subscribed to reel", "video", video)
	e.router.Emit(&events.ReelSubscribedEvent{
		BaseEvent: events.NewEvent(events.EventReelSubscribed, events.SourceReel, e.runID),
		Video:     string(video),
	})
}

// resubscribe re-arms the ended listener on the current reel, keeping the
// play counter.
func (e *Engine) resubscribe(ctx context.Context) error {
	e.ended.Stop()
	e.ended = nil
	if e.current == "" {
		return nil
	}
	sig, err := e.doc.Once(ctx, e.current, dom.EventEnded)
	if err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	e.ended = sig
	return nil
}

// follow re-subscribes when the user has moved to another reel.
func (e *Engine) follow(ctx context.Context) {
	if e.gate.Open() || time.Now().Before(e.settleUntil) {
		return
	}
	centered, err := e.centered(ctx)
	if err != nil || centered == "" || centered == e.current {
		return
	}
	e.subscribe(ctx, centered)
}

// watchGate pauses the current reel when the gate opens and resumes it
// when the gate closes.
func (e *Engine) watchGate(ctx context.Context) {
	open, changed, err := e.gate.Update(ctx)
	if err != nil {
		e.logger.Debug("gate probe failed", "error", err)
		return
	}
	if !changed {
		return
	}
	e.logger.Info("pause gate changed", "open", open)
	e.router.Emit(&events.GateChangedEvent{
		BaseEvent: events.NewEvent(events.EventGateChanged, events.SourceReel, e.runID),
		Open:      open,
	})
	if e.current == "" {
		return
	}
	if open {
		if err := e.doc.Pause(ctx, e.current); err != nil {
			e.logger.Debug("pause failed", "error", err)
		}
		return
	}
	if err := e.doc.Play(ctx, e.current); err != nil {
		e.logger.Debug("play failed", "error", err)
	}
	if err := e.resubscribe(ctx); err != nil {
		e.logger.Warn("resume reel failed", "error", err)
	}
}

// onEnded handles one playback completion of the current reel.
func (e *Engine) onEnded(ctx context.Context) error {
	if e.gate.Open() {
		e.logger.Debug("reel ended while gate open, holding")
		return nil
	}

	e.plays++
	e.router.Emit(&events.ReelPlayEvent{
		BaseEvent: events.NewEvent(events.EventReelPlay, events.SourceReel, e.runID),
		Video:     string(e.current),
		Plays:     e.plays,
		Target:    e.settings.PlayCount,
	})
	if e.plays < e.settings.PlayCount {
		if err := e.doc.Restart(ctx, e.current); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		return e.resubscribe(ctx)
	}
	e.plays = 0
	return e.advance(ctx)
}

// advance moves to the neighbouring reel in the configured direction.
func (e *Engine) advance(ctx context.Context) error {
	from := e.current
	step := e.settings.Direction.Step()

	next, err := e.neighbour(ctx, from, step)
	if err != nil {
		return err
	}
	fallback := next == ""
	if fallback {
		vh, err := e.doc.ViewportHeight(ctx)
		if err != nil {
			return fmt.Errorf("viewport height: %w", err)
		}
		e.logger.Debug("no neighbouring reel, scrolling a viewport", "direction", e.settings.Direction)
		if err := e.doc.ScrollBy(ctx, float64(step)*vh, dom.BehaviorSmooth); err != nil {
			return fmt.Errorf("fallback scroll: %w", err)
		}
		if err := wait.Sleep(ctx, e.cfg.Timing.FallbackSettle); err != nil {
			return err
		}
		if next, err = e.centered(ctx); err != nil {
			return err
		}
	}

	if !e.settings.SkipWithComments {
		open, err := e.gate.Probe(ctx)
		if err != nil {
			return fmt.Errorf("probe gate: %w", err)
		}
		if open {
			if from != "" {
				if err := e.doc.Pause(ctx, from); err != nil {
					e.logger.Debug("pause failed", "error", err)
				}
			}
			e.logger.Info("overlay open, holding before next reel")
			if err := e.gate.WaitClosed(ctx, e.cfg.Timing.GateWait); err != nil {
				return err
			}
		}
	}

	if next == "" {
		e.current = ""
		return nil
	}
	if !fallback {
		if err := e.doc.ScrollIntoView(ctx, next, dom.BlockCenter, dom.BehaviorSmooth); err != nil {
			return fmt.Errorf("scroll to next reel: %w", err)
		}
	}
	e.router.Emit(&events.ReelAdvanceEvent{
		BaseEvent: events.NewEvent(events.EventReelAdvance, events.SourceReel, e.runID),
		From:      string(from),
		To:        string(next),
		Direction: string(e.settings.Direction),
		Fallback:  fallback,
	})
	e.settleUntil = time.Now().Add(e.cfg.Timing.ScrollSettle)
	e.subscribe(ctx, next)
	return nil
}

// neighbour returns the reel step positions away from current in document
// order, or "" when there is none.
func (e *Engine) neighbour(ctx context.Context, current dom.ElementID, step int) (dom.ElementID, error) {
	videos, err := e.doc.QueryAll(ctx, "", e.cfg.Selectors.Video)
	if err != nil {
		return "", fmt.Errorf("list reels: %w", err)
	}
	i := slices.Index(videos, current)
	if i < 0 {
		return "", nil
	}
	j := i + step
	if j < 0 || j >= len(videos) {
		return "", nil
	}
	return videos[j], nil
}
