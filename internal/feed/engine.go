// Package feed implements the feed-mode auto-advance engine: it walks an
// ever-growing list of rendered posts, aligns each one, dwells for the
// item's media time and moves on, yielding to the user whenever they
// scroll somewhere else.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npratt/scrollpilot/internal/discovery"
	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/scrollsync"
	"github.com/npratt/scrollpilot/internal/visibility"
	"github.com/npratt/scrollpilot/internal/wait"
)

// State represents the engine's position in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateAdvancing    State = "advancing"
	StateWaiting      State = "waiting"
	StateInterrupted  State = "interrupted"
	StateStopped      State = "stopped"
)

var (
	// ErrStructuralNotFound is returned when the feed container is absent.
	ErrStructuralNotFound = errors.New("feed container not found")
	// ErrAlreadyRunning is returned by Start or Resume during a run.
	ErrAlreadyRunning = errors.New("feed engine already running")
)

// AlignPolicy decides what happens to the index when alignment fails.
type AlignPolicy string

const (
	// PolicySkip moves past the item that could not be aligned.
	PolicySkip AlignPolicy = "skip"
	// PolicyResync jumps to whatever item is most visible, or past the
	// failed item when nothing is.
	PolicyResync AlignPolicy = "resync"
)

// Settings are supplied per run and immutable for its duration.
type Settings struct {
	ImageTime       time.Duration `json:"image_time"`
	VideoMultiplier float64       `json:"video_multiplier"`
}

// Selectors locate the feed in the host document.
type Selectors struct {
	Container string
	Item      string
	Media     dom.MediaPatterns
}

// Timing holds every delay the engine uses.
type Timing struct {
	StartConfirm  time.Duration
	Confirm       time.Duration
	StallPoll     time.Duration
	MetadataWait  time.Duration
	DefaultVideo  time.Duration
	AlignCooldown time.Duration
	Debounce      time.Duration
	Quiet         time.Duration
	Grace         time.Duration
	Sync          scrollsync.Timing
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		StartConfirm:  500 * time.Millisecond,
		Confirm:       200 * time.Millisecond,
		StallPoll:     2 * time.Second,
		MetadataWait:  5 * time.Second,
		DefaultVideo:  5 * time.Second,
		AlignCooldown: time.Second,
		Debounce:      discovery.DefaultDebounce,
		Quiet:         500 * time.Millisecond,
		Grace:         500 * time.Millisecond,
		Sync:          scrollsync.DefaultTiming(),
	}
}

// Config configures an Engine.
type Config struct {
	Selectors Selectors
	Timing    Timing
	Policy    AlignPolicy
}

// Engine is the feed position state machine. One Engine serves one page;
// each Start or Resume begins a new run on it.
type Engine struct {
	doc      dom.Document
	cfg      Config
	router   *events.Router
	logger   *slog.Logger
	sampler  *visibility.Sampler
	aligner  *scrollsync.Synchronizer
	detector *Detector

	mu            sync.Mutex
	state         State
	running       bool
	runID         string
	settings      Settings
	list          *discovery.List
	currentIndex  int
	lastProcessed int
	runCtx        context.Context
	runCancel     context.CancelFunc
	loopCancel    context.CancelFunc
	loopDone      chan struct{}
	sub           *discovery.Subscriber
	wg            sync.WaitGroup
}

// New creates an idle engine over doc. router may be nil.
func New(doc dom.Document, cfg Config, router *events.Router, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicySkip
	}
	logger = logger.With("component", "feed")
	e := &Engine{
		doc:           doc,
		cfg:           cfg,
		router:        router,
		logger:        logger,
		sampler:       visibility.NewSampler(doc),
		aligner:       scrollsync.New(doc, cfg.Timing.Sync, logger),
		state:         StateIdle,
		list:          discovery.NewList(),
		lastProcessed: -1,
	}
	e.detector = NewDetector(e.sampler, e, DetectorTiming{
		Quiet:   cfg.Timing.Quiet,
		Confirm: cfg.Timing.Confirm,
		Grace:   cfg.Timing.Grace,
	}, logger)
	return e
}

// Start begins a run from the item the user is looking at, or from the
// first item.
func (e *Engine) Start(ctx context.Context, runID string, settings Settings) error {
	return e.begin(ctx, runID, settings, false)
}

// Resume begins a run at the preserved index.
func (e *Engine) Resume(ctx context.Context, runID string, settings Settings) error {
	return e.begin(ctx, runID, settings, true)
}

func (e *Engine) begin(ctx context.Context, runID string, settings Settings, resume bool) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.mu.Unlock()

	container, ok, err := e.doc.Query(ctx, e.cfg.Selectors.Container)
	if err != nil {
		return fmt.Errorf("find feed container: %w", err)
	}
	if !ok {
		return ErrStructuralNotFound
	}
	items, err := e.doc.QueryAll(ctx, container, e.cfg.Selectors.Item)
	if err != nil {
		return fmt.Errorf("list feed items: %w", err)
	}

	list := e.list
	if !resume {
		list = discovery.NewList()
	}
	list.Add(items...)

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := discovery.Subscribe(runCtx, e.doc, list, discovery.Options{
		Root:     container,
		Selector: e.cfg.Selectors.Item,
		Debounce: e.cfg.Timing.Debounce,
		OnAppend: func() { e.reevaluate(runCtx) },
	}, e.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to feed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		cancel()
		sub.Stop()
		return ErrAlreadyRunning
	}
	e.running = true
	e.runID = runID
	e.settings = settings
	e.list = list
	e.sub = sub
	e.runCtx = runCtx
	e.runCancel = cancel
	e.loopCancel = nil
	e.loopDone = nil
	if !resume {
		e.currentIndex = 0
		e.lastProcessed = -1
	}
	e.setStateLocked(StateInitializing)

	e.logger.Info("feed run started",
		"run_id", runID,
		"resumed", resume,
		"index", e.currentIndex,
		"items", list.Len(),
		"image_time", settings.ImageTime,
		"video_multiplier", settings.VideoMultiplier)
	e.router.Emit(&events.RunStartEvent{
		BaseEvent: events.NewEvent(events.EventRunStart, events.SourceFeed, runID),
		Mode:      events.ModeFeed,
		Resumed:   resume,
		Index:     e.currentIndex,
		Settings:  settings,
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.initialize(runCtx, resume)
	}()
	return nil
}

// initialize resolves the starting index and launches the advance loop.
func (e *Engine) initialize(ctx context.Context, resume bool) {
	if !resume {
		idx, err := e.resolveStart(ctx)
		if err != nil {
			return
		}
		if !e.mutate(ctx, func() { e.currentIndex = idx }) {
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || ctx.Err() != nil {
		return
	}
	e.startLoopLocked()
}

// resolveStart returns the index of the item that stays most visible across
// three samples, or 0.
func (e *Engine) resolveStart(ctx context.Context) (int, error) {
	first, err := e.sampleNow(ctx)
	if err != nil {
		return 0, err
	}
	if !first.Found {
		return 0, nil
	}
	if err := wait.Sleep(ctx, e.cfg.Timing.StartConfirm); err != nil {
		return 0, err
	}
	second, err := e.sampleNow(ctx)
	if err != nil {
		return 0, err
	}
	if err := wait.Sleep(ctx, e.cfg.Timing.Confirm); err != nil {
		return 0, err
	}
	third, err := e.sampleNow(ctx)
	if err != nil {
		return 0, err
	}
	if second.Found && third.Found && first.Index == second.Index && second.Index == third.Index {
		e.logger.Debug("starting at visible item", "index", first.Index)
		return first.Index, nil
	}
	return 0, nil
}

func (e *Engine) sampleNow(ctx context.Context) (visibility.Sample, error) {
	s, err := e.sampler.Sample(ctx, e.Items())
	if err != nil && ctx.Err() != nil {
		return visibility.Sample{}, ctx.Err()
	}
	if err != nil {
		e.logger.Warn("visibility sample failed", "error", err)
		return visibility.Sample{}, nil
	}
	return s, nil
}

// startLoopLocked launches a fresh advance loop. Caller holds e.mu.
func (e *Engine) startLoopLocked() {
	loopCtx, cancel := context.WithCancel(e.runCtx)
	done := make(chan struct{})
	e.loopCancel = cancel
	e.loopDone = done
	e.setStateLocked(StateAdvancing)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		e.loop(loopCtx)
	}()
}

// Stop ends the run. It cancels every pending wait, unsubscribes from the
// document and returns once the run's goroutines have exited. Calling Stop
// when not running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.runCancel()
	sub := e.sub
	runID := e.runID
	e.sub = nil
	e.setStateLocked(StateStopped)
	index := e.currentIndex
	e.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	e.wg.Wait()

	e.logger.Info("feed run stopped", "run_id", runID, "index", index)
	e.router.Emit(&events.RunStopEvent{
		BaseEvent: events.NewEvent(events.EventRunStop, events.SourceFeed, runID),
		Mode:      events.ModeFeed,
		Index:     index,
	})
}

// Restore seeds the index used by the next Resume. It has no effect while
// running.
func (e *Engine) Restore(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running || index < 0 {
		return
	}
	e.currentIndex = index
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CurrentIndex returns the index of the item being processed.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentIndex
}

// Items returns a snapshot of the known items.
func (e *Engine) Items() []dom.ElementID {
	e.mu.Lock()
	list := e.list
	e.mu.Unlock()
	return list.Snapshot()
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	from := e.state
	e.state = s
	e.logger.Debug("state change", "from", from, "to", s)
	e.router.Emit(&events.StateChangedEvent{
		BaseEvent: events.NewEvent(events.EventStateChanged, events.SourceFeed, e.runID),
		From:      string(from),
		To:        string(s),
	})
}

// mutate applies fn under the lock unless ctx has been cancelled, so a
// stopped or interrupted loop can never move the index.
func (e *Engine) mutate(ctx context.Context, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// reevaluate runs after a burst of discovered items and hands off to the
// detector when the visible item is not the current one. ctx is the run
// that subscribed; a callback outliving its run does nothing.
func (e *Engine) reevaluate(ctx context.Context) {
	e.mu.Lock()
	if !e.running || e.loopCancel == nil || e.runCtx != ctx || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	current := e.currentIndex
	e.mu.Unlock()

	s, err := e.sampler.Sample(ctx, e.Items())
	if err != nil || !s.Found || s.Index == current {
		return
	}
	e.trigger(ctx)
}

// trigger runs one detection for the run owning ctx on its own goroutine.
func (e *Engine) trigger(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.runCtx != ctx || ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.detector.Check(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("interruption check failed", "error", err)
		}
	}()
}
