package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/visibility"
	"github.com/npratt/scrollpilot/internal/wait"
)

// DetectorTiming holds the detector's delays.
type DetectorTiming struct {
	Quiet   time.Duration
	Confirm time.Duration
	Grace   time.Duration
}

// Position is what the detector needs from the engine it resynchronizes.
type Position interface {
	Items() []dom.ElementID
	LastProcessed() int
	// Interrupt moves the engine to index and cancels its in-flight wait.
	// It returns a channel closed once the interrupted loop has exited, or
	// false when the engine is not in a state that can be interrupted.
	Interrupt(index int) (<-chan struct{}, bool)
	// Restart relaunches the advance loop if the engine is still running.
	Restart()
}

// Detector recognizes a user-driven position change. Only one check runs
// at a time; triggers that arrive during a check are dropped.
type Detector struct {
	sampler *visibility.Sampler
	pos     Position
	timing  DetectorTiming
	logger  *slog.Logger
	busy    atomic.Bool
}

// NewDetector creates a detector.
func NewDetector(sampler *visibility.Sampler, pos Position, timing DetectorTiming, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{sampler: sampler, pos: pos, timing: timing, logger: logger}
}

// Check waits out the quiet period, samples twice and commits the new
// position when both samples agree on an item other than the last one
// processed. It reports whether a change was committed.
func (d *Detector) Check(ctx context.Context) (bool, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return false, nil
	}
	defer d.busy.Store(false)

	if err := wait.Sleep(ctx, d.timing.Quiet); err != nil {
		return false, err
	}
	first, err := d.sampler.Sample(ctx, d.pos.Items())
	if err != nil {
		return false, err
	}
	if !first.Found || first.Index == d.pos.LastProcessed() {
		return false, nil
	}

	if err := wait.Sleep(ctx, d.timing.Confirm); err != nil {
		return false, err
	}
	second, err := d.sampler.Sample(ctx, d.pos.Items())
	if err != nil {
		return false, err
	}
	if !second.Found || second.Index != first.Index {
		d.logger.Debug("position change not confirmed", "first", first.String(), "second", second.String())
		return false, nil
	}

	done, ok := d.pos.Interrupt(first.Index)
	if !ok {
		return false, nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return true, ctx.Err()
	}
	if err := wait.Sleep(ctx, d.timing.Grace); err != nil {
		return true, err
	}
	d.pos.Restart()
	return true, nil
}

// InFlight reports whether a check is running.
func (d *Detector) InFlight() bool {
	return d.busy.Load()
}

// LastProcessed returns the index of the last item the engine dwelled on.
func (e *Engine) LastProcessed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastProcessed
}

// Interrupt implements Position.
func (e *Engine) Interrupt(index int) (<-chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.loopCancel == nil {
		return nil, false
	}
	from := e.currentIndex
	e.currentIndex = index
	e.lastProcessed = index
	e.loopCancel()
	e.loopCancel = nil
	e.setStateLocked(StateInterrupted)

	e.logger.Info("manual scroll detected", "from", from, "to", index)
	e.router.Emit(&events.InterruptionEvent{
		BaseEvent: events.NewEvent(events.EventInterruption, events.SourceFeed, e.runID),
		From:      from,
		To:        index,
	})
	return e.loopDone, true
}

// Restart implements Position.
func (e *Engine) Restart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.state != StateInterrupted {
		return
	}
	e.startLoopLocked()
}
