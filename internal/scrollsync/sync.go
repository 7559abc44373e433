// Package scrollsync brings a target item into a settled position in the
// viewport, retrying with alternate alignments when the page does not
// land where asked.
package scrollsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/visibility"
	"github.com/npratt/scrollpilot/internal/wait"
)

// SoftAccept is the ratio above which an unsettled but correctly indexed
// item is accepted once retries run out.
const SoftAccept = 0.5

// Timing holds the synchronizer's delays.
type Timing struct {
	Settle  time.Duration
	Retry   time.Duration
	Nudge   time.Duration
	Retries int
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		Settle:  500 * time.Millisecond,
		Retry:   700 * time.Millisecond,
		Nudge:   500 * time.Millisecond,
		Retries: 3,
	}
}

// Result describes the outcome of an alignment.
type Result struct {
	OK bool
	// Soft is set when the item was accepted below the settled ratio.
	Soft bool
	// Attempts is the number of retry rounds used.
	Attempts int
	Ratio    float64
}

// Synchronizer aligns items in a document.
type Synchronizer struct {
	doc     dom.Viewport
	sampler *visibility.Sampler
	timing  Timing
	logger  *slog.Logger
}

// New creates a synchronizer.
func New(doc dom.Viewport, timing Timing, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if timing.Retries <= 0 {
		timing.Retries = DefaultTiming().Retries
	}
	return &Synchronizer{
		doc:     doc,
		sampler: visibility.NewSampler(doc),
		timing:  timing,
		logger:  logger,
	}
}

// alternate returns the fallback alignment for a retry round.
func alternate(attempt int) (dom.Block, dom.Behavior) {
	switch attempt {
	case 1:
		return dom.BlockStart, dom.BehaviorSmooth
	case 2:
		return dom.BlockEnd, dom.BehaviorSmooth
	default:
		return dom.BlockCenter, dom.BehaviorInstant
	}
}

// Align scrolls items[index] into a settled position. A cancelled ctx
// aborts with a failed Result and ctx.Err(); no scroll command is issued
// after cancellation.
func (s *Synchronizer) Align(ctx context.Context, items []dom.ElementID, index int) (Result, error) {
	if index < 0 || index >= len(items) {
		return Result{}, fmt.Errorf("align index %d out of range [0,%d)", index, len(items))
	}
	target := items[index]

	if err := s.doc.ScrollIntoView(ctx, target, dom.BlockCenter, dom.BehaviorSmooth); err != nil {
		return Result{}, fmt.Errorf("scroll to item %d: %w", index, err)
	}
	if err := wait.Sleep(ctx, s.timing.Settle); err != nil {
		return Result{}, err
	}

	matchedThroughout := true
	attempt := 0
	for attempt < s.timing.Retries {
		attempt++

		sample, err := s.sampler.Sample(ctx, items)
		if err != nil {
			return Result{Attempts: attempt}, err
		}

		if !sample.Found || sample.Index != index {
			matchedThroughout = false
			block, behavior := alternate(attempt)
			s.logger.Debug("alignment mismatch",
				"expected", index,
				"visible", sample.String(),
				"attempt", attempt,
				"block", block)
			if err := ctx.Err(); err != nil {
				return Result{Attempts: attempt}, err
			}
			if err := s.doc.ScrollIntoView(ctx, target, block, behavior); err != nil {
				return Result{Attempts: attempt}, fmt.Errorf("realign item %d: %w", index, err)
			}
			if err := wait.Sleep(ctx, s.timing.Retry); err != nil {
				return Result{Attempts: attempt}, err
			}
			continue
		}

		if visibility.IsSettled(sample.Ratio) {
			return Result{OK: true, Attempts: attempt, Ratio: sample.Ratio}, nil
		}

		ratio, err := s.nudge(ctx, target)
		if err != nil {
			return Result{Attempts: attempt}, err
		}
		if visibility.IsSettled(ratio) {
			return Result{OK: true, Attempts: attempt, Ratio: ratio}, nil
		}
	}

	ratio, err := s.sampler.RatioOf(ctx, target)
	if err != nil {
		return Result{Attempts: attempt}, err
	}
	if matchedThroughout && ratio > SoftAccept {
		s.logger.Debug("alignment soft accepted", "index", index, "ratio", ratio)
		return Result{OK: true, Soft: true, Attempts: attempt, Ratio: ratio}, nil
	}
	return Result{Attempts: attempt, Ratio: ratio}, nil
}

// nudge scrolls by the offset that would center target and returns the
// ratio after the page settles.
func (s *Synchronizer) nudge(ctx context.Context, target dom.ElementID) (float64, error) {
	rect, vh, err := s.sampler.Measure(ctx, target)
	if err != nil {
		return 0, err
	}
	delta := rect.Top - (vh-rect.Height)/2
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.doc.ScrollBy(ctx, delta, dom.BehaviorSmooth); err != nil {
		return 0, fmt.Errorf("nudge: %w", err)
	}
	if err := wait.Sleep(ctx, s.timing.Nudge); err != nil {
		return 0, err
	}
	return s.sampler.RatioOf(ctx, target)
}
