package feed

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/npratt/scrollpilot/internal/discovery"
	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/visibility"
	"github.com/npratt/scrollpilot/internal/wait"
)

// loop advances one item per iteration until ctx is cancelled by Stop or
// by a committed interruption.
func (e *Engine) loop(ctx context.Context) {
	for ctx.Err() == nil {
		idx := e.CurrentIndex()
		list := e.currentList()

		item, ok := list.At(idx)
		if !ok {
			if err := e.stall(ctx, idx); err != nil {
				return
			}
			continue
		}

		media, err := e.doc.Media(ctx, item, e.cfg.Selectors.Media)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("media lookup failed", "index", idx, "error", err)
		}
		if media.Kind == dom.MediaNone {
			e.skip(ctx, idx, events.SkipNoMedia)
			continue
		}

		dwell, err := e.dwell(ctx, media)
		if err != nil {
			return
		}

		res, err := e.aligner.Align(ctx, list.Snapshot(), idx)
		if ctx.Err() != nil {
			return
		}
		e.router.Emit(&events.AlignmentEvent{
			BaseEvent: events.NewEvent(events.EventAlignment, events.SourceFeed, e.currentRunID()),
			Index:     idx,
			OK:        res.OK,
			Soft:      res.Soft,
			Attempts:  res.Attempts,
			Ratio:     res.Ratio,
		})
		if err != nil || !res.OK {
			e.logger.Info("alignment failed, skipping", "index", idx, "ratio", res.Ratio, "error", err)
			if err := wait.Sleep(ctx, e.cfg.Timing.AlignCooldown); err != nil {
				return
			}
			e.recoverAlignment(ctx, idx)
			continue
		}

		if !e.mutate(ctx, func() {
			e.lastProcessed = idx
			e.setStateLocked(StateWaiting)
		}) {
			return
		}
		e.logger.Info("viewing item", "index", idx, "media", media.Kind, "dwell", dwell)
		e.router.Emit(&events.ItemViewingEvent{
			BaseEvent: events.NewEvent(events.EventItemViewing, events.SourceFeed, e.currentRunID()),
			Index:     idx,
			Media:     media.Kind.String(),
			Dwell:     dwell,
			Total:     list.Len(),
		})

		if err := wait.Sleep(ctx, dwell); err != nil {
			return
		}

		sample, err := e.sampler.Sample(ctx, list.Snapshot())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("post-dwell sample failed", "index", idx, "error", err)
			sample = visibility.Sample{}
		}
		e.mutate(ctx, func() {
			e.currentIndex = nextIndex(idx, sample)
			e.setStateLocked(StateAdvancing)
		})
	}
}

// nextIndex picks the item to process after idx finished its dwell.
func nextIndex(idx int, s visibility.Sample) int {
	if !s.Found || s.Index == idx {
		return idx + 1
	}
	return s.Index
}

func (e *Engine) currentList() *discovery.List {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list
}

func (e *Engine) currentRunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// stall polls until the list grows past idx.
func (e *Engine) stall(ctx context.Context, idx int) error {
	list := e.currentList()
	e.logger.Info("waiting for more items", "index", idx, "known", list.Len())
	e.router.Emit(&events.StallEvent{
		BaseEvent: events.NewEvent(events.EventStall, events.SourceFeed, e.currentRunID()),
		Index:     idx,
		Known:     list.Len(),
	})
	return wait.Poll(ctx, e.cfg.Timing.StallPoll, func(context.Context) (bool, error) {
		return list.Len() > idx, nil
	})
}

func (e *Engine) skip(ctx context.Context, idx int, reason string) {
	if !e.mutate(ctx, func() { e.currentIndex = idx + 1 }) {
		return
	}
	e.logger.Debug("skipping item", "index", idx, "reason", reason)
	e.router.Emit(&events.ItemSkippedEvent{
		BaseEvent: events.NewEvent(events.EventItemSkipped, events.SourceFeed, e.currentRunID()),
		Index:     idx,
		Reason:    reason,
	})
}

// recoverAlignment applies the configured policy after a failed alignment.
func (e *Engine) recoverAlignment(ctx context.Context, idx int) {
	if e.cfg.Policy != PolicyResync {
		e.skip(ctx, idx, events.SkipAlignFailed)
		return
	}
	sample, err := e.sampler.Sample(ctx, e.currentList().Snapshot())
	if err != nil || !sample.Found || sample.Index == idx {
		e.skip(ctx, idx, events.SkipAlignFailed)
		return
	}
	e.mutate(ctx, func() { e.currentIndex = sample.Index })
	e.logger.Info("resynced after failed alignment", "from", idx, "to", sample.Index)
}

// dwell returns how long to stay on media. For videos it waits up to
// MetadataWait for the duration to become known.
func (e *Engine) dwell(ctx context.Context, media dom.Media) (time.Duration, error) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	if media.Kind != dom.MediaVideo {
		return settings.ImageTime, nil
	}
	scale := func(seconds float64) time.Duration {
		return time.Duration(seconds * settings.VideoMultiplier * float64(time.Second))
	}
	fallback := scale(e.cfg.Timing.DefaultVideo.Seconds())

	duration := func(seconds float64) time.Duration {
		if seconds <= 0 {
			return fallback
		}
		return scale(seconds)
	}

	if d, loaded := e.readDuration(ctx, media.ID); loaded {
		return duration(d), nil
	}

	sig, err := e.doc.Once(ctx, media.ID, dom.EventLoadedMetadata)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		e.logger.Warn("metadata subscription failed", "error", err)
		return fallback, nil
	}
	defer sig.Stop()

	// Metadata may have arrived between the first read and the subscription.
	if d, loaded := e.readDuration(ctx, media.ID); loaded {
		return duration(d), nil
	}

	timer := time.NewTimer(e.cfg.Timing.MetadataWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-sig.C:
		d, _ := e.readDuration(ctx, media.ID)
		return duration(d), nil
	case <-timer.C:
		e.logger.Info("video metadata timeout, using default duration", "default", fallback)
		return fallback, nil
	}
}

// readDuration reports whether the video's metadata is loaded and, if so,
// its duration in seconds. Unusable durations (live streams, NaN) read as 0.
func (e *Engine) readDuration(ctx context.Context, id dom.ElementID) (float64, bool) {
	info, err := e.doc.VideoInfo(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Debug("video info failed", "error", err)
		}
		return 0, false
	}
	if !info.MetadataLoaded {
		return 0, false
	}
	if math.IsInf(info.Duration, 0) || math.IsNaN(info.Duration) {
		return 0, true
	}
	return info.Duration, true
}
