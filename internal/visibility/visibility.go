// Package visibility measures how much of an element sits inside the
// viewport and picks the most visible item of a list.
package visibility

import (
	"context"
	"fmt"

	"github.com/npratt/scrollpilot/internal/dom"
)

const (
	// MinVisible is the ratio an item must strictly exceed to count as
	// the most visible one.
	MinVisible = 0.3
	// Settled is the ratio an item must strictly exceed to count as
	// aligned.
	Settled = 0.9
)

// Ratio returns the fraction of r's height that overlaps [0, viewportHeight].
func Ratio(r dom.Rect, viewportHeight float64) float64 {
	if r.Height <= 0 {
		return 0
	}
	top := max(r.Top, 0)
	bottom := min(r.Bottom, viewportHeight)
	overlap := bottom - top
	if overlap <= 0 {
		return 0
	}
	return min(overlap/r.Height, 1)
}

// MostVisible returns the index of the first item whose ratio strictly
// exceeds both MinVisible and every ratio seen before it.
func MostVisible(ratios []float64) (int, bool) {
	best := -1
	bestRatio := MinVisible
	for i, r := range ratios {
		if r > bestRatio {
			best = i
			bestRatio = r
		}
	}
	return best, best >= 0
}

// IsSettled reports whether ratio counts as aligned.
func IsSettled(ratio float64) bool {
	return ratio > Settled
}

// Sample is one most-visible observation.
type Sample struct {
	Found bool
	Index int
	Item  dom.ElementID
	Ratio float64
}

func (s Sample) String() string {
	if !s.Found {
		return "none"
	}
	return fmt.Sprintf("#%d (%.2f)", s.Index, s.Ratio)
}

// Sampler reads fresh geometry from a viewport.
type Sampler struct {
	doc dom.Viewport
}

// NewSampler creates a sampler over doc.
func NewSampler(doc dom.Viewport) *Sampler {
	return &Sampler{doc: doc}
}

// Ratios returns the current ratio of every item.
func (s *Sampler) Ratios(ctx context.Context, items []dom.ElementID) ([]float64, error) {
	vh, err := s.doc.ViewportHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("viewport height: %w", err)
	}
	rects, err := s.doc.Rects(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("read rects: %w", err)
	}
	ratios := make([]float64, len(rects))
	for i, r := range rects {
		ratios[i] = Ratio(r, vh)
	}
	return ratios, nil
}

// Sample finds the most visible of items.
func (s *Sampler) Sample(ctx context.Context, items []dom.ElementID) (Sample, error) {
	ratios, err := s.Ratios(ctx, items)
	if err != nil {
		return Sample{}, err
	}
	idx, ok := MostVisible(ratios)
	if !ok {
		return Sample{}, nil
	}
	return Sample{Found: true, Index: idx, Item: items[idx], Ratio: ratios[idx]}, nil
}

// Measure returns the element's rect together with the viewport height.
func (s *Sampler) Measure(ctx context.Context, id dom.ElementID) (dom.Rect, float64, error) {
	vh, err := s.doc.ViewportHeight(ctx)
	if err != nil {
		return dom.Rect{}, 0, fmt.Errorf("viewport height: %w", err)
	}
	rects, err := s.doc.Rects(ctx, []dom.ElementID{id})
	if err != nil {
		return dom.Rect{}, 0, fmt.Errorf("read rect: %w", err)
	}
	if len(rects) == 0 {
		return dom.Rect{}, vh, nil
	}
	return rects[0], vh, nil
}

// RatioOf returns a single element's ratio.
func (s *Sampler) RatioOf(ctx context.Context, id dom.ElementID) (float64, error) {
	r, vh, err := s.Measure(ctx, id)
	if err != nil {
		return 0, err
	}
	return Ratio(r, vh), nil
}
