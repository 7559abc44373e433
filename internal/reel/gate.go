package reel

import (
	"context"
	"time"

	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/wait"
)

// Gate is the overlay pause gate. It is open while any of its probes
// matches, such as when a comments panel covers the reel.
type Gate struct {
	doc    dom.Tree
	probes []dom.Probe
	open   bool
}

// NewGate creates a closed gate over probes.
func NewGate(doc dom.Tree, probes []dom.Probe) *Gate {
	return &Gate{doc: doc, probes: probes}
}

// Probe reads the gate without recording an edge.
func (g *Gate) Probe(ctx context.Context) (bool, error) {
	if len(g.probes) == 0 {
		return false, nil
	}
	return g.doc.AnyPresent(ctx, g.probes)
}

// Update reads the gate and reports whether it changed since the last
// Update.
func (g *Gate) Update(ctx context.Context) (open, changed bool, err error) {
	open, err = g.Probe(ctx)
	if err != nil {
		return g.open, false, err
	}
	changed = open != g.open
	g.open = open
	return open, changed, nil
}

// Open returns the last recorded state.
func (g *Gate) Open() bool {
	return g.open
}

// WaitClosed polls every interval until the gate closes and records it as
// closed, so the close is not reported again as an edge.
func (g *Gate) WaitClosed(ctx context.Context, interval time.Duration) error {
	err := wait.Poll(ctx, interval, func(ctx context.Context) (bool, error) {
		open, err := g.Probe(ctx)
		return !open, err
	})
	if err != nil {
		return err
	}
	g.open = false
	return nil
}
