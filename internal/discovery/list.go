// Package discovery keeps the ordered list of feed items and extends it as
// the host page renders more of them.
package discovery

import (
	"sync"

	"github.com/npratt/scrollpilot/internal/dom"
)

// List is an append-only, identity-deduplicated sequence of items. An
// item's index never changes once assigned.
type List struct {
	mu    sync.RWMutex
	items []dom.ElementID
	index map[dom.ElementID]int
}

// NewList creates a list holding ids in order, skipping duplicates.
func NewList(ids ...dom.ElementID) *List {
	l := &List{index: make(map[dom.ElementID]int)}
	l.Add(ids...)
	return l
}

// Add appends the ids not already present, preserving their order, and
// returns how many were appended.
func (l *List) Add(ids ...dom.ElementID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, id := range ids {
		if _, ok := l.index[id]; ok {
			continue
		}
		l.index[id] = len(l.items)
		l.items = append(l.items, id)
		added++
	}
	return added
}

// Len returns the number of items.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// At returns the item at i.
func (l *List) At(i int) (dom.ElementID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.items) {
		return "", false
	}
	return l.items[i], true
}

// IndexOf returns the index of id, or -1.
func (l *List) IndexOf(id dom.ElementID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i, ok := l.index[id]; ok {
		return i
	}
	return -1
}

// Snapshot returns a copy of the items.
func (l *List) Snapshot() []dom.ElementID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]dom.ElementID(nil), l.items...)
}
