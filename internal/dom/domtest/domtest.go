// Package domtest provides an in-memory dom.Document for engine tests.
//
// Items are laid out top to bottom with no gaps. The viewport is a window
// of fixed height at a scroll offset. Scrolling is applied immediately;
// SetAlignError and SetPinned let tests model pages whose smooth scrolling
// lands off target or does not move at all.
package domtest

import (
	"context"
	"sync"

	"github.com/npratt/scrollpilot/internal/dom"
)

// Selectors understood by the fake.
const (
	ContainerSelector = "#feed"
	ItemSelector      = "article"
	VideoSelector     = "video"
	ImageSelector     = "img"

	containerID dom.ElementID = "container"
)

// Item describes one rendered feed item or reel.
type Item struct {
	ID     dom.ElementID
	Height float64
	Media  dom.MediaKind
	// Duration in seconds for videos.
	Duration float64
	// MetadataLoaded reports whether Duration is readable immediately.
	MetadataLoaded bool
}

// MediaID returns the handle of the media element inside an item.
func MediaID(item dom.ElementID) dom.ElementID {
	return item + "/media"
}

// ScrollCall records one scroll command.
type ScrollCall struct {
	IntoView dom.ElementID
	Block    dom.Block
	Behavior dom.Behavior
	DY       float64
}

type node struct {
	Item
	y float64

	loop     bool
	playing  bool
	restarts int
	pauses   int
	plays    int
}

type listenerKey struct {
	id    dom.ElementID
	event dom.MediaEvent
}

type listener struct {
	fire func()
}

// Doc is a goroutine-safe fake document.
type Doc struct {
	mu sync.Mutex

	viewport   float64
	scrollY    float64
	container  bool
	pinned     bool
	alignError float64
	overlay    bool

	nodes  []*node
	byID   map[dom.ElementID]*node
	height float64

	watchers  map[int]chan []dom.ElementID
	nextWatch int
	listeners map[listenerKey][]*listener
	calls     []ScrollCall

	// OnScroll, when set, runs after every applied scroll command.
	OnScroll func(d *Doc)
}

// New creates a document with the given viewport height and a present
// container.
func New(viewportHeight float64) *Doc {
	return &Doc{
		viewport:  viewportHeight,
		container: true,
		byID:      make(map[dom.ElementID]*node),
		watchers:  make(map[int]chan []dom.ElementID),
		listeners: make(map[listenerKey][]*listener),
	}
}

// Patterns returns media patterns matching the fake's selectors.
func Patterns() dom.MediaPatterns {
	return dom.MediaPatterns{Video: VideoSelector, Image: ImageSelector}
}

// Add lays out items below the existing ones and notifies watchers.
func (d *Doc) Add(items ...Item) {
	d.mu.Lock()
	ids := make([]dom.ElementID, 0, len(items))
	for _, it := range items {
		n := &node{Item: it, y: d.height, loop: true}
		d.height += it.Height
		d.nodes = append(d.nodes, n)
		d.byID[it.ID] = n
		d.byID[MediaID(it.ID)] = n
		ids = append(ids, it.ID)
	}
	d.mu.Unlock()
	d.Announce(ids...)
}

// Announce sends a mutation batch without changing the layout.
func (d *Doc) Announce(ids ...dom.ElementID) {
	if len(ids) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.watchers {
		batch := append([]dom.ElementID(nil), ids...)
		select {
		case ch <- batch:
		default:
		}
	}
}

// SetContainer toggles presence of the feed container.
func (d *Doc) SetContainer(present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.container = present
}

// SetPinned makes scroll commands no-ops.
func (d *Doc) SetPinned(pinned bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pinned = pinned
}

// SetAlignError offsets where smooth centering lands.
func (d *Doc) SetAlignError(px float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alignError = px
}

// SetOverlay opens or closes the overlay reported by AnyPresent.
func (d *Doc) SetOverlay(open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlay = open
}

// SetScroll moves the viewport, as a user would.
func (d *Doc) SetScroll(y float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrollY = y
}

// ScrollY returns the viewport offset.
func (d *Doc) ScrollY() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollY
}

// CenterOn scrolls instantly so that item is centered, as a user would.
func (d *Doc) CenterOn(id dom.ElementID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byID[id]; ok {
		d.scrollY = n.y + n.Height/2 - d.viewport/2
	}
}

// SetMetadata marks a video's duration as known.
func (d *Doc) SetMetadata(id dom.ElementID, duration float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byID[id]; ok {
		n.Duration = duration
		n.MetadataLoaded = true
	}
}

// Fire triggers and removes every listener registered for event on id.
// It returns the number of listeners fired.
func (d *Doc) Fire(id dom.ElementID, event dom.MediaEvent) int {
	key := listenerKey{id: id, event: event}
	d.mu.Lock()
	ls := d.listeners[key]
	delete(d.listeners, key)
	if n, ok := d.byID[id]; ok && event == dom.EventEnded {
		n.playing = false
	}
	d.mu.Unlock()
	for _, l := range ls {
		l.fire()
	}
	return len(ls)
}

// Listeners returns the number of live listeners for event on id.
func (d *Doc) Listeners(id dom.ElementID, event dom.MediaEvent) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[listenerKey{id: id, event: event}])
}

// Calls returns a copy of the recorded scroll commands.
func (d *Doc) Calls() []ScrollCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ScrollCall(nil), d.calls...)
}

// Loop reports the loop attribute of a video.
func (d *Doc) Loop(id dom.ElementID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byID[id]; ok {
		return n.loop
	}
	return false
}

// Playing reports whether a video is playing.
func (d *Doc) Playing(id dom.ElementID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byID[id]; ok {
		return n.playing
	}
	return false
}

// Restarts returns how often a video was restarted from zero.
func (d *Doc) Restarts(id dom.ElementID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byID[id]; ok {
		return n.restarts
	}
	return 0
}

// Pauses returns how often a video was paused.
func (d *Doc) Pauses(id dom.ElementID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byID[id]; ok {
		return n.pauses
	}
	return 0
}

func (d *Doc) rectLocked(n *node) dom.Rect {
	top := n.y - d.scrollY
	return dom.Rect{Top: top, Bottom: top + n.Height, Height: n.Height}
}

// ViewportHeight implements dom.Viewport.
func (d *Doc) ViewportHeight(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewport, nil
}

// Rects implements dom.Viewport.
func (d *Doc) Rects(ctx context.Context, ids []dom.ElementID) ([]dom.Rect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dom.Rect, len(ids))
	for i, id := range ids {
		if n, ok := d.byID[id]; ok {
			out[i] = d.rectLocked(n)
		}
	}
	return out, nil
}

// ScrollIntoView implements dom.Viewport.
func (d *Doc) ScrollIntoView(ctx context.Context, id dom.ElementID, block dom.Block, behavior dom.Behavior) error {
	d.mu.Lock()
	n, ok := d.byID[id]
	if !ok {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	d.calls = append(d.calls, ScrollCall{IntoView: id, Block: block, Behavior: behavior})
	if !d.pinned {
		var target float64
		switch block {
		case dom.BlockStart:
			target = n.y
		case dom.BlockEnd:
			target = n.y + n.Height - d.viewport
		default:
			target = n.y + n.Height/2 - d.viewport/2
			if behavior == dom.BehaviorSmooth {
				target += d.alignError
			}
		}
		d.scrollY = target
	}
	hook := d.OnScroll
	d.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return nil
}

// ScrollBy implements dom.Viewport.
func (d *Doc) ScrollBy(ctx context.Context, dy float64, behavior dom.Behavior) error {
	d.mu.Lock()
	d.calls = append(d.calls, ScrollCall{Behavior: behavior, DY: dy})
	if !d.pinned {
		d.scrollY += dy
	}
	hook := d.OnScroll
	d.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return nil
}

// Query implements dom.Tree.
func (d *Doc) Query(ctx context.Context, selector string) (dom.ElementID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if selector == ContainerSelector && d.container {
		return containerID, true, nil
	}
	return "", false, nil
}

// QueryAll implements dom.Tree.
func (d *Doc) QueryAll(ctx context.Context, root dom.ElementID, selector string) ([]dom.ElementID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dom.ElementID
	switch selector {
	case ItemSelector:
		for _, n := range d.nodes {
			out = append(out, n.ID)
		}
	case VideoSelector:
		for _, n := range d.nodes {
			if n.Media == dom.MediaVideo {
				out = append(out, MediaID(n.ID))
			}
		}
	}
	return out, nil
}

// Watch implements dom.Tree.
func (d *Doc) Watch(ctx context.Context, root dom.ElementID, selector string) (*dom.Watch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan []dom.ElementID, 64)
	id := d.nextWatch
	d.nextWatch++
	d.watchers[id] = ch
	return dom.NewWatch(ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.watchers, id)
	}), nil
}

// Watchers returns the number of live watch subscriptions.
func (d *Doc) Watchers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers)
}

// AnyPresent implements dom.Tree.
func (d *Doc) AnyPresent(ctx context.Context, probes []dom.Probe) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlay && len(probes) > 0, nil
}

// Media implements dom.Tree.
func (d *Doc) Media(ctx context.Context, item dom.ElementID, patterns dom.MediaPatterns) (dom.Media, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[item]
	if !ok {
		return dom.Media{}, dom.ErrDetached
	}
	if n.Media == dom.MediaNone {
		return dom.Media{}, nil
	}
	return dom.Media{Kind: n.Media, ID: MediaID(n.ID)}, nil
}

// VideoInfo implements dom.Player.
func (d *Doc) VideoInfo(ctx context.Context, id dom.ElementID) (dom.VideoInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return dom.VideoInfo{}, dom.ErrDetached
	}
	return dom.VideoInfo{MetadataLoaded: n.MetadataLoaded, Duration: n.Duration}, nil
}

// Once implements dom.Player.
func (d *Doc) Once(ctx context.Context, id dom.ElementID, event dom.MediaEvent) (*dom.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[id]; !ok {
		return nil, dom.ErrDetached
	}
	key := listenerKey{id: id, event: event}
	l := &listener{}
	sig, fire := dom.NewSignal(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		ls := d.listeners[key]
		for i, other := range ls {
			if other == l {
				d.listeners[key] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
		if len(d.listeners[key]) == 0 {
			delete(d.listeners, key)
		}
	})
	l.fire = fire
	d.listeners[key] = append(d.listeners[key], l)
	return sig, nil
}

func (d *Doc) withNode(id dom.ElementID, fn func(n *node)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.byID[id]
	if !ok {
		return dom.ErrDetached
	}
	fn(n)
	return nil
}

// Play implements dom.Player.
func (d *Doc) Play(ctx context.Context, id dom.ElementID) error {
	return d.withNode(id, func(n *node) {
		n.playing = true
		n.plays++
	})
}

// Pause implements dom.Player.
func (d *Doc) Pause(ctx context.Context, id dom.ElementID) error {
	return d.withNode(id, func(n *node) {
		n.playing = false
		n.pauses++
	})
}

// Restart implements dom.Player.
func (d *Doc) Restart(ctx context.Context, id dom.ElementID) error {
	return d.withNode(id, func(n *node) {
		n.restarts++
		n.playing = true
	})
}

// SetLoop implements dom.Player.
func (d *Doc) SetLoop(ctx context.Context, id dom.ElementID, loop bool) error {
	return d.withNode(id, func(n *node) { n.loop = loop })
}

var _ dom.Document = (*Doc)(nil)
