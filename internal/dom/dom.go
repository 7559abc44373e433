// Package dom defines the narrow view of a host document that the engines
// operate on. Every geometry read is taken fresh from the Document; nothing
// here caches element state.
package dom

import (
	"context"
	"errors"
)

// ErrDetached is returned when an element handle no longer resolves to a
// node in the document.
var ErrDetached = errors.New("element detached from document")

// ElementID is an opaque, stable handle to a rendered element. Two handles
// are equal exactly when they refer to the same node.
type ElementID string

// Rect is the vertical extent of an element relative to the viewport top.
type Rect struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Height float64 `json:"height"`
}

// Block is the vertical alignment target for ScrollIntoView.
type Block string

const (
	BlockCenter Block = "center"
	BlockStart  Block = "start"
	BlockEnd    Block = "end"
)

// Behavior selects animated or immediate scrolling.
type Behavior string

const (
	BehaviorSmooth  Behavior = "smooth"
	BehaviorInstant Behavior = "auto"
)

// MediaKind tags the media element found inside an item.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaImage
	MediaVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	default:
		return "none"
	}
}

// Media is the media element resolved for an item.
type Media struct {
	Kind MediaKind
	ID   ElementID
}

// MediaPatterns are the selectors distinguishing image and video media
// inside an item. Video wins when both match.
type MediaPatterns struct {
	Video string
	Image string
}

// Probe matches an element by selector. With NonEmptyText set the element
// only counts when its rendered text is non-empty.
type Probe struct {
	Selector     string `json:"selector" yaml:"selector" mapstructure:"selector"`
	NonEmptyText bool   `json:"non_empty_text" yaml:"non_empty_text" mapstructure:"non_empty_text"`
}

// VideoInfo is a fresh read of a video's playback readiness.
type VideoInfo struct {
	// MetadataLoaded reports whether the duration is known.
	MetadataLoaded bool
	// Duration in seconds; only meaningful when MetadataLoaded.
	Duration float64
}

// MediaEvent names a one-shot playback event.
type MediaEvent string

const (
	EventEnded          MediaEvent = "ended"
	EventLoadedMetadata MediaEvent = "loadedmetadata"
)

// Viewport covers geometry and scrolling.
type Viewport interface {
	ViewportHeight(ctx context.Context) (float64, error)
	// Rects returns one Rect per id, in order. Detached elements yield a
	// zero Rect.
	Rects(ctx context.Context, ids []ElementID) ([]Rect, error)
	ScrollIntoView(ctx context.Context, id ElementID, block Block, behavior Behavior) error
	ScrollBy(ctx context.Context, dy float64, behavior Behavior) error
}

// Tree covers element lookup and structural change notification.
type Tree interface {
	// Query returns the first element matching selector.
	Query(ctx context.Context, selector string) (ElementID, bool, error)
	// QueryAll returns every element matching selector under root, in
	// document order. An empty root searches the whole document.
	QueryAll(ctx context.Context, root ElementID, selector string) ([]ElementID, error)
	// Watch reports batches of newly added elements under root that match
	// selector, in arrival order.
	Watch(ctx context.Context, root ElementID, selector string) (*Watch, error)
	// AnyPresent reports whether any probe matches.
	AnyPresent(ctx context.Context, probes []Probe) (bool, error)
	// Media resolves the media element inside an item.
	Media(ctx context.Context, item ElementID, patterns MediaPatterns) (Media, error)
}

// Player covers video playback control.
type Player interface {
	VideoInfo(ctx context.Context, id ElementID) (VideoInfo, error)
	// Once registers a one-shot listener for event on the video.
	Once(ctx context.Context, id ElementID, event MediaEvent) (*Signal, error)
	Play(ctx context.Context, id ElementID) error
	Pause(ctx context.Context, id ElementID) error
	// Restart seeks to zero and plays.
	Restart(ctx context.Context, id ElementID) error
	SetLoop(ctx context.Context, id ElementID, loop bool) error
}

// Document is everything the engines need from the host page.
type Document interface {
	Viewport
	Tree
	Player
}
