package events

import (
	"log/slog"
	"sync"
)

// DefaultBufferSize is the default channel buffer size for subscribers.
const DefaultBufferSize = 100

// Router fans engine events out to subscribers. Delivery is non-blocking:
// a subscriber that falls behind loses events rather than stalling an
// engine mid-scroll.
type Router struct {
	mu          sync.RWMutex
	subscribers []chan Event
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// NewRouter creates a router. A bufferSize of 0 or less selects
// DefaultBufferSize.
func NewRouter(bufferSize int) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Router{
		bufferSize: bufferSize,
		logger:     slog.Default(),
	}
}

// SetLogger replaces the logger used for drop warnings.
func (r *Router) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Emit publishes an event to every subscriber. It is a no-op on a nil or
// closed router.
func (r *Router) Emit(event Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}
	for _, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			r.logger.Warn("event dropped: subscriber channel full",
				"event_type", event.Type(),
				"source", event.Source())
		}
	}
}

// Subscribe returns a channel with the router's default buffer size.
// The channel is closed by Unsubscribe or Close.
func (r *Router) Subscribe() <-chan Event {
	return r.SubscribeBuffered(r.bufferSize)
}

// SubscribeBuffered returns a channel with the given buffer size.
func (r *Router) SubscribeBuffered(size int) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, size)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (r *Router) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes every subscriber channel. Later Emits are dropped and later
// Subscribes return closed channels. Close is idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
}
