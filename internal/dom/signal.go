package dom

import "sync"

// Signal is a one-shot notification with deterministic unsubscription.
// C is closed when the event fires. Stop removes the underlying listener;
// it is safe to call more than once and after the signal fired.
type Signal struct {
	C <-chan struct{}

	once   sync.Once
	fire   chan struct{}
	fired  sync.Once
	cancel func()
}

// NewSignal returns a Signal and the function that fires it. cancel runs
// once, on the first Stop.
func NewSignal(cancel func()) (*Signal, func()) {
	ch := make(chan struct{})
	s := &Signal{C: ch, fire: ch, cancel: cancel}
	return s, s.trigger
}

func (s *Signal) trigger() {
	s.fired.Do(func() { close(s.fire) })
}

// Stop unsubscribes the listener.
func (s *Signal) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Watch is a subscription to batches of added elements.
type Watch struct {
	C <-chan []ElementID

	once   sync.Once
	cancel func()
}

// NewWatch wraps a batch channel and its unsubscribe function.
func NewWatch(c <-chan []ElementID, cancel func()) *Watch {
	return &Watch{C: c, cancel: cancel}
}

// Stop unsubscribes. The channel is not closed; receivers select on their
// own context as well.
func (w *Watch) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
}
