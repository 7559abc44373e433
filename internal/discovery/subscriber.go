package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/wait"
)

// DefaultDebounce is the quiet period before a re-evaluation runs.
const DefaultDebounce = 300 * time.Millisecond

// Options configures a Subscriber.
type Options struct {
	Root     dom.ElementID
	Selector string
	Debounce time.Duration
	// OnAppend runs once per burst of non-empty appends, after Debounce.
	OnAppend func()
}

// Subscriber appends newly rendered items to a List.
type Subscriber struct {
	list     *List
	watch    *dom.Watch
	debounce *wait.Debouncer
	logger   *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Subscribe starts watching opts.Root for items matching opts.Selector.
func Subscribe(ctx context.Context, tree dom.Tree, list *List, opts Options, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	w, err := tree.Watch(ctx, opts.Root, opts.Selector)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", opts.Selector, err)
	}

	onAppend := opts.OnAppend
	if onAppend == nil {
		onAppend = func() {}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscriber{
		list:     list,
		watch:    w,
		debounce: wait.NewDebouncer(opts.Debounce, onAppend),
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.watch.C:
			if n := s.list.Add(batch...); n > 0 {
				s.logger.Debug("items discovered", "added", n, "total", s.list.Len())
				s.debounce.Trigger()
			}
		}
	}
}

// Stop unsubscribes and cancels any pending re-evaluation. It blocks until
// the subscriber goroutine exits and is safe to call more than once.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.watch.Stop()
		s.debounce.Stop()
		<-s.done
	})
}
