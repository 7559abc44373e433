package browser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/npratt/scrollpilot/internal/dom"
)

// Names of the functions exposed to the page.
const (
	mutationBinding = "__spMutation"
	mediaBinding    = "__spMedia"
)

type watchEntry struct {
	ch   chan []dom.ElementID
	done chan struct{}
}

// dispatcher routes page callbacks to the Go side by token. Each Watch and
// Once registration gets its own token so that stale callbacks from
// removed listeners are ignored.
type dispatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	next    uint64
	watches map[string]*watchEntry
	signals map[string]func()
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		logger:  logger,
		watches: make(map[string]*watchEntry),
		signals: make(map[string]func()),
	}
}

func (d *dispatcher) tokenLocked(prefix string) string {
	d.next++
	return prefix + strconv.FormatUint(d.next, 10)
}

func (d *dispatcher) addWatch(buffer int) (string, *watchEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	token := d.tokenLocked("w")
	w := &watchEntry{
		ch:   make(chan []dom.ElementID, buffer),
		done: make(chan struct{}),
	}
	d.watches[token] = w
	return token, w
}

func (d *dispatcher) removeWatch(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.watches[token]; ok {
		close(w.done)
		delete(d.watches, token)
	}
}

func (d *dispatcher) addSignal(fire func()) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	token := d.tokenLocked("s")
	d.signals[token] = fire
	return token
}

func (d *dispatcher) removeSignal(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.signals, token)
}

// onMutation handles __spMutation(token, idsJSON).
func (d *dispatcher) onMutation(args ...interface{}) interface{} {
	token, payload, err := stringArgs(args)
	if err != nil {
		d.logger.Debug("bad mutation callback", "error", err)
		return nil
	}
	var ids []dom.ElementID
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		d.logger.Debug("bad mutation payload", "error", err)
		return nil
	}

	d.mu.Lock()
	w, ok := d.watches[token]
	d.mu.Unlock()
	if !ok || len(ids) == 0 {
		return nil
	}
	select {
	case w.ch <- ids:
	case <-w.done:
	}
	return nil
}

// onMedia handles __spMedia(token). The listener is one-shot, so the token
// is retired as it fires.
func (d *dispatcher) onMedia(args ...interface{}) interface{} {
	if len(args) < 1 {
		return nil
	}
	token, ok := args[0].(string)
	if !ok {
		return nil
	}
	d.mu.Lock()
	fire, ok := d.signals[token]
	delete(d.signals, token)
	d.mu.Unlock()
	if ok {
		fire()
	}
	return nil
}

func stringArgs(args []interface{}) (string, string, error) {
	if len(args) < 2 {
		return "", "", fmt.Errorf("want 2 arguments, got %d", len(args))
	}
	a, ok1 := args[0].(string)
	b, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("want string arguments, got %T, %T", args[0], args[1])
	}
	return a, b, nil
}
