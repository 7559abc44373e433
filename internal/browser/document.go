package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/npratt/scrollpilot/internal/dom"
)

//go:embed bridge.js
var bridgeSource string

// Page is the subset of playwright.Page the Document drives.
type Page interface {
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	ExposeFunction(name string, binding playwright.ExposedFunction) error
	AddInitScript(script playwright.Script) error
	URL() string
}

var _ Page = (playwright.Page)(nil)

// callExpression invokes one bridge operation. It reports a missing bridge
// instead of throwing so the caller can reinstall it after a navigation.
const callExpression = `([name, args]) => window.__sp ? window.__sp.call(name, args) : JSON.stringify({error: "bridge missing"})`

const (
	errBridgeMissing = "bridge missing"
	errDetached      = "detached"

	watchBuffer    = 64
	cleanupTimeout = 2 * time.Second
)

// Document implements dom.Document over a live page. Every call is a fresh
// round trip; element handles are data-sp-id attributes assigned by the
// bridge.
type Document struct {
	page   Page
	disp   *dispatcher
	logger *slog.Logger
}

var _ dom.Document = (*Document)(nil)

// NewDocument installs the bridge into page and exposes the callback
// bindings.
func NewDocument(page Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Document{
		page:   page,
		disp:   newDispatcher(logger),
		logger: logger.With("component", "browser"),
	}
	if err := page.ExposeFunction(mutationBinding, d.disp.onMutation); err != nil {
		return nil, fmt.Errorf("expose %s: %w", mutationBinding, err)
	}
	if err := page.ExposeFunction(mediaBinding, d.disp.onMedia); err != nil {
		return nil, fmt.Errorf("expose %s: %w", mediaBinding, err)
	}
	if err := page.AddInitScript(playwright.Script{Content: playwright.String(bridgeSource)}); err != nil {
		return nil, fmt.Errorf("add bridge init script: %w", err)
	}
	if err := d.install(); err != nil {
		return nil, err
	}
	return d, nil
}

// URL returns the page's current URL.
func (d *Document) URL() string {
	return d.page.URL()
}

func (d *Document) install() error {
	if _, err := d.page.Evaluate(bridgeSource); err != nil {
		return fmt.Errorf("install bridge: %w", err)
	}
	return nil
}

type envelope struct {
	Value json.RawMessage `json:"value"`
	Error string          `json:"error"`
}

// call runs a bridge operation with args and decodes its value into out.
func (d *Document) call(ctx context.Context, op string, args any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if args == nil {
		args = struct{}{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", op, err)
	}

	env, err := d.evaluate(op, string(payload))
	if err == nil && env.Error == errBridgeMissing {
		d.logger.Debug("bridge missing, reinstalling", "op", op)
		if err := d.install(); err != nil {
			return err
		}
		env, err = d.evaluate(op, string(payload))
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case env.Error == errDetached:
		return dom.ErrDetached
	case env.Error != "":
		return fmt.Errorf("%s: %s", op, env.Error)
	}
	if out == nil || len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}
	return nil
}

func (d *Document) evaluate(op, payload string) (envelope, error) {
	raw, err := d.page.Evaluate(callExpression, []interface{}{op, payload})
	if err != nil {
		return envelope{}, fmt.Errorf("evaluate %s: %w", op, err)
	}
	s, ok := raw.(string)
	if !ok {
		return envelope{}, fmt.Errorf("evaluate %s: unexpected result type %T", op, raw)
	}
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return envelope{}, fmt.Errorf("evaluate %s: %w", op, err)
	}
	return env, nil
}

// ViewportHeight implements dom.Viewport.
func (d *Document) ViewportHeight(ctx context.Context) (float64, error) {
	var h float64
	err := d.call(ctx, "viewportHeight", nil, &h)
	return h, err
}

// Rects implements dom.Viewport.
func (d *Document) Rects(ctx context.Context, ids []dom.ElementID) ([]dom.Rect, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rects []dom.Rect
	if err := d.call(ctx, "rects", map[string]any{"ids": ids}, &rects); err != nil {
		return nil, err
	}
	if len(rects) != len(ids) {
		return nil, fmt.Errorf("rects: got %d for %d elements", len(rects), len(ids))
	}
	return rects, nil
}

// ScrollIntoView implements dom.Viewport.
func (d *Document) ScrollIntoView(ctx context.Context, id dom.ElementID, block dom.Block, behavior dom.Behavior) error {
	return d.call(ctx, "scrollIntoView", map[string]any{
		"id":       id,
		"block":    block,
		"behavior": behavior,
	}, nil)
}

// ScrollBy implements dom.Viewport.
func (d *Document) ScrollBy(ctx context.Context, dy float64, behavior dom.Behavior) error {
	return d.call(ctx, "scrollBy", map[string]any{"dy": dy, "behavior": behavior}, nil)
}

// Query implements dom.Tree.
func (d *Document) Query(ctx context.Context, selector string) (dom.ElementID, bool, error) {
	var id *dom.ElementID
	if err := d.call(ctx, "query", map[string]any{"selector": selector}, &id); err != nil {
		return "", false, err
	}
	if id == nil {
		return "", false, nil
	}
	return *id, true, nil
}

// QueryAll implements dom.Tree.
func (d *Document) QueryAll(ctx context.Context, root dom.ElementID, selector string) ([]dom.ElementID, error) {
	var ids []dom.ElementID
	err := d.call(ctx, "queryAll", map[string]any{"root": root, "selector": selector}, &ids)
	return ids, err
}

// Watch implements dom.Tree.
func (d *Document) Watch(ctx context.Context, root dom.ElementID, selector string) (*dom.Watch, error) {
	token, w := d.disp.addWatch(watchBuffer)
	err := d.call(ctx, "watch", map[string]any{"token": token, "root": root, "selector": selector}, nil)
	if err != nil {
		d.disp.removeWatch(token)
		return nil, err
	}
	return dom.NewWatch(w.ch, func() {
		d.disp.removeWatch(token)
		d.detach("unwatch", token)
	}), nil
}

// AnyPresent implements dom.Tree.
func (d *Document) AnyPresent(ctx context.Context, probes []dom.Probe) (bool, error) {
	if len(probes) == 0 {
		return false, nil
	}
	var present bool
	err := d.call(ctx, "anyPresent", map[string]any{"probes": probes}, &present)
	return present, err
}

// Media implements dom.Tree.
func (d *Document) Media(ctx context.Context, item dom.ElementID, patterns dom.MediaPatterns) (dom.Media, error) {
	var res struct {
		Kind string        `json:"kind"`
		ID   dom.ElementID `json:"id"`
	}
	err := d.call(ctx, "media", map[string]any{
		"item":  item,
		"video": patterns.Video,
		"image": patterns.Image,
	}, &res)
	if err != nil {
		return dom.Media{}, err
	}
	switch res.Kind {
	case "video":
		return dom.Media{Kind: dom.MediaVideo, ID: res.ID}, nil
	case "image":
		return dom.Media{Kind: dom.MediaImage, ID: res.ID}, nil
	default:
		return dom.Media{}, nil
	}
}

// VideoInfo implements dom.Player.
func (d *Document) VideoInfo(ctx context.Context, id dom.ElementID) (dom.VideoInfo, error) {
	var res struct {
		Loaded   bool    `json:"loaded"`
		Duration float64 `json:"duration"`
	}
	if err := d.call(ctx, "videoInfo", map[string]any{"id": id}, &res); err != nil {
		return dom.VideoInfo{}, err
	}
	return dom.VideoInfo{MetadataLoaded: res.Loaded, Duration: res.Duration}, nil
}

// Once implements dom.Player.
func (d *Document) Once(ctx context.Context, id dom.ElementID, event dom.MediaEvent) (*dom.Signal, error) {
	var token string
	sig, fire := dom.NewSignal(func() {
		d.disp.removeSignal(token)
		d.detach("off", token)
	})
	token = d.disp.addSignal(fire)
	err := d.call(ctx, "once", map[string]any{"token": token, "id": id, "event": event}, nil)
	if err != nil {
		d.disp.removeSignal(token)
		return nil, err
	}
	return sig, nil
}

// Play implements dom.Player.
func (d *Document) Play(ctx context.Context, id dom.ElementID) error {
	return d.call(ctx, "play", map[string]any{"id": id}, nil)
}

// Pause implements dom.Player.
func (d *Document) Pause(ctx context.Context, id dom.ElementID) error {
	return d.call(ctx, "pause", map[string]any{"id": id}, nil)
}

// Restart implements dom.Player.
func (d *Document) Restart(ctx context.Context, id dom.ElementID) error {
	return d.call(ctx, "restart", map[string]any{"id": id}, nil)
}

// SetLoop implements dom.Player.
func (d *Document) SetLoop(ctx context.Context, id dom.ElementID, loop bool) error {
	return d.call(ctx, "setLoop", map[string]any{"id": id, "loop": loop}, nil)
}

// detach removes a page-side observer or listener. Failures only mean the
// page already dropped it.
func (d *Document) detach(op, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := d.call(ctx, op, map[string]any{"token": token}, nil); err != nil {
		d.logger.Debug("page cleanup failed", "op", op, "error", err)
	}
}
