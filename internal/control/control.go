// Package control owns the feed and reel engines of one page and exposes
// the start, resume, stop and status operations the daemon serves.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/feed"
	"github.com/npratt/scrollpilot/internal/reel"
)

// Mode selects which engine a run uses.
type Mode string

// Run modes.
const (
	ModeFeed Mode = events.ModeFeed
	ModeReel Mode = events.ModeReel
)

// ParseMode validates a mode name. Empty means feed.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFeed:
		return ModeFeed, nil
	case ModeReel:
		return ModeReel, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", config.ErrInvalidSettings, s)
	}
}

var (
	// ErrWrongSite is returned when the page URL matches no site pattern.
	ErrWrongSite = errors.New("page is not on a supported site")
	// ErrNothingToResume is returned by Resume when no feed position is
	// known.
	ErrNothingToResume = errors.New("no feed run to resume")
)

// Settings carries per-run settings. A nil section means the configured
// defaults.
type Settings struct {
	Feed *config.FeedConfig `json:"feed,omitempty"`
	Reel *config.ReelConfig `json:"reel,omitempty"`
}

// StateSource provides the persisted run state used by Resume.
type StateSource interface {
	State() events.State
}

// Options configures a Controller.
type Options struct {
	Feed feed.Config
	Reel reel.Config
	// Defaults fill in settings the caller leaves out.
	Defaults config.FeedConfig
	// ReelDefaults fill in reel settings the caller leaves out.
	ReelDefaults config.ReelConfig
	// Sites restricts runs to pages whose URL matches one pattern. Empty
	// allows any page.
	Sites []glob.Glob
	// URL reports the page URL for the site check.
	URL func() string
	// State, when set, seeds Resume after a daemon restart.
	State StateSource
}

// Status is a snapshot of the controller.
type Status struct {
	Running   bool      `json:"running"`
	Mode      Mode      `json:"mode,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	URL       string    `json:"url,omitempty"`

	// Feed mode
	State string `json:"state,omitempty"`
	Index int    `json:"index"`
	Items int    `json:"items"`

	// Reel mode
	Video    string `json:"video,omitempty"`
	Plays    int    `json:"plays,omitempty"`
	GateOpen bool   `json:"gate_open,omitempty"`

	FeedSettings *config.FeedConfig `json:"feed_settings,omitempty"`
	ReelSettings *config.ReelConfig `json:"reel_settings,omitempty"`
}

// Controller serialises run requests over one page. At most one engine runs
// at a time.
type Controller struct {
	opts   Options
	feed   *feed.Engine
	reel   *reel.Engine
	router *events.Router
	logger *slog.Logger

	// mu serialises Start, Resume and Stop.
	mu        sync.Mutex
	mode      Mode
	runID     string
	startedAt time.Time
	feedSet   *config.FeedConfig
	reelSet   *config.ReelConfig
}

// New creates an idle controller driving doc. router may be nil.
func New(doc dom.Document, opts Options, router *events.Router, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		feed:   feed.New(doc, opts.Feed, router, logger),
		reel:   reel.New(doc, opts.Reel, router, logger),
		router: router,
		logger: logger.With("component", "control"),
	}
}

// Start begins a run in mode, stopping any run in progress first. The run
// outlives ctx; only Stop ends it. A rejected request leaves the current
// run untouched.
func (c *Controller) Start(ctx context.Context, mode Mode, settings Settings) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkSite(); err != nil {
		return Status{}, c.fail(err)
	}

	var (
		fs  config.FeedConfig
		rs  config.ReelConfig
		err error
	)
	switch mode {
	case ModeFeed:
		fs = c.opts.Defaults
		if settings.Feed != nil {
			fs = *settings.Feed
		}
		err = fs.Validate()
	case ModeReel:
		rs = c.opts.ReelDefaults
		if settings.Reel != nil {
			rs = *settings.Reel
		}
		err = rs.Validate()
	default:
		err = fmt.Errorf("%w: unknown mode %q", config.ErrInvalidSettings, mode)
	}
	if err != nil {
		return Status{}, c.fail(err)
	}

	c.stopLocked()

	runID := uuid.NewString()
	runCtx := context.WithoutCancel(ctx)
	if mode == ModeFeed {
		if err := c.feed.Start(runCtx, runID, fs.Settings()); err != nil {
			return Status{}, c.fail(fmt.Errorf("start feed: %w", err))
		}
		c.feedSet = &fs
	} else {
		if err := c.reel.Start(runCtx, runID, rs.Settings()); err != nil {
			return Status{}, c.fail(fmt.Errorf("start reel: %w", err))
		}
		c.reelSet = &rs
	}

	c.mode = mode
	c.runID = runID
	c.startedAt = time.Now()
	c.logger.Info("run started", "mode", mode, "run_id", runID)
	return c.statusLocked(), nil
}

// Resume continues the feed from its last position. Without explicit
// settings the last used feed settings apply. A rejected request leaves
// the current run untouched.
func (c *Controller) Resume(ctx context.Context, settings *config.FeedConfig) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkSite(); err != nil {
		return Status{}, c.fail(err)
	}

	fs, index, ok := c.resumePoint()
	if !ok {
		return Status{}, c.fail(ErrNothingToResume)
	}
	if settings != nil {
		fs = *settings
	}
	if err := fs.Validate(); err != nil {
		return Status{}, c.fail(err)
	}

	c.stopLocked()
	// A feed run that was active until now resumes where it stopped
	if c.feedSet != nil {
		index = c.feed.CurrentIndex()
	}
	c.feed.Restore(index)

	runID := uuid.NewString()
	if err := c.feed.Resume(context.WithoutCancel(ctx), runID, fs.Settings()); err != nil {
		return Status{}, c.fail(fmt.Errorf("resume feed: %w", err))
	}

	c.feedSet = &fs
	c.mode = ModeFeed
	c.runID = runID
	c.startedAt = time.Now()
	c.logger.Info("run resumed", "run_id", runID, "index", index)
	return c.statusLocked(), nil
}

// resumePoint returns the settings and index to resume from. A feed run in
// this process wins over the persisted state.
func (c *Controller) resumePoint() (config.FeedConfig, int, bool) {
	fs := c.opts.Defaults
	if c.feedSet != nil {
		return *c.feedSet, c.feed.CurrentIndex(), true
	}
	if c.opts.State == nil {
		return fs, 0, false
	}
	st := c.opts.State.State()
	if len(st.FeedSettings) == 0 && st.Index == 0 {
		return fs, 0, false
	}
	if len(st.FeedSettings) > 0 {
		var saved feed.Settings
		if err := json.Unmarshal(st.FeedSettings, &saved); err != nil {
			c.logger.Warn("ignoring saved feed settings", "error", err)
		} else {
			fs.ImageTime = saved.ImageTime
			fs.VideoMultiplier = saved.VideoMultiplier
		}
	}
	return fs, st.Index, true
}

// Stop ends the active run. It is a no-op when idle.
func (c *Controller) Stop() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return c.statusLocked()
}

func (c *Controller) stopLocked() {
	if c.mode == "" {
		return
	}
	c.logger.Info("stopping run", "mode", c.mode, "run_id", c.runID)
	c.feed.Stop()
	c.reel.Stop()
	c.mode = ""
	c.runID = ""
	c.startedAt = time.Time{}
}

// Status returns a snapshot of the active run, or of the idle controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := Status{
		Mode:         c.mode,
		RunID:        c.runID,
		StartedAt:    c.startedAt,
		FeedSettings: c.feedSet,
		ReelSettings: c.reelSet,
	}
	if c.opts.URL != nil {
		s.URL = c.opts.URL()
	}
	switch c.mode {
	case "":
		// Idle: the index a resume would continue from
		s.Index = c.feed.CurrentIndex()
	case ModeFeed:
		s.Running = c.feed.Running()
		s.Index = c.feed.CurrentIndex()
		s.State = string(c.feed.State())
		s.Items = len(c.feed.Items())
	case ModeReel:
		rs := c.reel.Status()
		s.Running = rs.Running
		s.Video = string(rs.Video)
		s.Plays = rs.Plays
		s.GateOpen = rs.GateOpen
	}
	return s
}

func (c *Controller) checkSite() error {
	if len(c.opts.Sites) == 0 || c.opts.URL == nil {
		return nil
	}
	url := c.opts.URL()
	for _, g := range c.opts.Sites {
		if g.Match(url) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongSite, url)
}

// fail reports a rejected request and returns err.
func (c *Controller) fail(err error) error {
	c.logger.Warn("request rejected", "error", err)
	c.router.Emit(&events.ErrorEvent{
		BaseEvent: events.NewEvent(events.EventError, events.SourceControl, ""),
		Message:   err.Error(),
		Severity:  events.SeverityWarning,
	})
	return err
}
