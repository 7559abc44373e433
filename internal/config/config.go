// Package config provides configuration types and defaults for scrollpilot.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/feed"
	"github.com/npratt/scrollpilot/internal/reel"
	"github.com/npratt/scrollpilot/internal/scrollsync"
)

// ErrInvalidSettings is wrapped by every validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Config holds all configuration for scrollpilot.
type Config struct {
	Feed        FeedConfig        `yaml:"feed" mapstructure:"feed"`
	Reel        ReelConfig        `yaml:"reel" mapstructure:"reel"`
	Selectors   SelectorsConfig   `yaml:"selectors" mapstructure:"selectors"`
	Timing      TimingConfig      `yaml:"timing" mapstructure:"timing"`
	Browser     BrowserConfig     `yaml:"browser" mapstructure:"browser"`
	Site        SiteConfig        `yaml:"site" mapstructure:"site"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`

	// Sources lists the config files that were merged, in load order.
	Sources []string `yaml:"-" mapstructure:"-"`
}

// FeedConfig holds the default feed run settings.
type FeedConfig struct {
	ImageTime       time.Duration `yaml:"image_time" mapstructure:"image_time" json:"image_time"`
	VideoMultiplier float64       `yaml:"video_multiplier" mapstructure:"video_multiplier" json:"video_multiplier"`
	// AlignPolicy is what to do after an item cannot be aligned: "skip"
	// moves to the next index, "resync" jumps to the item actually visible.
	AlignPolicy string `yaml:"align_policy" mapstructure:"align_policy" json:"align_policy"`
}

// ReelConfig holds the default reel run settings.
type ReelConfig struct {
	PlayCount        int    `yaml:"play_count" mapstructure:"play_count" json:"play_count"`
	Direction        string `yaml:"direction" mapstructure:"direction" json:"direction"`
	SkipWithComments bool   `yaml:"skip_with_comments" mapstructure:"skip_with_comments" json:"skip_with_comments"`
}

// SelectorsConfig locates feed items, media, reels and overlays on the page.
type SelectorsConfig struct {
	Container string      `yaml:"container" mapstructure:"container"`
	Item      string      `yaml:"item" mapstructure:"item"`
	Video     string      `yaml:"video" mapstructure:"video"`
	Image     string      `yaml:"image" mapstructure:"image"`
	Reel      string      `yaml:"reel" mapstructure:"reel"`
	Overlay   []dom.Probe `yaml:"overlay" mapstructure:"overlay"`
}

// TimingConfig holds engine delays. The defaults match how the target site
// animates and lazy-loads; tests override them with millisecond values.
type TimingConfig struct {
	StartConfirm  time.Duration `yaml:"start_confirm" mapstructure:"start_confirm"`
	Confirm       time.Duration `yaml:"confirm" mapstructure:"confirm"`
	StallPoll     time.Duration `yaml:"stall_poll" mapstructure:"stall_poll"`
	MetadataWait  time.Duration `yaml:"metadata_wait" mapstructure:"metadata_wait"`
	DefaultVideo  time.Duration `yaml:"default_video" mapstructure:"default_video"`
	AlignCooldown time.Duration `yaml:"align_cooldown" mapstructure:"align_cooldown"`
	Debounce      time.Duration `yaml:"debounce" mapstructure:"debounce"`
	Quiet         time.Duration `yaml:"quiet" mapstructure:"quiet"`
	Grace         time.Duration `yaml:"grace" mapstructure:"grace"`

	AlignSettle  time.Duration `yaml:"align_settle" mapstructure:"align_settle"`
	AlignRetry   time.Duration `yaml:"align_retry" mapstructure:"align_retry"`
	AlignNudge   time.Duration `yaml:"align_nudge" mapstructure:"align_nudge"`
	AlignRetries int           `yaml:"align_retries" mapstructure:"align_retries"`

	GatePoll       time.Duration `yaml:"gate_poll" mapstructure:"gate_poll"`
	GateWait       time.Duration `yaml:"gate_wait" mapstructure:"gate_wait"`
	ReelMonitor    time.Duration `yaml:"reel_monitor" mapstructure:"reel_monitor"`
	FallbackSettle time.Duration `yaml:"fallback_settle" mapstructure:"fallback_settle"`
	ScrollSettle   time.Duration `yaml:"scroll_settle" mapstructure:"scroll_settle"`
}

// BrowserConfig holds browser launch settings.
type BrowserConfig struct {
	Headless    bool          `yaml:"headless" mapstructure:"headless"`
	UserDataDir string        `yaml:"user_data_dir" mapstructure:"user_data_dir"`
	StartURL    string        `yaml:"start_url" mapstructure:"start_url"`
	Width       int           `yaml:"width" mapstructure:"width"`
	Height      int           `yaml:"height" mapstructure:"height"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SkipInstall bool          `yaml:"skip_install" mapstructure:"skip_install"`
}

// SiteConfig restricts which pages the engines may run on.
type SiteConfig struct {
	Enforce bool `yaml:"enforce" mapstructure:"enforce"`
	// Patterns are gobwas/glob patterns matched against the full page URL.
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
}

// PathsConfig holds file paths for state, logs, and socket.
type PathsConfig struct {
	State  string `yaml:"state" mapstructure:"state"`
	Log    string `yaml:"log" mapstructure:"log"`
	Events string `yaml:"events" mapstructure:"events"`
	Socket string `yaml:"socket" mapstructure:"socket"`
	PID    string `yaml:"pid" mapstructure:"pid"`
}

// LogRotationConfig holds settings for log file rotation of the daemon
// log and the event log.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// Default selectors for Instagram's web feed and reels.
const (
	DefaultContainerSelector = ".x9f619.xjbqb8w.x78zum5.x168nmei.x13lgxp2.x5pf9jr.xo71vjh.x1uhb9sk.x1plvlek.xryxfnj.x1c4vz4f.x2lah0s.xdt5ytf.xqjyukv.x6s0dn4.x1oa3qoh.x1nhvcw1"
	DefaultItemSelector      = "article"
	DefaultVideoSelector     = "video.x1lliihq.x5yr21d.xh8yej3"
	DefaultImageSelector     = "img.x5yr21d.xu96u03.x10l6tqk.x13vifvy.x87ps6o.xh8yej3"
	DefaultReelSelector      = "main video"
)

// DefaultOverlayProbes match the comment panels and portals that cover a
// reel.
func DefaultOverlayProbes() []dom.Probe {
	return []dom.Probe{
		{Selector: `div[aria-label="Comment"]`},
		{Selector: `div[aria-label="Comments"]`},
		{Selector: "section._aamu._ae3_._ae40._ae41"},
		{Selector: ".BasePortal"},
		{Selector: ".BasePortal span", NonEmptyText: true},
	}
}

// Default returns a Config with the production defaults.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			ImageTime:       3 * time.Second,
			VideoMultiplier: 1.0,
			AlignPolicy:     string(feed.PolicySkip),
		},
		Reel: ReelConfig{
			PlayCount: 1,
			Direction: string(reel.DirectionDown),
		},
		Selectors: SelectorsConfig{
			Container: DefaultContainerSelector,
			Item:      DefaultItemSelector,
			Video:     DefaultVideoSelector,
			Image:     DefaultImageSelector,
			Reel:      DefaultReelSelector,
			Overlay:   DefaultOverlayProbes(),
		},
		Timing: TimingConfig{
			StartConfirm:  500 * time.Millisecond,
			Confirm:       200 * time.Millisecond,
			StallPoll:     2 * time.Second,
			MetadataWait:  5 * time.Second,
			DefaultVideo:  5 * time.Second,
			AlignCooldown: time.Second,
			Debounce:      300 * time.Millisecond,
			Quiet:         500 * time.Millisecond,
			Grace:         500 * time.Millisecond,

			AlignSettle:  500 * time.Millisecond,
			AlignRetry:   700 * time.Millisecond,
			AlignNudge:   500 * time.Millisecond,
			AlignRetries: 3,

			GatePoll:       500 * time.Millisecond,
			GateWait:       100 * time.Millisecond,
			ReelMonitor:    200 * time.Millisecond,
			FallbackSettle: time.Second,
			ScrollSettle:   500 * time.Millisecond,
		},
		Browser: BrowserConfig{
			StartURL: "https://www.instagram.com/",
			Width:    1280,
			Height:   900,
			Timeout:  30 * time.Second,
		},
		Site: SiteConfig{
			Enforce: true,
			Patterns: []string{
				"http*://instagram.com/*",
				"http*://*.instagram.com/*",
			},
		},
		Paths: PathsConfig{
			State:  ".scrollpilot/state.json",
			Log:    ".scrollpilot/scrollpilot.log",
			Events: ".scrollpilot/events.jsonl",
			Socket: ".scrollpilot/scrollpilot.sock",
			PID:    ".scrollpilot/scrollpilot.pid",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate checks feed run settings.
func (f FeedConfig) Validate() error {
	if f.ImageTime <= 0 {
		return fmt.Errorf("%w: image_time must be positive, got %s", ErrInvalidSettings, f.ImageTime)
	}
	if f.VideoMultiplier <= 0 {
		return fmt.Errorf("%w: video_multiplier must be positive, got %v", ErrInvalidSettings, f.VideoMultiplier)
	}
	switch feed.AlignPolicy(f.AlignPolicy) {
	case "", feed.PolicySkip, feed.PolicyResync:
	default:
		return fmt.Errorf("%w: align_policy must be skip or resync, got %q", ErrInvalidSettings, f.AlignPolicy)
	}
	return nil
}

// Validate checks reel run settings.
func (r ReelConfig) Validate() error {
	if r.PlayCount < 1 {
		return fmt.Errorf("%w: play_count must be at least 1, got %d", ErrInvalidSettings, r.PlayCount)
	}
	switch reel.Direction(r.Direction) {
	case reel.DirectionDown, reel.DirectionUp:
	default:
		return fmt.Errorf("%w: direction must be up or down, got %q", ErrInvalidSettings, r.Direction)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if err := c.Reel.Validate(); err != nil {
		return fmt.Errorf("reel: %w", err)
	}
	if c.Selectors.Container == "" || c.Selectors.Item == "" || c.Selectors.Reel == "" {
		return fmt.Errorf("%w: container, item and reel selectors are required", ErrInvalidSettings)
	}
	if c.Timing.AlignRetries < 1 {
		return fmt.Errorf("%w: align_retries must be at least 1", ErrInvalidSettings)
	}
	if _, err := c.Site.Matchers(); err != nil {
		return err
	}
	return nil
}

// Matchers compiles the site patterns.
func (s SiteConfig) Matchers() ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(s.Patterns))
	for _, p := range s.Patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: site pattern %q: %v", ErrInvalidSettings, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Settings converts to engine settings.
func (f FeedConfig) Settings() feed.Settings {
	return feed.Settings{ImageTime: f.ImageTime, VideoMultiplier: f.VideoMultiplier}
}

// Settings converts to engine settings.
func (r ReelConfig) Settings() reel.Settings {
	return reel.Settings{
		PlayCount:        r.PlayCount,
		Direction:        reel.Direction(r.Direction),
		SkipWithComments: r.SkipWithComments,
	}
}

// FeedEngine returns the feed engine configuration.
func (c *Config) FeedEngine() feed.Config {
	t := c.Timing
	policy := feed.AlignPolicy(c.Feed.AlignPolicy)
	if policy == "" {
		policy = feed.PolicySkip
	}
	return feed.Config{
		Selectors: feed.Selectors{
			Container: c.Selectors.Container,
			Item:      c.Selectors.Item,
			Media:     dom.MediaPatterns{Video: c.Selectors.Video, Image: c.Selectors.Image},
		},
		Timing: feed.Timing{
			StartConfirm:  t.StartConfirm,
			Confirm:       t.Confirm,
			StallPoll:     t.StallPoll,
			MetadataWait:  t.MetadataWait,
			DefaultVideo:  t.DefaultVideo,
			AlignCooldown: t.AlignCooldown,
			Debounce:      t.Debounce,
			Quiet:         t.Quiet,
			Grace:         t.Grace,
			Sync: scrollsync.Timing{
				Settle:  t.AlignSettle,
				Retry:   t.AlignRetry,
				Nudge:   t.AlignNudge,
				Retries: t.AlignRetries,
			},
		},
		Policy: policy,
	}
}

// ReelEngine returns the reel engine configuration.
func (c *Config) ReelEngine() reel.Config {
	t := c.Timing
	return reel.Config{
		Selectors: reel.Selectors{
			Video:   c.Selectors.Reel,
			Overlay: c.Selectors.Overlay,
		},
		Timing: reel.Timing{
			GatePoll:       t.GatePoll,
			GateWait:       t.GateWait,
			Monitor:        t.ReelMonitor,
			FallbackSettle: t.FallbackSettle,
			ScrollSettle:   t.ScrollSettle,
		},
	}
}
