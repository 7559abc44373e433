package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gobwas/glob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/dom"
	"github.com/npratt/scrollpilot/internal/dom/domtest"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/feed"
	"github.com/npratt/scrollpilot/internal/reel"
	"github.com/npratt/scrollpilot/internal/scrollsync"
)

func testOptions() Options {
	return Options{
		Feed: feed.Config{
			Selectors: feed.Selectors{
				Container: domtest.ContainerSelector,
				Item:      domtest.ItemSelector,
				Media:     domtest.Patterns(),
			},
			Timing: feed.Timing{
				StartConfirm:  2 * time.Millisecond,
				Confirm:       2 * time.Millisecond,
				StallPoll:     10 * time.Millisecond,
				MetadataWait:  10 * time.Millisecond,
				DefaultVideo:  time.Hour,
				AlignCooldown: 2 * time.Millisecond,
				Debounce:      5 * time.Millisecond,
				Quiet:         5 * time.Millisecond,
				Grace:         5 * time.Millisecond,
				Sync: scrollsync.Timing{
					Settle:  time.Millisecond,
					Retry:   time.Millisecond,
					Nudge:   time.Millisecond,
					Retries: 3,
				},
			},
		},
		Reel: reel.Config{
			Selectors: reel.Selectors{
				Video:   domtest.VideoSelector,
				Overlay: []dom.Probe{{Selector: `div[aria-label="Comments"]`}},
			},
			Timing: reel.Timing{
				GatePoll:       10 * time.Millisecond,
				GateWait:       5 * time.Millisecond,
				Monitor:        10 * time.Millisecond,
				FallbackSettle: 10 * time.Millisecond,
				ScrollSettle:   10 * time.Millisecond,
			},
		},
		Defaults:     config.FeedConfig{ImageTime: time.Hour, VideoMultiplier: 1},
		ReelDefaults: config.ReelConfig{PlayCount: 1, Direction: "down"},
	}
}

func newDoc() *domtest.Doc {
	doc := domtest.New(1000)
	doc.Add(
		domtest.Item{ID: "a", Height: 800, Media: dom.MediaImage},
		domtest.Item{ID: "b", Height: 800, Media: dom.MediaVideo, Duration: 3600, MetadataLoaded: true},
		domtest.Item{ID: "c", Height: 800, Media: dom.MediaImage},
		domtest.Item{ID: "d", Height: 800, Media: dom.MediaImage},
	)
	return doc
}

func newController(t *testing.T, doc *domtest.Doc, opts Options) (*Controller, *events.Router) {
	t.Helper()
	router := events.NewRouter(256)
	c := New(doc, opts, router, nil)
	t.Cleanup(func() {
		c.Stop()
		router.Close()
	})
	return c, router
}

type fixedState struct{ st events.State }

func (f fixedState) State() events.State { return f.st }

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFeed, false},
		{"feed", ModeFeed, false},
		{"reel", ModeReel, false},
		{"stories", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalidSettings)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartFeedAndStop(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	st, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, ModeFeed, st.Mode)
	assert.NotEmpty(t, st.RunID)
	assert.False(t, st.StartedAt.IsZero())
	require.NotNil(t, st.FeedSettings)
	assert.Equal(t, time.Hour, st.FeedSettings.ImageTime)
	assert.Equal(t, 4, st.Items)

	st = c.Stop()
	assert.False(t, st.Running)
	assert.Empty(t, st.Mode)
	assert.Empty(t, st.RunID)

	// Stop is idempotent
	st = c.Stop()
	assert.False(t, st.Running)
}

func TestStartOutlivesRequestContext(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Start(ctx, ModeFeed, Settings{})
	require.NoError(t, err)
	cancel()

	time.Sleep(30 * time.Millisecond)
	assert.True(t, c.Status().Running)
}

func TestStartRejectsInvalidSettings(t *testing.T) {
	c, router := newController(t, newDoc(), testOptions())
	errs := router.SubscribeBuffered(16)

	_, err := c.Start(context.Background(), ModeFeed, Settings{
		Feed: &config.FeedConfig{ImageTime: 0, VideoMultiplier: 1},
	})
	require.ErrorIs(t, err, config.ErrInvalidSettings)
	assert.False(t, c.Status().Running)

	_, err = c.Start(context.Background(), ModeReel, Settings{
		Reel: &config.ReelConfig{PlayCount: 0, Direction: "down"},
	})
	require.ErrorIs(t, err, config.ErrInvalidSettings)

	_, err = c.Start(context.Background(), Mode("stories"), Settings{})
	require.ErrorIs(t, err, config.ErrInvalidSettings)

	select {
	case ev := <-errs:
		e, ok := ev.(*events.ErrorEvent)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, events.SourceControl, e.Source())
		assert.Equal(t, events.SeverityWarning, e.Severity)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}

func TestRejectedRequestKeepsRun(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	running, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.NoError(t, err)

	_, err = c.Start(context.Background(), ModeReel, Settings{
		Reel: &config.ReelConfig{PlayCount: 0, Direction: "down"},
	})
	require.ErrorIs(t, err, config.ErrInvalidSettings)

	_, err = c.Start(context.Background(), Mode("stories"), Settings{})
	require.ErrorIs(t, err, config.ErrInvalidSettings)

	_, err = c.Resume(context.Background(), &config.FeedConfig{ImageTime: time.Second, VideoMultiplier: 0})
	require.ErrorIs(t, err, config.ErrInvalidSettings)

	st := c.Status()
	assert.True(t, st.Running)
	assert.Equal(t, ModeFeed, st.Mode)
	assert.Equal(t, running.RunID, st.RunID)
	assert.True(t, c.feed.Running())
	assert.False(t, c.reel.Running())
}

func TestStatusIndexFollowsMode(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	_, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.NoError(t, err)
	c.Stop()
	c.feed.Restore(2)

	st, err := c.Resume(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Index)

	// Idle reports the position a resume continues from
	st = c.Stop()
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.Index)

	st, err = c.Start(context.Background(), ModeReel, Settings{})
	require.NoError(t, err)
	assert.Equal(t, ModeReel, st.Mode)
	assert.Zero(t, st.Index, "reel status must not carry the feed index")
	assert.Equal(t, 2, c.feed.CurrentIndex())
}

func TestStartWithoutContainerLeavesIdle(t *testing.T) {
	doc := newDoc()
	doc.SetContainer(false)
	c, _ := newController(t, doc, testOptions())

	_, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.ErrorIs(t, err, feed.ErrStructuralNotFound)

	st := c.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.Mode)
}

func TestStartStopsPreviousRun(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	first, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.NoError(t, err)

	second, err := c.Start(context.Background(), ModeReel, Settings{
		Reel: &config.ReelConfig{PlayCount: 2, Direction: "up"},
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, ModeReel, second.Mode)
	assert.True(t, second.Running)
	require.NotNil(t, second.ReelSettings)
	assert.Equal(t, 2, second.ReelSettings.PlayCount)
	assert.False(t, c.feed.Running(), "feed engine still running")
}

func TestSiteCheck(t *testing.T) {
	opts := testOptions()
	opts.Sites = []glob.Glob{glob.MustCompile("http*://*.instagram.com/*")}
	url := "https://example.com/"
	opts.URL = func() string { return url }
	c, _ := newController(t, newDoc(), opts)

	_, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.ErrorIs(t, err, ErrWrongSite)
	_, err = c.Resume(context.Background(), nil)
	require.ErrorIs(t, err, ErrWrongSite)

	url = "https://www.instagram.com/"
	st, err := c.Start(context.Background(), ModeFeed, Settings{})
	require.NoError(t, err)
	assert.Equal(t, url, st.URL)
}

func TestResumeWithNothingToResume(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	_, err := c.Resume(context.Background(), nil)
	require.ErrorIs(t, err, ErrNothingToResume)
}

func TestResumeFromPersistedState(t *testing.T) {
	saved, err := json.Marshal(feed.Settings{ImageTime: 2 * time.Hour, VideoMultiplier: 1.5})
	require.NoError(t, err)

	opts := testOptions()
	opts.State = fixedState{events.State{
		Status:       events.StatusStopped,
		Mode:         events.ModeFeed,
		Index:        2,
		FeedSettings: saved,
	}}
	c, _ := newController(t, newDoc(), opts)

	st, err := c.Resume(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.Index)
	require.NotNil(t, st.FeedSettings)
	assert.Equal(t, 2*time.Hour, st.FeedSettings.ImageTime)
	assert.Equal(t, 1.5, st.FeedSettings.VideoMultiplier)
}

func TestResumeAfterStopKeepsPosition(t *testing.T) {
	c, _ := newController(t, newDoc(), testOptions())

	_, err := c.Start(context.Background(), ModeFeed, Settings{
		Feed: &config.FeedConfig{ImageTime: 3 * time.Hour, VideoMultiplier: 1},
	})
	require.NoError(t, err)
	c.Stop()

	c.feed.Restore(3)
	st, err := c.Resume(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Index)
	assert.Equal(t, 3*time.Hour, st.FeedSettings.ImageTime)

	// Explicit settings override the last used ones
	c.Stop()
	st, err = c.Resume(context.Background(), &config.FeedConfig{ImageTime: time.Minute, VideoMultiplier: 2})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, st.FeedSettings.ImageTime)
}

func TestStatusReportsReel(t *testing.T) {
	doc := domtest.New(1000)
	doc.Add(
		domtest.Item{ID: "r1", Height: 1000, Media: dom.MediaVideo, Duration: 10, MetadataLoaded: true},
		domtest.Item{ID: "r2", Height: 1000, Media: dom.MediaVideo, Duration: 10, MetadataLoaded: true},
	)
	c, _ := newController(t, doc, testOptions())

	_, err := c.Start(context.Background(), ModeReel, Settings{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Status().Video == string(domtest.MediaID("r1"))
	}, time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Equal(t, ModeReel, st.Mode)
	assert.True(t, st.Running)
	assert.False(t, st.GateOpen)
}
