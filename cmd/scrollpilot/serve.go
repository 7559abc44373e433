package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/npratt/scrollpilot/internal/browser"
	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/daemon"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/shutdown"
	"github.com/npratt/scrollpilot/internal/tui"
)

const (
	shutdownTimeout = 30 * time.Second

	// tuiEventBuffer absorbs bursts while the dashboard is redrawing.
	tuiEventBuffer = 5000
)

func newServeCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon that owns the browser page",
		Long: `Launch the browser session and serve run control on the Unix socket.

Runs in the foreground until interrupted or until "scrollpilot stop
--shutdown". When stdout is a terminal the dashboard is shown; use
--daemon to detach instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			daemonMode, _ := cmd.Flags().GetBool(FlagDaemon)

			// Determine TUI mode: explicit flag > auto-detect from TTY
			tuiEnabled, _ := cmd.Flags().GetBool(FlagTUI)
			if !cmd.Flags().Changed(FlagTUI) && !daemonMode {
				tuiEnabled = term.IsTerminal(int(os.Stdout.Fd()))
			}
			if tuiEnabled && daemonMode {
				return fmt.Errorf("--tui and --daemon flags are incompatible")
			}

			cfg, projectRoot, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(FlagURL) {
				cfg.Browser.StartURL, _ = cmd.Flags().GetString(FlagURL)
			}
			if cmd.Flags().Changed(FlagHeadless) {
				cfg.Browser.Headless, _ = cmd.Flags().GetBool(FlagHeadless)
			}

			if daemonMode {
				if daemon.NewClient(cfg.Paths.Socket).IsRunning() {
					return fmt.Errorf("daemon already running (socket: %s)", cfg.Paths.Socket)
				}
				shouldExit, pid, err := daemon.Daemonize(cfg.Paths.Socket, os.Args[1:])
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				if shouldExit {
					fmt.Printf("Daemon started (pid %d)\n", pid)
					return nil
				}
			}

			// The dashboard and the detached daemon must not log to stderr
			if tuiEnabled || daemonMode {
				fileLog, err := SetupFileLogger(cfg.Paths.Log, logLevel, cfg.LogRotation)
				if err != nil {
					return err
				}
				defer func() { _ = fileLog.Close() }()
				logger = fileLog.Logger
				slog.SetDefault(logger)
			}

			return serve(cmd.Context(), cfg, projectRoot, tuiEnabled, logger)
		},
	}

	cmd.Flags().Bool(FlagDaemon, false, "Run as a background daemon")
	cmd.Flags().Bool(FlagTUI, false, "Show the dashboard in the foreground")
	cmd.Flags().String(FlagURL, "", "Page to open at launch (overrides browser.start_url)")
	cmd.Flags().Bool(FlagHeadless, false, "Run the browser without a window")
	return cmd
}

// serve owns the daemon's lifetime: browser, sinks, controller and socket.
func serve(ctx context.Context, cfg *config.Config, projectRoot string, tuiEnabled bool, logger *slog.Logger) error {
	pidFile := daemon.NewPIDFile(cfg.Paths.PID)
	pidFile.CleanupStale(cfg.Paths.Socket)
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer pidFile.Release()

	var sites []glob.Glob
	if cfg.Site.Enforce {
		var err error
		if sites, err = cfg.Site.Matchers(); err != nil {
			return err
		}
	}

	logger.Info("scrollpilot starting",
		"version", version,
		"start_url", cfg.Browser.StartURL,
		"events_file", cfg.Paths.Events,
		"state_file", cfg.Paths.State,
		"socket", cfg.Paths.Socket,
		"tui", tuiEnabled,
	)

	session, err := browser.Launch(ctx, browser.Options{
		Headless:    cfg.Browser.Headless,
		UserDataDir: cfg.Browser.UserDataDir,
		StartURL:    cfg.Browser.StartURL,
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		TimeoutMs:   float64(cfg.Browser.Timeout.Milliseconds()),
		SkipInstall: cfg.Browser.SkipInstall,
	}, logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("close browser", "error", err)
		}
	}()

	doc, err := session.Document()
	if err != nil {
		return fmt.Errorf("attach to page: %w", err)
	}

	// Create event router and sinks
	router := events.NewRouter(events.DefaultBufferSize)
	router.SetLogger(logger)

	logSink := events.NewLogSink(cfg.Paths.Events, events.Rotation{
		MaxSizeMB:  cfg.LogRotation.MaxSizeMB,
		MaxBackups: cfg.LogRotation.MaxBackups,
		MaxAgeDays: cfg.LogRotation.MaxAgeDays,
		Compress:   cfg.LogRotation.Compress,
	})
	stateSink := events.NewStateSink(cfg.Paths.State)

	sinkCtx, sinkCancel := context.WithCancel(ctx)
	defer sinkCancel()

	if err := logSink.Start(sinkCtx, router.Subscribe()); err != nil {
		return fmt.Errorf("start log sink: %w", err)
	}
	defer func() { _ = logSink.Stop() }()

	if err := stateSink.Start(sinkCtx, router.SubscribeBuffered(events.StateBufferSize)); err != nil {
		return fmt.Errorf("start state sink: %w", err)
	}
	defer func() { _ = stateSink.Stop() }()

	// Close the router before the sinks stop so they drain what is queued
	defer router.Close()

	ctrl := control.New(doc, control.Options{
		Feed:         cfg.FeedEngine(),
		Reel:         cfg.ReelEngine(),
		Defaults:     cfg.Feed,
		ReelDefaults: cfg.Reel,
		Sites:        sites,
		URL:          session.URL,
		State:        stateSink,
	}, router, logger)

	infoPath := daemon.InfoPath(projectRoot)
	info := &daemon.Info{
		SocketPath: cfg.Paths.Socket,
		PIDPath:    cfg.Paths.PID,
		LogPath:    cfg.Paths.Log,
		EventsPath: cfg.Paths.Events,
		StatePath:  cfg.Paths.State,
		StartURL:   cfg.Browser.StartURL,
		StartTime:  time.Now(),
		PID:        os.Getpid(),
	}
	if err := daemon.WriteInfo(infoPath, info); err != nil {
		logger.Warn("failed to write daemon info", "error", err)
	}
	defer func() { _ = daemon.RemoveInfo(infoPath) }()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	dmn := daemon.New(cfg, ctrl, logger,
		daemon.WithStateSource(stateSink),
		daemon.WithShutdown(runCancel),
	)

	if tuiEnabled {
		return serveTUI(runCtx, runCancel, dmn, ctrl, router, logger)
	}

	return shutdown.RunWithGracefulShutdown(
		runCtx,
		logger,
		shutdownTimeout,
		dmn.Start,
		func(shutdownCtx context.Context) error {
			ctrl.Stop()
			return dmn.Stop()
		},
	)
}

// serveTUI runs the dashboard in the foreground while the socket keeps
// serving in the background. The dashboard exits on q, or when a shutdown
// request cancels ctx and closes the event stream.
func serveTUI(ctx context.Context, cancel context.CancelFunc, dmn *daemon.Daemon, ctrl *control.Controller, router *events.Router, logger *slog.Logger) error {
	tuiEvents := router.SubscribeBuffered(tuiEventBuffer)
	defer router.Unsubscribe(tuiEvents)

	tuiApp := tui.New(tuiEvents,
		tui.WithOnStop(func() { ctrl.Stop() }),
		tui.WithOnResume(func() {
			if _, err := ctrl.Resume(context.Background(), nil); err != nil {
				logger.Warn("resume from dashboard failed", "error", err)
			}
		}),
		tui.WithStatus(func() (control.Status, error) {
			return ctrl.Status(), nil
		}),
	)

	daemonDone := make(chan error, 1)
	go func() {
		daemonDone <- dmn.Start(ctx)
	}()

	go func() {
		<-ctx.Done()
		router.Close()
	}()

	tuiErr := tuiApp.Run()

	ctrl.Stop()
	cancel()
	if err := <-daemonDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon server error", "error", err)
	}
	return tuiErr
}
