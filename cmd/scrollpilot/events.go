package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/events"
	"github.com/npratt/scrollpilot/internal/tui"
)

// watchBacklog is how much history the dashboard shows on attach.
const watchBacklog = 200

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "View recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := eventsPath()
			if err != nil {
				return err
			}

			count, _ := cmd.Flags().GetInt(FlagCount)
			follow, _ := cmd.Flags().GetBool(FlagFollow)

			if follow {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return followEvents(ctx, cmd.OutOrStdout(), path, count)
			}
			return printLastEvents(cmd.OutOrStdout(), path, count)
		},
	}

	cmd.Flags().BoolP(FlagFollow, "f", false, "Follow event stream (like tail -f)")
	cmd.Flags().IntP(FlagCount, "n", 20, "Number of recent events to show")
	return cmd
}

// printLastEvents prints the last n events of the log at path.
func printLastEvents(w io.Writer, path string, n int) error {
	evs, err := events.Last(path, n)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(w, "No events yet (log file does not exist)")
			return nil
		}
		return err
	}
	if len(evs) == 0 {
		fmt.Fprintln(w, "No events yet")
		return nil
	}
	for _, ev := range evs {
		fmt.Fprintln(w, events.FormatWithTimestamp(ev))
	}
	return nil
}

// followEvents prints the last n events and then every new one until ctx
// is done.
func followEvents(ctx context.Context, w io.Writer, path string, n int) error {
	ch, err := events.Follow(ctx, path, n, slog.Default())
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Following events (Ctrl+C to stop)...")
	for ev := range ch {
		fmt.Fprintln(w, events.FormatWithTimestamp(ev))
	}
	return nil
}

func newWatchCmd(logLevel *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show the dashboard for a running daemon",
		Long: `Show the live dashboard for a running daemon.

Events are read from the daemon's event log and run status is polled over
the socket. Keys: s stop, r resume, q quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}
			path, err := eventsPath()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Anything written to stderr would corrupt the display
			logger := SetupLoggerWithWriter(io.Discard, logLevel)

			eventChan, err := events.Follow(ctx, path, watchBacklog, logger)
			if err != nil {
				return err
			}

			tuiApp := tui.New(eventChan,
				tui.WithOnStop(func() { _, _ = client.Stop(false) }),
				tui.WithOnResume(func() { _, _ = client.Resume(nil) }),
				tui.WithOnQuit(cancel),
				tui.WithStatus(func() (control.Status, error) {
					st, err := client.Status()
					if err != nil {
						return control.Status{}, err
					}
					return st.Run, nil
				}),
			)
			return tuiApp.Run()
		},
	}
}
