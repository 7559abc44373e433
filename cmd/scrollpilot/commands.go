package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/control"
	"github.com/npratt/scrollpilot/internal/daemon"
)

func addFeedFlags(fs *pflag.FlagSet) {
	fs.Duration(FlagImageTime, 0, "Dwell time for image items (e.g. 3s)")
	fs.Float64(FlagVideoMultiplier, 0, "Multiplier applied to video durations")
	fs.String(FlagAlignPolicy, "", "Failed alignment policy (skip/resync)")
}

func addReelFlags(fs *pflag.FlagSet) {
	fs.Int(FlagPlayCount, 0, "Plays of each reel before advancing")
	fs.String(FlagDirection, "", "Reel advance direction (down/up)")
	fs.Bool(FlagSkipWithComments, false, "Hold the reel while the comments overlay is open")
}

// feedOverrides applies the feed flags the user set to base. It returns nil
// when none were set, leaving the choice to the daemon.
func feedOverrides(fs *pflag.FlagSet, base config.FeedConfig) (*config.FeedConfig, error) {
	if !fs.Changed(FlagImageTime) && !fs.Changed(FlagVideoMultiplier) && !fs.Changed(FlagAlignPolicy) {
		return nil, nil
	}

	out := base
	if fs.Changed(FlagImageTime) {
		out.ImageTime, _ = fs.GetDuration(FlagImageTime)
	}
	if fs.Changed(FlagVideoMultiplier) {
		out.VideoMultiplier, _ = fs.GetFloat64(FlagVideoMultiplier)
	}
	if fs.Changed(FlagAlignPolicy) {
		out.AlignPolicy, _ = fs.GetString(FlagAlignPolicy)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// reelOverrides is feedOverrides for the reel flags.
func reelOverrides(fs *pflag.FlagSet, base config.ReelConfig) (*config.ReelConfig, error) {
	if !fs.Changed(FlagPlayCount) && !fs.Changed(FlagDirection) && !fs.Changed(FlagSkipWithComments) {
		return nil, nil
	}

	out := base
	if fs.Changed(FlagPlayCount) {
		out.PlayCount, _ = fs.GetInt(FlagPlayCount)
	}
	if fs.Changed(FlagDirection) {
		out.Direction, _ = fs.GetString(FlagDirection)
	}
	if fs.Changed(FlagSkipWithComments) {
		out.SkipWithComments, _ = fs.GetBool(FlagSkipWithComments)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// daemonArgs builds the command line for a detached "serve", forwarding
// the global flags the user set.
func daemonArgs(cmd *cobra.Command) []string {
	args := []string{"serve", "--" + FlagDaemon}
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			args = append(args, "--"+f.Name+"="+f.Value.String())
		}
	})
	return args
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "start [feed|reel]",
		Short:     "Start a feed or reel run",
		Long:      "Start a run in the given mode (default feed), launching the daemon first if none is running.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(control.ModeFeed), string(control.ModeReel)},
		RunE: func(cmd *cobra.Command, args []string) error {
			var modeArg string
			if len(args) > 0 {
				modeArg = args[0]
			}
			mode, err := control.ParseMode(modeArg)
			if err != nil {
				return err
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			var (
				feedCfg *config.FeedConfig
				reelCfg *config.ReelConfig
			)
			if mode == control.ModeFeed {
				feedCfg, err = feedOverrides(cmd.Flags(), cfg.Feed)
			} else {
				reelCfg, err = reelOverrides(cmd.Flags(), cfg.Reel)
			}
			if err != nil {
				return err
			}

			client := daemon.NewClient(cfg.Paths.Socket)
			if !client.IsRunning() {
				fmt.Println("Starting daemon...")
				_, pid, err := daemon.Daemonize(cfg.Paths.Socket, daemonArgs(cmd))
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				fmt.Printf("Daemon started (pid %d)\n", pid)
			}

			st, err := client.Start(mode, feedCfg, reelCfg)
			if err != nil {
				return err
			}
			fmt.Printf("%s run started (run %s)\n", st.Mode, st.RunID)
			return nil
		},
	}
	addFeedFlags(cmd.Flags())
	addReelFlags(cmd.Flags())
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the last feed run",
		Long: `Resume the last feed run from the item after the last one shown.

Feed settings flags replace the last run's settings; without them the
last settings are reused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			var feedCfg *config.FeedConfig
			if cmd.Flags().NFlag() > 0 {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				if feedCfg, err = feedOverrides(cmd.Flags(), cfg.Feed); err != nil {
					return err
				}
			}

			st, err := client.Resume(feedCfg)
			if err != nil {
				return err
			}
			fmt.Printf("feed run resumed at item %d (run %s)\n", st.Index+1, st.RunID)
			return nil
		},
	}
	addFeedFlags(cmd.Flags())
	return cmd
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			shutdown, _ := cmd.Flags().GetBool(FlagShutdown)
			if _, err := client.Stop(shutdown); err != nil {
				return err
			}

			if shutdown {
				fmt.Println("Run stopped - daemon shutting down")
			} else {
				fmt.Println("Run stopped")
			}
			return nil
		},
	}
	cmd.Flags().Bool(FlagShutdown, false, "Also shut down the daemon and close the browser")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getDaemonClient()
			if err != nil {
				return err
			}

			status, err := client.Status()
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool(FlagJSON); asJSON {
				data, err := json.MarshalIndent(status, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal status: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().Bool(FlagJSON, false, "Output status as JSON")
	return cmd
}

// printStatus writes the human-readable status report.
func printStatus(w io.Writer, status *daemon.StatusResponse) {
	run := status.Run
	fmt.Fprintf(w, "Status: %s\n", status.Status)
	if run.Running {
		fmt.Fprintf(w, "Mode: %s\n", run.Mode)
		fmt.Fprintf(w, "Run: %s\n", run.RunID)
		if run.State != "" {
			fmt.Fprintf(w, "State: %s\n", run.State)
		}
		switch run.Mode {
		case control.ModeFeed:
			fmt.Fprintf(w, "Item: %d of %d\n", run.Index+1, run.Items)
		case control.ModeReel:
			if run.Video != "" {
				fmt.Fprintf(w, "Reel plays: %d\n", run.Plays)
			}
			if run.GateOpen {
				fmt.Fprintf(w, "Comments overlay: open\n")
			}
		}
	}
	if run.URL != "" {
		fmt.Fprintf(w, "Page: %s\n", run.URL)
	}
	fmt.Fprintf(w, "Uptime: %s\n", status.Uptime)
	fmt.Fprintf(w, "Started: %s\n", status.StartTime)

	stats := status.Stats
	fmt.Fprintf(w, "Stats:\n")
	if !run.Running && stats.LastMode != "" {
		fmt.Fprintf(w, "  Last run: %s (%s)\n", stats.LastMode, stats.LastStatus)
	}
	fmt.Fprintf(w, "  Viewed: %d\n", stats.Viewed)
	fmt.Fprintf(w, "  Skipped: %d\n", stats.Skipped)
	fmt.Fprintf(w, "  Manual interruptions: %d\n", stats.Interruptions)
	fmt.Fprintf(w, "  Reel advances: %d\n", stats.ReelAdvances)
}
