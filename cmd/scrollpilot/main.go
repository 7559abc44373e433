package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/npratt/scrollpilot/internal/config"
	"github.com/npratt/scrollpilot/internal/daemon"
)

var version = "dev"

// loadConfig loads the layered config, applies the global path flags and
// resolves every path against the project root.
func loadConfig() (*config.Config, string, error) {
	cfg, err := config.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}

	// Apply path overrides from flags or SCROLLPILOT_* env
	if v := viper.GetString(FlagLogFile); v != "" {
		cfg.Paths.Log = v
	}
	if v := viper.GetString(FlagStateFile); v != "" {
		cfg.Paths.State = v
	}
	if v := viper.GetString(FlagEventsFile); v != "" {
		cfg.Paths.Events = v
	}
	if v := viper.GetString(FlagSocketPath); v != "" {
		cfg.Paths.Socket = v
	}

	projectRoot := daemon.FindProjectRoot("")
	cfg.Paths, err = daemon.ResolvePaths(cfg.Paths, projectRoot)
	if err != nil {
		return nil, "", fmt.Errorf("resolve paths: %w", err)
	}
	return cfg, projectRoot, nil
}

// getDaemonClient creates a daemon client. An explicit socket path wins,
// then daemon.json, then the configured socket.
func getDaemonClient() (*daemon.Client, error) {
	if viper.GetString(FlagSocketPath) == "" {
		if info, err := daemon.FindInfo(""); err == nil {
			return daemon.NewClient(info.SocketPath), nil
		}
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewClient(cfg.Paths.Socket), nil
}

// eventsPath finds the event log the same way getDaemonClient finds the
// socket.
func eventsPath() (string, error) {
	if viper.GetString(FlagEventsFile) == "" {
		if info, err := daemon.FindInfo(""); err == nil && info.EventsPath != "" {
			return info.EventsPath, nil
		}
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Paths.Events, nil
}

// bindFlags binds every flag of fs to viper under its own name.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
}

func main() {
	logLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	viper.SetEnvPrefix("SCROLLPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "scrollpilot",
		Short: "Auto-advance a media feed and reels in a browser page",
		Long: `scrollpilot drives a browser page through a scrolling feed of media
items or a reels queue, dwelling on each item for its media duration.

A daemon owns the browser session and one engine at a time; the other
commands control it over a Unix socket.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if viper.GetBool(FlagVerbose) {
				logLevel.Set(slog.LevelDebug)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().Bool(FlagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(FlagConfig, "", "Config file path (default: .scrollpilot/config.yaml)")
	rootCmd.PersistentFlags().String(FlagLogFile, "", "Daemon log file path")
	rootCmd.PersistentFlags().String(FlagStateFile, "", "State file path")
	rootCmd.PersistentFlags().String(FlagEventsFile, "", "Event log (JSONL) path")
	rootCmd.PersistentFlags().String(FlagSocketPath, "", "Unix socket path for daemon control")
	bindFlags(rootCmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scrollpilot %s\n", version)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg)
		},
	}
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newServeCmd(logger, logLevel))
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newWatchCmd(logLevel))
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// writeConfig renders cfg as YAML, preceded by the files it was merged from.
func writeConfig(w io.Writer, cfg *config.Config) error {
	for _, src := range cfg.Sources {
		if _, err := fmt.Fprintf(w, "# from %s\n", src); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = w.Write(data)
	return err
}
