package main

// Flag names for Viper binding
const (
	// Global flags
	FlagVerbose    = "verbose"
	FlagConfig     = "config"
	FlagLogFile    = "log-file"
	FlagStateFile  = "state-file"
	FlagEventsFile = "events-file"
	FlagSocketPath = "socket-path"

	// Serve command flags
	FlagTUI      = "tui"
	FlagDaemon   = "daemon"
	FlagURL      = "url"
	FlagHeadless = "headless"

	// Run settings flags (start, resume)
	FlagImageTime        = "image-time"
	FlagVideoMultiplier  = "video-multiplier"
	FlagAlignPolicy      = "align-policy"
	FlagPlayCount        = "play-count"
	FlagDirection        = "direction"
	FlagSkipWithComments = "skip-with-comments"

	// Stop command flags
	FlagShutdown = "shutdown"

	// Events command flags
	FlagFollow = "follow"
	FlagCount  = "count"

	// Output format flags
	FlagJSON = "json"
)
