// Package shutdown runs a blocking component until it finishes or the
// process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ErrTimeout is returned when the runner does not return within the
// shutdown timeout.
var ErrTimeout = errors.New("shutdown timeout exceeded")

// RunWithGracefulShutdown runs runner until it returns, ctx is done, or the
// process receives SIGINT or SIGTERM. In the latter two cases the runner's
// context is canceled and shutdown is called with up to timeout to release
// resources. shutdown runs exactly once on every path, after the runner
// has been told to stop.
func RunWithGracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	timeout time.Duration,
	runner func(ctx context.Context) error,
	shutdown func(ctx context.Context) error,
) error {
	if logger == nil {
		logger = slog.Default()
	}

	// Register before the runner starts so no early signal is lost
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- runner(runCtx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received signal, initiating shutdown", "signal", sig)
	case <-ctx.Done():
		logger.Info("context done, initiating shutdown")
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
		runDone = nil
	}
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if shutdown != nil {
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}

	if runDone != nil {
		select {
		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = err
			}
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timeout exceeded")
			return ErrTimeout
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
