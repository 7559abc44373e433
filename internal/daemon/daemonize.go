package daemon

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// daemonEnvVar marks the re-executed child process.
	daemonEnvVar = "SCROLLPILOT_DAEMONIZED"

	// socketWaitTimeout covers browser launch and the first navigation.
	socketWaitTimeout = 60 * time.Second

	// socketCheckInterval is how often to check for socket availability.
	socketCheckInterval = 100 * time.Millisecond
)

// Daemonize re-executes the binary with args as a detached background
// process. In the parent it waits for the child's socket and returns
// shouldExit=true; in the child it returns shouldExit=false.
func Daemonize(socketPath string, args []string) (shouldExit bool, pid int, err error) {
	if IsDaemonized() {
		return false, os.Getpid(), nil
	}

	executable, err := os.Executable()
	if err != nil {
		return false, 0, fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, 0, fmt.Errorf("start daemon: %w", err)
	}
	childPID := cmd.Process.Pid
	_ = cmd.Process.Release()

	if err := WaitForSocket(socketPath, socketWaitTimeout); err != nil {
		return true, childPID, fmt.Errorf("daemon (pid %d) started but %w", childPID, err)
	}
	return true, childPID, nil
}

// IsDaemonized reports whether this process is the daemonized child.
func IsDaemonized() bool {
	return os.Getenv(daemonEnvVar) == "1"
}

// WaitForSocket polls until the socket accepts connections.
func WaitForSocket(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", socketPath, socketCheckInterval)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(socketCheckInterval)
	}
	return fmt.Errorf("socket not available after %v", timeout)
}
