package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned by Acquire when another process holds the PID file.
var ErrLocked = errors.New("daemon already running (pid file locked)")

// PIDFile is a flock-guarded PID file. Holding the lock is what makes a
// daemon the only one for its project; the PID inside is informational.
type PIDFile struct {
	path string
	file *os.File
}

// NewPIDFile creates a PIDFile instance for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire locks the PID file and writes the current process ID into it.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	file, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open pid file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("lock pid file: %w", err)
	}

	if err := writePID(file); err != nil {
		release(file)
		return err
	}
	p.file = file
	return nil
}

func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync pid file: %w", err)
	}
	return nil
}

// Read returns the PID in the file, or 0 if the file is missing or invalid.
func (p *PIDFile) Read() int {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Release drops the lock and removes the file.
func (p *PIDFile) Release() {
	if p.file != nil {
		release(p.file)
		p.file = nil
	}
	_ = os.Remove(p.path)
}

func release(file *os.File) {
	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	_ = file.Close()
}

// IsProcessRunning reports whether pid names a live process.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes existence.
	return process.Signal(syscall.Signal(0)) == nil
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	return IsProcessRunning(p.Read())
}

// CleanupStale removes the PID file and socket left by a crashed daemon.
func (p *PIDFile) CleanupStale(socketPath string) {
	if p.IsRunning() {
		return
	}
	_ = os.Remove(p.path)
	if socketPath != "" {
		_ = os.Remove(socketPath)
	}
}
