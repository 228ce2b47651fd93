package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the daemon marker inside the global devpulse directory.
const PIDFileName = "daemon.pid"

// PIDFile marks the running daemon so a second one refuses to start.
type PIDFile struct {
	path string
}

// NewPIDFile returns a marker stored at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the marker location.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire writes the current process ID. It fails while another live
// process holds the marker and silently replaces a stale one.
func (p *PIDFile) Acquire() error {
	running, pid, err := p.IsRunning()
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("supervisor: daemon is already running (pid %d)", pid)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("supervisor: write pid file: %w", err)
	}
	return nil
}

// Release removes the marker.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("supervisor: remove pid file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive. A missing or
// garbled marker counts as not running.
func (p *PIDFile) IsRunning() (bool, int, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("supervisor: read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0, nil //nolint:nilerr // garbled marker is stale
	}
	return processExists(pid), pid, nil
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything. EPERM means
	// the process exists but belongs to someone else.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
