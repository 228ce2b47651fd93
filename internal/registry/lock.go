package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// LockSuffix names the lock file held next to the registry during a
// read-modify-write.
const LockSuffix = ".lock"

// fileLock is an exclusive flock held across processes and handles.
type fileLock struct {
	file *os.File
}

func acquireLock(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("registry: open lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("registry: lock: %w", err)
	}
	return &fileLock{file: f}, nil
}

func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
