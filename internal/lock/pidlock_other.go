//go:build !unix

package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// PIDLock records the PID of the running deviceui. Without flock(2) it does
// not exclude a second instance.
type PIDLock struct {
	path string
}

// AcquirePIDLock writes the current PID to lockPath.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if err := os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pid: %w", err)
	}
	return &PIDLock{path: lockPath}, nil
}

func (l *PIDLock) Path() string { return l.path }

// Release is a no-op.
func (l *PIDLock) Release() error { return nil }
