// Package lock keeps a single deviceui host per state database.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is matched by a *LockedError.
var ErrLocked = errors.New("lock held by another process")

// LockedError reports that another process holds the lock.
type LockedError struct {
	Path string
	// PID of the holder, 0 when unknown.
	PID int
}

func (e *LockedError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s is locked by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s is locked", e.Path)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// PathFor returns the lock file guarding the state database at dbPath.
func PathFor(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "deviceui.lock")
}

func holderPID(lockPath string) int {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
