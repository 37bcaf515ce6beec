//go:build unix

package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "deviceui.lock")
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
}

func TestAcquirePIDLockTwiceFails(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "deviceui.lock")
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)

	_, err = AcquirePIDLock(lockPath)
	require.ErrorIs(t, err, ErrLocked)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, os.Getpid(), locked.PID)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	again, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "deviceui.lock"), PathFor(filepath.Join("data", "state.db")))
}
