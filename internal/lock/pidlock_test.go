package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), FileName)
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, lockPath, l.Path())
}

func TestAcquireTwiceIsLocked(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), FileName)
	first, err := Acquire(lockPath)
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open
	// in the same process still conflicts.
	_, err = Acquire(lockPath)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	second, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, second.Release())
	require.NoError(t, second.Release(), "release is idempotent")
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("data", FileName), PathFor(filepath.Join("data", "state.db")))
	assert.Equal(t, FileName, PathFor(":memory:"))
	assert.Equal(t, FileName, PathFor(""))
}
