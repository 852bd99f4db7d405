package runlock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, FileName), l.Path())

	_, err = Acquire(dir)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Release())
	_, err = os.Stat(l.Path())
	require.True(t, os.IsNotExist(err))

	// Free again after release
	l2, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquire_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "work")

	l, err := Acquire(dir)
	require.NoError(t, err)
	defer func() {
		_ = l.Release()
	}()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
