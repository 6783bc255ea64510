//go:build !windows

package lock_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/unitcache/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.lock")

	f, err := lock.Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Acquire())

	pid, err := lock.HolderPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, f.Release())
}

func TestTryAcquire_FailsWhileHeldBySameProcessOnAnotherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.lock")

	holder, err := lock.Open(path)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire())
	defer holder.Release()

	contender, err := lock.Open(path)
	require.NoError(t, err)
	defer contender.Release()

	ok, err := contender.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHolderPID_ZeroForUnwrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.lock")
	f, err := lock.Open(path)
	require.NoError(t, err)
	defer f.Release()

	pid, err := lock.HolderPID(path)
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestIsStale_FalseForLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.lock")
	f, err := lock.Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Acquire())
	defer f.Release()

	stale, err := lock.IsStale(path)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestIsStale_TrueForUnknownPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.lock")
	// A PID astronomically unlikely to be alive on any test host.
	require.NoError(t, os.WriteFile(path, encodePID(1<<30), 0o644))

	stale, err := lock.IsStale(path)
	require.NoError(t, err)
	assert.True(t, stale)
}

func encodePID(pid int) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(pid >> (8 * i))
	}
	return buf
}
