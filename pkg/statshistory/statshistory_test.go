package statshistory_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/unitcache/pkg/statshistory"
)

func openStore(t *testing.T) *statshistory.Store {
	t.Helper()
	s, err := statshistory.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecentReturnsEmptyBeforeAnyRecord(t *testing.T) {
	s := openStore(t)

	samples, err := s.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestStore_RecordAppendsInOrder(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Record(0.5))
	require.NoError(t, s.Record(0.75))
	require.NoError(t, s.Record(1.0))

	samples, err := s.Recent(10)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.75, 1.0}, samples)
}

func TestStore_RecentTruncatesToMostRecentN(t *testing.T) {
	s := openStore(t)

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		require.NoError(t, s.Record(v))
	}

	samples, err := s.Recent(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.5}, samples)
}
