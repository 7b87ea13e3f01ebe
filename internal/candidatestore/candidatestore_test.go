package candidatestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndUsage(t *testing.T) {
	store := openTestStore(t)

	assert.Equal(t, uint64(0), store.Usage("こんにちは"))

	require.NoError(t, store.Record("こんにちは", time.Unix(1000, 0)))
	assert.Equal(t, uint64(1), store.Usage("こんにちは"))

	require.NoError(t, store.Record("こんにちは", time.Unix(2000, 0)))
	assert.Equal(t, uint64(2), store.Usage("こんにちは"))
}

func TestRecordEmptyWordIsNoop(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Record("", time.Now()))
	assert.Equal(t, uint64(0), store.Usage(""))
}

func TestRankLeavesOrderUntouchedWithoutUsageData(t *testing.T) {
	store := openTestStore(t)
	candidates := []string{"one", "two", "three"}
	assert.Equal(t, candidates, store.Rank(candidates))
}

func TestRankOrdersByUsageDescendingStable(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Record("two", time.Now()))
	require.NoError(t, store.Record("two", time.Now()))
	require.NoError(t, store.Record("three", time.Now()))

	ranked := store.Rank([]string{"one", "two", "three"})
	assert.Equal(t, []string{"two", "three", "one"}, ranked)
}

func TestRankOnNilStorePassesThrough(t *testing.T) {
	var store *Store
	candidates := []string{"a", "b"}
	assert.Equal(t, candidates, store.Rank(candidates))
}
