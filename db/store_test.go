package db

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Block  uint64 `json:"block"`
	TxHash string `json:"txHash"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestCollection_SetGetDel(t *testing.T) {
	store := openTestStore(t)
	c := NewCollection[string](store, CurrentMetricsNamespace)

	_, found, err := c.Get("0xaa")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set("0xaa", "ACTIVE"))
	value, found, err := c.Get("0xaa")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ACTIVE", value)

	require.NoError(t, c.Del("0xaa"))
	_, found, err = c.Get("0xaa")
	require.NoError(t, err)
	assert.False(t, found)

	// deleting a missing key is fine
	require.NoError(t, c.Del("0xaa"))
}

func TestCollection_KeysAreSanitized(t *testing.T) {
	store := openTestStore(t)
	c := NewCollection[int](store, CurrentMetricsNamespace)

	require.NoError(t, c.Set("a.b:c", 1))
	value, found, err := c.Get("abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, value)
}

func TestCollection_EmptyKey(t *testing.T) {
	store := openTestStore(t)
	c := NewCollection[int](store, CurrentMetricsNamespace)

	for _, key := range []string{"", ".", "..:"} {
		_, _, err := c.Get(key)
		assert.ErrorIs(t, err, ErrEmptyKey, "key %q", key)
		assert.ErrorIs(t, c.Set(key, 1), ErrEmptyKey, "key %q", key)
		assert.ErrorIs(t, c.Del(key), ErrEmptyKey, "key %q", key)
	}
	err := MergeAll(NewCollection[map[string]int](store, DepositEventsNamespace), map[string]map[string]int{
		"": {"a": 1},
	})
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestCollection_NamespacesAreIsolated(t *testing.T) {
	store := openTestStore(t)
	metrics := NewCollection[string](store, CurrentMetricsNamespace)
	other := NewCollection[string](store, "metrics")

	require.NoError(t, metrics.Set("k1", "a"))
	require.NoError(t, metrics.Set("k2", "b"))
	require.NoError(t, other.Set("k1", "z"))

	all, err := metrics.GetAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, all)

	keys, err := other.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)
}

func TestMergeAll(t *testing.T) {
	store := openTestStore(t)
	c := NewCollection[map[string]testEvent](store, DepositEventsNamespace)

	require.NoError(t, MergeAll(c, map[string]map[string]testEvent{
		"0xpub1": {"0x01/0": {Block: 10, TxHash: "0x01"}},
	}))
	require.NoError(t, MergeAll(c, map[string]map[string]testEvent{
		"0xpub1": {
			"0x01/0": {Block: 11, TxHash: "0x01"},
			"0x02/0": {Block: 12, TxHash: "0x02"},
		},
		"0xpub2": {"0x03/1": {Block: 13, TxHash: "0x03"}},
	}))

	pub1, found, err := c.Get("0xpub1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]testEvent{
		"0x01/0": {Block: 11, TxHash: "0x01"},
		"0x02/0": {Block: 12, TxHash: "0x02"},
	}, pub1)

	pub2, found, err := c.Get("0xpub2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, pub2, 1)
}

func TestMergeAll_Idempotent(t *testing.T) {
	store := openTestStore(t)
	c := NewCollection[map[string]testEvent](store, DepositEventsNamespace)
	partial := map[string]map[string]testEvent{
		"0xpub1": {"0x01/0": {Block: 10, TxHash: "0x01"}},
	}

	require.NoError(t, MergeAll(c, partial))
	once, err := c.GetAll()
	require.NoError(t, err)

	require.NoError(t, MergeAll(c, partial))
	twice, err := c.GetAll()
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMergeAll_KeysCollapsingToTheSameEntry(t *testing.T) {
	store := openTestStore(t)
	c := NewCollection[map[string]int](store, DepositEventsNamespace)

	require.NoError(t, MergeAll(c, map[string]map[string]int{
		"ab":  {"x": 1},
		"a.b": {"y": 2},
	}))
	value, found, err := c.Get("ab")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]int{"x": 1, "y": 2}, value)
}

func TestMergeAllAndSet(t *testing.T) {
	store := openTestStore(t)
	events := NewCollection[map[string]int](store, DepositEventsNamespace)
	cursor := NewCollection[uint64](store, DepositCursorNamespace)

	require.NoError(t, MergeAllAndSet(events, map[string]map[string]int{"k": {"a": 1}}, cursor, "backfill", 100))
	require.NoError(t, MergeAllAndSet(events, nil, cursor, "backfill", 200))

	value, found, err := events.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]int{"a": 1}, value)

	next, found, err := cursor.Get("backfill")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(200), next)
}

func TestMergeAllAndSet_NothingWrittenOnError(t *testing.T) {
	store := openTestStore(t)
	events := NewCollection[map[string]int](store, DepositEventsNamespace)
	cursor := NewCollection[uint64](store, DepositCursorNamespace)

	err := MergeAllAndSet(events, map[string]map[string]int{"k": {"a": 1}, ".": {"b": 2}}, cursor, "backfill", 100)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, found, err := cursor.Get("backfill")
	require.NoError(t, err)
	assert.False(t, found)
	keys, err := events.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	otherStore := openTestStore(t)
	err = MergeAllAndSet(events, nil, NewCollection[uint64](otherStore, DepositCursorNamespace), "backfill", 1)
	assert.Error(t, err)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	store, err := Open(path, slog.Default())
	require.NoError(t, err)
	c := NewCollection[map[string]int](store, DepositEventsNamespace)
	require.NoError(t, MergeAll(c, map[string]map[string]int{"k": {"a": 1}}))
	require.NoError(t, store.Close())

	store, err = Open(path, slog.Default())
	require.NoError(t, err)
	defer store.Close()
	value, found, err := NewCollection[map[string]int](store, DepositEventsNamespace).Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]int{"a": 1}, value)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("ab;"), prefixUpperBound([]byte("ab:")))
	assert.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
