package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func newTestStorage(t *testing.T) Storage {
	t.Helper()

	db, err := leveldb.OpenFile(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStorageGetSet(t *testing.T) {
	st := newTestStorage(t)

	has, err := st.Has("example-1")
	require.NoError(t, err)
	require.False(t, has)

	value, err := st.Get("example-1")
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, st.Set("example-1", []byte("content-1")))

	has, err = st.Has("example-1")
	require.NoError(t, err)
	require.True(t, has)

	value, err = st.Get("example-1")
	require.NoError(t, err)
	require.Equal(t, "content-1", string(value))

	require.NoError(t, st.Delete("example-1"))
	has, err = st.Has("example-1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestStorageOffsetSurvivesRecovery(t *testing.T) {
	st := newTestStorage(t)

	offset, err := st.GetOffset(0)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)

	// writes before MarkRecovered go through the transaction
	require.NoError(t, st.SetOffset(42))
	require.NoError(t, st.Set("key", []byte("value")))

	require.NoError(t, st.MarkRecovered())

	offset, err = st.GetOffset(0)
	require.NoError(t, err)
	require.Equal(t, int64(42), offset)

	value, err := st.Get("key")
	require.NoError(t, err)
	require.Equal(t, "value", string(value))

	// marking twice is a no-op
	require.NoError(t, st.MarkRecovered())
}

func TestStorageIteratorSkipsOffset(t *testing.T) {
	st := newTestStorage(t)

	kv := map[string]string{
		"key-1": "val-1",
		"key-2": "val-2",
		"key-3": "val-3",
	}
	for k, v := range kv {
		require.NoError(t, st.Set(k, []byte(v)))
	}
	require.NoError(t, st.SetOffset(100))

	iter, err := st.Iterator()
	require.NoError(t, err)
	defer iter.Release()

	found := map[string]string{}
	for iter.Next() {
		val, err := iter.Value()
		require.NoError(t, err)
		found[string(iter.Key())] = string(val)
	}
	require.NoError(t, iter.Err())
	require.Equal(t, kv, found)
}

func TestStorageIteratorWithRange(t *testing.T) {
	st := newTestStorage(t)

	for _, k := range []string{"a1", "a2", "b1", "b2", "c1"} {
		require.NoError(t, st.Set(k, []byte(k)))
	}
	require.NoError(t, st.SetOffset(1))

	iter, err := st.IteratorWithRange([]byte("b"), []byte("c"))
	require.NoError(t, err)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	require.NoError(t, iter.Err())
	require.Equal(t, []string{"b1", "b2"}, keys)
}
