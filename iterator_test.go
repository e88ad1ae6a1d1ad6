package folka

import (
	"testing"

	"github.com/folkastream/folka/codec"
	"github.com/folkastream/folka/storage"
	"github.com/stretchr/testify/require"
)

func TestIterator(t *testing.T) {
	st := storage.NewMemory()

	kv := map[string]string{
		"key-1": "val-1",
		"key-2": "val-2",
		"key-3": "val-3",
	}
	for k, v := range kv {
		require.NoError(t, st.Set(k, []byte(v)))
	}
	require.NoError(t, st.SetOffset(123))

	storageIter, err := st.Iterator()
	require.NoError(t, err)

	it := &iterator{
		iter:  storageIter,
		codec: new(codec.String),
	}
	defer it.Release()

	count := 0
	for it.Next() {
		count++
		key := it.Key()
		expected, ok := kv[key]
		require.True(t, ok, "unexpected key %s", key)

		val, err := it.Value()
		require.NoError(t, err)
		require.Equal(t, expected, val.(string))
	}
	require.NoError(t, it.Err())
	require.Equal(t, len(kv), count)
}

func TestIteratorSeek(t *testing.T) {
	st := storage.NewMemory()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, st.Set(k, []byte("v-"+k)))
	}

	storageIter, err := st.Iterator()
	require.NoError(t, err)

	it := &iterator{
		iter:  storageIter,
		codec: new(codec.String),
	}
	defer it.Release()

	require.True(t, it.Seek("b"))
	require.Equal(t, "b", it.Key())

	require.True(t, it.Next())
	require.Equal(t, "c", it.Key())

	require.False(t, it.Next())
}
