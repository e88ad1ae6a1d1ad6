package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiIterator(t *testing.T) {
	numStorages := 3
	numValues := 3

	storages := make([]Storage, numStorages)
	expected := map[string]string{}

	for i := 0; i < numStorages; i++ {
		storages[i] = NewMemory()
		for j := 0; j < numValues; j++ {
			key := fmt.Sprintf("key-%d-%d", i, j)
			val := fmt.Sprintf("value-%d-%d", i, j)
			expected[key] = val
			require.NoError(t, storages[i].Set(key, []byte(val)))
		}
	}

	iters := make([]Iterator, len(storages))
	for i := range storages {
		iter, err := storages[i].Iterator()
		require.NoError(t, err)
		iters[i] = iter
	}

	iter := NewMultiIterator(iters)
	defer iter.Release()

	count := 0
	for iter.Next() {
		val, err := iter.Value()
		require.NoError(t, err)
		require.Equal(t, expected[string(iter.Key())], string(val))
		count++
	}
	require.NoError(t, iter.Err())
	require.Equal(t, len(expected), count)
}

func TestMultiIteratorEmpty(t *testing.T) {
	iter := NewMultiIterator(nil)
	require.False(t, iter.Next())
	require.Nil(t, iter.Key())
	require.NoError(t, iter.Err())
}
