package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// HSCAN returns keys and values interleaved, with the offset key at an
// arbitrary position. The iterator must hide it wherever it appears.
func TestRedisIterator(t *testing.T) {
	for _, keys := range [][]string{
		{offsetKey, "123", "key1", "val1", "key2", "val2"},
		{"key1", "val1", offsetKey, "123", "key2", "val2"},
		{"key1", "val1", "key2", "val2", offsetKey, "123"},
	} {
		it := &redisIterator{keys: keys}

		require.True(t, it.Next())
		require.Equal(t, "key1", string(it.Key()))
		val, err := it.Value()
		require.NoError(t, err)
		require.Equal(t, "val1", string(val))

		require.True(t, it.Next())
		require.Equal(t, "key2", string(it.Key()))
		val, err = it.Value()
		require.NoError(t, err)
		require.Equal(t, "val2", string(val))

		require.False(t, it.Next())
		require.Nil(t, it.Key())
	}
}

func TestRedisIteratorRelease(t *testing.T) {
	it := &redisIterator{keys: []string{"key1", "val1", "key2", "val2"}}
	require.True(t, it.Next())
	it.Release()
	require.False(t, it.Next())
	require.Nil(t, it.Key())
}
