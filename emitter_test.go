package folka_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/folkastream/folka"
	"github.com/folkastream/folka/codec"
	"github.com/folkastream/folka/tester"
)

func TestEmitter_Emit(t *testing.T) {
	tt := tester.New(t)

	emitter, err := folka.NewEmitter(nil, "words", new(codec.String), folka.WithEmitterTester(tt))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, emitter.Finish())
	}()

	tracker := tt.NewQueueTracker("words")

	promise, err := emitter.Emit("key", "hello")
	require.NoError(t, err)
	require.NotNil(t, promise)

	key, value, ok := tracker.Next()
	require.True(t, ok)
	require.Equal(t, "key", key)
	require.Equal(t, "hello", value)
}

func TestEmitter_EmitSync(t *testing.T) {
	tt := tester.New(t)

	emitter, err := folka.NewEmitter(nil, "words", new(codec.String), folka.WithEmitterTester(tt))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, emitter.Finish())
	}()

	tracker := tt.NewQueueTracker("words")

	require.NoError(t, emitter.EmitSync("a", "one"))
	require.NoError(t, emitter.EmitSync("b", "two"))

	key, value, ok := tracker.Next()
	require.True(t, ok)
	require.Equal(t, "a", key)
	require.Equal(t, "one", value)

	key, value, ok = tracker.Next()
	require.True(t, ok)
	require.Equal(t, "b", key)
	require.Equal(t, "two", value)

	_, _, ok = tracker.Next()
	require.False(t, ok)
}

func TestEmitter_EncodeError(t *testing.T) {
	tt := tester.New(t)

	emitter, err := folka.NewEmitter(nil, "words", new(codec.Int64), folka.WithEmitterTester(tt))
	require.NoError(t, err)
	defer emitter.Finish()

	// the codec expects an int64
	_, err = emitter.Emit("key", "not-an-int")
	require.Error(t, err)
}
