package folka_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/folkastream/folka"
	"github.com/folkastream/folka/codec"
	"github.com/folkastream/folka/tester"
)

// wordLenTopology groups words by their lowercased first letter and sums up
// the word lengths per group.
func wordLenTopology(output folka.Stream) *folka.Topology {
	return folka.Aggregate("wordlen",
		"words",
		new(codec.String),
		folka.FirstRuneExtractor(),
		func() interface{} { return int64(0) },
		func(agg interface{}, key string, value interface{}) interface{} {
			return agg.(int64) + int64(len(value.(string)))
		},
		new(codec.Int64),
		output,
	)
}

func runProcessor(t *testing.T, tt *tester.Tester, topology *folka.Topology) (stop func()) {
	t.Helper()

	proc, err := folka.NewProcessor(nil, topology, folka.WithTester(tt))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := proc.Run(ctx); err != nil {
			t.Errorf("processor run failed: %v", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func TestAggregate_WordLengths(t *testing.T) {
	tt := tester.New(t)
	stop := runProcessor(t, tt, wordLenTopology("wordlen-changes"))
	defer stop()

	for _, word := range []string{"stream", "all", "the", "things", "hi", "world", "kafka", "streams", "streaming"} {
		tt.Consume("words", word, word)
	}

	expected := map[string]int64{
		"a": 3,
		"t": 9,
		"h": 2,
		"w": 5,
		"k": 5,
		"s": 22,
	}
	for key, sum := range expected {
		require.EqualValues(t, sum, tt.TableValue("wordlen-table", key), "aggregate for group %q", key)
	}
}

func TestAggregate_ReplayFromFreshStore(t *testing.T) {
	words := []string{"stream", "all", "the", "things", "hi", "world", "kafka", "streams", "streaming"}
	groups := []string{"a", "t", "h", "w", "k", "s"}

	// feeding the same sequence into two independent instances must produce
	// identical tables
	run := func() map[string]interface{} {
		tt := tester.New(t)
		stop := runProcessor(t, tt, wordLenTopology("wordlen-changes"))
		defer stop()

		for _, word := range words {
			tt.Consume("words", word, word)
		}

		table := make(map[string]interface{})
		for _, group := range groups {
			table[group] = tt.TableValue("wordlen-table", group)
		}
		return table
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
	require.EqualValues(t, 22, first["s"])
}

func TestAggregate_EmitsChanges(t *testing.T) {
	tt := tester.New(t)
	stop := runProcessor(t, tt, wordLenTopology("wordlen-changes"))
	defer stop()

	changes := tt.NewQueueTracker("wordlen-changes")

	tt.Consume("words", "stream", "stream")
	tt.Consume("words", "streams", "streams")

	key, value, ok := changes.Next()
	require.True(t, ok)
	require.Equal(t, "s", key)
	require.EqualValues(t, 6, value)

	key, value, ok = changes.Next()
	require.True(t, ok)
	require.Equal(t, "s", key)
	require.EqualValues(t, 13, value)

	_, _, ok = changes.Next()
	require.False(t, ok)
}

func TestAggregate_WithoutOutput(t *testing.T) {
	tt := tester.New(t)
	stop := runProcessor(t, tt, wordLenTopology(""))
	defer stop()

	tt.Consume("words", "kafka", "kafka")

	require.EqualValues(t, 5, tt.TableValue("wordlen-table", "k"))
}

func TestAggregate_EmptyKeyBucket(t *testing.T) {
	tt := tester.New(t)
	stop := runProcessor(t, tt, wordLenTopology(""))
	defer stop()

	// words without a derivable group key land in the empty-key bucket
	tt.Consume("words", "empty", "")
	tt.Consume("words", "empty", "")

	require.Nil(t, tt.TableValue("wordlen-table", "e"))
	require.EqualValues(t, 0, tt.TableValue("wordlen-table", ""))
}

func TestAggregate_UpdatesExistingGroup(t *testing.T) {
	tt := tester.New(t)
	stop := runProcessor(t, tt, wordLenTopology(""))
	defer stop()

	tt.Consume("words", "hi", "hi")
	require.EqualValues(t, 2, tt.TableValue("wordlen-table", "h"))

	tt.Consume("words", "hello", "hello")
	require.EqualValues(t, 7, tt.TableValue("wordlen-table", "h"))
}

func TestFirstRuneExtractor(t *testing.T) {
	extract := folka.FirstRuneExtractor()

	for _, test := range []struct {
		value    interface{}
		expected string
	}{
		{"stream", "s"},
		{"Stream", "s"},
		{"Ärger", "ä"},
		{"1234", "1"},
		{"", ""},
		{int64(42), ""},
		{nil, ""},
	} {
		key, err := extract("original-key", test.value)
		require.NoError(t, err)
		require.Equal(t, test.expected, key, "value %v", test.value)
	}
}
