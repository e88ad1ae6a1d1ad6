package folka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/folkastream/folka"
	"github.com/folkastream/folka/codec"
	"github.com/folkastream/folka/tester"
)

func runView(t *testing.T, tt *tester.Tester, table folka.Table) (*folka.View, func()) {
	t.Helper()

	view, err := folka.NewView(nil, table, new(codec.String), folka.WithViewTester(tt))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := view.Run(ctx); err != nil {
			t.Errorf("view run failed: %v", err)
		}
	}()

	select {
	case <-view.WaitRunning():
	case <-time.After(10 * time.Second):
		t.Fatal("view did not become ready")
	}

	return view, func() {
		cancel()
		<-done
	}
}

func TestView_GetAndHas(t *testing.T) {
	tt := tester.New(t)
	view, stop := runView(t, tt, "sums-table")
	defer stop()

	tt.Consume("sums-table", "a", "hello")

	value, err := view.Get("a")
	require.NoError(t, err)
	require.Equal(t, "hello", value)

	has, err := view.Has("a")
	require.NoError(t, err)
	require.True(t, has)

	value, err = view.Get("unknown")
	require.NoError(t, err)
	require.Nil(t, value)

	has, err = view.Has("unknown")
	require.NoError(t, err)
	require.False(t, has)
}

func TestView_UpdatesOnNewMessages(t *testing.T) {
	tt := tester.New(t)
	view, stop := runView(t, tt, "sums-table")
	defer stop()

	tt.Consume("sums-table", "a", "first")
	tt.Consume("sums-table", "a", "second")

	value, err := view.Get("a")
	require.NoError(t, err)
	require.Equal(t, "second", value)
}

func TestView_Iterator(t *testing.T) {
	tt := tester.New(t)
	view, stop := runView(t, tt, "sums-table")
	defer stop()

	tt.Consume("sums-table", "a", "1")
	tt.Consume("sums-table", "b", "2")
	tt.Consume("sums-table", "c", "3")

	it, err := view.Iterator()
	require.NoError(t, err)
	defer it.Release()

	found := map[string]string{}
	for it.Next() {
		value, err := it.Value()
		require.NoError(t, err)
		found[it.Key()] = value.(string)
	}
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, found)
}

func TestView_IteratorWithRange(t *testing.T) {
	tt := tester.New(t)
	view, stop := runView(t, tt, "sums-table")
	defer stop()

	tt.Consume("sums-table", "a", "1")
	tt.Consume("sums-table", "b", "2")
	tt.Consume("sums-table", "c", "3")

	it, err := view.IteratorWithRange("a", "c")
	require.NoError(t, err)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestView_Evict(t *testing.T) {
	tt := tester.New(t)
	view, stop := runView(t, tt, "sums-table")
	defer stop()

	tt.Consume("sums-table", "a", "hello")

	value, err := view.Get("a")
	require.NoError(t, err)
	require.Equal(t, "hello", value)

	require.NoError(t, view.Evict("a"))

	value, err = view.Get("a")
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestView_Recovered(t *testing.T) {
	tt := tester.New(t)
	view, stop := runView(t, tt, "sums-table")
	defer stop()

	require.True(t, view.Recovered())
	require.Equal(t, folka.ViewStateRunning, view.CurrentState())
	require.Equal(t, "sums-table", view.Topic())
}
