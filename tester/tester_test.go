package tester_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/folkastream/folka"
	"github.com/folkastream/folka/codec"
	"github.com/folkastream/folka/tester"
)

func counterTopology(group folka.Group, input folka.Stream, edges ...folka.Edge) *folka.Topology {
	edges = append([]folka.Edge{
		folka.Input(input, new(codec.String), func(ctx folka.Context, msg interface{}) {
			count := int64(0)
			if val := ctx.Value(); val != nil {
				count = val.(int64)
			}
			ctx.SetValue(count + 1)
		}),
		folka.Persist(new(codec.Int64)),
	}, edges...)
	return folka.Define(group, edges...)
}

func startProcessor(t *testing.T, tt *tester.Tester, topology *folka.Topology) func() {
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

func TestTester_ProcessorConsume(t *testing.T) {
	tt := tester.New(t)
	stop := startProcessor(t, tt, counterTopology("counter", "clicks"))
	defer stop()

	tt.Consume("clicks", "alice", "click")
	tt.Consume("clicks", "alice", "click")
	tt.Consume("clicks", "bob", "click")

	require.EqualValues(t, 2, tt.TableValue("counter-table", "alice"))
	require.EqualValues(t, 1, tt.TableValue("counter-table", "bob"))
	require.Nil(t, tt.TableValue("counter-table", "unknown"))
}

func TestTester_SetTableValue(t *testing.T) {
	tt := tester.New(t)
	stop := startProcessor(t, tt, counterTopology("counter", "clicks"))
	defer stop()

	tt.SetTableValue("counter-table", "alice", int64(41))
	tt.Consume("clicks", "alice", "click")

	require.EqualValues(t, 42, tt.TableValue("counter-table", "alice"))
}

func TestTester_ClearValues(t *testing.T) {
	tt := tester.New(t)
	stop := startProcessor(t, tt, counterTopology("counter", "clicks"))
	defer stop()

	tt.Consume("clicks", "alice", "click")
	require.EqualValues(t, 1, tt.TableValue("counter-table", "alice"))

	tt.ClearValues()
	require.Nil(t, tt.TableValue("counter-table", "alice"))

	// counting continues from scratch
	tt.Consume("clicks", "alice", "click")
	require.EqualValues(t, 1, tt.TableValue("counter-table", "alice"))
}

func TestTester_QueueTracker(t *testing.T) {
	tt := tester.New(t)
	topology := folka.Define("forwarder",
		folka.Input("in", new(codec.String), func(ctx folka.Context, msg interface{}) {
			ctx.Emit("out", ctx.Key(), msg.(string))
		}),
		folka.Output("out", new(codec.String)),
		folka.Persist(new(codec.Int64)),
	)
	stop := startProcessor(t, tt, topology)
	defer stop()

	tracker := tt.NewQueueTracker("out")

	tt.Consume("in", "key", "hello")

	key, value, ok := tracker.Next()
	require.True(t, ok)
	require.Equal(t, "key", key)
	require.Equal(t, "hello", value)

	_, _, ok = tracker.Next()
	require.False(t, ok)
}

func TestTester_ChainedProcessors(t *testing.T) {
	tt := tester.New(t)

	forwarder := folka.Define("forwarder",
		folka.Input("in", new(codec.String), func(ctx folka.Context, msg interface{}) {
			ctx.Emit("hops", ctx.Key(), msg.(string))
		}),
		folka.Output("hops", new(codec.String)),
		folka.Persist(new(codec.Int64)),
	)
	stopForwarder := startProcessor(t, tt, forwarder)
	defer stopForwarder()

	stopCounter := startProcessor(t, tt, counterTopology("counter", "hops"))
	defer stopCounter()

	// the message hops through the forwarder into the counter
	tt.Consume("in", "alice", "click")
	tt.Consume("in", "alice", "click")

	require.EqualValues(t, 2, tt.TableValue("counter-table", "alice"))
}

func TestTester_Repartition(t *testing.T) {
	tt := tester.New(t)

	topology := folka.Define("grouper",
		folka.Input("in", new(codec.String), func(ctx folka.Context, msg interface{}) {
			// group all values under a single key
			ctx.Repartition("all", msg.(string))
		}),
		folka.Repartition(new(codec.String), func(ctx folka.Context, msg interface{}) {
			count := int64(0)
			if val := ctx.Value(); val != nil {
				count = val.(int64)
			}
			ctx.SetValue(count + 1)
		}),
		folka.Persist(new(codec.Int64)),
	)
	stop := startProcessor(t, tt, topology)
	defer stop()

	tt.Consume("in", "a", "x")
	tt.Consume("in", "b", "y")
	tt.Consume("in", "c", "z")

	require.EqualValues(t, 3, tt.TableValue("grouper-table", "all"))
}
