package folka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/require"

	"github.com/folkastream/folka/codec"
	"github.com/folkastream/folka/multierr"
	"github.com/folkastream/folka/storage"
)

type emitCall struct {
	topic string
	key   string
	value []byte
}

// contextFixture wires a cbContext to a real in-memory partition table and
// records all emits, commits and failures.
type contextFixture struct {
	ctx *cbContext

	table     *PartitionTable
	emits     []emitCall
	commits   int
	asyncErrs []error
}

func newContextFixture(t *testing.T, graph *Topology, msg *sarama.ConsumerMessage) *contextFixture {
	t.Helper()

	f := new(contextFixture)

	f.table = testPartitionTable(new(panicConsumer),
		&stubTopicManager{},
		storage.MemoryBuilder(),
		defaultMaxStoreAttempts)

	bctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, f.table.setup(bctx))
	t.Cleanup(func() { _ = f.table.Close() })

	f.ctx = &cbContext{
		ctx:   bctx,
		graph: graph,
		commit: func() {
			f.commits++
		},
		emitter: func(topic string, key string, value []byte) *Promise {
			f.emits = append(f.emits, emitCall{topic: topic, key: key, value: value})
			return NewPromise().Finish(nil, nil)
		},
		asyncFailer: func(err error) {
			f.asyncErrs = append(f.asyncErrs, err)
		},
		syncFailer: func(err error) {
			panic(err)
		},
		table:  f.table,
		pstats: newPartitionProcStats([]string{msg.Topic}, []string{tableName(graph.Group())}),
		msg:    msg,
		errors: new(multierr.Errors),
		wg:     new(sync.WaitGroup),
	}
	return f
}

// runCallback brackets cb the way the partition processor does.
func (f *contextFixture) runCallback(cb func()) {
	f.ctx.start()
	cb()
	f.ctx.finish(nil)
	f.ctx.wg.Wait()
}

func wordGraph() *Topology {
	return Define("words",
		Input("input", new(codec.String), func(ctx Context, msg interface{}) {}),
		Output("side", new(codec.String)),
		Persist(new(codec.Int64)),
	)
}

func inputMessage(key string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "input",
		Partition: 0,
		Offset:    7,
		Key:       []byte(key),
	}
}

func TestContext_SetValue(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))

	f.runCallback(func() {
		f.ctx.SetValue(int64(42))
	})

	// the new value is stored locally and logged to the table topic
	stored, err := f.table.Get("key")
	require.NoError(t, err)
	require.Equal(t, []byte("42"), stored)

	require.Len(t, f.emits, 1)
	require.Equal(t, "words-table", f.emits[0].topic)
	require.Equal(t, "key", f.emits[0].key)
	require.Equal(t, []byte("42"), f.emits[0].value)

	require.Equal(t, 1, f.ctx.counters.stores)
	require.Equal(t, 1, f.commits)
	require.Empty(t, f.asyncErrs)
}

func TestContext_Value(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))
	require.NoError(t, f.table.Set("key", []byte("23")))

	f.runCallback(func() {
		require.EqualValues(t, 23, f.ctx.Value())
	})
	require.Equal(t, 1, f.commits)
}

func TestContext_ValueUnknownKey(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("unknown"))

	f.runCallback(func() {
		require.Nil(t, f.ctx.Value())
	})
	require.Equal(t, 1, f.commits)
}

func TestContext_Delete(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))
	require.NoError(t, f.table.Set("key", []byte("23")))

	f.runCallback(func() {
		f.ctx.Delete()
	})

	stored, err := f.table.Get("key")
	require.NoError(t, err)
	require.Nil(t, stored)

	// deletion is logged as tombstone
	require.Len(t, f.emits, 1)
	require.Equal(t, "words-table", f.emits[0].topic)
	require.Nil(t, f.emits[0].value)
	require.Equal(t, 1, f.commits)
}

func TestContext_Emit(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))

	f.runCallback(func() {
		f.ctx.Emit("side", "other-key", "hello")
	})

	require.Len(t, f.emits, 1)
	require.Equal(t, "side", f.emits[0].topic)
	require.Equal(t, "other-key", f.emits[0].key)
	require.Equal(t, []byte("hello"), f.emits[0].value)
	require.Equal(t, 1, f.commits)
}

func TestContext_EmitValidation(t *testing.T) {
	tests := []struct {
		name  string
		topic Stream
	}{
		{"empty topic", ""},
		{"table topic", "words-table"},
		{"repartition topic", "words-repartition"},
		{"undeclared topic", "unknown-output"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newContextFixture(t, wordGraph(), inputMessage("key"))
			require.Panics(t, func() {
				f.ctx.Emit(test.topic, "key", "hello")
			})
		})
	}
}

func TestContext_SetValueNil(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))
	require.Panics(t, func() {
		f.ctx.SetValue(nil)
	})
}

func TestContext_EmitErrorFailsAsync(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))
	f.ctx.emitter = func(topic string, key string, value []byte) *Promise {
		return NewPromise().Finish(nil, errors.New("broker gone"))
	}

	f.runCallback(func() {
		f.ctx.Emit("side", "key", "hello")
	})

	require.Equal(t, 0, f.commits)
	require.Len(t, f.asyncErrs, 1)
}

func TestContext_MessageFields(t *testing.T) {
	f := newContextFixture(t, wordGraph(), inputMessage("key"))

	require.Equal(t, Stream("input"), f.ctx.Topic())
	require.Equal(t, "key", f.ctx.Key())
	require.EqualValues(t, 0, f.ctx.Partition())
	require.EqualValues(t, 7, f.ctx.Offset())
	require.Equal(t, Group("words"), f.ctx.Group())
}
