package folka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka/multierr"
)

type emitter func(topic string, key string, value []byte) *Promise

// Context provides access to the processor's state and topology from within
// a callback. The passed Context is only valid within the scope of the
// callback, do not store it.
type Context interface {
	// Topic returns the topic of the message being processed.
	Topic() Stream

	// Key returns the key of the message being processed.
	Key() string

	// Partition returns the partition of the message being processed.
	Partition() int32

	// Offset returns the offset of the message being processed.
	Offset() int64

	// Group returns the group of the processor.
	Group() Group

	// Value returns the value of the key in the group table. It fails the
	// message if the storage read or the decoding fails.
	Value() interface{}

	// SetValue updates the value of the key in the group table and emits the
	// change to the table topic.
	SetValue(value interface{})

	// Delete deletes the value of the key from the group table. The deletion
	// is logged to the table topic as a tombstone.
	Delete()

	// Timestamp returns the timestamp of the message being processed.
	Timestamp() time.Time

	// Emit asynchronously writes a message to a topic declared as an output
	// of the topology.
	Emit(topic Stream, key string, value interface{})

	// Repartition sends the value to the group's repartition topic under a
	// new key. The message is consumed again by the partition owning that
	// key.
	Repartition(key string, value interface{})

	// Fail stops the processing of the message and terminates the partition
	// processor with the given error. It does not stop execution of the
	// callback, so use the return statement after calling it.
	Fail(err error)

	// Context returns the underlying context used to start the processor or
	// a subcontext. Returned context is only valid within the scope of the
	// callback.
	Context() context.Context
}

type cbContext struct {
	ctx   context.Context
	graph *Topology

	// commit commits the message in the consumer session
	commit func()

	emitter emitter

	asyncFailer func(err error)
	syncFailer  func(err error)

	table  *PartitionTable
	pstats *PartitionProcStats

	msg  *sarama.ConsumerMessage
	done bool

	counters struct {
		emits  int
		dones  int
		stores int
	}
	errors *multierr.Errors
	m      sync.Mutex
	wg     *sync.WaitGroup
}

// Emit sends a message to topic.
func (ctx *cbContext) Emit(topic Stream, key string, value interface{}) {
	if topic == "" {
		ctx.Fail(errors.New("cannot emit to empty topic"))
	}
	if repartitionName(ctx.graph.Group()) == string(topic) {
		ctx.Fail(errors.New("cannot emit to repartition topic, use Repartition() instead"))
	}
	if tableName(ctx.graph.Group()) == string(topic) {
		ctx.Fail(errors.New("cannot emit to table topic, use SetValue() instead"))
	}
	c := ctx.graph.codec(string(topic))
	if c == nil {
		ctx.Fail(fmt.Errorf("no codec for topic %s, did you declare it as output?", topic))
	}

	var data []byte
	if value != nil {
		var err error
		data, err = c.Encode(value)
		if err != nil {
			ctx.Fail(fmt.Errorf("error encoding message for topic %s: %v", topic, err))
		}
	}

	ctx.emit(string(topic), key, data)
}

// Repartition sends a message to the repartition topic of the group.
func (ctx *cbContext) Repartition(key string, value interface{}) {
	l := ctx.graph.RepartitionStream()
	if l == nil {
		ctx.Fail(errors.New("no repartition stream in topology"))
	}
	data, err := l.Codec().Encode(value)
	if err != nil {
		ctx.Fail(fmt.Errorf("error encoding message for repartition topic: %v", err))
	}
	ctx.emit(l.Topic(), key, data)
}

func (ctx *cbContext) emit(topic string, key string, value []byte) {
	ctx.counters.emits++
	ctx.emitter(topic, key, value).ThenWithMessage(func(msg *sarama.ProducerMessage, err error) {
		if err != nil {
			err = fmt.Errorf("error emitting to %s: %v", topic, err)
		}
		ctx.emitDone(err)
	})

	ctx.pstats.trackOutput(topic, len(value))
}

// Delete removes the key from the group table and logs a tombstone to the
// table topic.
func (ctx *cbContext) Delete() {
	if err := ctx.deleteKey(ctx.Key()); err != nil {
		ctx.Fail(err)
	}
}

// Value returns the value of the key in the group table.
func (ctx *cbContext) Value() interface{} {
	val, err := ctx.valueForKey(ctx.Key())
	if err != nil {
		ctx.Fail(err)
	}
	return val
}

// SetValue updates the value of the key in the group table.
func (ctx *cbContext) SetValue(value interface{}) {
	if err := ctx.setValueForKey(ctx.Key(), value); err != nil {
		ctx.Fail(err)
	}
}

// Timestamp returns the timestamp of the message being processed.
func (ctx *cbContext) Timestamp() time.Time {
	return ctx.msg.Timestamp
}

func (ctx *cbContext) Key() string {
	return string(ctx.msg.Key)
}

func (ctx *cbContext) Topic() Stream {
	return Stream(ctx.msg.Topic)
}

func (ctx *cbContext) Offset() int64 {
	return ctx.msg.Offset
}

func (ctx *cbContext) Group() Group {
	return ctx.graph.Group()
}

func (ctx *cbContext) Partition() int32 {
	return ctx.msg.Partition
}

func (ctx *cbContext) Fail(err error) {
	ctx.syncFailer(err)
}

func (ctx *cbContext) Context() context.Context {
	return ctx.ctx
}

func (ctx *cbContext) valueForKey(key string) (interface{}, error) {
	if ctx.table == nil {
		return nil, errors.New("table not configured in this context")
	}

	data, err := ctx.table.Get(key)
	if err != nil {
		return nil, fmt.Errorf("error reading value: %v", err)
	} else if data == nil {
		return nil, nil
	}

	value, err := ctx.graph.GroupTable().Codec().Decode(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding value: %v", err)
	}
	return value, nil
}

func (ctx *cbContext) deleteKey(key string) error {
	if ctx.graph.GroupTable() == nil {
		return errors.New("cannot access state in stateless processor")
	}

	ctx.counters.stores++
	if err := ctx.table.Delete(key); err != nil {
		return fmt.Errorf("error deleting key (%s) from storage: %v", key, err)
	}

	// tombstone for the table topic
	ctx.emit(ctx.graph.GroupTable().Topic(), key, nil)
	return nil
}

func (ctx *cbContext) setValueForKey(key string, value interface{}) error {
	if ctx.graph.GroupTable() == nil {
		return errors.New("cannot access state in stateless processor")
	}

	if value == nil {
		return errors.New("cannot set nil as value")
	}

	encodedValue, err := ctx.graph.GroupTable().Codec().Encode(value)
	if err != nil {
		return fmt.Errorf("error encoding value: %v", err)
	}

	if err = ctx.table.SetWithRetry(ctx.ctx, key, encodedValue); err != nil {
		return fmt.Errorf("error storing value: %v", err)
	}

	table := ctx.graph.GroupTable().Topic()
	ctx.counters.stores++
	ctx.emit(table, key, encodedValue)
	return nil
}

// emitDone is called from the promises of the emits, in a separate goroutine.
func (ctx *cbContext) emitDone(err error) {
	ctx.m.Lock()
	defer ctx.m.Unlock()
	ctx.counters.dones++
	ctx.tryCommit(err)
}

// tryCommit commits the message in the consumer session once the callback and
// all its emits are done. It must be called with ctx.m held.
func (ctx *cbContext) tryCommit(err error) {
	if err != nil {
		_ = ctx.errors.Collect(err)
	}

	// not all calls are done yet, wait for the rest
	if !ctx.done || ctx.counters.emits > ctx.counters.dones {
		return
	}

	// commit if no errors, otherwise fail the partition processor
	if err := ctx.errors.NilOrError(); err != nil {
		ctx.asyncFailer(fmt.Errorf("error processing message %s/%d/%d: %w", ctx.msg.Topic, ctx.msg.Partition, ctx.msg.Offset, err))
	} else {
		ctx.commit()
	}

	// no further callback or emit will be called from this context
	ctx.wg.Done()
}

// start and finish bracket the callback invocation.
func (ctx *cbContext) start() {
	ctx.wg.Add(1)
}

func (ctx *cbContext) finish(err error) {
	ctx.m.Lock()
	defer ctx.m.Unlock()

	ctx.done = true
	ctx.tryCommit(err)
}
