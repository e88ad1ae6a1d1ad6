package folka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/require"

	"github.com/folkastream/folka/logger"
	"github.com/folkastream/folka/storage"
)

// zeroBackoff never waits, keeping retry tests fast.
type zeroBackoff struct{}

func (b *zeroBackoff) Duration() time.Duration { return 0 }
func (b *zeroBackoff) Reset()                  {}

// stubTopicManager serves scripted offsets for a single topic partition.
type stubTopicManager struct {
	oldest int64
	hwm    int64
}

func (tm *stubTopicManager) EnsureTableExists(topic string, npar int) error { return nil }
func (tm *stubTopicManager) EnsureStreamExists(topic string, npar int) error {
	return nil
}
func (tm *stubTopicManager) EnsureTopicExists(topic string, npar, rfactor int, config map[string]string) error {
	return nil
}
func (tm *stubTopicManager) Partitions(topic string) ([]int32, error) { return []int32{0}, nil }
func (tm *stubTopicManager) GetOffset(topic string, partition int32, time int64) (int64, error) {
	switch time {
	case sarama.OffsetOldest:
		return tm.oldest, nil
	case sarama.OffsetNewest:
		return tm.hwm, nil
	}
	return 0, fmt.Errorf("unexpected offset request %d", time)
}
func (tm *stubTopicManager) Close() error { return nil }

// scriptedConsumer replays prepared messages from the requested offset on.
type scriptedConsumer struct {
	topic    string
	messages []*sarama.ConsumerMessage
}

func (sc *scriptedConsumer) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	if topic != sc.topic {
		return nil, fmt.Errorf("unexpected topic %s", topic)
	}

	msgs := make(chan *sarama.ConsumerMessage, len(sc.messages)+1)
	for _, msg := range sc.messages {
		if msg.Offset >= offset {
			msgs <- msg
		}
	}
	return &scriptedPartConsumer{
		msgs: msgs,
		errs: make(chan *sarama.ConsumerError),
	}, nil
}

func (sc *scriptedConsumer) Close() error { return nil }

type scriptedPartConsumer struct {
	msgs chan *sarama.ConsumerMessage
	errs chan *sarama.ConsumerError
}

func (pc *scriptedPartConsumer) Messages() <-chan *sarama.ConsumerMessage { return pc.msgs }
func (pc *scriptedPartConsumer) Errors() <-chan *sarama.ConsumerError    { return pc.errs }
func (pc *scriptedPartConsumer) AsyncClose()                             {}
func (pc *scriptedPartConsumer) Close() error                            { return nil }
func (pc *scriptedPartConsumer) HighWaterMarkOffset() int64              { return 0 }

// panicConsumer fails the test if the partition table tries to consume.
type panicConsumer struct{}

func (pc *panicConsumer) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	panic("consume was not expected here")
}
func (pc *panicConsumer) Close() error { return nil }

func testPartitionTable(consumer Consumer, tmgr TopicManager, builder storage.Builder, maxStoreAttempts int) *PartitionTable {
	return newPartitionTable("test-table",
		0,
		consumer,
		tmgr,
		DefaultUpdate,
		builder,
		logger.Default(),
		new(zeroBackoff),
		maxStoreAttempts,
	)
}

func tableMessage(offset int64, key, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "test-table",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(key),
		Value:     []byte(value),
	}
}

func TestPartitionTable_FindOffsetToLoad(t *testing.T) {
	tests := []struct {
		name         string
		oldest       int64
		hwm          int64
		storedOffset int64
		wantStart    int64
	}{
		{"nothing stored", 0, 10, offsetNotStored, 0},
		{"resume after stored", 0, 10, 4, 5},
		{"stored beyond hwm", 0, 10, 15, 10},
		{"stored below retention", 5, 10, 1, 5},
		{"empty topic", 0, 0, offsetNotStored, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pt := testPartitionTable(new(panicConsumer),
				&stubTopicManager{oldest: test.oldest, hwm: test.hwm},
				storage.MemoryBuilder(),
				defaultMaxStoreAttempts)

			start, hwm, err := pt.findOffsetToLoad(test.storedOffset)
			require.NoError(t, err)
			require.Equal(t, test.wantStart, start)
			require.Equal(t, test.hwm, hwm)
		})
	}
}

func TestPartitionTable_SetupAndRecover(t *testing.T) {
	consumer := &scriptedConsumer{
		topic: "test-table",
		messages: []*sarama.ConsumerMessage{
			tableMessage(0, "a", "1"),
			tableMessage(1, "b", "2"),
			tableMessage(2, "a", "3"),
		},
	}
	pt := testPartitionTable(consumer,
		&stubTopicManager{hwm: 3},
		storage.MemoryBuilder(),
		defaultMaxStoreAttempts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, pt.SetupAndRecover(ctx))
	defer pt.Close()

	require.True(t, pt.IsRecovered())

	value, err := pt.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("3"), value)

	value, err = pt.Get("b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)

	offset, err := pt.GetOffset(offsetNotStored)
	require.NoError(t, err)
	require.EqualValues(t, 2, offset)
}

func TestPartitionTable_SetupAndRecoverEmpty(t *testing.T) {
	// an empty table topic recovers without consuming anything
	pt := testPartitionTable(new(panicConsumer),
		&stubTopicManager{},
		storage.MemoryBuilder(),
		defaultMaxStoreAttempts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, pt.SetupAndRecover(ctx))
	defer pt.Close()
	require.True(t, pt.IsRecovered())
}

func TestPartitionTable_SetupAndRecoverUpToDate(t *testing.T) {
	// prefill the storage so the stored offset equals the last message, no
	// messages have to be loaded
	builder := storage.MemoryBuilder()
	st, err := builder("test-table", 0)
	require.NoError(t, err)
	require.NoError(t, st.Set("a", []byte("1")))
	require.NoError(t, st.SetOffset(2))

	pt := testPartitionTable(new(panicConsumer),
		&stubTopicManager{hwm: 3},
		func(topic string, partition int32) (storage.Storage, error) {
			return st, nil
		},
		defaultMaxStoreAttempts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, pt.SetupAndRecover(ctx))
	defer pt.Close()
	require.True(t, pt.IsRecovered())

	value, err := pt.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)
}

type flakyStorage struct {
	storage.Storage
	failures  int
	attempted int
}

func (f *flakyStorage) Set(key string, value []byte) error {
	f.attempted++
	if f.attempted <= f.failures {
		return errors.New("write failed")
	}
	return f.Storage.Set(key, value)
}

func TestPartitionTable_SetWithRetry(t *testing.T) {
	st := &flakyStorage{Storage: storage.NewMemory(), failures: 2}
	pt := testPartitionTable(new(panicConsumer),
		&stubTopicManager{},
		func(topic string, partition int32) (storage.Storage, error) {
			return st, nil
		},
		3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pt.setup(ctx))
	defer pt.Close()

	// fails twice, succeeds on the third attempt
	require.NoError(t, pt.SetWithRetry(ctx, "key", []byte("value")))
	require.Equal(t, 3, st.attempted)

	value, err := pt.Get("key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), value)
}

func TestPartitionTable_SetWithRetryGivesUp(t *testing.T) {
	st := &flakyStorage{Storage: storage.NewMemory(), failures: 100}
	pt := testPartitionTable(new(panicConsumer),
		&stubTopicManager{},
		func(topic string, partition int32) (storage.Storage, error) {
			return st, nil
		},
		3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pt.setup(ctx))
	defer pt.Close()

	err := pt.SetWithRetry(ctx, "key", []byte("value"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, st.attempted)
}

func TestPartitionTable_IncrementOffsets(t *testing.T) {
	pt := testPartitionTable(new(panicConsumer),
		&stubTopicManager{},
		storage.MemoryBuilder(),
		defaultMaxStoreAttempts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pt.setup(ctx))
	defer pt.Close()

	// three processed messages produce three table messages with offsets 0..2
	require.NoError(t, pt.IncrementOffsets(3))

	offset, err := pt.GetOffset(offsetNotStored)
	require.NoError(t, err)
	require.EqualValues(t, 2, offset)

	require.NoError(t, pt.IncrementOffsets(1))
	offset, err = pt.GetOffset(offsetNotStored)
	require.NoError(t, err)
	require.EqualValues(t, 3, offset)
}
