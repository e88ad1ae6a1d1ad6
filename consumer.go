package folka

import (
	"context"

	"github.com/Shopify/sarama"
)

// ConsumerGroup is the subset of sarama's consumer group that the processor
// uses. sarama.ConsumerGroup satisfies it directly.
type ConsumerGroup interface {
	// Consume joins the group and starts a consume session dispatching to the
	// passed handler. It returns when the session ends, e.g. on rebalance.
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	// Errors returns the error channel of the group.
	Errors() <-chan error
	Close() error
}

// Consumer provides partition consumers for reading table topics.
type Consumer interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
	Close() error
}

// PartitionConsumer reads a single topic partition from a given offset.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	AsyncClose()
	Close() error
	HighWaterMarkOffset() int64
}

// saramaConsumer adapts a sarama.Consumer to the Consumer interface.
type saramaConsumer struct {
	consumer sarama.Consumer
}

func (c *saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	pc, err := c.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (c *saramaConsumer) Close() error {
	return c.consumer.Close()
}
