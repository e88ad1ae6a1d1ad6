package folka

import (
	"hash"
	"time"

	"github.com/Shopify/sarama"
)

const (
	defaultBackoffStep = 10 * time.Second
	defaultBackoffMax  = 120 * time.Second
)

// ProducerBuilder creates a Kafka producer.
type ProducerBuilder func(brokers []string, clientID string, hasher func() hash.Hash32) (Producer, error)

// DefaultProducerBuilder creates a Kafka producer using the Sarama library.
func DefaultProducerBuilder(brokers []string, clientID string, hasher func() hash.Hash32) (Producer, error) {
	config := globalConfig
	config.ClientID = clientID
	config.Producer.Partitioner = sarama.NewCustomHashPartitioner(hasher)
	return NewProducer(brokers, &config)
}

// ProducerBuilderWithConfig creates a Kafka producer using the Sarama library
// with the passed config.
func ProducerBuilderWithConfig(config *sarama.Config) ProducerBuilder {
	return func(brokers []string, clientID string, hasher func() hash.Hash32) (Producer, error) {
		config.ClientID = clientID
		config.Producer.Partitioner = sarama.NewCustomHashPartitioner(hasher)
		return NewProducer(brokers, config)
	}
}

// TopicManagerBuilder creates a TopicManager to check partition counts and
// create topics.
type TopicManagerBuilder func(brokers []string) (TopicManager, error)

// DefaultTopicManagerBuilder creates a TopicManager using the Sarama library.
func DefaultTopicManagerBuilder(brokers []string) (TopicManager, error) {
	config := globalConfig
	config.ClientID = "folka-topic-manager"
	return NewTopicManager(brokers, &config, NewTopicManagerConfig())
}

// TopicManagerBuilderWithConfig creates a TopicManager using the Sarama
// library with the passed configs.
func TopicManagerBuilderWithConfig(config *sarama.Config, tmConfig *TopicManagerConfig) TopicManagerBuilder {
	return func(brokers []string) (TopicManager, error) {
		return NewTopicManager(brokers, config, tmConfig)
	}
}

// TopicManagerBuilderWithTopicManagerConfig creates a TopicManager using the
// global sarama config and the passed topic manager config.
func TopicManagerBuilderWithTopicManagerConfig(tmConfig *TopicManagerConfig) TopicManagerBuilder {
	return func(brokers []string) (TopicManager, error) {
		config := globalConfig
		config.ClientID = "folka-topic-manager"
		return NewTopicManager(brokers, &config, tmConfig)
	}
}

// ConsumerGroupBuilder creates a ConsumerGroup.
type ConsumerGroupBuilder func(brokers []string, group, clientID string) (ConsumerGroup, error)

// DefaultConsumerGroupBuilder creates a Kafka consumer group using the Sarama
// library.
func DefaultConsumerGroupBuilder(brokers []string, group, clientID string) (ConsumerGroup, error) {
	config := globalConfig
	config.ClientID = clientID
	return sarama.NewConsumerGroup(brokers, group, &config)
}

// ConsumerGroupBuilderWithConfig creates a consumer group using the passed
// config.
func ConsumerGroupBuilderWithConfig(config *sarama.Config) ConsumerGroupBuilder {
	return func(brokers []string, group, clientID string) (ConsumerGroup, error) {
		config.ClientID = clientID
		return sarama.NewConsumerGroup(brokers, group, config)
	}
}

// SaramaConsumerBuilder creates a Consumer for reading table topics.
type SaramaConsumerBuilder func(brokers []string, clientID string) (Consumer, error)

// DefaultSaramaConsumerBuilder creates a Kafka consumer using the Sarama
// library.
func DefaultSaramaConsumerBuilder(brokers []string, clientID string) (Consumer, error) {
	config := globalConfig
	config.ClientID = clientID
	consumer, err := sarama.NewConsumer(brokers, &config)
	if err != nil {
		return nil, err
	}
	return &saramaConsumer{consumer: consumer}, nil
}

// SaramaConsumerBuilderWithConfig creates a Kafka consumer using the passed
// config.
func SaramaConsumerBuilderWithConfig(config *sarama.Config) SaramaConsumerBuilder {
	return func(brokers []string, clientID string) (Consumer, error) {
		config.ClientID = clientID
		consumer, err := sarama.NewConsumer(brokers, config)
		if err != nil {
			return nil, err
		}
		return &saramaConsumer{consumer: consumer}, nil
	}
}

// BackoffBuilder creates a backoff
type BackoffBuilder func() (Backoff, error)

// DefaultBackoffBuilder returns a simpleBackoff with 10 seconds step increase
// and 2 minutes max wait
func DefaultBackoffBuilder() (Backoff, error) {
	return NewSimpleBackoff(defaultBackoffStep, defaultBackoffMax), nil
}
