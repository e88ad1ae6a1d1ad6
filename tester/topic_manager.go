package tester

import (
	"fmt"

	"github.com/Shopify/sarama"
)

// MockTopicManager mimics the behavior of the real topic manager. Topic
// creation only ensures a queue exists, all topics have a single partition.
type MockTopicManager struct {
	DefaultNumPartitions     int
	DefaultReplicationFactor int
	tt                       *Tester
}

func newMockTopicManager(tt *Tester, defaultNumPartitions int, defaultReplFactor int) *MockTopicManager {
	return &MockTopicManager{
		DefaultNumPartitions:     defaultNumPartitions,
		DefaultReplicationFactor: defaultReplFactor,
		tt:                       tt,
	}
}

// EnsureTableExists ensures a table exists.
func (tm *MockTopicManager) EnsureTableExists(topic string, npar int) error {
	tm.tt.getOrCreateQueue(topic)
	return nil
}

// EnsureStreamExists ensures a stream exists.
func (tm *MockTopicManager) EnsureStreamExists(topic string, npar int) error {
	tm.tt.getOrCreateQueue(topic)
	return nil
}

// EnsureTopicExists ensures a topic exists.
func (tm *MockTopicManager) EnsureTopicExists(topic string, npar, rfactor int, config map[string]string) error {
	tm.tt.getOrCreateQueue(topic)
	return nil
}

// Partitions returns the partition ids of a topic. All tester topics have a
// single partition.
func (tm *MockTopicManager) Partitions(topic string) ([]int32, error) {
	return []int32{0}, nil
}

// GetOffset returns the first or latest offset of a topic's queue.
func (tm *MockTopicManager) GetOffset(topic string, partitionID int32, time int64) (int64, error) {
	switch time {
	case sarama.OffsetOldest:
		return 0, nil
	case sarama.OffsetNewest:
		return tm.tt.getOrCreateQueue(topic).Hwm(), nil
	}
	return 0, fmt.Errorf("only oldest and newest are supported in the tester")
}

// Close has no action on the mock.
func (tm *MockTopicManager) Close() error {
	return nil
}
