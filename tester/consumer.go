package tester

import (
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka"
)

// consumerMock implements the folka.Consumer interface for partition tables
// and views.
type consumerMock struct {
	sync.RWMutex
	tester         *Tester
	requiredTopics map[string]bool
	partConsumers  map[string]*partConsumerMock
}

func newConsumerMock(tt *Tester) *consumerMock {
	return &consumerMock{
		tester:         tt,
		requiredTopics: make(map[string]bool),
		partConsumers:  make(map[string]*partConsumerMock),
	}
}

// catchup forwards queued messages to all partition consumers and returns
// the number of messages forwarded.
func (cm *consumerMock) catchup() int {
	cm.RLock()
	defer cm.RUnlock()
	var catchup int
	for _, pc := range cm.partConsumers {
		catchup += pc.catchup()
	}
	return catchup
}

func (cm *consumerMock) requirePartConsumer(topic string) {
	cm.Lock()
	defer cm.Unlock()
	cm.requiredTopics[topic] = true
}

// waitRequiredConsumersStartup waits until all required partition consumers
// have actually been created by the component under test.
func (cm *consumerMock) waitRequiredConsumersStartup() {
	for {
		cm.RLock()
		var waiting int
		for topic := range cm.requiredTopics {
			if _, ok := cm.partConsumers[topic]; !ok {
				waiting++
			}
		}
		cm.RUnlock()
		if waiting == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (cm *consumerMock) ConsumePartition(topic string, partition int32, offset int64) (folka.PartitionConsumer, error) {
	cm.Lock()
	defer cm.Unlock()
	if _, exists := cm.partConsumers[topic]; exists {
		return nil, fmt.Errorf("already consuming topic %s", topic)
	}
	cons := &partConsumerMock{
		topic:      topic,
		queue:      cm.tester.getOrCreateQueue(topic),
		nextOffset: offset,
		messages:   make(chan *sarama.ConsumerMessage),
		errors:     make(chan *sarama.ConsumerError),
		closer: func() error {
			cm.Lock()
			defer cm.Unlock()
			delete(cm.partConsumers, topic)
			return nil
		},
	}
	if offset == sarama.OffsetOldest {
		cons.nextOffset = 0
	}
	if offset == sarama.OffsetNewest {
		cons.nextOffset = cons.queue.Hwm()
	}
	cm.partConsumers[topic] = cons
	return cons, nil
}

func (cm *consumerMock) Close() error {
	cm.Lock()
	defer cm.Unlock()
	for topic, pc := range cm.partConsumers {
		pc.closeChannels()
		delete(cm.partConsumers, topic)
	}
	return nil
}

// partConsumerMock implements the folka.PartitionConsumer interface backed
// by a queue.
type partConsumerMock struct {
	topic      string
	queue      *queue
	nextOffset int64
	messages   chan *sarama.ConsumerMessage
	errors     chan *sarama.ConsumerError
	closer     func() error
	closeOnce  sync.Once
}

// catchup pushes all queued messages since the last call into the messages
// channel. It blocks until the consumer of the channel has accepted all of
// them, so after catchup returns, the component has at least received every
// message. A trailing nil is sent as a synchronization marker, it is skipped
// by the table loader.
func (pc *partConsumerMock) catchup() int {
	var pushed int
	for _, msg := range pc.queue.messagesFromOffset(pc.nextOffset) {
		pc.messages <- &sarama.ConsumerMessage{
			Topic:     pc.topic,
			Partition: 0,
			Offset:    msg.offset,
			Key:       []byte(msg.key),
			Value:     msg.value,
			Timestamp: time.Now(),
		}
		pc.nextOffset = msg.offset + 1
		pushed++
	}

	if pushed > 0 {
		pc.messages <- nil
	}
	return pushed
}

func (pc *partConsumerMock) Messages() <-chan *sarama.ConsumerMessage {
	return pc.messages
}

func (pc *partConsumerMock) Errors() <-chan *sarama.ConsumerError {
	return pc.errors
}

func (pc *partConsumerMock) HighWaterMarkOffset() int64 {
	return pc.queue.Hwm()
}

func (pc *partConsumerMock) AsyncClose() {
	go func() {
		_ = pc.Close()
	}()
}

func (pc *partConsumerMock) Close() error {
	pc.closeChannels()
	return pc.closer()
}

func (pc *partConsumerMock) closeChannels() {
	pc.closeOnce.Do(func() {
		close(pc.messages)
		close(pc.errors)
	})
}
