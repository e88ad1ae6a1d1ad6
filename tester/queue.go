package tester

import (
	"sync"
)

type message struct {
	offset int64
	key    string
	value  []byte
}

// queue is the tester's in-memory replacement for a topic's partition.
type queue struct {
	sync.Mutex
	topic    string
	messages []*message
	hwm      int64
}

func newQueue(topic string) *queue {
	return &queue{
		topic: topic,
	}
}

// Hwm returns the high water mark of the queue, i.e. the offset the next
// pushed message will get.
func (q *queue) Hwm() int64 {
	q.Lock()
	defer q.Unlock()
	return q.hwm
}

// push adds a message to the queue and returns its offset.
func (q *queue) push(key string, value []byte) int64 {
	q.Lock()
	defer q.Unlock()
	offset := q.hwm
	q.messages = append(q.messages, &message{
		offset: offset,
		key:    key,
		value:  value,
	})
	q.hwm++
	return offset
}

func (q *queue) size() int {
	q.Lock()
	defer q.Unlock()
	return len(q.messages)
}

func (q *queue) message(offset int) *message {
	q.Lock()
	defer q.Unlock()
	return q.messages[offset]
}

// messagesFromOffset returns a snapshot of all messages from the given
// offset to the end of the queue.
func (q *queue) messagesFromOffset(offset int64) []*message {
	q.Lock()
	defer q.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(q.messages)) {
		return nil
	}
	return append([]*message{}, q.messages[offset:]...)
}
