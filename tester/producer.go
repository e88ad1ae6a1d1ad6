package tester

import (
	"github.com/folkastream/folka"
)

// EmitHandler abstracts a function that allows to overwrite the tester's
// Emit function, e.g. to simulate producer errors.
type EmitHandler func(topic string, key string, value []byte) *folka.Promise

// producerMock replaces the kafka producer. Emitted messages are handed to
// the tester, which appends them to the topic queues.
type producerMock struct {
	emitter EmitHandler
}

func newProducerMock(emitter EmitHandler) *producerMock {
	return &producerMock{
		emitter: emitter,
	}
}

// Emit emits messages to the emit-handler.
func (p *producerMock) Emit(topic string, key string, value []byte) *folka.Promise {
	return p.emitter(topic, key, value)
}

// Close does nothing.
func (p *producerMock) Close() error {
	return nil
}
