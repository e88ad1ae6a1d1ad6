package mock

import (
	"testing"

	"github.com/folkastream/folka"
)

// Producer mimics a real producer, every emit succeeds immediately.
type Producer struct {
}

// NewProducer creates a new producer mock.
func NewProducer(t *testing.T) *Producer {
	return &Producer{}
}

// Emit resolves the returned promise immediately.
func (p *Producer) Emit(topic string, key string, value []byte) *folka.Promise {
	return folka.NewPromise().Finish(nil, nil)
}

// Close does nothing.
func (p *Producer) Close() error {
	return nil
}
