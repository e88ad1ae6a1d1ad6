package folka

import (
	"errors"
	"fmt"
	"sync"
)

// ErrEmitterAlreadyClosed is returned when Emit is called after Finish.
var ErrEmitterAlreadyClosed = errors.New("emitter already closed")

// Emitter emits messages into a specific Kafka topic, first encoding the
// message with the given codec.
type Emitter struct {
	codec    Codec
	producer Producer

	topic string

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewEmitter creates a new emitter using passed brokers, topic, codec and
// possibly options.
func NewEmitter(brokers []string, topic Stream, codec Codec, options ...EmitterOption) (*Emitter, error) {
	opts := new(eoptions)

	err := opts.applyOptions(topic, codec, options...)
	if err != nil {
		return nil, fmt.Errorf(errApplyOptions, err)
	}

	prod, err := opts.builders.producer(brokers, opts.clientID, opts.hasher)
	if err != nil {
		return nil, fmt.Errorf(errBuildProducer, err)
	}

	return &Emitter{
		codec:    codec,
		producer: prod,
		topic:    string(topic),
		done:     make(chan struct{}),
	}, nil
}

// Emit sends a message for passed key using the emitter's codec.
func (e *Emitter) Emit(key string, msg interface{}) (*Promise, error) {
	select {
	case <-e.done:
		return nil, ErrEmitterAlreadyClosed
	default:
	}

	var (
		err  error
		data []byte
	)
	if msg != nil {
		data, err = e.codec.Encode(msg)
		if err != nil {
			return nil, fmt.Errorf("error encoding value for key %s in topic %s: %v", key, e.topic, err)
		}
	}

	e.wg.Add(1)
	return e.producer.Emit(e.topic, key, data).Then(func(err error) {
		e.wg.Done()
	}), nil
}

// EmitSync sends a message for passed key using the emitter's codec and waits
// for the producer ack.
func (e *Emitter) EmitSync(key string, msg interface{}) error {
	promise, err := e.Emit(key, msg)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	promise.Then(func(asyncErr error) {
		err = asyncErr
		close(done)
	})
	<-done
	return err
}

// Finish waits until the emitter has delivered all pending messages and
// closes the producer.
func (e *Emitter) Finish() error {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
	return e.producer.Close()
}
