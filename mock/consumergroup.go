package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka/multierr"
)

// ConsumerGroupSession mocks the consumer group session for testing.
type ConsumerGroupSession struct {
	ctx        context.Context
	generation int32
	topics     []string
	claims     map[string]*ConsumerGroupClaim

	consumerGroup *ConsumerGroup
}

// ConsumerGroupClaim mocks the claim of one topic/partition.
type ConsumerGroupClaim struct {
	topic     string
	partition int32
	msgs      chan *sarama.ConsumerMessage
}

// NewConsumerGroupClaim creates a new mocked claim.
func NewConsumerGroupClaim(topic string, partition int32) *ConsumerGroupClaim {
	return &ConsumerGroupClaim{
		topic:     topic,
		partition: partition,
		msgs:      make(chan *sarama.ConsumerMessage),
	}
}

// Topic returns the topic of the claim.
func (cgc *ConsumerGroupClaim) Topic() string {
	return cgc.topic
}

// Partition returns the partition of the claim.
func (cgc *ConsumerGroupClaim) Partition() int32 {
	return cgc.partition
}

// InitialOffset returns the initial offset.
func (cgc *ConsumerGroupClaim) InitialOffset() int64 {
	return 0
}

// HighWaterMarkOffset returns the hwm offset.
func (cgc *ConsumerGroupClaim) HighWaterMarkOffset() int64 {
	return 0
}

// Messages returns the channel the claim's messages are sent through.
func (cgc *ConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage {
	return cgc.msgs
}

func newConsumerGroupSession(ctx context.Context, generation int32, cg *ConsumerGroup, topics []string) *ConsumerGroupSession {
	return &ConsumerGroupSession{
		ctx:           ctx,
		generation:    generation,
		consumerGroup: cg,
		topics:        topics,
		claims:        make(map[string]*ConsumerGroupClaim),
	}
}

// Claims returns the partitions assigned in the group session for each topic.
func (cgs *ConsumerGroupSession) Claims() map[string][]int32 {
	claims := make(map[string][]int32)
	for _, topic := range cgs.topics {
		claims[topic] = []int32{0}
	}
	return claims
}

func (cgs *ConsumerGroupSession) createGroupClaim(topic string, partition int32) *ConsumerGroupClaim {
	cgs.claims[topic] = NewConsumerGroupClaim(topic, 0)

	return cgs.claims[topic]
}

// SendMessage sends a message to the consumers of the message's topic.
func (cgs *ConsumerGroupSession) SendMessage(msg *sarama.ConsumerMessage) {
	for topic, claim := range cgs.claims {
		if topic == msg.Topic {
			claim.msgs <- msg
		}
	}
}

// MemberID returns a fixed member ID.
func (cgs *ConsumerGroupSession) MemberID() string {
	return "mock"
}

// GenerationID returns the generation ID of the session.
func (cgs *ConsumerGroupSession) GenerationID() int32 {
	return cgs.generation
}

// MarkOffset does nothing in the mock, marks are tracked via MarkMessage.
func (cgs *ConsumerGroupSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
}

// ResetOffset is not implemented by the mock.
func (cgs *ConsumerGroupSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
	panic("reset offset is not implemented by the mock")
}

// MarkMessage marks the passed message as consumed.
func (cgs *ConsumerGroupSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	cgs.consumerGroup.markMessage(msg)
}

// Commit does nothing in the mock.
func (cgs *ConsumerGroupSession) Commit() {
}

// Context returns the session's context.
func (cgs *ConsumerGroupSession) Context() context.Context {
	return cgs.ctx
}

// ConsumerGroup mocks a consumer group. Tests push messages via SendMessage
// and wait for the handler to mark them.
type ConsumerGroup struct {
	errs chan error

	// use the same offset counter for all topics
	offset            int64
	currentGeneration int32

	// messages we sent to the consumer group and need to wait for
	mMessages  sync.Mutex
	messages   map[int64]int64
	wgMessages sync.WaitGroup

	sessions map[string]*ConsumerGroupSession
}

// NewConsumerGroup creates a new mocked consumer group.
func NewConsumerGroup(t *testing.T) *ConsumerGroup {
	return &ConsumerGroup{
		errs:     make(chan error, 1),
		sessions: make(map[string]*ConsumerGroupSession),
		messages: make(map[int64]int64),
	}
}

func (cg *ConsumerGroup) nextOffset() int64 {
	return atomic.AddInt64(&cg.offset, 1)
}

func (cg *ConsumerGroup) topicKey(topics []string) string {
	return strings.Join(topics, ",")
}

func (cg *ConsumerGroup) markMessage(msg *sarama.ConsumerMessage) {
	cg.mMessages.Lock()
	defer cg.mMessages.Unlock()

	cnt := cg.messages[msg.Offset]

	if cnt == 0 {
		panic(fmt.Errorf("cannot mark message with offset %d, it's not a valid offset or was already marked", msg.Offset))
	}

	cg.messages[msg.Offset] = cnt - 1

	cg.wgMessages.Done()
}

// Consume starts consuming from the consumer group.
func (cg *ConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	key := cg.topicKey(topics)
	for {
		cg.currentGeneration++
		session := newConsumerGroupSession(ctx, cg.currentGeneration, cg, topics)

		cg.sessions[key] = session

		if err := handler.Setup(session); err != nil {
			return fmt.Errorf("error setting up: %v", err)
		}
		// claimCtx also cancels when a ConsumeClaim fails, which unblocks the
		// remaining claims
		errg, claimCtx := multierr.NewErrGroup(ctx)
		for _, topic := range topics {
			claim := session.createGroupClaim(topic, 0)
			errg.Go(func() error {
				<-claimCtx.Done()
				close(claim.msgs)
				return nil
			})
			errg.Go(func() error {
				return handler.ConsumeClaim(session, claim)
			})
		}

		errs := new(multierr.Errors)

		// wait for runner errors and collect error
		errs.Collect(errg.Wait().NilOrError())

		// cleanup and collect errors
		errs.Collect(handler.Cleanup(session))

		// remove current session
		delete(cg.sessions, key)

		if err := errs.NilOrError(); err != nil {
			return fmt.Errorf("error running or cleaning: %v", err)
		}

		select {
		// if the session was terminated because of a canceled context, stop
		// the loop
		case <-ctx.Done():
			return nil

			// otherwise just continue with the next generation
		default:
		}
	}
}

// SendError sends an error to the consumer group.
func (cg *ConsumerGroup) SendError(err error) {
	cg.errs <- err
}

// SendMessage sends a message to the consumer group. It returns a channel
// that will be closed when the message has been committed by the group.
func (cg *ConsumerGroup) SendMessage(message *sarama.ConsumerMessage) <-chan struct{} {
	cg.mMessages.Lock()
	defer cg.mMessages.Unlock()

	message.Offset = cg.nextOffset()

	var messages int
	for _, session := range cg.sessions {
		session.SendMessage(message)
		messages++
	}

	cg.messages[message.Offset] += int64(messages)
	cg.wgMessages.Add(messages)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cg.wgMessages.Wait()
	}()

	return done
}

// SendMessageWait sends a message to the consumer group and waits until it
// was committed.
func (cg *ConsumerGroup) SendMessageWait(message *sarama.ConsumerMessage) {
	<-cg.SendMessage(message)
}

// Errors returns the error channel of the consumer group.
func (cg *ConsumerGroup) Errors() <-chan error {
	return cg.errs
}

// Close closes the consumer group.
func (cg *ConsumerGroup) Close() error {
	return nil
}
