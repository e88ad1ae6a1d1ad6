package tester

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka"
	"github.com/folkastream/folka/multierr"
)

const (
	cgStateStopped folka.State = iota
	cgStateSetup
	cgStateConsuming
	cgStateCleaning
)

// consumerGroup is a fake implementation of the folka.ConsumerGroup
// interface. It runs a single member and a single generation, all partitions
// of all topics are claimed as partition 0.
type consumerGroup struct {
	t  T
	tt *Tester

	errs chan error

	mSession          sync.Mutex
	currentGeneration int32
	currentSession    *cgSession

	state *folka.Signal
}

func newConsumerGroup(t T, tt *Tester) *consumerGroup {
	return &consumerGroup{
		t:     t,
		tt:    tt,
		errs:  make(chan error, 10),
		state: folka.NewSignal(cgStateStopped, cgStateSetup, cgStateConsuming, cgStateCleaning).SetState(cgStateStopped),
	}
}

func (cg *consumerGroup) waitRunning() {
	<-cg.state.WaitForState(cgStateConsuming)
}

func (cg *consumerGroup) catchupAndWait() int {
	cg.mSession.Lock()
	session := cg.currentSession
	cg.mSession.Unlock()

	if session == nil {
		return 0
	}
	return session.catchupAndWait()
}

// Consume runs a single consumer group session until the context is
// canceled. Rebalances do not occur in the tester.
func (cg *consumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if !cg.state.IsState(cgStateStopped) {
		return fmt.Errorf("concurrent consumption is not supported by the tester")
	}

	cg.mSession.Lock()
	cg.currentGeneration++
	session := newCgSession(ctx, cg.currentGeneration, cg.tt, topics)
	cg.currentSession = session
	cg.mSession.Unlock()

	cg.state.SetState(cgStateSetup)
	if err := handler.Setup(session); err != nil {
		cg.state.SetState(cgStateStopped)
		return fmt.Errorf("error setting up consumer group session: %v", err)
	}

	errg, _ := multierr.NewErrGroup(ctx)
	for _, claim := range session.claims {
		claim := claim
		errg.Go(func() error {
			return handler.ConsumeClaim(session, claim)
		})
	}

	cg.state.SetState(cgStateConsuming)

	// wait for the test to terminate the session
	<-ctx.Done()

	// closing the claims makes the ConsumeClaim calls return
	session.stop()

	errs := new(multierr.Errors)
	errs.Collect(errg.Wait().NilOrError())

	cg.state.SetState(cgStateCleaning)
	errs.Collect(handler.Cleanup(session))

	cg.mSession.Lock()
	cg.currentSession = nil
	cg.mSession.Unlock()

	cg.state.SetState(cgStateStopped)
	return errs.NilOrError()
}

func (cg *consumerGroup) Errors() <-chan error {
	return cg.errs
}

func (cg *consumerGroup) Close() error {
	close(cg.errs)
	return nil
}

// queueSession tracks how far a consumer group session has read a queue.
type queueSession struct {
	sync.Mutex
	queue      *queue
	nextOffset int64
}

func (qs *queueSession) pending() []*message {
	qs.Lock()
	defer qs.Unlock()
	return qs.queue.messagesFromOffset(qs.nextOffset)
}

func (qs *queueSession) setNextOffset(offset int64) {
	qs.Lock()
	defer qs.Unlock()
	qs.nextOffset = offset
}

// cgSession implements sarama.ConsumerGroupSession for the tester.
type cgSession struct {
	ctx        context.Context
	generation int32
	tt         *Tester

	claims map[string]*cgClaim
	queues map[string]*queueSession

	mMessages       sync.Mutex
	wgMessages      sync.WaitGroup
	waitingMessages map[string]bool

	stopOnce sync.Once
}

func newCgSession(ctx context.Context, generation int32, tt *Tester, topics []string) *cgSession {
	cgs := &cgSession{
		ctx:             ctx,
		generation:      generation,
		tt:              tt,
		claims:          make(map[string]*cgClaim),
		queues:          make(map[string]*queueSession),
		waitingMessages: make(map[string]bool),
	}
	for _, topic := range topics {
		cgs.queues[topic] = &queueSession{
			queue: tt.getOrCreateQueue(topic),
		}
		cgs.claims[topic] = newCgClaim(topic, 0)
	}
	return cgs
}

// catchupAndWait pushes all unread messages of the session's topics into the
// claims and waits until every one of them was marked by the handler.
func (cgs *cgSession) catchupAndWait() int {
	var pushed int
	for topic, qs := range cgs.queues {
		for _, msg := range qs.pending() {
			cgs.pushMessageToClaim(cgs.claims[topic], msg)
			qs.setNextOffset(msg.offset + 1)
			pushed++
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cgs.wgMessages.Wait()
	}()

	select {
	case <-done:
	case <-cgs.ctx.Done():
	}
	return pushed
}

func (cgs *cgSession) pushMessageToClaim(claim *cgClaim, msg *message) {
	cgs.mMessages.Lock()
	msgKey := cgs.msgKey(claim.Topic(), msg.offset)
	if cgs.waitingMessages[msgKey] {
		cgs.mMessages.Unlock()
		cgs.tt.t.Fatalf("already waiting for message %s. The tester pushed it twice, this is a bug", msgKey)
		return
	}
	cgs.waitingMessages[msgKey] = true
	cgs.wgMessages.Add(1)
	cgs.mMessages.Unlock()

	claim.msgs <- &sarama.ConsumerMessage{
		Topic:     claim.Topic(),
		Partition: claim.Partition(),
		Offset:    msg.offset,
		Key:       []byte(msg.key),
		Value:     msg.value,
	}
}

func (cgs *cgSession) msgKey(topic string, offset int64) string {
	return fmt.Sprintf("%s-%d", topic, offset)
}

func (cgs *cgSession) stop() {
	cgs.stopOnce.Do(func() {
		for _, claim := range cgs.claims {
			close(claim.msgs)
		}
	})
}

// Claims implements sarama.ConsumerGroupSession.
func (cgs *cgSession) Claims() map[string][]int32 {
	claims := make(map[string][]int32, len(cgs.claims))
	for topic := range cgs.claims {
		claims[topic] = []int32{0}
	}
	return claims
}

// MemberID implements sarama.ConsumerGroupSession.
func (cgs *cgSession) MemberID() string {
	return "tester"
}

// GenerationID implements sarama.ConsumerGroupSession.
func (cgs *cgSession) GenerationID() int32 {
	return cgs.generation
}

// MarkOffset implements sarama.ConsumerGroupSession. Marking offset x
// acknowledges the message with offset x-1, matching sarama's semantics.
func (cgs *cgSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
	cgs.mMessages.Lock()
	defer cgs.mMessages.Unlock()

	msgKey := cgs.msgKey(topic, offset-1)
	if !cgs.waitingMessages[msgKey] {
		cgs.tt.t.Fatalf("marking message %s that was not pushed. This is a bug in the tester", msgKey)
		return
	}
	delete(cgs.waitingMessages, msgKey)
	cgs.wgMessages.Done()
}

// ResetOffset implements sarama.ConsumerGroupSession. It is a no-op in the
// tester.
func (cgs *cgSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
}

// MarkMessage implements sarama.ConsumerGroupSession.
func (cgs *cgSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	cgs.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}

// Commit implements sarama.ConsumerGroupSession. Offsets are not stored by
// the tester, so it is a no-op.
func (cgs *cgSession) Commit() {
}

// Context implements sarama.ConsumerGroupSession.
func (cgs *cgSession) Context() context.Context {
	return cgs.ctx
}

// cgClaim implements sarama.ConsumerGroupClaim for one topic.
type cgClaim struct {
	topic     string
	partition int32
	msgs      chan *sarama.ConsumerMessage
}

func newCgClaim(topic string, partition int32) *cgClaim {
	return &cgClaim{
		topic:     topic,
		partition: partition,
		msgs:      make(chan *sarama.ConsumerMessage),
	}
}

// Topic implements sarama.ConsumerGroupClaim.
func (cgc *cgClaim) Topic() string {
	return cgc.topic
}

// Partition implements sarama.ConsumerGroupClaim.
func (cgc *cgClaim) Partition() int32 {
	return cgc.partition
}

// InitialOffset implements sarama.ConsumerGroupClaim.
func (cgc *cgClaim) InitialOffset() int64 {
	return sarama.OffsetOldest
}

// HighWaterMarkOffset implements sarama.ConsumerGroupClaim.
func (cgc *cgClaim) HighWaterMarkOffset() int64 {
	return 0
}

// Messages implements sarama.ConsumerGroupClaim.
func (cgc *cgClaim) Messages() <-chan *sarama.ConsumerMessage {
	return cgc.msgs
}
