package tester

import (
	"fmt"
	"hash"
	"reflect"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka"
	"github.com/folkastream/folka/storage"
)

// T abstracts the interface we assume from the test case. It will most
// likely be a *testing.T.
type T interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatal(a ...interface{})
}

// Tester mimics kafka for complete processor/view/emitter tests. It replaces
// the tested component's storage, consumers and producers, so a test can
// push messages into input topics and assert on table values and emitted
// messages without a running kafka cluster.
//
// All topics have a single partition in the tester.
type Tester struct {
	t T

	producer *producerMock
	tmgr     *MockTopicManager

	mClients sync.RWMutex
	clients  map[string]*client

	codecs map[string]folka.Codec

	mQueues     sync.RWMutex
	topicQueues map[string]*queue

	mStorages sync.RWMutex
	storages  map[string]storage.Storage
}

// New creates a new tester. Pass it to the tested component via
// folka.WithTester, folka.WithViewTester or folka.WithEmitterTester.
func New(t T) *Tester {
	tt := &Tester{
		t: t,

		clients: make(map[string]*client),

		codecs:      make(map[string]folka.Codec),
		topicQueues: make(map[string]*queue),
		storages:    make(map[string]storage.Storage),
	}
	tt.producer = newProducerMock(tt.handleEmit)
	tt.tmgr = newMockTopicManager(tt, 1, 1)

	return tt
}

func (tt *Tester) nextClient() *client {
	tt.mClients.Lock()
	defer tt.mClients.Unlock()
	c := &client{
		clientID: fmt.Sprintf("client-%d", len(tt.clients)),
		consumer: newConsumerMock(tt),
	}
	tt.clients[c.clientID] = c
	return c
}

// StorageBuilder builds shared in-memory storages, one per topic.
func (tt *Tester) StorageBuilder() storage.Builder {
	return func(topic string, partition int32) (storage.Storage, error) {
		tt.mStorages.Lock()
		defer tt.mStorages.Unlock()
		if st, exists := tt.storages[topic]; exists {
			return st, nil
		}
		st := storage.NewMemory()
		tt.storages[topic] = st
		return st, nil
	}
}

// ConsumerGroupBuilder builds the consumer group for the client registered
// under the clientID.
func (tt *Tester) ConsumerGroupBuilder() folka.ConsumerGroupBuilder {
	return func(brokers []string, group, clientID string) (folka.ConsumerGroup, error) {
		tt.mClients.RLock()
		client, exists := tt.clients[clientID]
		tt.mClients.RUnlock()
		if !exists {
			return nil, fmt.Errorf("cannot create consumer group, no client registered with ID %s", clientID)
		}

		if client.consumerGroup == nil {
			return nil, fmt.Errorf("client %s did not register a consumer group", clientID)
		}
		return client.consumerGroup, nil
	}
}

// ConsumerBuilder builds the partition consumer for the client registered
// under the clientID.
func (tt *Tester) ConsumerBuilder() folka.SaramaConsumerBuilder {
	return func(brokers []string, clientID string) (folka.Consumer, error) {
		tt.mClients.RLock()
		defer tt.mClients.RUnlock()

		client, exists := tt.clients[clientID]
		if !exists {
			return nil, fmt.Errorf("cannot create consumer, no client registered with ID %s", clientID)
		}
		return client.consumer, nil
	}
}

// ProducerBuilder builds the tester's producer.
func (tt *Tester) ProducerBuilder() folka.ProducerBuilder {
	return func(brokers []string, clientID string, hasher func() hash.Hash32) (folka.Producer, error) {
		return tt.producer, nil
	}
}

// EmitterProducerBuilder builds a producer that waits for the other clients
// to consume the emitted message before resolving the promise.
func (tt *Tester) EmitterProducerBuilder() folka.ProducerBuilder {
	builder := tt.ProducerBuilder()
	return func(b []string, cid string, hasher func() hash.Hash32) (folka.Producer, error) {
		prod, err := builder(b, cid, hasher)
		return &dependentProducer{
			tt:       tt,
			producer: prod,
		}, err
	}
}

// TopicManagerBuilder returns the tester's topic manager.
func (tt *Tester) TopicManagerBuilder() folka.TopicManagerBuilder {
	return func(brokers []string) (folka.TopicManager, error) {
		return tt.tmgr, nil
	}
}

// RegisterTopology registers a processor topology to the tester and returns
// the client ID to identify the processor's mocks.
func (tt *Tester) RegisterTopology(t *folka.Topology) string {
	client := tt.nextClient()

	// processors consume via a consumer group. Creating it here makes
	// waitStartup block until the processor is actually running.
	client.consumerGroup = newConsumerGroup(tt.t, tt)

	if gt := t.GroupTable(); gt != nil {
		tt.getOrCreateQueue(gt.Topic())
		tt.registerCodec(gt.Topic(), gt.Codec())
	}

	for _, input := range t.InputStreams() {
		tt.getOrCreateQueue(input.Topic())
		tt.registerCodec(input.Topic(), input.Codec())
	}

	for _, output := range t.OutputStreams() {
		tt.getOrCreateQueue(output.Topic())
		tt.registerCodec(output.Topic(), output.Codec())
	}

	if rs := t.RepartitionStream(); rs != nil {
		tt.getOrCreateQueue(rs.Topic())
		tt.registerCodec(rs.Topic(), rs.Codec())
	}

	return client.clientID
}

// RegisterView registers a view to the tester and returns the client ID of
// the view's mocks.
func (tt *Tester) RegisterView(table folka.Table, c folka.Codec) string {
	client := tt.nextClient()
	client.requireConsumer(string(table))
	tt.getOrCreateQueue(string(table))
	tt.registerCodec(string(table), c)
	return client.clientID
}

// RegisterEmitter registers an emitter to the tester.
func (tt *Tester) RegisterEmitter(topic folka.Stream, codec folka.Codec) {
	tt.getOrCreateQueue(string(topic))
	tt.registerCodec(string(topic), codec)
}

func (tt *Tester) getOrCreateQueue(topic string) *queue {
	tt.mQueues.RLock()
	q, exists := tt.topicQueues[topic]
	tt.mQueues.RUnlock()
	if exists {
		return q
	}

	tt.mQueues.Lock()
	defer tt.mQueues.Unlock()
	if q, exists = tt.topicQueues[topic]; !exists {
		q = newQueue(topic)
		tt.topicQueues[topic] = q
	}
	return q
}

func (tt *Tester) codecForTopic(topic string) folka.Codec {
	codec, exists := tt.codecs[topic]
	if !exists {
		panic(fmt.Errorf("no codec for topic %s registered", topic))
	}
	return codec
}

func (tt *Tester) registerCodec(topic string, codec folka.Codec) {
	if existingCodec, exists := tt.codecs[topic]; exists {
		if reflect.TypeOf(codec) != reflect.TypeOf(existingCodec) {
			panic(fmt.Errorf("different codecs for topic %s (%#v and %#v)", topic, codec, existingCodec))
		}
	}
	tt.codecs[topic] = codec
}

// handleEmit appends the emitted message to the topic's queue and resolves
// the promise immediately.
func (tt *Tester) handleEmit(topic string, key string, value []byte) *folka.Promise {
	promise := folka.NewPromise()
	offset := tt.pushMessage(topic, key, value)
	return promise.Finish(&sarama.ProducerMessage{Offset: offset}, nil)
}

func (tt *Tester) pushMessage(topic string, key string, data []byte) int64 {
	return tt.getOrCreateQueue(topic).push(key, data)
}

// waitStartup blocks until all registered clients are consuming.
func (tt *Tester) waitStartup() {
	tt.mClients.RLock()
	defer tt.mClients.RUnlock()
	for _, client := range tt.clients {
		client.waitStartup()
	}
}

// waitForClients pushes queued messages to the clients until all clients
// have caught up with all queues. Processing a message may emit new ones
// (e.g. into the repartition topic), so this loops until nothing moves
// anymore.
func (tt *Tester) waitForClients() {
	for {
		var totalCatchup int
		tt.mClients.RLock()
		for _, client := range tt.clients {
			totalCatchup += client.catchup()
		}
		tt.mClients.RUnlock()

		if totalCatchup == 0 {
			return
		}
	}
}

// Consume pushes a message to a topic and waits until all clients have
// processed it (and everything it caused) before returning.
func (tt *Tester) Consume(topic string, key string, msg interface{}) {
	tt.waitStartup()

	value := reflect.ValueOf(msg)
	if msg == nil || (value.Kind() == reflect.Ptr && value.IsNil()) {
		tt.pushMessage(topic, key, nil)
	} else {
		data, err := tt.codecForTopic(topic).Encode(msg)
		if err != nil {
			tt.t.Fatalf("error encoding value %v: %v", msg, err)
		}
		tt.pushMessage(topic, key, data)
	}

	tt.waitForClients()
}

// TableValue attempts to get a value from any table that is used by the
// tester.
func (tt *Tester) TableValue(table folka.Table, key string) interface{} {
	tt.waitStartup()
	tt.waitForClients()

	topic := string(table)
	tt.mStorages.RLock()
	st, exists := tt.storages[topic]
	tt.mStorages.RUnlock()
	if !exists {
		tt.t.Fatalf("topic %s does not exist", topic)
		return nil
	}
	item, err := st.Get(key)
	if err != nil {
		tt.t.Fatalf("error getting table value from storage (table=%s, key=%s): %v", topic, key, err)
		return nil
	}
	if item == nil {
		return nil
	}
	value, err := tt.codecForTopic(topic).Decode(item)
	if err != nil {
		tt.t.Fatalf("error decoding table value from storage (table=%s, key=%s, value=%v): %v", topic, key, item, err)
	}
	return value
}

// SetTableValue sets a value in a processor's or view's table direcly via
// storage.
func (tt *Tester) SetTableValue(table folka.Table, key string, value interface{}) {
	tt.waitStartup()
	tt.waitForClients()

	topic := string(table)
	tt.mStorages.RLock()
	st, exists := tt.storages[topic]
	tt.mStorages.RUnlock()
	if !exists {
		tt.t.Fatalf("storage for topic %s does not exist", topic)
		return
	}
	data, err := tt.codecForTopic(topic).Encode(value)
	if err != nil {
		tt.t.Fatalf("error decoding value %v: %v", value, err)
		return
	}

	if err := st.Set(key, data); err != nil {
		panic(fmt.Errorf("error setting key %s in storage %s: %v", key, table, err))
	}
}

// ClearValues resets all table values of the tester, e.g. between test
// cases. The offsets are kept, so a processor keeps running.
func (tt *Tester) ClearValues() {
	tt.mStorages.Lock()
	defer tt.mStorages.Unlock()
	for topic, st := range tt.storages {
		it, err := st.Iterator()
		if err != nil {
			tt.t.Fatalf("error creating iterator for topic %s: %v", topic, err)
			continue
		}
		var keys []string
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		it.Release()
		for _, key := range keys {
			if err := st.Delete(key); err != nil {
				tt.t.Fatalf("error deleting key %s of topic %s: %v", key, topic, err)
			}
		}
	}
}

// NewQueueTracker creates a queue tracker for a topic that starts tracking
// at the topic's current end.
func (tt *Tester) NewQueueTracker(topic string) *QueueTracker {
	tt.waitStartup()

	queueTracker := newQueueTracker(tt, tt.t, topic)
	tt.waitForClients()
	queueTracker.Seek(queueTracker.Hwm())
	return queueTracker
}

// dependentProducer waits for the registered clients after emitting, so an
// emitter test observes the effect of its messages synchronously.
type dependentProducer struct {
	tt       *Tester
	producer folka.Producer
}

func (p *dependentProducer) Emit(topic string, key string, value []byte) *folka.Promise {
	promise := p.producer.Emit(topic, key, value)
	p.tt.waitForClients()
	return promise
}

func (p *dependentProducer) Close() error {
	return p.producer.Close()
}
