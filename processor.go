package folka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka/logger"
	"github.com/folkastream/folka/multierr"
	"github.com/folkastream/folka/storage"
)

// ProcessCallback function is called for every message received by the
// processor.
type ProcessCallback func(ctx Context, msg interface{})

// ProcState is the state of a processor.
type ProcState int

const (
	// ProcStateIdle indicates an idling partition processor (not started yet)
	ProcStateIdle ProcState = iota
	// ProcStateStarting indicates a starting partition processor, i.e. before
	// a rebalance
	ProcStateStarting
	// ProcStateSetup indicates a partition processor during setup of a
	// rebalance round
	ProcStateSetup
	// ProcStateRunning indicates a running partition processor
	ProcStateRunning
	// ProcStateStopping indicates a stopping partition processor
	ProcStateStopping
)

// Processor is a set of stateful callbacks consuming messages from the
// topology's input topics. The group's keyed state is partitioned over all
// running instances of the processor, each instance owning the partitions
// the consumer group assigned to it.
type Processor struct {
	opts    *poptions
	log     logger.Logger
	brokers []string

	graph *Topology

	partitionCount int

	// partition processors of the current generation, keyed by partition
	mTables    sync.RWMutex
	partitions map[int32]*PartitionProcessor

	saramaConsumer Consumer
	producer       Producer
	tmgr           TopicManager

	state *Signal

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor creates a processor instance in a group given the address of
// Kafka brokers, the consumer group topology and optionally a list of
// options.
func NewProcessor(brokers []string, graph *Topology, options ...ProcessorOption) (*Processor, error) {
	options = append(
		// default options comes first
		[]ProcessorOption{
			WithClientID(fmt.Sprintf("folka-processor-%s", graph.Group())),
			WithLogger(logger.Default()),
			WithUpdateCallback(DefaultUpdate),
			WithPartitionChannelSize(defaultPartitionChannelSize),
			WithStorageBuilder(storage.DefaultBuilder(DefaultProcessorStoragePath(graph.Group()))),
		},

		// user-defined options (may overwrite default ones)
		options...,
	)

	if err := graph.Validate(); err != nil {
		return nil, err
	}

	opts := new(poptions)
	err := opts.applyOptions(graph, options...)
	if err != nil {
		return nil, fmt.Errorf(errApplyOptions, err)
	}

	return &Processor{
		opts:       opts,
		log:        opts.log.Prefix(fmt.Sprintf("Processor %s", graph.Group())),
		brokers:    brokers,
		partitions: make(map[int32]*PartitionProcessor),
		graph:      graph,
		state:      NewSignal(State(ProcStateIdle), State(ProcStateStarting), State(ProcStateSetup), State(ProcStateRunning), State(ProcStateStopping)).SetState(State(ProcStateIdle)),
		done:       make(chan struct{}),
	}, nil
}

// Run starts the processor using the passed context. It returns after the
// context is canceled, the processor is stopped or an error occurs.
func (g *Processor) Run(ctx context.Context) (rerr error) {
	g.log.Debugf("starting")
	defer g.log.Debugf("stopped")

	// done can be used by the tests to wait for the processor to shut down
	defer close(g.done)

	errs := new(multierr.Errors)
	defer func() {
		rerr = errs.Collect(rerr).NilOrError()
	}()

	// create errorgroup
	ctx, g.cancel = context.WithCancel(ctx)
	errg, ctx := multierr.NewErrGroup(ctx)
	g.ctx = ctx

	g.state.SetState(State(ProcStateStarting))

	// collect all required clients
	consumerGroup, err := g.opts.builders.consumerGroup(g.brokers, string(g.graph.Group()), g.opts.clientID)
	if err != nil {
		return fmt.Errorf(errBuildConsumer, err)
	}
	defer func() { errs.Collect(consumerGroup.Close()) }()

	// errors of the consumer group are not fatal, e.g. temporary connection
	// loss makes the group rejoin
	go func() {
		for err := range consumerGroup.Errors() {
			g.log.Printf("error from consumer group: %v", err)
		}
	}()

	g.saramaConsumer, err = g.opts.builders.consumerSarama(g.brokers, g.opts.clientID)
	if err != nil {
		return fmt.Errorf(errBuildConsumer, err)
	}
	defer func() { errs.Collect(g.saramaConsumer.Close()) }()

	g.tmgr, err = g.opts.builders.topicmgr(g.brokers)
	if err != nil {
		return fmt.Errorf("error creating topic manager: %v", err)
	}
	defer func() { errs.Collect(g.tmgr.Close()) }()

	g.producer, err = g.opts.builders.producer(g.brokers, g.opts.clientID, g.opts.hasher)
	if err != nil {
		return fmt.Errorf(errBuildProducer, err)
	}
	defer func() { errs.Collect(g.producer.Close()) }()

	// check or create all topics the topology needs
	if err = g.prepareTopics(); err != nil {
		return err
	}

	// run the main rebalance-consume loop
	errg.Go(func() error {
		return g.rebalanceLoop(ctx, consumerGroup)
	})

	return errg.Wait().NilOrError()
}

func (g *Processor) rebalanceLoop(ctx context.Context, consumerGroup ConsumerGroup) error {
	topics := g.graph.inputs().Topics()

	defer g.state.SetState(State(ProcStateStopping))

	for {
		sessionErr := consumerGroup.Consume(ctx, topics, g)
		if sessionErr != nil {
			return fmt.Errorf("error running the consumer group: %v", sessionErr)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
			// Consume returned without error, a rebalance kicked us out of
			// the group. Join again after a short pause.
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func (g *Processor) prepareTopics() error {
	npar, err := ensureCopartitioned(g.tmgr, g.graph.InputStreams().Topics())
	if err != nil {
		return err
	}
	g.partitionCount = npar

	if rs := g.graph.RepartitionStream(); rs != nil {
		if err := g.tmgr.EnsureStreamExists(rs.Topic(), npar); err != nil {
			return fmt.Errorf("error ensuring repartition topic %s: %v", rs.Topic(), err)
		}
	}
	if gt := g.graph.GroupTable(); gt != nil {
		if err := g.tmgr.EnsureTableExists(gt.Topic(), npar); err != nil {
			return fmt.Errorf("error ensuring table topic %s: %v", gt.Topic(), err)
		}
	}
	return nil
}

// ensureCopartitioned checks that all input topics have the same, gap-less
// set of partitions and returns their number.
func ensureCopartitioned(tm TopicManager, topics []string) (int, error) {
	var npar int
	for _, topic := range topics {
		partitions, err := tm.Partitions(topic)
		if err != nil {
			return 0, fmt.Errorf("error fetching partitions for topic %s: %v", topic, err)
		}
		for i, p := range partitions {
			if i != int(p) {
				return 0, fmt.Errorf("topic %s has partition gap: %v", topic, partitions)
			}
		}
		if npar == 0 {
			npar = len(partitions)
		}
		if len(partitions) != npar {
			return 0, fmt.Errorf("topology has topics with different partition counts, topic %s has %d, others have %d", topic, len(partitions), npar)
		}
	}
	if npar == 0 {
		return 0, errTopicNotFound
	}
	return npar, nil
}

// Stop stops the processor. This is semantically equivalent of closing the
// Context that was passed to Run.
func (g *Processor) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
}

// Done returns a channel that is closed when the processor shuts down.
func (g *Processor) Done() <-chan struct{} {
	return g.done
}

// StateReader returns the current state of the processor for monitoring.
func (g *Processor) StateReader() StateReader {
	return g.state
}

// Graph returns the topology of the processor.
func (g *Processor) Graph() *Topology {
	return g.graph
}

// WaitForReady waits until the processor is ready to consume messages (or is
// actually consuming). Returns immediately if the processor is already done.
func (g *Processor) WaitForReady() {
	_ = g.waitForReady(context.Background())
}

// WaitForReadyContext is context-aware WaitForReady.
func (g *Processor) WaitForReadyContext(ctx context.Context) error {
	return g.waitForReady(ctx)
}

func (g *Processor) waitForReady(ctx context.Context) error {
	// wait for the processor to be started (or stopped)
	select {
	case <-g.state.WaitForStateMin(State(ProcStateStarting)):
	case <-g.done:
		return nil
	case <-ctx.Done():
		return errors.New("context closed before processor was started")
	}

	// wait that the processor is actually running
	select {
	case <-g.state.WaitForState(State(ProcStateRunning)):
	case <-g.done:
	case <-ctx.Done():
		return errors.New("context closed before processor was running")
	}

	// wait that all partition processors are recovered
	g.mTables.RLock()
	defer g.mTables.RUnlock()
	for _, part := range g.partitions {
		select {
		case <-part.table.WaitRecovered():
		case <-g.done:
		case <-ctx.Done():
			return errors.New("context closed before all partitions were recovered")
		}
	}
	return nil
}

// Get returns a read-only copy of a value from the group table if the
// respective partition is owned by the processor instance. An error is
// returned if the instance does not own the partition holding the key.
// The value is nil if the key does not exist in the table.
func (g *Processor) Get(key string) (interface{}, error) {
	if g.partitionCount == 0 {
		return nil, errors.New("can't get value, processor is not running")
	}

	partition, err := g.hash(key)
	if err != nil {
		return nil, fmt.Errorf("error hashing key %s: %v", key, err)
	}

	g.mTables.RLock()
	pp, ok := g.partitions[partition]
	g.mTables.RUnlock()
	if !ok {
		return nil, fmt.Errorf("this processor does not contain partition %v", partition)
	}

	data, err := pp.table.Get(key)
	if err != nil {
		return nil, fmt.Errorf("error getting key %s: %v", key, err)
	} else if data == nil {
		return nil, nil
	}

	value, err := g.graph.GroupTable().Codec().Decode(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding key %s: %v", key, err)
	}
	return value, nil
}

func (g *Processor) hash(key string) (int32, error) {
	hasher := g.opts.hasher()

	if _, err := hasher.Write([]byte(key)); err != nil {
		return -1, err
	}
	hash := int32(hasher.Sum32() % uint32(g.partitionCount))
	if hash < 0 {
		hash = -hash
	}
	return hash, nil
}

// Stats returns the aggregated stats of the processor, including all its
// partition tables.
func (g *Processor) Stats() *ProcessorStats {
	return g.StatsWithContext(context.Background())
}

// StatsWithContext returns stats as long as the context is not canceled.
func (g *Processor) StatsWithContext(ctx context.Context) *ProcessorStats {
	g.mTables.RLock()
	defer g.mTables.RUnlock()

	var (
		m     sync.Mutex
		stats = newProcessorStats(len(g.partitions))
	)

	errg, ctx := multierr.NewErrGroup(ctx)
	for partID, part := range g.partitions {
		partID, part := partID, part
		errg.Go(func() error {
			partStats := part.fetchStats(ctx)

			m.Lock()
			stats.Group[partID] = partStats
			m.Unlock()
			return nil
		})
	}

	if err := errg.Wait().NilOrError(); err != nil {
		g.log.Printf("error fetching stats: %v", err)
	}

	return stats
}

func (g *Processor) createPartitionProcessor(session sarama.ConsumerGroupSession, partition int32) (*PartitionProcessor, error) {
	backoff, err := g.opts.builders.backoff()
	if err != nil {
		return nil, fmt.Errorf("error creating backoff: %v", err)
	}
	return newPartitionProcessor(partition,
		g.graph,
		session,
		g.log,
		g.opts,
		g.saramaConsumer,
		g.producer,
		g.tmgr,
		backoff), nil
}

// assignmentFromSession extracts the partition assignment from the consumer
// group session and verifies all claimed topics are copartitioned.
func (g *Processor) assignmentFromSession(session sarama.ConsumerGroupSession) (map[int32]int64, error) {
	var assignment map[int32]int64

	for _, claim := range session.Claims() {
		if assignment == nil {
			assignment = make(map[int32]int64, len(claim))
			for _, partition := range claim {
				assignment[partition] = sarama.OffsetNewest
			}
			continue
		}
		if len(claim) != len(assignment) {
			return nil, fmt.Errorf("session claims are not copartitioned: %#v", session.Claims())
		}
		for _, partition := range claim {
			if _, ok := assignment[partition]; !ok {
				return nil, fmt.Errorf("session claims are not copartitioned: %#v", session.Claims())
			}
		}
	}
	return assignment, nil
}

// Setup implements sarama.ConsumerGroupHandler. It is called on a rebalance
// before the claims are consumed and creates a partition processor for every
// assigned partition.
func (g *Processor) Setup(session sarama.ConsumerGroupSession) error {
	g.state.SetState(State(ProcStateSetup))

	g.log.Debugf("setup generation %d, claims=%#v", session.GenerationID(), session.Claims())
	defer g.log.Debugf("setup generation %d ... done", session.GenerationID())

	assignment, err := g.assignmentFromSession(session)
	if err != nil {
		return fmt.Errorf("error verifying assignment from session: %v", err)
	}

	errg, _ := multierr.NewErrGroup(session.Context())

	g.mTables.Lock()
	for partition := range assignment {
		pp, err := g.createPartitionProcessor(session, partition)
		if err != nil {
			g.mTables.Unlock()
			return newErrSetup(partition, err)
		}
		g.partitions[partition] = pp

		errg.Go(func() error {
			if err := pp.Start(session.Context(), g.ctx); err != nil {
				return newErrSetup(pp.partition, err)
			}
			return nil
		})
	}
	g.mTables.Unlock()

	if err := errg.Wait().NilOrError(); err != nil {
		return err
	}

	g.state.SetState(State(ProcStateRunning))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler. It is called at the end of
// a session, once all ConsumeClaim goroutines have exited, and stops all
// partition processors of the generation.
func (g *Processor) Cleanup(session sarama.ConsumerGroupSession) error {
	g.log.Debugf("Cleaning up for generation %d", session.GenerationID())
	defer g.log.Debugf("Cleaning up for generation %d ... done", session.GenerationID())

	g.state.SetState(State(ProcStateStopping))
	defer g.state.SetState(State(ProcStateIdle))

	errg, _ := multierr.NewErrGroup(session.Context())
	g.mTables.Lock()
	for partition, pp := range g.partitions {
		partition, pp := partition, pp
		errg.Go(func() error {
			if err := pp.Stop(); err != nil {
				return newErrProcessing(partition, err)
			}
			return nil
		})
	}
	err := errg.Wait().NilOrError()
	g.partitions = make(map[int32]*PartitionProcessor)
	g.mTables.Unlock()
	return err
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. It reads the messages
// of one claimed partition and forwards them to the partition processor.
func (g *Processor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	g.log.Debugf("ConsumeClaim for topic/partition %s/%d, initialOffset=%d", claim.Topic(), claim.Partition(), claim.InitialOffset())
	defer g.log.Debugf("ConsumeClaim done for topic/partition %s/%d", claim.Topic(), claim.Partition())

	g.mTables.RLock()
	part, has := g.partitions[claim.Partition()]
	g.mTables.RUnlock()
	if !has {
		return fmt.Errorf("no partition processor for partition %d. This is a bug", claim.Partition())
	}

	messages := claim.Messages()
	runnerErrs := part.Errors()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			select {
			case part.input <- msg:
			case err := <-runnerErrs:
				return err
			}

		case err := <-runnerErrs:
			// the partition processor failed (or stopped), end the session
			return err
		}
	}
}
