package folka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka/logger"
	"github.com/folkastream/folka/multierr"
)

const (
	// stats requests are exchanged with the run loop, so they time out if it
	// is busy or gone
	fetchStatsTimeout = 10 * time.Second
)

// PPState is the state of a partition processor.
type PPState int

const (
	// PPStateIdle marks the partition processor as idling (not started yet)
	PPStateIdle PPState = iota
	// PPStateRecovering indicates a recovering partition processor
	PPStateRecovering
	// PPStateRunning indicates a running partition processor
	PPStateRunning
	// PPStateStopping indicates a stopping partition processor
	PPStateStopping
	// PPStateStopped indicates a stopped partition processor
	PPStateStopped
)

// PartitionProcessor handles the processing of one partition of the group's
// input topics: it recovers the partition's table from the table topic,
// then consumes the partition's messages and calls the topology's callbacks.
type PartitionProcessor struct {
	callbacks map[string]ProcessCallback

	log logger.Logger

	table *PartitionTable

	graph *Topology

	state *Signal

	partition int32

	input       chan *sarama.ConsumerMessage
	inputTopics []string

	runnerGroup       *multierr.ErrGroup
	runnerCtx         context.Context
	cancelRunnerGroup func()

	// runnerErrors is closed when the processing loop is done, receiving its
	// error if it failed
	runnerErrors chan error

	consumer Consumer
	producer Producer
	tmgr     TopicManager

	session sarama.ConsumerGroupSession

	stats         *PartitionProcStats
	requestStats  chan bool
	responseStats chan *PartitionProcStats

	opts *poptions
}

func newPartitionProcessor(partition int32,
	graph *Topology,
	session sarama.ConsumerGroupSession,
	log logger.Logger,
	opts *poptions,
	consumer Consumer,
	producer Producer,
	tmgr TopicManager,
	backoff Backoff) *PartitionProcessor {

	// collect the callbacks per topic
	callbacks := make(map[string]ProcessCallback)
	var inputTopics []string
	var outputTopics []string
	for _, input := range graph.inputs() {
		callbacks[input.Topic()] = graph.callback(input.Topic())
		inputTopics = append(inputTopics, input.Topic())
	}
	for _, output := range graph.OutputStreams() {
		outputTopics = append(outputTopics, output.Topic())
	}
	if graph.RepartitionStream() != nil {
		outputTopics = append(outputTopics, graph.RepartitionStream().Topic())
	}
	outputTopics = append(outputTopics, graph.GroupTable().Topic())

	pp := &PartitionProcessor{
		log:           log.Prefix(fmt.Sprintf("PartitionProcessor (%d)", partition)),
		opts:          opts,
		partition:     partition,
		state:         NewSignal(State(PPStateIdle), State(PPStateRecovering), State(PPStateRunning), State(PPStateStopping), State(PPStateStopped)).SetState(State(PPStateIdle)),
		callbacks:     callbacks,
		inputTopics:   inputTopics,
		input:         make(chan *sarama.ConsumerMessage, opts.partitionChannelSize),
		graph:         graph,
		stats:         newPartitionProcStats(inputTopics, outputTopics),
		requestStats:  make(chan bool),
		responseStats: make(chan *PartitionProcStats, 1),
		runnerErrors:  make(chan error, 1),
		session:       session,
		consumer:      consumer,
		producer:      producer,
		tmgr:          tmgr,
	}

	pp.table = newPartitionTable(graph.GroupTable().Topic(),
		partition,
		consumer,
		tmgr,
		opts.updateCallback,
		opts.builders.storage,
		pp.log.Prefix("PartTable"),
		backoff,
		opts.maxStoreAttempts,
	)
	return pp
}

// EnqueueMessage enqueues a message in the partition processor's event
// channel for processing.
func (pp *PartitionProcessor) EnqueueMessage(msg *sarama.ConsumerMessage) {
	select {
	case pp.input <- msg:
	case <-pp.runnerCtx.Done():
	}
}

// Start recovers the table of the partition and then starts the processing
// loop. The setup context limits the time used for recovery, the runner
// context limits the lifetime of the processing loop.
func (pp *PartitionProcessor) Start(setupCtx, ctx context.Context) error {
	ctx, pp.cancelRunnerGroup = context.WithCancel(ctx)

	var runnerCtx context.Context
	pp.runnerGroup, runnerCtx = multierr.NewErrGroup(ctx)
	pp.runnerCtx = runnerCtx

	setupErrg, setupCtx := multierr.NewErrGroup(setupCtx)

	pp.state.SetState(State(PPStateRecovering))

	setupErrg.Go(func() error {
		pp.log.Debugf("catching up table")
		defer pp.log.Debugf("catching up table done")
		return pp.table.SetupAndRecover(setupCtx)
	})

	if err := setupErrg.Wait().NilOrError(); err != nil {
		return fmt.Errorf("setup failed. Cannot start processor for partition %d: %v", pp.partition, err)
	}

	select {
	case <-ctx.Done():
		return nil
	default:
	}

	pp.state.SetState(State(PPStateRunning))
	pp.runnerGroup.Go(func() error {
		return pp.run(runnerCtx)
	})
	go func() {
		defer close(pp.runnerErrors)
		if err := pp.runnerGroup.Wait().NilOrError(); err != nil {
			pp.runnerErrors <- err
		}
	}()
	return nil
}

// Errors returns a channel that is closed when the processing loop finished.
// It receives the error that stopped the loop, if any.
func (pp *PartitionProcessor) Errors() <-chan error {
	return pp.runnerErrors
}

// Stop stops the partition processor and returns errors the processing loop
// collected while running.
func (pp *PartitionProcessor) Stop() error {
	pp.log.Debugf("Stopping")
	defer pp.log.Debugf("... Stopping done")

	pp.state.SetState(State(PPStateStopping))
	defer pp.state.SetState(State(PPStateStopped))

	errs := new(multierr.Errors)

	if pp.cancelRunnerGroup != nil {
		pp.cancelRunnerGroup()
	}
	if pp.runnerGroup != nil {
		errs.Merge(pp.runnerGroup.Wait())
	}
	if pp.table != nil {
		errs.Collect(pp.table.Close())
	}

	return errs.NilOrError()
}

func (pp *PartitionProcessor) run(ctx context.Context) (rerr error) {
	pp.log.Debugf("starting")
	defer pp.log.Debugf("stopped")

	var (
		// wg tracks messages that still have pending emits
		wg          sync.WaitGroup
		asyncErrors = make(chan error, pp.opts.partitionChannelSize)
	)

	defer func() {
		if r := recover(); r != nil {
			rerr = fmt.Errorf("%v\n%v", r, strings.Join(userStacktrace(), "\n"))
			return
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(60 * time.Second):
			pp.log.Printf("partition processor did not shut down properly. Will stop waiting")
		}

		// collect async errors that have occurred meanwhile
		errs := new(multierr.Errors)
		errs.Collect(rerr)
		for {
			select {
			case err := <-asyncErrors:
				errs.Collect(err)
			default:
				rerr = errs.NilOrError()
				return
			}
		}
	}()

	// failers used by the message contexts. The sync failer aborts message
	// processing by panicking, the panic is recovered above. The async failer
	// reports emit errors back to the run loop.
	syncFailer := func(err error) {
		// do not panic into the callback if we are already shutting down
		select {
		case <-ctx.Done():
			pp.log.Printf("sync error occurred during shutdown: %v", err)
			return
		default:
		}
		panic(err)
	}

	asyncFailer := func(err error) {
		select {
		case asyncErrors <- err:
		default:
			pp.log.Printf("async error buffer full, dropping error: %v", err)
		}
	}

	for {
		select {
		case msg, ok := <-pp.input:
			if !ok {
				return nil
			}
			pp.stats.trackInput(msg)

			if err := pp.processMessage(ctx, &wg, msg, syncFailer, asyncFailer); err != nil {
				return fmt.Errorf("error processing message: from %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			}

		case <-pp.requestStats:
			stats := pp.collectStats(ctx)
			select {
			case pp.responseStats <- stats:
			case <-ctx.Done():
				pp.log.Debugf("exiting, context is cancelled")
				return nil
			}

		case err := <-asyncErrors:
			return fmt.Errorf("async error occurred: %v", err)

		case <-ctx.Done():
			pp.log.Debugf("exiting, context is cancelled")
			return nil
		}
	}
}

func (pp *PartitionProcessor) processMessage(ctx context.Context, wg *sync.WaitGroup, msg *sarama.ConsumerMessage, syncFailer func(err error), asyncFailer func(err error)) error {
	cb := pp.callbacks[msg.Topic]
	if cb == nil {
		return fmt.Errorf("no callback registered for topic %s", msg.Topic)
	}

	// drop nil messages if configured to ignore them
	if msg.Value == nil && pp.opts.nilHandling == NilIgnore {
		pp.session.MarkMessage(msg, "")
		return nil
	}

	var (
		m   interface{}
		err error
	)
	if msg.Value != nil || pp.opts.nilHandling == NilDecode {
		codec := pp.graph.codec(msg.Topic)
		if codec == nil {
			return fmt.Errorf("cannot decode message for topic %s, no codec registered", msg.Topic)
		}
		m, err = codec.Decode(msg.Value)
		if err != nil {
			// a malformed message cannot be retried, skip it and move on
			pp.log.Printf("skipping undecodable message %s/%d/%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			pp.session.MarkMessage(msg, "")
			return nil
		}
	}

	msgContext := &cbContext{
		ctx:    ctx,
		graph:  pp.graph,
		wg:     wg,
		pstats: pp.stats,
		table:  pp.table,
		msg:    msg,
		emitter: func(topic string, key string, value []byte) *Promise {
			return pp.producer.Emit(topic, key, value)
		},
		asyncFailer: asyncFailer,
		syncFailer:  syncFailer,
		errors:      new(multierr.Errors),
	}
	msgContext.commit = func() { pp.commit(msg, msgContext) }

	// start context and call the ProcessCallback cb
	msgContext.start()
	cb(msgContext, m)
	msgContext.finish(nil)
	return nil
}

// commit marks the message as processed in the consumer session. If the
// callback updated the table, the stored table offset is moved by the number
// of table writes, each of them becomes one message in the table topic.
func (pp *PartitionProcessor) commit(msg *sarama.ConsumerMessage, msgContext *cbContext) {
	if msgContext != nil && msgContext.counters.stores > 0 {
		if err := pp.table.IncrementOffsets(int64(msgContext.counters.stores)); err != nil {
			pp.log.Printf("error incrementing offset of table %s/%d: %v", pp.table.topic, pp.partition, err)
		}
	}
	pp.session.MarkMessage(msg, "")
}

func (pp *PartitionProcessor) collectStats(ctx context.Context) *PartitionProcStats {
	stats := pp.stats.clone()
	stats.TableStats = pp.table.fetchStats()
	stats.Now = time.Now()
	return stats
}

func (pp *PartitionProcessor) fetchStats(ctx context.Context) *PartitionProcStats {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(fetchStatsTimeout):
		pp.log.Printf("requesting stats timed out")
		return nil
	case pp.requestStats <- true:
	}

	// retrieve from response-channel
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(fetchStatsTimeout):
		pp.log.Printf("Fetching stats timed out")
		return nil
	case stats := <-pp.responseStats:
		return stats
	}
}
