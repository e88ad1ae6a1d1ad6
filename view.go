package folka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/folkastream/folka/logger"
	"github.com/folkastream/folka/multierr"
	"github.com/folkastream/folka/storage"
)

const (
	// ViewStateIdle marks a view that is not yet running or was stopped
	ViewStateIdle State = iota
	// ViewStateInitializing marks a view that is creating its partition
	// tables
	ViewStateInitializing
	// ViewStateConnecting marks a view that is (re)connecting to kafka
	ViewStateConnecting
	// ViewStateCatchUp marks a view that is still recovering from the table
	// topic
	ViewStateCatchUp
	// ViewStateRunning marks a recovered view that keeps itself up to date
	ViewStateRunning
)

// View is a materialized (i.e. persistent) cache of a group table.
type View struct {
	brokers []string
	topic   string
	opts    *voptions
	log     logger.Logger

	partitions []*PartitionTable

	consumer Consumer
	tmgr     TopicManager

	state *Signal
}

// NewView creates a new View object from a group.
func NewView(brokers []string, topic Table, codec Codec, options ...ViewOption) (*View, error) {
	options = append(
		// default options comes first
		[]ViewOption{
			WithViewLogger(logger.Default()),
			WithViewCallback(DefaultUpdate),
			WithViewStorageBuilder(storage.DefaultBuilder(DefaultViewStoragePath())),
		},

		// user-defined options (may overwrite default ones)
		options...,
	)

	opts := new(voptions)
	if err := opts.applyOptions(topic, codec, options...); err != nil {
		return nil, fmt.Errorf(errApplyOptions, err)
	}

	opts.tableCodec = codec

	return &View{
		brokers: brokers,
		topic:   string(topic),
		opts:    opts,
		log:     opts.log.Prefix(fmt.Sprintf("View %s", topic)),
		state:   NewSignal(ViewStateIdle, ViewStateInitializing, ViewStateConnecting, ViewStateCatchUp, ViewStateRunning).SetState(ViewStateIdle),
	}, nil
}

// createPartitions creates a partition table for every partition of the table
// topic. The partitions of the topic must be gap-less.
func (v *View) createPartitions(ctx context.Context) (rerr error) {
	partitions, err := v.tmgr.Partitions(v.topic)
	if err != nil {
		return fmt.Errorf("error getting partitions for topic %s: %v", v.topic, err)
	}
	for i, p := range partitions {
		if i != int(p) {
			return fmt.Errorf("topic %s has partition gap: %v", v.topic, partitions)
		}
	}

	for _, p := range partitions {
		backoff, err := v.opts.builders.backoff()
		if err != nil {
			return fmt.Errorf("error creating backoff: %v", err)
		}
		v.partitions = append(v.partitions, newPartitionTable(v.topic,
			p,
			v.consumer,
			v.tmgr,
			v.opts.updateCallback,
			v.opts.builders.storage,
			v.log.Prefix(fmt.Sprintf("PartTable-%d", p)),
			backoff,
			defaultMaxStoreAttempts,
		))
	}
	return nil
}

// Run starts the view: it recovers all partitions of the table topic into
// local storage and keeps them up to date until the context closes. If the
// view was created with WithViewAutoReconnect, transient kafka errors only
// put the view back into the connecting state instead of shutting it down.
func (v *View) Run(ctx context.Context) (rerr error) {
	v.log.Debugf("starting")
	defer v.log.Debugf("stopped")

	v.state.SetState(ViewStateInitializing)
	defer v.state.SetState(ViewStateIdle)

	errs := new(multierr.Errors)
	defer func() {
		rerr = errs.Collect(rerr).NilOrError()
	}()

	consumer, err := v.opts.builders.consumerSarama(v.brokers, v.opts.clientID)
	if err != nil {
		return fmt.Errorf(errBuildConsumer, err)
	}
	v.consumer = consumer
	defer func() { errs.Collect(v.consumer.Close()) }()

	tmgr, err := v.opts.builders.topicmgr(v.brokers)
	if err != nil {
		return fmt.Errorf("error creating topic manager: %v", err)
	}
	v.tmgr = tmgr
	defer func() { errs.Collect(v.tmgr.Close()) }()

	if err := v.createPartitions(ctx); err != nil {
		return err
	}

	for {
		err := v.runOnce(ctx)

		select {
		case <-ctx.Done():
			return err
		default:
		}

		if !v.opts.autoreconnect {
			return err
		}

		v.log.Printf("view failed, will retry: %v", err)
		v.state.SetState(ViewStateConnecting)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func (v *View) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	v.state.SetState(ViewStateCatchUp)

	errg, ctx := multierr.NewErrGroup(ctx)
	for _, partition := range v.partitions {
		partition := partition
		errg.Go(func() error {
			if err := partition.SetupAndRecover(ctx); err != nil {
				return fmt.Errorf("error recovering partition %d: %v", partition.partition, err)
			}
			return partition.CatchupForever(ctx, v.opts.autoreconnect)
		})
	}

	// flip to running once all partitions are recovered
	go func() {
		for _, partition := range v.partitions {
			select {
			case <-partition.WaitRecovered():
			case <-ctx.Done():
				return
			}
		}
		v.state.SetState(ViewStateRunning)
	}()

	err := errg.Wait().NilOrError()

	closeErrs := new(multierr.Errors)
	closeErrs.Collect(err)
	for _, partition := range v.partitions {
		closeErrs.Collect(partition.Close())
	}
	return closeErrs.NilOrError()
}

func (v *View) hash(key string) (int32, error) {
	// create a new hasher every time. Alternative would be to store the
	// hasher in the view and protect it with a mutex.
	hasher := v.opts.hasher()

	if _, err := hasher.Write([]byte(key)); err != nil {
		return -1, err
	}
	if len(v.partitions) == 0 {
		return 0, errors.New("no partitions. Cannot hash")
	}
	hash := int32(hasher.Sum32() % uint32(len(v.partitions)))
	if hash < 0 {
		hash = -hash
	}
	return hash, nil
}

func (v *View) find(key string) (*PartitionTable, error) {
	h, err := v.hash(key)
	if err != nil {
		return nil, err
	}
	return v.partitions[h], nil
}

// Topic returns the retrieved topic of the view.
func (v *View) Topic() string {
	return v.topic
}

// Get returns the value for the key in the view, if exists. Nil if it
// doesn't. Get can only be called after Recovered returns true.
func (v *View) Get(key string) (interface{}, error) {
	partTable, err := v.find(key)
	if err != nil {
		return nil, err
	}

	data, err := partTable.Get(key)
	if err != nil {
		return nil, fmt.Errorf("error getting value (key %s): %v", key, err)
	} else if data == nil {
		return nil, nil
	}

	value, err := v.opts.tableCodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding value (key %s): %v", key, err)
	}
	return value, nil
}

// Has checks whether a value for passed key exists in the view.
func (v *View) Has(key string) (bool, error) {
	partTable, err := v.find(key)
	if err != nil {
		return false, err
	}
	return partTable.Has(key)
}

// Iterator returns an iterator that iterates over the state of the View.
func (v *View) Iterator() (Iterator, error) {
	iters := make([]storage.Iterator, 0, len(v.partitions))
	for _, partition := range v.partitions {
		i, err := partition.Iterator()
		if err != nil {
			// release already opened iterators
			for _, i := range iters {
				i.Release()
			}
			return nil, fmt.Errorf("error getting iterator: %v", err)
		}
		iters = append(iters, i)
	}

	return &iterator{
		iter:  storage.NewMultiIterator(iters),
		codec: v.opts.tableCodec,
	}, nil
}

// IteratorWithRange returns an iterator that iterates over the state of the
// View. This iterator is build using the range.
func (v *View) IteratorWithRange(start, limit string) (Iterator, error) {
	iters := make([]storage.Iterator, 0, len(v.partitions))
	for _, partition := range v.partitions {
		i, err := partition.IteratorWithRange([]byte(start), []byte(limit))
		if err != nil {
			for _, i := range iters {
				i.Release()
			}
			return nil, fmt.Errorf("error getting iterator: %v", err)
		}
		iters = append(iters, i)
	}

	return &iterator{
		iter:  storage.NewMultiIterator(iters),
		codec: v.opts.tableCodec,
	}, nil
}

// Evict removes the given key only from the local cache. In order to delete a
// key from Kafka and other Views, context.Delete should be used on a
// Processor.
func (v *View) Evict(key string) error {
	partTable, err := v.find(key)
	if err != nil {
		return err
	}
	return partTable.Delete(key)
}

// Recovered returns true when the view has caught up with events from kafka.
func (v *View) Recovered() bool {
	for _, p := range v.partitions {
		if !p.IsRecovered() {
			return false
		}
	}
	return true
}

// CurrentState returns the current ViewState of the view.
func (v *View) CurrentState() State {
	return v.state.State()
}

// WaitRunning returns a channel that is closed when the view enters the
// running state.
func (v *View) WaitRunning() <-chan struct{} {
	return v.state.WaitForState(ViewStateRunning)
}

// Stats returns a set of performance metrics of the view.
func (v *View) Stats(ctx context.Context) *ViewStats {
	stats := newViewStats()
	var m sync.Mutex

	errg, _ := multierr.NewErrGroup(ctx)
	for _, partTable := range v.partitions {
		partTable := partTable
		errg.Go(func() error {
			tableStats := partTable.fetchStats()

			m.Lock()
			stats.Partitions[partTable.partition] = tableStats
			m.Unlock()
			return nil
		})
	}
	if err := errg.Wait().NilOrError(); err != nil {
		v.log.Printf("error fetching view stats: %v", err)
	}
	return stats
}
