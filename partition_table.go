package folka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/folkastream/folka/logger"
	"github.com/folkastream/folka/multierr"
	"github.com/folkastream/folka/storage"
)

const (
	defaultPartitionChannelSize = 10
	defaultStallPeriod          = 30 * time.Second
	defaultStalledTimeout       = 2 * time.Minute

	// offsetNotStored is the value passed to the storage as default when no
	// offset was stored yet.
	offsetNotStored int64 = -1
)

// PartitionStatus is the status of the partition of a table.
type PartitionStatus int

const (
	// PartitionStopped indicates the partition stopped and should not be used
	// anymore.
	PartitionStopped PartitionStatus = iota
	// PartitionInitializing indicates the partition is initializing.
	PartitionInitializing
	// PartitionRecovering indicates the partition is recovering from the
	// table topic.
	PartitionRecovering
	// PartitionPreparing indicates the recovery is done and the storage is
	// being prepared, e.g. committing batched recovery writes.
	PartitionPreparing
	// PartitionRunning indicates the partition is recovered and either
	// serving or keeping itself up to date.
	PartitionRunning
)

// PartitionTable manages the usage of a table for one partition. It allows to
// set up and recover/catchup the table contents from kafka and provides
// read/write access to the local storage.
type PartitionTable struct {
	log            logger.Logger
	topic          string
	partition      int32
	state          *Signal
	builder        storage.Builder
	st             *storageProxy
	consumer       Consumer
	tmgr           TopicManager
	updateCallback UpdateCallback

	// backoff and attempt limit for failing storage writes
	backoff          Backoff
	maxStoreAttempts int

	offsetM sync.Mutex

	statsM sync.Mutex
	stats  *TableStats

	// stall config
	stallPeriod    time.Duration
	stalledTimeout time.Duration
}

func newPartitionTable(topic string,
	partition int32,
	consumer Consumer,
	tmgr TopicManager,
	updateCallback UpdateCallback,
	builder storage.Builder,
	log logger.Logger,
	backoff Backoff,
	maxStoreAttempts int) *PartitionTable {
	return &PartitionTable{
		partition: partition,
		state: NewSignal(
			State(PartitionStopped),
			State(PartitionInitializing),
			State(PartitionRecovering),
			State(PartitionPreparing),
			State(PartitionRunning),
		).SetState(State(PartitionStopped)),
		stats:            newTableStats(),
		consumer:         consumer,
		tmgr:             tmgr,
		topic:            topic,
		updateCallback:   updateCallback,
		builder:          builder,
		log:              log,
		backoff:          backoff,
		maxStoreAttempts: maxStoreAttempts,
		stallPeriod:      defaultStallPeriod,
		stalledTimeout:   defaultStalledTimeout,
	}
}

// SetupAndRecover sets up the table storage and recovers it from the table
// topic up to the high water mark.
func (p *PartitionTable) SetupAndRecover(ctx context.Context) error {
	if err := p.setup(ctx); err != nil {
		return err
	}

	return p.load(ctx, true)
}

// CatchupForever starts to catch up the table from the table topic and keeps
// updating it until the context is closed. If restartOnError is set, transient
// errors are logged and the catchup is restarted instead of failing.
func (p *PartitionTable) CatchupForever(ctx context.Context, restartOnError bool) error {
	if restartOnError {
		for {
			err := p.load(ctx, false)
			if err != nil {
				p.log.Printf("error while catching up, but we'll try to keep it running: %v", err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.backoff.Duration()):
			}
		}
	}
	return p.load(ctx, false)
}

// setup creates the storage for the partition table
func (p *PartitionTable) setup(ctx context.Context) error {
	p.state.SetState(State(PartitionInitializing))

	st, err := p.createStorage(ctx)
	if err != nil {
		p.state.SetState(State(PartitionStopped))
		return fmt.Errorf("error setting up partition table: %v", err)
	}

	p.st = st
	return nil
}

// Close closes the underlying storage.
func (p *PartitionTable) Close() error {
	if p.st != nil {
		return p.st.Close()
	}
	return nil
}

func (p *PartitionTable) createStorage(ctx context.Context) (*storageProxy, error) {
	var (
		err  error
		st   storage.Storage
		done = make(chan struct{})
	)
	start := time.Now()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	go func() {
		defer close(done)
		st, err = p.builder(p.topic, p.partition)
	}()

WaitLoop:
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled")
		case <-ticker.C:
			p.log.Printf("creating storage for topic %s/%d for %.1f minutes ...", p.topic, p.partition, time.Since(start).Minutes())
		case <-done:
			if err != nil {
				return nil, fmt.Errorf("error building storage: %v", err)
			}
			break WaitLoop
		}
	}

	if err = st.Open(); err != nil {
		return nil, fmt.Errorf("error opening storage: %v", err)
	}

	return &storageProxy{
		Storage:   st,
		partition: p.partition,
		update:    p.updateCallback,
	}, nil
}

// findOffsetToLoad returns the first offset to load and the high water mark.
// The stored offset is the last offset applied to the storage, so loading
// continues one message after it.
func (p *PartitionTable) findOffsetToLoad(storedOffset int64) (int64, int64, error) {
	oldest, err := p.tmgr.GetOffset(p.topic, p.partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("error getting oldest offset for topic/partition %s/%d: %v", p.topic, p.partition, err)
	}
	hwm, err := p.tmgr.GetOffset(p.topic, p.partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("error getting newest offset for topic/partition %s/%d: %v", p.topic, p.partition, err)
	}

	var start int64
	if storedOffset == offsetNotStored {
		start = oldest
	} else {
		start = storedOffset + 1
	}

	// the local state may be ahead of the topic or behind its retention
	// window
	if start > hwm {
		start = hwm
	}
	if start < oldest {
		start = oldest
	}
	return start, hwm, nil
}

func (p *PartitionTable) load(ctx context.Context, stopAfterCatchup bool) (rerr error) {
	var (
		localOffset  int64
		partConsumer PartitionConsumer
		err          error
		errs         = new(multierr.Errors)
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		errs.Collect(rerr)
		rerr = errs.NilOrError()
	}()

	if stopAfterCatchup {
		p.state.SetState(State(PartitionRecovering))
		p.statsM.Lock()
		p.stats.StartTime = time.Now()
		p.statsM.Unlock()
	}

	// fetch local offset
	localOffset, err = p.st.GetOffset(offsetNotStored)
	if err != nil {
		errs.Collect(fmt.Errorf("error reading local offset: %v", err))
		return
	}

	loadOffset, hwm, err := p.findOffsetToLoad(localOffset)
	if err != nil {
		errs.Collect(err)
		return
	}

	if localOffset >= hwm {
		p.log.Printf("local offset is higher than partition offset, topic %s, partition %d, hwm %d, local offset %d. This can have several reasons: "+
			"(1) the kafka topic storing the table is gone --> delete the local cache and restart! "+
			"(2) the processor crashed last time while writing to disk.", p.topic, p.partition, hwm, localOffset)
		// the state is fully loaded anyway
		loadOffset = hwm
	}

	// we are exactly where we are supposed to be, no need to load anything
	if stopAfterCatchup && loadOffset >= hwm {
		errs.Collect(p.markRecovered(ctx))
		return
	}

	if stopAfterCatchup {
		p.log.Debugf("loading partition table from %d (hwm=%d)", loadOffset, hwm)
		defer p.log.Debugf("... loading done")
	}

	partConsumer, err = p.consumer.ConsumePartition(p.topic, p.partition, loadOffset)
	if err != nil {
		errs.Collect(fmt.Errorf("error creating partition consumer for topic %s, partition %d, offset %d: %v", p.topic, p.partition, loadOffset, err))
		return
	}
	defer func() {
		errs.Collect(partConsumer.Close())
	}()

	// consume errors asynchronously
	go p.handleConsumerErrors(ctx, errs, partConsumer)

	// load messages and stop when we are at the hwm
	loadErr := p.loadMessages(ctx, partConsumer, hwm, stopAfterCatchup)
	if loadErr != nil {
		errs.Collect(loadErr)
		return
	}

	if stopAfterCatchup {
		errs.Collect(p.markRecovered(ctx))

		p.statsM.Lock()
		p.stats.RecoveryTime = time.Now()
		p.statsM.Unlock()
	}
	return
}

func (p *PartitionTable) markRecovered(ctx context.Context) error {
	var (
		start  = time.Now()
		ticker = time.NewTicker(10 * time.Second)
		done   = make(chan error, 1)
	)
	defer ticker.Stop()

	p.state.SetState(State(PartitionPreparing))
	go func() {
		defer close(done)
		done <- p.st.MarkRecovered()
	}()

	for {
		select {
		case <-ticker.C:
			p.log.Printf("committing storage after recovery for topic/partition %s/%d since %0.f seconds", p.topic, p.partition, time.Since(start).Seconds())
		case <-ctx.Done():
			return nil
		case err := <-done:
			if err != nil {
				return err
			}

			p.statsM.Lock()
			p.stats.Recovered = true
			p.statsM.Unlock()

			p.state.SetState(State(PartitionRunning))
			return nil
		}
	}
}

func (p *PartitionTable) handleConsumerErrors(ctx context.Context, errs *multierr.Errors, cons PartitionConsumer) {
	for {
		select {
		case consError, ok := <-cons.Errors():
			if !ok {
				return
			}
			err := fmt.Errorf("consumer error: %v", consError)
			p.log.Printf("%v", err)
			errs.Collect(err)
		case <-ctx.Done():
			return
		}
	}
}

func (p *PartitionTable) loadMessages(ctx context.Context, cons PartitionConsumer, partitionHwm int64, stopAfterCatchup bool) (rerr error) {
	errs := new(multierr.Errors)

	defer func() {
		errs.Collect(rerr)
		rerr = errs.NilOrError()
	}()

	stallTicker := time.NewTicker(p.stallPeriod)
	defer stallTicker.Stop()

	lastMessage := time.Now()

	for {
		select {
		case msg, ok := <-cons.Messages():
			if !ok {
				return
			}

			// flush markers of mock consumers carry no payload
			if msg == nil {
				continue
			}

			lastMessage = time.Now()
			if err := p.storeEvent(string(msg.Key), msg.Value, msg.Offset); err != nil {
				errs.Collect(fmt.Errorf("load: error updating storage: %v", err))
				return
			}

			p.statsM.Lock()
			p.stats.Offset = msg.Offset
			p.stats.Hwm = partitionHwm
			p.stats.Stalled = false
			p.stats.Input.Count++
			p.stats.Input.Bytes += len(msg.Value)
			if !msg.Timestamp.IsZero() {
				p.stats.Input.Delay = time.Since(msg.Timestamp)
			}
			p.statsM.Unlock()

			if stopAfterCatchup && msg.Offset >= partitionHwm-1 {
				return
			}
		case now := <-stallTicker.C:
			// only set to stalled if the last message was earlier than the
			// stalled timeout
			if now.Sub(lastMessage) > p.stalledTimeout {
				p.statsM.Lock()
				p.stats.Stalled = true
				p.statsM.Unlock()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *PartitionTable) storeEvent(key string, value []byte, offset int64) error {
	if err := p.st.Update(key, value); err != nil {
		return fmt.Errorf("error from the update callback while recovering from the log: %v", err)
	}
	if err := p.st.SetOffset(offset); err != nil {
		return fmt.Errorf("error updating offset in local storage while recovering from the log: %v", err)
	}
	return nil
}

// IsRecovered returns whether the partition table is recovered.
func (p *PartitionTable) IsRecovered() bool {
	return p.state.IsState(State(PartitionRunning))
}

// CurrentState returns the partition table's current status.
func (p *PartitionTable) CurrentState() PartitionStatus {
	return PartitionStatus(p.state.State())
}

// WaitRecovered returns a channel that closes once the partition table enters
// the running state.
func (p *PartitionTable) WaitRecovered() <-chan struct{} {
	return p.state.WaitForState(State(PartitionRunning))
}

// Get returns the value of the given key from the local storage.
func (p *PartitionTable) Get(key string) ([]byte, error) {
	return p.st.Get(key)
}

// Has returns whether the given key exists in the local storage.
func (p *PartitionTable) Has(key string) (bool, error) {
	return p.st.Has(key)
}

// Set writes the given key-value pair to the local storage.
func (p *PartitionTable) Set(key string, value []byte) error {
	return p.st.Set(key, value)
}

// SetWithRetry writes the given key-value pair to the local storage, retrying
// failing writes with backoff. It fails after the configured number of
// attempts, storage errors are not transient at that point.
func (p *PartitionTable) SetWithRetry(ctx context.Context, key string, value []byte) error {
	var lastErr error
	for attempt := 0; attempt < p.maxStoreAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff.Duration()):
			}
		}

		lastErr = p.st.Set(key, value)
		if lastErr == nil {
			p.backoff.Reset()
			return nil
		}
		p.log.Printf("error writing key %s to storage of %s/%d (attempt %d/%d), will retry: %v",
			key, p.topic, p.partition, attempt+1, p.maxStoreAttempts, lastErr)
	}
	return fmt.Errorf("giving up writing key %s to storage of %s/%d after %d attempts: %v",
		key, p.topic, p.partition, p.maxStoreAttempts, lastErr)
}

// Iterator returns an iterator over the keys of the local storage.
func (p *PartitionTable) Iterator() (storage.Iterator, error) {
	return p.st.Iterator()
}

// IteratorWithRange returns an iterator over the key range [start, limit) of
// the local storage.
func (p *PartitionTable) IteratorWithRange(start []byte, limit []byte) (storage.Iterator, error) {
	return p.st.IteratorWithRange(start, limit)
}

// Delete removes the given key from the local storage.
func (p *PartitionTable) Delete(key string) error {
	return p.st.Delete(key)
}

// IncrementOffsets updates the offset stored in the local storage by adding
// the given increment. Each table write of a processed message produces
// exactly one message in the table topic.
func (p *PartitionTable) IncrementOffsets(increment int64) error {
	p.offsetM.Lock()
	defer p.offsetM.Unlock()

	offset, err := p.GetOffset(offsetNotStored)
	if err != nil {
		return err
	}

	return p.SetOffset(offset + increment)
}

// SetOffset stores the offset of the last applied table message.
func (p *PartitionTable) SetOffset(value int64) error {
	return p.st.SetOffset(value)
}

// GetOffset returns the offset of the last applied table message, or defValue
// if no offset is stored.
func (p *PartitionTable) GetOffset(defValue int64) (int64, error) {
	return p.st.GetOffset(defValue)
}

func (p *PartitionTable) fetchStats() *TableStats {
	p.statsM.Lock()
	defer p.statsM.Unlock()
	return p.stats.clone()
}
