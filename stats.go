package folka

import (
	"time"

	"github.com/Shopify/sarama"
)

// InputStats tracks the consumption of a single input topic.
type InputStats struct {
	Count      uint
	Bytes      int
	LastOffset int64
	Delay      time.Duration
}

// OutputStats tracks the production to a single output topic.
type OutputStats struct {
	Count uint
	Bytes int
}

// TableStats tracks the recovery and update progress of a partition table.
type TableStats struct {
	Stalled   bool
	Recovered bool

	// last offset applied to the local storage
	Offset int64
	// next offset to be written to the table topic
	Hwm int64

	StartTime    time.Time
	RecoveryTime time.Time

	Input InputStats
}

func newTableStats() *TableStats {
	return new(TableStats)
}

func (ts *TableStats) clone() *TableStats {
	c := *ts
	return &c
}

// PartitionProcStats tracks the activity of a partition processor.
type PartitionProcStats struct {
	Now time.Time

	TableStats *TableStats

	Input  map[string]*InputStats
	Output map[string]*OutputStats
}

func newPartitionProcStats(inputs, outputs []string) *PartitionProcStats {
	stats := &PartitionProcStats{
		Input:  make(map[string]*InputStats),
		Output: make(map[string]*OutputStats),
	}

	for _, topic := range inputs {
		stats.Input[topic] = new(InputStats)
	}
	for _, topic := range outputs {
		stats.Output[topic] = new(OutputStats)
	}
	return stats
}

func (s *PartitionProcStats) clone() *PartitionProcStats {
	pps := newPartitionProcStats(nil, nil)
	pps.Now = time.Now()
	for topic, stats := range s.Input {
		c := *stats
		pps.Input[topic] = &c
	}
	for topic, stats := range s.Output {
		c := *stats
		pps.Output[topic] = &c
	}
	return pps
}

func (s *PartitionProcStats) trackInput(msg *sarama.ConsumerMessage) {
	ip := s.Input[msg.Topic]
	if ip == nil {
		ip = new(InputStats)
		s.Input[msg.Topic] = ip
	}
	ip.Count++
	ip.Bytes += len(msg.Value)
	ip.LastOffset = msg.Offset
	if !msg.Timestamp.IsZero() {
		ip.Delay = time.Since(msg.Timestamp)
	}
}

func (s *PartitionProcStats) trackOutput(topic string, valueLen int) {
	op := s.Output[topic]
	if op == nil {
		op = new(OutputStats)
		s.Output[topic] = op
	}
	op.Count++
	op.Bytes += valueLen
}

// ProcessorStats aggregates the stats of all partition processors of a
// processor instance.
type ProcessorStats struct {
	Group map[int32]*PartitionProcStats
}

func newProcessorStats(partitions int) *ProcessorStats {
	return &ProcessorStats{
		Group: make(map[int32]*PartitionProcStats, partitions),
	}
}

// ViewStats aggregates the stats of all partition tables of a view.
type ViewStats struct {
	Partitions map[int32]*TableStats
}

func newViewStats() *ViewStats {
	return &ViewStats{
		Partitions: make(map[int32]*TableStats),
	}
}
