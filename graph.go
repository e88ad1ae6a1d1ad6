package folka

import (
	"errors"
	"fmt"
	"strings"
)

var (
	tableSuffix       = "-table"
	repartitionSuffix = "-repartition"
)

// Stream is the name of a topic that contains a stream of events.
type Stream string

// Streams is a list of Stream names.
type Streams []Stream

// Table is the name of a log-compacted topic that materializes a keyed state.
type Table string

// Group is the name of a consumer group. It determines the names of the
// group's repartition and table topics.
type Group string

// Topology is the group graph of a processor: its input streams, the
// repartition stage, the group table and the output streams.
type Topology struct {
	group             string
	inputStreams      []Edge
	outputStreams     []Edge
	repartitionStream []Edge
	groupTable        []Edge

	codecs    map[string]Codec
	callbacks map[string]ProcessCallback
}

// Group returns the group name of the topology.
func (t *Topology) Group() Group {
	return Group(t.group)
}

// InputStreams returns all input stream edges of the topology.
func (t *Topology) InputStreams() Edges {
	return t.inputStreams
}

// RepartitionStream returns the repartition edge of the topology, or nil.
func (t *Topology) RepartitionStream() Edge {
	// only 1 repartition stream is valid
	if len(t.repartitionStream) > 0 {
		return t.repartitionStream[0]
	}
	return nil
}

// GroupTable returns the group table edge of the topology, or nil.
func (t *Topology) GroupTable() Edge {
	// only 1 group table is valid
	if len(t.groupTable) > 0 {
		return t.groupTable[0]
	}
	return nil
}

// OutputStreams returns the output stream edges of the topology.
func (t *Topology) OutputStreams() Edges {
	return t.outputStreams
}

// inputs returns all topics the processor consumes, i.e. input streams plus
// the repartition stream.
func (t *Topology) inputs() Edges {
	return append(append(Edges{}, t.inputStreams...), t.repartitionStream...)
}

func (t *Topology) codec(topic string) Codec {
	return t.codecs[topic]
}

func (t *Topology) callback(topic string) ProcessCallback {
	return t.callbacks[topic]
}

// Define creates a Topology of a group from a list of edges.
func Define(group Group, edges ...Edge) *Topology {
	t := Topology{
		group:     string(group),
		codecs:    make(map[string]Codec),
		callbacks: make(map[string]ProcessCallback),
	}

	for _, e := range edges {
		switch e := e.(type) {
		case inputStreams:
			for _, input := range e {
				inputStr := input.(*inputStream)
				t.codecs[input.Topic()] = input.Codec()
				t.callbacks[input.Topic()] = inputStr.cb
				t.inputStreams = append(t.inputStreams, inputStr)
			}
		case *inputStream:
			t.codecs[e.Topic()] = e.Codec()
			t.callbacks[e.Topic()] = e.cb
			t.inputStreams = append(t.inputStreams, e)
		case *repartitionStream:
			e.setGroup(group)
			t.codecs[e.Topic()] = e.Codec()
			t.callbacks[e.Topic()] = e.cb
			t.repartitionStream = append(t.repartitionStream, e)
		case *outputStream:
			t.codecs[e.Topic()] = e.Codec()
			t.outputStreams = append(t.outputStreams, e)
		case *groupTable:
			e.setGroup(group)
			t.codecs[e.Topic()] = e.Codec()
			t.groupTable = append(t.groupTable, e)
		}
	}
	return &t
}

// Validate checks the topology for errors.
func (t *Topology) Validate() error {
	if len(t.repartitionStream) > 1 {
		return errors.New("more than one repartition stream in topology")
	}
	if len(t.groupTable) != 1 {
		return errors.New("exactly one group table required in topology")
	}
	if len(t.inputStreams) == 0 {
		return errors.New("no input stream in topology")
	}
	for _, e := range append(t.outputStreams, t.inputStreams...) {
		if e.Topic() == repartitionName(t.Group()) {
			return errors.New("should not directly use repartition stream")
		}
		if e.Topic() == tableName(t.Group()) {
			return errors.New("should not directly use group table")
		}
	}
	return nil
}

// Edge represents a topic in the topology, with its codec and, for input
// edges, the callback processing its messages.
type Edge interface {
	String() string
	Topic() string
	Codec() Codec
}

// Edges is a list of edges.
type Edges []Edge

// Topics returns the names of the edges' topics.
func (e Edges) Topics() []string {
	var t []string
	for _, i := range e {
		t = append(t, i.Topic())
	}
	return t
}

type topicDef struct {
	name  string
	codec Codec
}

func (t *topicDef) Topic() string {
	return t.name
}

func (t *topicDef) String() string {
	return fmt.Sprintf("%s/%T", t.name, t.codec)
}

func (t *topicDef) Codec() Codec {
	return t.codec
}

type inputStream struct {
	*topicDef
	cb ProcessCallback
}

// Input defines a subscription for a co-partitioned stream topic. The
// processor subscribing for a stream topic starts reading from the initial
// offset configured in the global config.
func Input(topic Stream, c Codec, cb ProcessCallback) Edge {
	return &inputStream{&topicDef{string(topic), c}, cb}
}

type inputStreams Edges

func (is inputStreams) String() string {
	if is == nil {
		return "empty input streams"
	}

	return fmt.Sprintf("input streams: %s/%T", is.Topic(), is.Codec())
}

func (is inputStreams) Topic() string {
	if is == nil {
		return ""
	}
	var topics []string
	for _, stream := range is {
		topics = append(topics, stream.Topic())
	}
	return strings.Join(topics, ",")
}

func (is inputStreams) Codec() Codec {
	if is == nil {
		return nil
	}
	return is[0].Codec()
}

// Inputs creates edges for multiple input streams sharing the same codec and
// callback.
func Inputs(topics Streams, c Codec, cb ProcessCallback) Edge {
	if len(topics) == 0 {
		return nil
	}
	var edges Edges
	for _, topic := range topics {
		edges = append(edges, Input(topic, c, cb))
	}
	return inputStreams(edges)
}

type repartitionStream inputStream

// Repartition defines the shuffle stage of the group: messages sent with
// ctx.Repartition are routed through the group's repartition topic, keyed by
// the new key, and consumed by the given callback on the partition owning
// that key.
func Repartition(c Codec, cb ProcessCallback) Edge {
	return &repartitionStream{&topicDef{codec: c}, cb}
}

func (s *repartitionStream) setGroup(group Group) {
	s.topicDef.name = repartitionName(group)
}

type groupTable struct {
	*topicDef
}

// Persist defines the group table, the keyed state of the group. Every
// change of the table is logged to the group's table topic for recovery.
func Persist(c Codec) Edge {
	return &groupTable{&topicDef{codec: c}}
}

func (t *groupTable) setGroup(group Group) {
	t.topicDef.name = string(GroupTable(group))
}

type outputStream struct {
	*topicDef
}

// Output defines a topic the callbacks can emit messages to using ctx.Emit.
func Output(topic Stream, c Codec) Edge {
	return &outputStream{&topicDef{string(topic), c}}
}

// GroupTable returns the name of the group table of group.
func GroupTable(group Group) Table {
	return Table(tableName(group))
}

func tableName(group Group) string {
	return string(group) + tableSuffix
}

// repartitionName returns the name of the repartition topic of group.
func repartitionName(group Group) string {
	return string(group) + repartitionSuffix
}
