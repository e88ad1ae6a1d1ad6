package folka

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KeyExtractor derives the grouping key of a message from its original key
// and its decoded value. Returning an empty string routes the message into
// the empty-key bucket.
type KeyExtractor func(key string, value interface{}) (string, error)

// Seed returns the initial aggregate for a group key seen for the first time.
type Seed func() interface{}

// Aggregator folds a message value into the current aggregate of its group
// key and returns the new aggregate.
//
// Aggregates are folded in the arrival order of the group key's partition.
// Unless the fold is commutative and associative, the result depends on that
// order.
type Aggregator func(agg interface{}, key string, value interface{}) interface{}

// Aggregate defines a topology that groups an input stream by a derived key
// and folds all values of a group key into one aggregate.
//
// Each input message is re-keyed with the extractor and routed through the
// group's repartition topic, so all messages of a group key are folded by the
// same partition in arrival order. The aggregate of a key is seeded on its
// first message and stored in the group table. If output is non-empty, every
// new aggregate is also emitted there, keyed by the group key. Emission
// happens at least once, replays of uncommitted input may emit the same
// aggregate again.
func Aggregate(group Group, input Stream, inputCodec Codec, extract KeyExtractor, seed Seed, fold Aggregator, tableCodec Codec, output Stream) *Topology {
	rekey := func(ctx Context, msg interface{}) {
		groupKey, err := extract(ctx.Key(), msg)
		if err != nil {
			// underivable keys land in the empty-key bucket
			groupKey = ""
		}
		ctx.Repartition(groupKey, msg)
	}

	foldMsg := func(ctx Context, msg interface{}) {
		agg := ctx.Value()
		if agg == nil {
			agg = seed()
		}
		agg = fold(agg, ctx.Key(), msg)
		ctx.SetValue(agg)
		if output != "" {
			ctx.Emit(output, ctx.Key(), agg)
		}
	}

	edges := []Edge{
		Input(input, inputCodec, rekey),
		Repartition(inputCodec, foldMsg),
		Persist(tableCodec),
	}
	if output != "" {
		edges = append(edges, Output(output, tableCodec))
	}
	return Define(group, edges...)
}

// FirstRuneExtractor groups string values by their lowercased first rune.
// Empty and non-string values fall into the empty-key bucket.
func FirstRuneExtractor() KeyExtractor {
	return func(key string, value interface{}) (string, error) {
		s, ok := value.(string)
		if !ok || s == "" {
			return "", nil
		}
		_, size := utf8.DecodeRuneInString(s)
		// a fresh caser per call, cases.Caser is not safe for concurrent use
		return cases.Lower(language.Und).String(s[:size]), nil
	}
}
