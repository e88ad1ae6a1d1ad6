package folka

import "time"

// Backoff is used for adding backoff to retrying operations, e.g. connecting
// to kafka or writing to the local storage.
type Backoff interface {
	Duration() time.Duration
	Reset()
}

// NewSimpleBackoff returns a simple backoff waiting the specified duration
// longer for each iteration until max, and starting over after Reset.
func NewSimpleBackoff(step, max time.Duration) Backoff {
	return &simpleBackoff{
		step: step,
		max:  max,
	}
}

type simpleBackoff struct {
	current time.Duration
	step    time.Duration
	max     time.Duration
}

func (b *simpleBackoff) Reset() {
	b.current = time.Duration(0)
}

func (b *simpleBackoff) Duration() time.Duration {
	if b.current+b.step <= b.max {
		b.current += b.step
	}
	return b.current
}
