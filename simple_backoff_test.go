package folka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimpleBackoff(t *testing.T) {
	backoff := NewSimpleBackoff(time.Second, 3*time.Second)

	require.Equal(t, time.Second, backoff.Duration())
	require.Equal(t, 2*time.Second, backoff.Duration())
	require.Equal(t, 3*time.Second, backoff.Duration())
	// capped at max
	require.Equal(t, 3*time.Second, backoff.Duration())

	backoff.Reset()
	require.Equal(t, time.Second, backoff.Duration())
}
