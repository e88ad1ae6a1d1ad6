package folka

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	sigStateStopped State = iota
	sigStateStarting
	sigStateRunning
)

func TestSignalSetState(t *testing.T) {
	sig := NewSignal(sigStateStopped, sigStateStarting, sigStateRunning)
	require.True(t, sig.IsState(sigStateStopped))

	sig.SetState(sigStateRunning)
	require.True(t, sig.IsState(sigStateRunning))
	require.Equal(t, sigStateRunning, sig.State())

	require.Panics(t, func() { sig.SetState(State(42)) })
}

func TestSignalWaitForState(t *testing.T) {
	sig := NewSignal(sigStateStopped, sigStateStarting, sigStateRunning)

	// waiting for the current state returns a closed channel
	select {
	case <-sig.WaitForState(sigStateStopped):
	default:
		t.Fatal("expected closed channel for current state")
	}

	done := sig.WaitForState(sigStateRunning)
	select {
	case <-done:
		t.Fatal("expected channel to be open")
	default:
	}

	sig.SetState(sigStateRunning)
	<-done
}

func TestSignalWaitForStateMin(t *testing.T) {
	sig := NewSignal(sigStateStopped, sigStateStarting, sigStateRunning)

	done := sig.WaitForStateMin(sigStateStarting)
	sig.SetState(sigStateRunning)

	// running > starting, so the waiter is satisfied
	<-done
}

func TestSignalObserver(t *testing.T) {
	sig := NewSignal(sigStateStopped, sigStateStarting, sigStateRunning)

	obs := sig.ObserveStateChange()
	defer obs.Stop()

	// the observer starts with the current state
	require.Equal(t, sigStateStopped, <-obs.C())

	sig.SetState(sigStateStarting)
	require.Equal(t, sigStateStarting, <-obs.C())

	sig.SetState(sigStateRunning)
	require.Equal(t, sigStateRunning, <-obs.C())
}
