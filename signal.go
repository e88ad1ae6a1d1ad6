package folka

import (
	"fmt"
	"sync"
)

// State types a state of the Signal
type State int

type waiter struct {
	done     chan struct{}
	state    State
	minState bool
}

// StateReader is a read only abstraction of a Signal to expose the current state.
type StateReader interface {
	State() State
	IsState(State) bool
	WaitForStateMin(state State) <-chan struct{}
	WaitForState(state State) <-chan struct{}
	ObserveStateChange() *StateChangeObserver
}

// Signal allows synchronization on a state, waiting for that state and checking
// the current state
type Signal struct {
	m                    sync.RWMutex
	state                State
	waiters              []*waiter
	stateChangeObservers []*StateChangeObserver
	allowedStates        map[State]bool
}

// NewSignal creates a new Signal based on the states
func NewSignal(states ...State) *Signal {
	s := &Signal{
		allowedStates: make(map[State]bool),
	}
	for _, state := range states {
		s.allowedStates[state] = true
	}

	return s
}

// SetState changes the state of the signal
// and notifies all goroutines waiting for the new state
func (s *Signal) SetState(state State) *Signal {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.allowedStates[state] {
		panic(fmt.Errorf("trying to set illegal state %v", state))
	}

	// already in the state, nothing to notify
	if s.state == state {
		return s
	}

	s.state = state

	var newWaiters []*waiter
	for _, w := range s.waiters {
		if w.state == state || (w.minState && state >= w.state) {
			close(w.done)
			continue
		}
		newWaiters = append(newWaiters, w)
	}
	s.waiters = newWaiters

	for _, obs := range s.stateChangeObservers {
		obs.notify(state)
	}

	return s
}

// IsState returns if the signal is in the requested state
func (s *Signal) IsState(state State) bool {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.state == state
}

// State returns the current state
func (s *Signal) State() State {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.state
}

// WaitForStateMin returns a channel that will be closed when the signal enters
// the passed state or a higher one. States are ints, so higher means a bigger
// value here.
func (s *Signal) WaitForStateMin(state State) <-chan struct{} {
	w := &waiter{
		done:     make(chan struct{}),
		state:    state,
		minState: true,
	}

	return s.waitForWaiter(state, w)
}

// WaitForState returns a channel that closes when the signal reaches passed
// state.
func (s *Signal) WaitForState(state State) <-chan struct{} {
	w := &waiter{
		done:  make(chan struct{}),
		state: state,
	}

	return s.waitForWaiter(state, w)
}

func (s *Signal) waitForWaiter(state State, w *waiter) chan struct{} {
	s.m.Lock()
	defer s.m.Unlock()

	// the waiter may be satisfied already, close it right away
	if curState := s.state; state == curState || (w.minState && curState >= state) {
		close(w.done)
	} else {
		s.waiters = append(s.waiters, w)
	}

	return w.done
}

// StateChangeObserver wraps a channel that triggers when the signal's state changes
type StateChangeObserver struct {
	// state notifier channel
	c chan State
	// closed when the observer is stopped to avoid sending to a closed channel
	closed chan struct{}
	stop   func()
}

// Stop stops the observer and closes its update channel.
func (s *StateChangeObserver) Stop() {
	s.stop()
}

// C returns the channel to observe state changes
func (s *StateChangeObserver) C() <-chan State {
	return s.c
}

func (s *StateChangeObserver) notify(state State) {
	select {
	case <-s.closed:
	case s.c <- state:
	}
}

// ObserveStateChange returns an observer that receives all state changes.
// Note that the caller must consume the observer's channel, otherwise the
// Signal will block upon state changes.
func (s *Signal) ObserveStateChange() *StateChangeObserver {
	s.m.Lock()
	defer s.m.Unlock()

	observer := &StateChangeObserver{
		c:      make(chan State, 1),
		closed: make(chan struct{}),
	}

	// initialize the observer with the current state
	observer.notify(s.state)

	observer.stop = func() {
		close(observer.closed)
		s.m.Lock()
		defer s.m.Unlock()

		for idx, obs := range s.stateChangeObservers {
			if obs == observer {
				copy(s.stateChangeObservers[idx:], s.stateChangeObservers[idx+1:])
				s.stateChangeObservers[len(s.stateChangeObservers)-1] = nil
				s.stateChangeObservers = s.stateChangeObservers[:len(s.stateChangeObservers)-1]
			}
		}
		close(observer.c)
	}

	s.stateChangeObservers = append(s.stateChangeObservers, observer)
	return observer
}
