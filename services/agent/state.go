package agent

import (
	"fmt"
	"sync"
)

// State is the agent's update lifecycle position. The agent loops forever:
// there is no terminal state, and Failed always drains back to Idle.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateDownloading
	StateInstalling
	StateRestarting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateDownloading:
		return "downloading"
	case StateInstalling:
		return "installing"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var stateTransitions = map[State][]State{
	StateIdle:        {StateChecking},
	StateChecking:    {StateIdle, StateDownloading},
	StateDownloading: {StateInstalling, StateFailed},
	StateInstalling:  {StateRestarting, StateFailed},
	StateRestarting:  {},
	StateFailed:      {StateIdle},
}

// stateMachine serialises the agent's lifecycle. Guarding transitions here is
// what enforces the one-rollout-in-flight rule: a second check cannot begin
// while the machine is anywhere but Idle.
type stateMachine struct {
	mu      sync.Mutex
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, next := range stateTransitions[m.current] {
		if next == to {
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("illegal agent transition %s -> %s", m.current, to)
}

// reset forces the machine back to Idle at the end of an update cycle,
// whatever state the cycle finished in.
func (m *stateMachine) reset() {
	m.mu.Lock()
	m.current = StateIdle
	m.mu.Unlock()
}

// tryBegin attempts Idle -> Checking, reporting whether the caller won the
// right to run an update cycle.
func (m *stateMachine) tryBegin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != StateIdle {
		return false
	}
	m.current = StateChecking
	return true
}
