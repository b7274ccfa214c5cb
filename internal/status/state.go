package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/relay/internal/bus"
)

// State represents the authentication state of the session.
type State string

const (
	Booting        State = "BOOTING"
	Anonymous      State = "ANONYMOUS"
	Authenticating State = "AUTHENTICATING"
	Authenticated  State = "AUTHENTICATED"
	Failed         State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:        {Anonymous, Authenticating},
	Anonymous:      {Authenticating, Authenticated},
	Authenticating: {Authenticated, Failed, Authenticating, Anonymous},
	Authenticated:  {Anonymous, Authenticating, Authenticated},
	Failed:         {Anonymous},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
