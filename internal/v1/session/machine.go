package session

import (
	"context"
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"go.uber.org/zap"
)

// State is a connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateJoining      State = "joining"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Event drives transitions between states.
type Event string

const (
	EventConnect    Event = "connect"
	EventJoined     Event = "joined"
	EventDisconnect Event = "disconnect"
	EventReconnect  Event = "reconnect"
	EventClose      Event = "close"
)

// transitions is the full lifecycle graph. Closed is terminal.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventConnect: StateJoining,
	},
	StateJoining: {
		EventJoined:     StateConnected,
		EventDisconnect: StateIdle,
		EventClose:      StateClosed,
	},
	StateConnected: {
		EventDisconnect: StateIdle,
		EventReconnect:  StateReconnecting,
		EventClose:      StateClosed,
	},
	StateReconnecting: {
		EventJoined:     StateConnected,
		EventDisconnect: StateIdle,
		EventClose:      StateClosed,
	},
	StateClosed: {},
}

// Listener is notified after each successful transition.
type Listener func(from, to State, event Event)

// Machine is a small, thread-safe session state machine shared by the server
// connection lifecycle and the client mirror.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners []Listener
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnTransition registers a listener. Listeners run synchronously after the
// state change; a panicking listener does not prevent the others.
func (m *Machine) OnTransition(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Fire applies an event. Invalid transitions are logged and rejected without
// changing state.
func (m *Machine) Fire(event Event) bool {
	m.mu.Lock()
	next, ok := transitions[m.state][event]
	if !ok {
		state := m.state
		m.mu.Unlock()
		logging.Warn(context.Background(), "Rejected invalid session transition",
			zap.String("state", string(state)), zap.String("event", string(event)))
		return false
	}
	from := m.state
	m.state = next
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		notify(l, from, next, event)
	}
	return true
}

func notify(l Listener, from, to State, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in session listener", zap.Any("panic", r))
		}
	}()
	l(from, to, event)
}

// CanFire reports whether the event is valid in the current state.
func (m *Machine) CanFire(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[m.state][event]
	return ok
}
