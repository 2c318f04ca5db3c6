package session

import (
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Session is the per-connection server-side state: which room and participant
// the connection is bound to, plus the lifecycle machine. The connection
// exclusively owns its Session.
type Session struct {
	SocketID types.SocketID

	mu            sync.RWMutex
	roomID        types.RoomID
	participantID types.ParticipantID
	machine       *Machine
}

// New creates a Session for a freshly accepted connection.
func New(socketID types.SocketID) *Session {
	return &Session{
		SocketID: socketID,
		machine:  NewMachine(),
	}
}

// Machine exposes the lifecycle machine for transition listeners.
func (s *Session) Machine() *Machine {
	return s.machine
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.machine.State()
}

// Bind records the room/participant pair after a successful join.
func (s *Session) Bind(roomID types.RoomID, participantID types.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.participantID = participantID
}

// Clear drops the room/participant refs on leave or disconnect.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = ""
	s.participantID = ""
}

// RoomID returns the bound room id, empty if not joined.
func (s *Session) RoomID() types.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// ParticipantID returns the bound participant id, empty if not joined.
func (s *Session) ParticipantID() types.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participantID
}

// Joined reports whether the session is bound to a room.
func (s *Session) Joined() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID != "" && s.participantID != ""
}
