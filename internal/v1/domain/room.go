package domain

import (
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/calls"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Room event names emitted on the room's bus.
const (
	RoomEventParticipantAdded   = "participantAdded"
	RoomEventParticipantRemoved = "participantRemoved"
	RoomEventClosed             = "closed"
)

// Room is a container for participants and the scope for calls and fan-out.
// One lock guards the participant map and identity index; the call indices
// live behind the call manager's own lock.
type Room struct {
	Sid          types.RoomID
	Name         types.RoomName
	CreationTime time.Time

	mu              sync.RWMutex
	metadata        types.Metadata
	maxParticipants int
	active          bool
	participants    map[types.ParticipantID]*Participant
	byIdentity      map[types.Identity]types.ParticipantID

	Calls  *calls.Manager
	Events *Emitter
}

// NewRoom creates an active empty room. maxParticipants <= 0 means uncapped.
func NewRoom(sid types.RoomID, name types.RoomName, md types.Metadata, maxParticipants int, callMgr *calls.Manager, now time.Time) *Room {
	return &Room{
		Sid:             sid,
		Name:            name,
		CreationTime:    now,
		metadata:        md.Clone(),
		maxParticipants: maxParticipants,
		active:          true,
		participants:    make(map[types.ParticipantID]*Participant),
		byIdentity:      make(map[types.Identity]types.ParticipantID),
		Calls:           callMgr,
		Events:          NewEmitter(),
	}
}

func (r *Room) Metadata() types.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata.Clone()
}

func (r *Room) MaxParticipants() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxParticipants
}

// Active reports whether the room accepts joins.
func (r *Room) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// NumParticipants returns the current member count.
func (r *Room) NumParticipants() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// AddParticipant registers a participant, enforcing capacity and per-room
// identity uniqueness. Callers replace a stale same-identity participant
// before re-adding.
func (r *Room) AddParticipant(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return protocol.NewError(protocol.CodeRoomNotFound, "room %s is closed", r.Name)
	}
	if r.maxParticipants > 0 && len(r.participants) >= r.maxParticipants {
		return protocol.NewError(protocol.CodeRoomFull, "room %s is full (%d participants)", r.Name, r.maxParticipants)
	}
	if _, taken := r.byIdentity[p.Identity]; taken {
		return protocol.NewError(protocol.CodeInvalidRequest, "identity %s already present in room", p.Identity)
	}

	r.participants[p.Sid] = p
	r.byIdentity[p.Identity] = p.Sid
	return nil
}

// RemoveParticipant unregisters a participant by sid.
func (r *Room) RemoveParticipant(sid types.ParticipantID) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[sid]
	if !ok {
		return nil, false
	}
	delete(r.participants, sid)
	if r.byIdentity[p.Identity] == sid {
		delete(r.byIdentity, p.Identity)
	}
	return p, true
}

// Participant returns a member by sid.
func (r *Room) Participant(sid types.ParticipantID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[sid]
	return p, ok
}

// ParticipantByIdentity returns a member by identity.
func (r *Room) ParticipantByIdentity(identity types.Identity) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byIdentity[identity]
	if !ok {
		return nil, false
	}
	p, ok := r.participants[sid]
	return p, ok
}

// Snapshot returns the current members. Fan-out snapshots under the lock and
// writes after releasing it.
func (r *Room) Snapshot() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Empty reports whether the room has no members.
func (r *Room) Empty() bool {
	return r.NumParticipants() == 0
}

// Close deactivates the room and evicts every member. It returns the evicted
// participants so the caller can cascade adapter cleanup outside the lock.
func (r *Room) Close() []*Participant {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	evicted := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		evicted = append(evicted, p)
	}
	r.participants = make(map[types.ParticipantID]*Participant)
	r.byIdentity = make(map[types.Identity]types.ParticipantID)
	r.mu.Unlock()

	r.Calls.EndAll()
	r.Events.Emit(RoomEventClosed, r.Sid)
	return evicted
}
