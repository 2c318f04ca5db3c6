// Package rooms owns the room lifecycle: lazy creation on join, the global
// identity index, grace-period cleanup of empty rooms, and the optional
// presence mirror in the state store.
package rooms

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/calls"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/metrics"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/store"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Config tunes the manager.
type Config struct {
	// MaxRooms caps concurrently active rooms. Zero means uncapped.
	MaxRooms int
	// MaxParticipantsPerRoom caps room membership. Zero means uncapped.
	MaxParticipantsPerRoom int
	// CleanupGrace is how long an empty room lingers before closing.
	// Default 30s.
	CleanupGrace time.Duration
	// CallOptions is the per-room call manager template.
	CallOptions calls.Options
	// Store, when set, mirrors room presence for external observers.
	Store store.Store
	// PresenceTTL bounds mirrored presence entries. Default 5m.
	PresenceTTL time.Duration
	// OnRoomClosed runs after a room is closed, whether by the grace-period
	// sweep or an explicit close. Callers cascade media teardown here.
	OnRoomClosed func(ctx context.Context, sid types.RoomID)

	Clock       clock.WithTickerAndDelayedExecution
	IDGenerator func() string
}

func (c *Config) withDefaults() {
	if c.CleanupGrace <= 0 {
		c.CleanupGrace = 30 * time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.IDGenerator == nil {
		c.IDGenerator = uuid.NewString
	}
}

type identityLocation struct {
	RoomSid        types.RoomID
	ParticipantSid types.ParticipantID
}

// Manager is the room registry. One lock guards the room map, the name
// index, the global identity index, and the pending cleanup timers.
type Manager struct {
	cfg Config

	mu              sync.RWMutex
	rooms           map[types.RoomID]*domain.Room
	byName          map[types.RoomName]types.RoomID
	identities      map[types.Identity]identityLocation
	pendingCleanups map[types.RoomID]clock.Timer
	gcCancels       map[types.RoomID]context.CancelFunc
	closed          bool
}

func NewManager(cfg Config) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:             cfg,
		rooms:           make(map[types.RoomID]*domain.Room),
		byName:          make(map[types.RoomName]types.RoomID),
		identities:      make(map[types.Identity]identityLocation),
		pendingCleanups: make(map[types.RoomID]clock.Timer),
		gcCancels:       make(map[types.RoomID]context.CancelFunc),
	}
}

// GetOrCreate returns the room with the given name, creating it lazily.
// Creation enforces the room cap.
func (m *Manager) GetOrCreate(ctx context.Context, name types.RoomName, metadata types.Metadata) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, protocol.NewError(protocol.CodeRoomNotFound, "server is shutting down")
	}
	if sid, ok := m.byName[name]; ok {
		return m.rooms[sid], nil
	}
	return m.createLocked(ctx, name, metadata)
}

// Create makes a new room, failing when the name is taken.
func (m *Manager) Create(ctx context.Context, name types.RoomName, metadata types.Metadata) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, protocol.NewError(protocol.CodeRoomNotFound, "server is shutting down")
	}
	if _, ok := m.byName[name]; ok {
		return nil, protocol.NewError(protocol.CodeRoomNameTaken, "room name %s already in use", name)
	}
	return m.createLocked(ctx, name, metadata)
}

func (m *Manager) createLocked(ctx context.Context, name types.RoomName, metadata types.Metadata) (*domain.Room, error) {
	if m.cfg.MaxRooms > 0 && len(m.rooms) >= m.cfg.MaxRooms {
		return nil, protocol.NewError(protocol.CodeRoomLimitReached, "room limit of %d reached", m.cfg.MaxRooms)
	}

	callOpts := m.cfg.CallOptions
	callOpts.Clock = m.cfg.Clock
	room := domain.NewRoom(
		types.RoomID(m.cfg.IDGenerator()),
		name,
		metadata,
		m.cfg.MaxParticipantsPerRoom,
		calls.NewManager(callOpts),
		m.cfg.Clock.Now(),
	)
	m.rooms[room.Sid] = room
	m.byName[name] = room.Sid
	metrics.ActiveRooms.Set(float64(len(m.rooms)))

	// per-room terminal-call GC, cancelled when the room closes
	gcCtx, cancel := context.WithCancel(context.Background())
	m.gcCancels[room.Sid] = cancel
	room.Calls.StartGC(gcCtx)

	logging.Info(ctx, "Room created",
		zap.String("room", string(name)), zap.String("roomSid", string(room.Sid)))
	return room, nil
}

// Get returns a room by sid.
func (m *Manager) Get(sid types.RoomID) (*domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[sid]
	return r, ok
}

// GetByName returns a room by name.
func (m *Manager) GetByName(name types.RoomName) (*domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sid, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	r, ok := m.rooms[sid]
	return r, ok
}

// Rooms returns a snapshot of all active rooms.
func (m *Manager) Rooms() []*domain.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Len returns the number of active rooms.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Join adds a participant to the room: cancels any pending cleanup, updates
// the global identity index last-write-wins, and mirrors presence.
func (m *Manager) Join(ctx context.Context, room *domain.Room, p *domain.Participant) error {
	if err := room.AddParticipant(p); err != nil {
		return err
	}

	m.mu.Lock()
	if timer, ok := m.pendingCleanups[room.Sid]; ok {
		timer.Stop()
		delete(m.pendingCleanups, room.Sid)
	}
	m.identities[p.Identity] = identityLocation{RoomSid: room.Sid, ParticipantSid: p.Sid}
	m.mu.Unlock()

	metrics.RoomParticipants.WithLabelValues(string(room.Name)).Set(float64(room.NumParticipants()))
	m.mirrorPresence(ctx, room)
	room.Events.Emit(domain.RoomEventParticipantAdded, p)
	return nil
}

// Leave removes a participant and schedules cleanup when the room empties.
// The identity index entry is deleted only if it still points at this
// participant, so a reconnect that re-registered first is not clobbered.
func (m *Manager) Leave(ctx context.Context, room *domain.Room, sid types.ParticipantID) (*domain.Participant, bool) {
	p, ok := room.RemoveParticipant(sid)
	if !ok {
		return nil, false
	}

	m.mu.Lock()
	if loc, found := m.identities[p.Identity]; found && loc.ParticipantSid == sid {
		delete(m.identities, p.Identity)
	}
	m.mu.Unlock()

	metrics.RoomParticipants.WithLabelValues(string(room.Name)).Set(float64(room.NumParticipants()))
	m.mirrorPresence(ctx, room)
	room.Events.Emit(domain.RoomEventParticipantRemoved, p)

	if room.Empty() {
		m.scheduleCleanup(room)
	}
	return p, true
}

// LookupIdentity resolves an identity to its current room and participant.
func (m *Manager) LookupIdentity(identity types.Identity) (types.RoomID, types.ParticipantID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.identities[identity]
	return loc.RoomSid, loc.ParticipantSid, ok
}

// scheduleCleanup closes the room after the grace period unless someone
// joins first. Pending timers are replaced, not stacked.
func (m *Manager) scheduleCleanup(room *domain.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if timer, ok := m.pendingCleanups[room.Sid]; ok {
		timer.Stop()
	}
	m.pendingCleanups[room.Sid] = m.cfg.Clock.AfterFunc(m.cfg.CleanupGrace, func() {
		m.cleanupIfEmpty(room.Sid)
	})
}

func (m *Manager) cleanupIfEmpty(sid types.RoomID) {
	ctx := context.Background()
	m.mu.Lock()
	delete(m.pendingCleanups, sid)
	room, ok := m.rooms[sid]
	if !ok || !room.Empty() {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, sid)
	delete(m.byName, room.Name)
	m.cancelCallGCLocked(sid)
	metrics.ActiveRooms.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	room.Close()
	metrics.RoomParticipants.DeleteLabelValues(string(room.Name))
	m.deletePresence(ctx, room)
	if m.cfg.OnRoomClosed != nil {
		m.cfg.OnRoomClosed(ctx, sid)
	}
	logging.Info(ctx, "Closed empty room after grace period",
		zap.String("room", string(room.Name)), zap.String("roomSid", string(sid)))
}

func (m *Manager) cancelCallGCLocked(sid types.RoomID) {
	if cancel, ok := m.gcCancels[sid]; ok {
		cancel()
		delete(m.gcCancels, sid)
	}
}

// CloseRoom force-closes a room immediately and returns the evicted
// participants so the caller can cascade media cleanup.
func (m *Manager) CloseRoom(ctx context.Context, sid types.RoomID) ([]*domain.Participant, bool) {
	m.mu.Lock()
	room, ok := m.rooms[sid]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.rooms, sid)
	delete(m.byName, room.Name)
	if timer, tok := m.pendingCleanups[sid]; tok {
		timer.Stop()
		delete(m.pendingCleanups, sid)
	}
	m.cancelCallGCLocked(sid)
	metrics.ActiveRooms.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	evicted := room.Close()
	for _, p := range evicted {
		m.mu.Lock()
		if loc, found := m.identities[p.Identity]; found && loc.ParticipantSid == p.Sid {
			delete(m.identities, p.Identity)
		}
		m.mu.Unlock()
	}
	metrics.RoomParticipants.DeleteLabelValues(string(room.Name))
	m.deletePresence(ctx, room)
	if m.cfg.OnRoomClosed != nil {
		m.cfg.OnRoomClosed(ctx, sid)
	}
	return evicted, true
}

// CloseAll shuts every room down. Used on server shutdown.
func (m *Manager) CloseAll(ctx context.Context) [][]*domain.Participant {
	m.mu.Lock()
	m.closed = true
	sids := make([]types.RoomID, 0, len(m.rooms))
	for sid := range m.rooms {
		sids = append(sids, sid)
	}
	m.mu.Unlock()

	var all [][]*domain.Participant
	for _, sid := range sids {
		if evicted, ok := m.CloseRoom(ctx, sid); ok {
			all = append(all, evicted)
		}
	}
	return all
}

// presenceRecord is the mirrored room state written to the store.
type presenceRecord struct {
	RoomSid      string `json:"roomSid"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func presenceKey(name types.RoomName) string {
	return "presence:room:" + string(name)
}

// mirrorPresence is best-effort: a sick store never blocks signaling.
func (m *Manager) mirrorPresence(ctx context.Context, room *domain.Room) {
	if m.cfg.Store == nil {
		return
	}
	rec := presenceRecord{
		RoomSid:      string(room.Sid),
		Name:         string(room.Name),
		Participants: room.NumParticipants(),
		UpdatedAt:    m.cfg.Clock.Now().Unix(),
	}
	raw, _ := json.Marshal(rec)
	if err := m.cfg.Store.Set(ctx, presenceKey(room.Name), string(raw), m.cfg.PresenceTTL); err != nil {
		logging.Warn(ctx, "Failed to mirror room presence",
			zap.String("room", string(room.Name)),
			zap.String("participants", strconv.Itoa(rec.Participants)),
			zap.Error(err))
	}
}

func (m *Manager) deletePresence(ctx context.Context, room *domain.Room) {
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.Delete(ctx, presenceKey(room.Name)); err != nil {
		logging.Warn(ctx, "Failed to delete room presence",
			zap.String("room", string(room.Name)), zap.Error(err))
	}
}
