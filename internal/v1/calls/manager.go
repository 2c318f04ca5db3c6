package calls

import (
	"context"
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// State is the lifecycle state of a call.
type State string

const (
	StatePending  State = "pending"
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
	StateEnded    State = "ended"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateEnded
}

// Call is one call between two participants.
type Call struct {
	ID        types.CallID
	CallerSid types.ParticipantID
	TargetSid types.ParticipantID
	State     State
	StartTime time.Time
	EndTime   time.Time
	Metadata  types.Metadata
}

// Clone returns a copy so callers never hold manager-owned state.
func (c *Call) Clone() *Call {
	cp := *c
	cp.Metadata = c.Metadata.Clone()
	return &cp
}

type pairKey struct{ a, b types.ParticipantID }

// newPairKey builds an unordered key so {p,q} and {q,p} collide.
func newPairKey(p, q types.ParticipantID) pairKey {
	if q < p {
		p, q = q, p
	}
	return pairKey{a: p, b: q}
}

// Options tune a Manager.
type Options struct {
	AllowMultipleCalls bool
	GCInterval         time.Duration // purge cadence for terminal calls
	GCMaxAge           time.Duration // terminal call retention
	Clock              clock.WithTicker
	IDGenerator        func() types.CallID
}

func (o *Options) withDefaults() {
	if o.GCInterval <= 0 {
		o.GCInterval = time.Hour
	}
	if o.GCMaxAge <= 0 {
		o.GCMaxAge = time.Hour
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.IDGenerator == nil {
		o.IDGenerator = func() types.CallID { return types.CallID(uuid.NewString()) }
	}
}

// Manager owns all calls in a room. Three indices are maintained under one
// lock: calls by id, active call by participant, and active call by
// unordered participant pair.
type Manager struct {
	mu            sync.Mutex
	calls         map[types.CallID]*Call
	byParticipant map[types.ParticipantID]types.CallID
	pairIndex     map[pairKey]types.CallID
	opts          Options
}

// NewManager creates an empty call manager.
func NewManager(opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		calls:         make(map[types.CallID]*Call),
		byParticipant: make(map[types.ParticipantID]types.CallID),
		pairIndex:     make(map[pairKey]types.CallID),
		opts:          opts,
	}
}

// Start creates a pending call. When multiple calls are disallowed, it
// rejects if either participant already has an active call; a non-terminal
// call between the same pair is always rejected.
func (m *Manager) Start(callerSid, targetSid types.ParticipantID, md types.Metadata) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := newPairKey(callerSid, targetSid)
	if _, exists := m.pairIndex[key]; exists {
		return nil, protocol.NewError(protocol.CodeCallAlreadyExists, "call already active between participants")
	}
	if !m.opts.AllowMultipleCalls {
		if _, busy := m.byParticipant[callerSid]; busy {
			return nil, protocol.NewError(protocol.CodeCallAlreadyExists, "caller already in a call")
		}
		if _, busy := m.byParticipant[targetSid]; busy {
			return nil, protocol.NewError(protocol.CodeCallAlreadyExists, "target already in a call")
		}
	}

	call := &Call{
		ID:        m.opts.IDGenerator(),
		CallerSid: callerSid,
		TargetSid: targetSid,
		State:     StatePending,
		StartTime: m.opts.Clock.Now(),
		Metadata:  md.Clone(),
	}
	m.calls[call.ID] = call
	m.byParticipant[callerSid] = call.ID
	m.byParticipant[targetSid] = call.ID
	m.pairIndex[key] = call.ID
	return call.Clone(), nil
}

// Accept moves a pending call to accepted. Only valid from pending.
func (m *Manager) Accept(id types.CallID) (*Call, error) {
	return m.transition(id, StateAccepted, false)
}

// Reject moves a pending call to rejected, a terminal state.
func (m *Manager) Reject(id types.CallID, reason string) (*Call, error) {
	return m.transition(id, StateRejected, false)
}

// End moves a pending or accepted call to ended, a terminal state.
func (m *Manager) End(id types.CallID, reason string) (*Call, error) {
	return m.transition(id, StateEnded, true)
}

func (m *Manager) transition(id types.CallID, next State, fromAccepted bool) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.calls[id]
	if !ok {
		return nil, protocol.NewError(protocol.CodeCallNotFound, "call %s not found", id)
	}
	valid := call.State == StatePending || (fromAccepted && call.State == StateAccepted)
	if !valid {
		return nil, protocol.NewError(protocol.CodeInvalidCallState, "call %s is %s", id, call.State)
	}

	call.State = next
	if next.Terminal() {
		call.EndTime = m.opts.Clock.Now()
		m.dropIndicesLocked(call)
	}
	return call.Clone(), nil
}

func (m *Manager) dropIndicesLocked(call *Call) {
	if m.byParticipant[call.CallerSid] == call.ID {
		delete(m.byParticipant, call.CallerSid)
	}
	if m.byParticipant[call.TargetSid] == call.ID {
		delete(m.byParticipant, call.TargetSid)
	}
	delete(m.pairIndex, newPairKey(call.CallerSid, call.TargetSid))
}

// Get returns a call by id.
func (m *Manager) Get(id types.CallID) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[id]
	if !ok {
		return nil, false
	}
	return call.Clone(), true
}

// GetActiveCallForParticipant returns the participant's non-terminal call.
func (m *Manager) GetActiveCallForParticipant(sid types.ParticipantID) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byParticipant[sid]
	if !ok {
		return nil, false
	}
	return m.calls[id].Clone(), true
}

// GetCallBetweenParticipants returns the non-terminal call between the
// unordered pair, if any.
func (m *Manager) GetCallBetweenParticipants(sid1, sid2 types.ParticipantID) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pairIndex[newPairKey(sid1, sid2)]
	if !ok {
		return nil, false
	}
	return m.calls[id].Clone(), true
}

// EndActiveCallFor ends the participant's active call, if any, and returns
// it for notification. Used when a participant leaves or disconnects.
func (m *Manager) EndActiveCallFor(sid types.ParticipantID) (*Call, bool) {
	m.mu.Lock()
	id, ok := m.byParticipant[sid]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	call, err := m.End(id, "participant left")
	if err != nil {
		return nil, false
	}
	return call, true
}

// EndAll terminates every non-terminal call, e.g. on room close.
func (m *Manager) EndAll() []*Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended []*Call
	for _, call := range m.calls {
		if call.State.Terminal() {
			continue
		}
		call.State = StateEnded
		call.EndTime = m.opts.Clock.Now()
		m.dropIndicesLocked(call)
		ended = append(ended, call.Clone())
	}
	return ended
}

// StartGC purges terminal calls older than the retention age at the
// configured interval until the context is cancelled.
func (m *Manager) StartGC(ctx context.Context) {
	ticker := m.opts.Clock.NewTicker(m.opts.GCInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.Sweep()
			}
		}
	}()
}

// Sweep removes terminal calls past the retention age. Exported so tests
// can drive it without the ticker.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.opts.Clock.Now().Add(-m.opts.GCMaxAge)
	removed := 0
	for id, call := range m.calls {
		if call.State.Terminal() && call.EndTime.Before(cutoff) {
			delete(m.calls, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Info(context.Background(), "Purged terminal calls", zap.Int("count", removed))
	}
}

// Len returns the number of retained calls, terminal included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
