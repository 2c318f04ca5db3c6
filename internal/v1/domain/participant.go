package domain

import (
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Conn is the narrow view of a signaling connection the domain needs:
// identity for fan-out exclusion, a non-blocking enqueue, and a kick switch.
// The transport package provides the implementation.
type Conn interface {
	SocketID() types.SocketID
	// Enqueue appends a frame to the outbound queue without blocking.
	// It returns false when the queue is full or the connection is closed.
	Enqueue(data []byte) bool
	// CloseWithReason force-closes the connection.
	CloseWithReason(reason string)
}

// Participant is one member of a room. Membership maps are guarded by the
// room lock; the participant's own fields are guarded by its mutex so the
// owning connection and room cascades can both touch them safely.
type Participant struct {
	Sid      types.ParticipantID
	Identity types.Identity
	JoinedAt time.Time

	mu          sync.RWMutex
	displayName string
	metadata    types.Metadata
	state       session.State
	permissions types.Permissions
	conn        Conn

	tracks      map[types.TrackID]*Track
	producerIDs map[types.TrackID]string
	// consumerIDs maps source-participant sid to the consumer ids created
	// for that participant's tracks, keyed by track sid.
	consumerIDs map[types.ParticipantID]map[types.TrackID]string

	sendTransportID string
	recvTransportID string

	Events *Emitter
}

// NewParticipant builds a joined participant bound to its connection.
func NewParticipant(sid types.ParticipantID, identity types.Identity, displayName string, md types.Metadata, perms types.Permissions, conn Conn, now time.Time) *Participant {
	return &Participant{
		Sid:         sid,
		Identity:    identity,
		JoinedAt:    now,
		displayName: displayName,
		metadata:    md.Clone(),
		state:       session.StateConnected,
		permissions: perms,
		conn:        conn,
		tracks:      make(map[types.TrackID]*Track),
		producerIDs: make(map[types.TrackID]string),
		consumerIDs: make(map[types.ParticipantID]map[types.TrackID]string),
		Events:      NewEmitter(),
	}
}

func (p *Participant) DisplayName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.displayName
}

func (p *Participant) Metadata() types.Metadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata.Clone()
}

func (p *Participant) SetMetadata(md types.Metadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata = md.Clone()
}

func (p *Participant) State() session.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Participant) SetState(s session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *Participant) Permissions() types.Permissions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.permissions
}

// Conn returns the connection handle, nil after Detach.
func (p *Participant) Conn() Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

// Detach unbinds the connection, e.g. when the socket dies before the
// participant is reaped.
func (p *Participant) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = nil
}

// SocketID returns the owning connection's socket id, empty when detached.
func (p *Participant) SocketID() types.SocketID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.conn == nil {
		return ""
	}
	return p.conn.SocketID()
}

// --- transports ---

func (p *Participant) SendTransportID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sendTransportID
}

func (p *Participant) SetSendTransportID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendTransportID = id
}

func (p *Participant) RecvTransportID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recvTransportID
}

func (p *Participant) SetRecvTransportID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recvTransportID = id
}

// TransportIDs returns both transport ids for cascade cleanup.
func (p *Participant) TransportIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	if p.sendTransportID != "" {
		ids = append(ids, p.sendTransportID)
	}
	if p.recvTransportID != "" {
		ids = append(ids, p.recvTransportID)
	}
	return ids
}

// --- tracks ---

// PublishTrack installs a track and its producer id. If a track with the
// same (source, kind) already exists, latest-publish-wins: the older track
// is removed and returned with its producer id so the caller can close it.
func (p *Participant) PublishTrack(t *Track, producerID string) (replaced *Track, replacedProducerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sid, existing := range p.tracks {
		if existing.Source == t.Source && existing.Kind == t.Kind {
			replaced = existing
			replacedProducerID = p.producerIDs[sid]
			delete(p.tracks, sid)
			delete(p.producerIDs, sid)
			break
		}
	}
	p.tracks[t.Sid] = t
	p.producerIDs[t.Sid] = producerID
	return replaced, replacedProducerID
}

// UnpublishTrack removes a track by sid, returning it and its producer id.
func (p *Participant) UnpublishTrack(sid types.TrackID) (*Track, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[sid]
	if !ok {
		return nil, "", false
	}
	producerID := p.producerIDs[sid]
	delete(p.tracks, sid)
	delete(p.producerIDs, sid)
	return t, producerID, true
}

// TrackBySource finds the unique track for a source.
func (p *Participant) TrackBySource(source types.TrackSource) (*Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.tracks {
		if t.Source == source {
			return t, true
		}
	}
	return nil, false
}

// Track returns a track by sid.
func (p *Participant) Track(sid types.TrackID) (*Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tracks[sid]
	return t, ok
}

// SetTrackMuted toggles the muted bit. The bool result is false when the
// track does not exist.
func (p *Participant) SetTrackMuted(sid types.TrackID, muted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[sid]
	if !ok {
		return false
	}
	t.Muted = muted
	return true
}

// Tracks snapshots the current track set.
func (p *Participant) Tracks() []*Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Track, 0, len(p.tracks))
	for _, t := range p.tracks {
		copied := *t
		out = append(out, &copied)
	}
	return out
}

// ProducerID returns the engine producer id backing a track.
func (p *Participant) ProducerID(sid types.TrackID) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.producerIDs[sid]
	return id, ok
}

// --- consumers ---

// AddConsumer records a consumer created for a source participant's track.
func (p *Participant) AddConsumer(source types.ParticipantID, trackSid types.TrackID, consumerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumerIDs[source] == nil {
		p.consumerIDs[source] = make(map[types.TrackID]string)
	}
	p.consumerIDs[source][trackSid] = consumerID
}

// RemoveConsumers drops and returns all consumer ids recorded for a source
// participant, keyed by track sid.
func (p *Participant) RemoveConsumers(source types.ParticipantID) map[types.TrackID]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	consumers := p.consumerIDs[source]
	delete(p.consumerIDs, source)
	return consumers
}

// RemoveConsumerForTrack drops the consumer recorded for one track of a
// source participant, if any.
func (p *Participant) RemoveConsumerForTrack(source types.ParticipantID, trackSid types.TrackID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.consumerIDs[source]
	if !ok {
		return "", false
	}
	id, ok := m[trackSid]
	if !ok {
		return "", false
	}
	delete(m, trackSid)
	if len(m) == 0 {
		delete(p.consumerIDs, source)
	}
	return id, true
}

// Consumers snapshots every recorded consumer id.
func (p *Participant) Consumers() map[types.ParticipantID]map[types.TrackID]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[types.ParticipantID]map[types.TrackID]string, len(p.consumerIDs))
	for source, m := range p.consumerIDs {
		inner := make(map[types.TrackID]string, len(m))
		for sid, id := range m {
			inner[sid] = id
		}
		out[source] = inner
	}
	return out
}
