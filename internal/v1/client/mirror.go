package client

import (
	"encoding/json"
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
)

// Mirror is the client-side copy of room state, updated from server events
// and reconciled against snapshots after reconnects.
type Mirror struct {
	mu     sync.RWMutex
	room   protocol.RoomInfo
	self   protocol.ParticipantInfo
	others map[string]protocol.ParticipantInfo
	policy Policy
}

func NewMirror(policy Policy) *Mirror {
	if policy == "" {
		policy = PolicyPreferServer
	}
	return &Mirror{
		others: make(map[string]protocol.ParticipantInfo),
		policy: policy,
	}
}

// Room returns the mirrored room info.
func (m *Mirror) Room() protocol.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.room
}

// Self returns the mirrored view of the local participant.
func (m *Mirror) Self() protocol.ParticipantInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// Others snapshots the remote participants.
func (m *Mirror) Others() []protocol.ParticipantInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.ParticipantInfo, 0, len(m.others))
	for _, p := range m.others {
		out = append(out, p)
	}
	return out
}

// Participant looks up a remote participant by sid.
func (m *Mirror) Participant(sid string) (protocol.ParticipantInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.others[sid]
	return p, ok
}

// Apply folds one server event into the mirror. Unknown event types are
// ignored so protocol additions never break older clients.
func (m *Mirror) Apply(eventType string, raw json.RawMessage) error {
	switch eventType {
	case protocol.EventRoomJoined:
		var ev protocol.RoomJoinedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.adopt(ev.Room, ev.Participant, ev.OtherParticipants)

	case protocol.EventStateSynced:
		var ev protocol.StateSyncedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.reconcileSnapshot(ev.Room, ev.Participant, ev.OtherParticipants)

	case protocol.EventParticipantJoined:
		var ev protocol.ParticipantJoinedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.mu.Lock()
		m.others[ev.Participant.Sid] = ev.Participant
		m.mu.Unlock()

	case protocol.EventParticipantLeft:
		var ev protocol.ParticipantLeftEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.mu.Lock()
		delete(m.others, ev.ParticipantSid)
		m.mu.Unlock()

	case protocol.EventMetadataUpdated:
		var ev protocol.MetadataUpdatedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.mu.Lock()
		if ev.ParticipantSid == m.self.Sid {
			m.self.Metadata = ev.Metadata
		} else if p, ok := m.others[ev.ParticipantSid]; ok {
			p.Metadata = ev.Metadata
			m.others[ev.ParticipantSid] = p
		}
		m.mu.Unlock()

	case protocol.EventTrackPublished:
		var ev protocol.TrackPublishedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.mu.Lock()
		if p, ok := m.others[ev.ParticipantSid]; ok {
			p.Tracks = upsertTrack(p.Tracks, ev.Track)
			m.others[ev.ParticipantSid] = p
		}
		m.mu.Unlock()

	case protocol.EventTrackUnpublished:
		var ev protocol.TrackUnpublishedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		m.mu.Lock()
		if p, ok := m.others[ev.ParticipantSid]; ok {
			p.Tracks = removeTrack(p.Tracks, ev.TrackSid)
			m.others[ev.ParticipantSid] = p
		}
		m.mu.Unlock()

	case protocol.EventTrackMuted, protocol.EventTrackUnmuted:
		var ev protocol.TrackMuteEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		muted := eventType == protocol.EventTrackMuted
		m.mu.Lock()
		if ev.ParticipantSid == m.self.Sid {
			m.self.Tracks = setTrackMuted(m.self.Tracks, ev.TrackSid, muted)
		} else if p, ok := m.others[ev.ParticipantSid]; ok {
			p.Tracks = setTrackMuted(p.Tracks, ev.TrackSid, muted)
			m.others[ev.ParticipantSid] = p
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *Mirror) adopt(room protocol.RoomInfo, self protocol.ParticipantInfo, others []protocol.ParticipantInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = room
	m.self = self
	m.others = make(map[string]protocol.ParticipantInfo, len(others))
	for _, p := range others {
		m.others[p.Sid] = p
	}
}

// reconcileSnapshot merges the authoritative snapshot into the local view
// per the configured policy and returns to a consistent state. The local
// participant reconciles like everyone else, so an optimistic track survives
// a merge even when the server pruned it during the disconnect.
func (m *Mirror) reconcileSnapshot(room protocol.RoomInfo, self protocol.ParticipantInfo, others []protocol.ParticipantInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	local := make([]protocol.ParticipantInfo, 0, len(m.others)+1)
	if m.self.Sid != "" {
		local = append(local, m.self)
	}
	for _, p := range m.others {
		local = append(local, p)
	}
	server := make([]protocol.ParticipantInfo, 0, len(others)+1)
	server = append(server, self)
	server = append(server, others...)
	resolved, _ := Reconcile(local, server, m.policy)

	m.room = room
	m.self = self
	m.others = make(map[string]protocol.ParticipantInfo, len(resolved))
	for _, p := range resolved {
		if p.Sid == self.Sid {
			m.self = p
			continue
		}
		m.others[p.Sid] = p
	}
}

// DiffAgainst computes the divergence between the mirror and a snapshot
// without applying it. Callers use it to surface what changed.
func (m *Mirror) DiffAgainst(server []protocol.ParticipantInfo) Diff {
	m.mu.RLock()
	local := make([]protocol.ParticipantInfo, 0, len(m.others))
	for _, p := range m.others {
		local = append(local, p)
	}
	m.mu.RUnlock()
	_, diff := Reconcile(local, server, m.policy)
	return diff
}

func upsertTrack(tracks []protocol.TrackInfo, t protocol.TrackInfo) []protocol.TrackInfo {
	for i, existing := range tracks {
		if existing.Sid == t.Sid {
			tracks[i] = t
			return tracks
		}
	}
	return append(tracks, t)
}

func removeTrack(tracks []protocol.TrackInfo, sid string) []protocol.TrackInfo {
	out := tracks[:0]
	for _, t := range tracks {
		if t.Sid != sid {
			out = append(out, t)
		}
	}
	return out
}

func setTrackMuted(tracks []protocol.TrackInfo, sid string, muted bool) []protocol.TrackInfo {
	for i, t := range tracks {
		if t.Sid == sid {
			tracks[i].Muted = muted
		}
	}
	return tracks
}
