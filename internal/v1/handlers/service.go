// Package handlers implements the intent handlers behind the signaling
// socket. Each handler decodes its payload, mutates domain state, drives the
// media adapter, and fans events out to the room. Room locks are never held
// across adapter calls.
package handlers

import (
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/media"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/rooms"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// ClientConn is the slice of a signaling connection the handlers need.
// *transport.Client satisfies it; tests substitute a fake.
type ClientConn interface {
	domain.Conn
	Session() *session.Session
	Send(event any) bool
	SendError(err *protocol.Error)
}

// Service carries the dependencies every handler needs.
type Service struct {
	Rooms *rooms.Manager
	Media *media.Registry
	Auth  auth.TokenValidator

	Clock  clock.Clock
	PartID func() types.ParticipantID
}

// NewService wires a Service with real id generators and clock.
func NewService(roomMgr *rooms.Manager, mediaReg *media.Registry, tokens auth.TokenValidator) *Service {
	return &Service{
		Rooms:  roomMgr,
		Media:  mediaReg,
		Auth:   tokens,
		Clock:  clock.RealClock{},
		PartID: func() types.ParticipantID { return types.ParticipantID(uuid.NewString()) },
	}
}

// joined resolves the client's current room and participant, failing when
// the session is not bound.
func (s *Service) joined(c ClientConn) (*domain.Room, *domain.Participant, *protocol.Error) {
	sess := c.Session()
	if !sess.Joined() {
		return nil, nil, protocol.NewError(protocol.CodeRoomNotFound, "not joined to a room")
	}
	room, ok := s.Rooms.Get(sess.RoomID())
	if !ok {
		return nil, nil, protocol.NewError(protocol.CodeRoomNotFound, "room no longer exists")
	}
	p, ok := room.Participant(sess.ParticipantID())
	if !ok {
		return nil, nil, protocol.NewError(protocol.CodeParticipantNotFound, "participant no longer in room")
	}
	return room, p, nil
}

// --- wire conversions ---

func trackInfo(t *domain.Track) protocol.TrackInfo {
	return protocol.TrackInfo{
		Sid:       string(t.Sid),
		Kind:      t.Kind,
		Source:    t.Source,
		Muted:     t.Muted,
		Width:     t.Width,
		Height:    t.Height,
		Simulcast: t.Simulcast,
	}
}

func participantInfo(p *domain.Participant) protocol.ParticipantInfo {
	tracks := p.Tracks()
	infos := make([]protocol.TrackInfo, 0, len(tracks))
	for _, t := range tracks {
		infos = append(infos, trackInfo(t))
	}
	return protocol.ParticipantInfo{
		Sid:         string(p.Sid),
		Identity:    string(p.Identity),
		DisplayName: p.DisplayName(),
		Metadata:    p.Metadata(),
		Tracks:      infos,
	}
}

func roomInfo(r *domain.Room) protocol.RoomInfo {
	return protocol.RoomInfo{
		Sid:             string(r.Sid),
		Name:            string(r.Name),
		Metadata:        r.Metadata(),
		MaxParticipants: r.MaxParticipants(),
		CreationTime:    r.CreationTime.Unix(),
		NumParticipants: r.NumParticipants(),
	}
}

func othersInfo(room *domain.Room, exclude types.ParticipantID) []protocol.ParticipantInfo {
	members := room.Snapshot()
	out := make([]protocol.ParticipantInfo, 0, len(members))
	for _, m := range members {
		if m.Sid == exclude {
			continue
		}
		out = append(out, participantInfo(m))
	}
	return out
}

// fireIfValid applies a session event, tolerating already-advanced states
// during races between disconnect paths.
func fireIfValid(sess *session.Session, event session.Event) {
	if sess.Machine().CanFire(event) {
		sess.Machine().Fire(event)
	}
}
