package handlers

import (
	"context"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/fanout"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"go.uber.org/zap"
)

// JoinRoom validates the join credential and places the client in a room,
// creating the room lazily. A second
// connection with the same identity supersedes the first: the stale
// participant is fully reaped before the new one is admitted.
func (s *Service) JoinRoom(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.JoinRoomIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("joinRoom", "malformed payload")
	}

	sess := c.Session()
	if sess.Joined() {
		return protocol.NewError(protocol.CodeInvalidRequest, "already joined a room")
	}
	if !sess.Machine().Fire(session.EventConnect) {
		return protocol.NewError(protocol.CodeInvalidRequest, "join not valid in state %s", sess.State())
	}

	claims, aerr := s.Auth.ValidateToken(intent.Token)
	if aerr != nil {
		fireIfValid(sess, session.EventDisconnect)
		return protocol.NewError(protocol.CodeUnauthorized, "invalid join token")
	}
	roomName := types.RoomName(intent.Room)
	if !claims.AllowsRoom(intent.Room) {
		fireIfValid(sess, session.EventDisconnect)
		return protocol.NewError(protocol.CodeUnauthorized, "token does not grant access to room %s", roomName)
	}

	room, err := s.Rooms.GetOrCreate(ctx, roomName, nil)
	if err != nil {
		fireIfValid(sess, session.EventDisconnect)
		return err
	}

	identity := claims.Identity()
	if stale, ok := room.ParticipantByIdentity(identity); ok {
		logging.Info(ctx, "Superseding stale participant on rejoin",
			zap.String("identity", string(identity)), zap.String("room", string(room.Name)))
		if conn := stale.Conn(); conn != nil {
			conn.CloseWithReason("superseded by a new connection")
		}
		s.removeParticipant(ctx, room, stale)
	}

	md := claims.Metadata.Clone()
	if md == nil {
		md = types.Metadata{}
	}
	for k, v := range intent.Metadata {
		md[k] = v
	}

	p := domain.NewParticipant(s.PartID(), identity, claims.Name, md, claims.Permissions(), c, s.Clock.Now())
	if err := s.Rooms.Join(ctx, room, p); err != nil {
		fireIfValid(sess, session.EventDisconnect)
		return err
	}

	sess.Bind(room.Sid, p.Sid)
	sess.Machine().Fire(session.EventJoined)

	c.Send(protocol.RoomJoinedEvent{
		Type:              protocol.EventRoomJoined,
		Room:              roomInfo(room),
		Participant:       participantInfo(p),
		OtherParticipants: othersInfo(room, p.Sid),
	})
	fanout.Broadcast(ctx, room, protocol.ParticipantJoinedEvent{
		Type:        protocol.EventParticipantJoined,
		Participant: participantInfo(p),
	}, p.Sid)
	return nil
}

// LeaveRoom removes the client from its room, cascading calls and media.
func (s *Service) LeaveRoom(ctx context.Context, c ClientConn, f protocol.Frame) error {
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	s.removeParticipant(ctx, room, p)
	c.Session().Clear()
	fireIfValid(c.Session(), session.EventDisconnect)
	return nil
}

// UpdateMetadata replaces the participant's metadata and tells the room.
func (s *Service) UpdateMetadata(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.UpdateMetadataIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("updateMetadata", "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	p.SetMetadata(intent.Metadata)
	fanout.BroadcastAll(ctx, room, protocol.MetadataUpdatedEvent{
		Type:           protocol.EventMetadataUpdated,
		ParticipantSid: string(p.Sid),
		Metadata:       p.Metadata(),
	})
	return nil
}

// SyncState replays the authoritative room snapshot to the requester. Clients
// reconcile their mirror against it after a reconnect.
func (s *Service) SyncState(ctx context.Context, c ClientConn, f protocol.Frame) error {
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	c.Send(protocol.StateSyncedEvent{
		Type:              protocol.EventStateSynced,
		Room:              roomInfo(room),
		Participant:       participantInfo(p),
		OtherParticipants: othersInfo(room, p.Sid),
	})
	return nil
}

// OnDisconnect reaps the participant when its socket dies. A participant
// whose connection was already superseded is left alone.
func (s *Service) OnDisconnect(ctx context.Context, c ClientConn) {
	sess := c.Session()
	defer fireIfValid(sess, session.EventClose)

	if !sess.Joined() {
		return
	}
	room, ok := s.Rooms.Get(sess.RoomID())
	if !ok {
		sess.Clear()
		return
	}
	p, ok := room.Participant(sess.ParticipantID())
	if !ok || p.SocketID() != c.SocketID() {
		sess.Clear()
		return
	}

	s.removeParticipant(ctx, room, p)
	sess.Clear()
}

// removeParticipant is the single teardown path shared by leave, disconnect,
// and supersession: end the active call, cascade transports, drop consumers
// other members hold on this participant, then evict and announce.
func (s *Service) removeParticipant(ctx context.Context, room *domain.Room, p *domain.Participant) {
	if call, ok := room.Calls.EndActiveCallFor(p.Sid); ok {
		otherSid := call.CallerSid
		if otherSid == p.Sid {
			otherSid = call.TargetSid
		}
		if other, found := room.Participant(otherSid); found {
			fanout.Unicast(ctx, other, protocol.CallStateEvent{
				Type:   protocol.EventCallEnded,
				CallID: string(call.ID),
				Reason: "participant left",
			})
		}
	}

	adapter, hasAdapter := s.Media.Peek(room.Sid)
	if hasAdapter {
		for _, tid := range p.TransportIDs() {
			if err := adapter.CloseTransport(ctx, tid); err != nil {
				logging.Warn(ctx, "Failed to close transport while removing participant",
					zap.String("identity", string(p.Identity)), zap.String("transportId", tid), zap.Error(err))
			}
		}
	}

	for _, other := range room.Snapshot() {
		if other.Sid == p.Sid {
			continue
		}
		consumers := other.RemoveConsumers(p.Sid)
		for trackSid, consumerID := range consumers {
			if hasAdapter {
				_ = adapter.CloseConsumer(ctx, consumerID)
			}
			fanout.Unicast(ctx, other, protocol.TrackUnsubscribedEvent{
				Type:           protocol.EventTrackUnsubscribed,
				ParticipantSid: string(p.Sid),
				TrackSid:       string(trackSid),
			})
		}
	}

	s.Rooms.Leave(ctx, room, p.Sid)
	fanout.Broadcast(ctx, room, protocol.ParticipantLeftEvent{
		Type:           protocol.EventParticipantLeft,
		ParticipantSid: string(p.Sid),
	}, p.Sid)
	p.Detach()
}
