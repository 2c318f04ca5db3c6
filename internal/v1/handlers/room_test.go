package handlers

import (
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRoom(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)

	h.join(t, alice, "standup")

	assert.Equal(t, session.StateConnected, alice.session.State())
	assert.True(t, alice.session.Joined())

	var joined protocol.RoomJoinedEvent
	alice.lastEvent(t, protocol.EventRoomJoined, &joined)
	assert.Equal(t, "standup", joined.Room.Name)
	assert.Equal(t, "alice", joined.Participant.Identity)
	assert.Empty(t, joined.OtherParticipants)

	room, ok := h.rooms.GetByName("standup")
	require.True(t, ok)
	assert.Equal(t, 1, room.NumParticipants())
}

func TestJoinRoom_SecondMemberAnnounced(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	var joined protocol.RoomJoinedEvent
	bob.lastEvent(t, protocol.EventRoomJoined, &joined)
	require.Len(t, joined.OtherParticipants, 1)
	assert.Equal(t, "alice", joined.OtherParticipants[0].Identity)

	var announce protocol.ParticipantJoinedEvent
	alice.lastEvent(t, protocol.EventParticipantJoined, &announce)
	assert.Equal(t, "bob", announce.Participant.Identity)
	// the joiner does not hear its own announcement
	assert.Zero(t, bob.countEvents(t, protocol.EventParticipantJoined))
}

func TestJoinRoom_RoomGrantDenied(t *testing.T) {
	h := newHarness(t)
	c := newMockClient("s1", "alice", &auth.VideoGrant{RoomJoin: true, Room: "allowed"})

	err := h.svc.JoinRoom(t.Context(), c, h.joinFrame(t, c, "other"))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeUnauthorized, err.(*protocol.Error).Code)
	// the session rolls back so a permitted join can follow
	assert.Equal(t, session.StateIdle, c.session.State())

	err = h.svc.JoinRoom(t.Context(), c, h.joinFrame(t, c, "allowed"))
	assert.NoError(t, err)
}

func TestJoinRoom_InvalidTokenRejected(t *testing.T) {
	h := newHarness(t)
	c := newMockClient("s1", "alice", nil)

	err := h.svc.JoinRoom(t.Context(), c, frame(t,
		`{"type":"joinRoom","room":"standup","token":"not-a-jwt"}`))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeUnauthorized, err.(*protocol.Error).Code)
	assert.Equal(t, session.StateIdle, c.session.State())
	_, ok := h.rooms.GetByName("standup")
	assert.False(t, ok)
}

func TestJoinRoom_DoubleJoinRejected(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	h.join(t, alice, "standup")

	err := h.svc.JoinRoom(t.Context(), alice, h.joinFrame(t, alice, "standup"))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeInvalidRequest, err.(*protocol.Error).Code)
}

func TestJoinRoom_SupersedesStaleConnection(t *testing.T) {
	h := newHarness(t)
	stale := newMockClient("s1", "alice", nil)
	h.join(t, stale, "standup")

	fresh := newMockClient("s2", "alice", nil)
	h.join(t, fresh, "standup")

	assert.Equal(t, "superseded by a new connection", stale.closeReason)

	room, _ := h.rooms.GetByName("standup")
	assert.Equal(t, 1, room.NumParticipants())
	p, ok := room.ParticipantByIdentity("alice")
	require.True(t, ok)
	assert.Equal(t, fresh.socketID, p.SocketID())

	// the dead socket's disconnect must not reap the fresh participant
	h.svc.OnDisconnect(t.Context(), stale)
	assert.Equal(t, 1, room.NumParticipants())
}

func TestJoinRoom_MetadataMerge(t *testing.T) {
	h := newHarness(t)
	c := newMockClient("s1", "alice", nil)
	c.claims.Metadata = map[string]string{"team": "infra", "color": "blue"}

	err := h.svc.JoinRoom(t.Context(), c, frame(t,
		`{"type":"joinRoom","room":"standup","token":"`+h.token(t, c)+`","metadata":{"color":"red"}}`))
	require.NoError(t, err)

	room, _ := h.rooms.GetByName("standup")
	p, _ := room.ParticipantByIdentity("alice")
	md := p.Metadata()
	assert.Equal(t, "infra", md["team"])
	// intent metadata wins over token metadata
	assert.Equal(t, "red", md["color"])
}

func TestLeaveRoom(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	require.NoError(t, h.svc.LeaveRoom(t.Context(), alice, frame(t, `{"type":"leaveRoom"}`)))

	assert.False(t, alice.session.Joined())
	room, _ := h.rooms.GetByName("standup")
	assert.Equal(t, 1, room.NumParticipants())

	var left protocol.ParticipantLeftEvent
	bob.lastEvent(t, protocol.EventParticipantLeft, &left)
	assert.NotEmpty(t, left.ParticipantSid)
}

func TestLeaveRoom_NotJoined(t *testing.T) {
	h := newHarness(t)
	c := newMockClient("s1", "alice", nil)
	err := h.svc.LeaveRoom(t.Context(), c, frame(t, `{"type":"leaveRoom"}`))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeRoomNotFound, err.(*protocol.Error).Code)
}

func TestUpdateMetadata(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	err := h.svc.UpdateMetadata(t.Context(), alice, frame(t,
		`{"type":"updateMetadata","metadata":{"status":"away"}}`))
	require.NoError(t, err)

	// both sides observe the update, the originator included
	var ev protocol.MetadataUpdatedEvent
	alice.lastEvent(t, protocol.EventMetadataUpdated, &ev)
	assert.Equal(t, "away", ev.Metadata["status"])
	bob.lastEvent(t, protocol.EventMetadataUpdated, &ev)
	assert.Equal(t, "away", ev.Metadata["status"])
}

func TestSyncState(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	require.NoError(t, h.svc.SyncState(t.Context(), alice, frame(t, `{"type":"syncState"}`)))

	var ev protocol.StateSyncedEvent
	alice.lastEvent(t, protocol.EventStateSynced, &ev)
	assert.Equal(t, "alice", ev.Participant.Identity)
	require.Len(t, ev.OtherParticipants, 1)
	assert.Equal(t, "bob", ev.OtherParticipants[0].Identity)
}

func TestOnDisconnectReapsParticipant(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	h.svc.OnDisconnect(t.Context(), alice)

	assert.Equal(t, session.StateClosed, alice.session.State())
	room, _ := h.rooms.GetByName("standup")
	assert.Equal(t, 1, room.NumParticipants())
	assert.Equal(t, 1, bob.countEvents(t, protocol.EventParticipantLeft))
}

func TestEmptyRoomCloseCascadesMediaTeardown(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	h.join(t, alice, "standup")
	enableCamera(t, h, alice)

	room, ok := h.rooms.GetByName("standup")
	require.True(t, ok)
	_, hasAdapter := h.media.Peek(room.Sid)
	require.True(t, hasAdapter)

	require.NoError(t, h.svc.LeaveRoom(t.Context(), alice, frame(t, `{"type":"leaveRoom"}`)))
	// the adapter survives the grace period in case the room revives
	_, hasAdapter = h.media.Peek(room.Sid)
	assert.True(t, hasAdapter)

	h.clock.Step(31 * time.Second)
	assert.Eventually(t, func() bool {
		_, present := h.media.Peek(room.Sid)
		return !present
	}, time.Second, 10*time.Millisecond)
}
