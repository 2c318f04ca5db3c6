package domain

import (
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/calls"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(maxParticipants int) *Room {
	return NewRoom("room-sid", "standup", nil, maxParticipants, calls.NewManager(calls.Options{}), time.Now())
}

func newTestParticipant(sid, identity string) *Participant {
	return NewParticipant(
		types.ParticipantID(sid),
		types.Identity(identity),
		identity,
		nil,
		types.Permissions{MayPublish: true, MaySubscribe: true, MayPublishData: true},
		nil,
		time.Now(),
	)
}

func TestAddRemoveParticipant(t *testing.T) {
	room := newTestRoom(0)
	p := newTestParticipant("p1", "alice")

	require.NoError(t, room.AddParticipant(p))
	assert.Equal(t, 1, room.NumParticipants())
	assert.False(t, room.Empty())

	got, ok := room.Participant("p1")
	require.True(t, ok)
	assert.Equal(t, p, got)

	byID, ok := room.ParticipantByIdentity("alice")
	require.True(t, ok)
	assert.Equal(t, p, byID)

	removed, ok := room.RemoveParticipant("p1")
	require.True(t, ok)
	assert.Equal(t, p, removed)
	assert.True(t, room.Empty())

	_, ok = room.RemoveParticipant("p1")
	assert.False(t, ok)
}

func TestAddParticipant_Capacity(t *testing.T) {
	room := newTestRoom(1)
	require.NoError(t, room.AddParticipant(newTestParticipant("p1", "alice")))

	err := room.AddParticipant(newTestParticipant("p2", "bob"))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeRoomFull, err.(*protocol.Error).Code)
}

func TestAddParticipant_IdentityUnique(t *testing.T) {
	room := newTestRoom(0)
	require.NoError(t, room.AddParticipant(newTestParticipant("p1", "alice")))

	err := room.AddParticipant(newTestParticipant("p2", "alice"))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeInvalidRequest, err.(*protocol.Error).Code)

	// removing the first frees the identity
	room.RemoveParticipant("p1")
	assert.NoError(t, room.AddParticipant(newTestParticipant("p2", "alice")))
}

func TestRoomClose(t *testing.T) {
	room := newTestRoom(0)
	room.AddParticipant(newTestParticipant("p1", "alice"))
	room.AddParticipant(newTestParticipant("p2", "bob"))
	room.Calls.Start("p1", "p2", nil)

	var closedPayload any
	room.Events.On(RoomEventClosed, func(payload any) { closedPayload = payload })

	evicted := room.Close()
	assert.Len(t, evicted, 2)
	assert.False(t, room.Active())
	assert.True(t, room.Empty())
	assert.Equal(t, room.Sid, closedPayload)

	_, ok := room.Calls.GetActiveCallForParticipant("p1")
	assert.False(t, ok)

	// closing twice is a no-op
	assert.Nil(t, room.Close())

	err := room.AddParticipant(newTestParticipant("p3", "carol"))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeRoomNotFound, err.(*protocol.Error).Code)
}

func TestSnapshot(t *testing.T) {
	room := newTestRoom(0)
	room.AddParticipant(newTestParticipant("p1", "alice"))
	room.AddParticipant(newTestParticipant("p2", "bob"))

	snap := room.Snapshot()
	assert.Len(t, snap, 2)

	// mutating after snapshot does not affect the returned slice
	room.RemoveParticipant("p1")
	assert.Len(t, snap, 2)
}
