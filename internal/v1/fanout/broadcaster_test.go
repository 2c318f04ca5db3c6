package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/calls"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	socketID    types.SocketID
	full        bool
	sent        [][]byte
	closeReason string
}

func (c *fakeConn) SocketID() types.SocketID { return c.socketID }
func (c *fakeConn) Enqueue(data []byte) bool {
	if c.full {
		return false
	}
	c.sent = append(c.sent, data)
	return true
}
func (c *fakeConn) CloseWithReason(reason string) { c.closeReason = reason }

func addMember(t *testing.T, room *domain.Room, sid, identity string, conn domain.Conn) *domain.Participant {
	t.Helper()
	p := domain.NewParticipant(
		types.ParticipantID(sid), types.Identity(identity), identity,
		nil, types.Permissions{}, conn, time.Now(),
	)
	require.NoError(t, room.AddParticipant(p))
	return p
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	room := domain.NewRoom("r1", "standup", nil, 0, calls.NewManager(calls.Options{}), time.Now())
	alice := &fakeConn{socketID: "s1"}
	bob := &fakeConn{socketID: "s2"}
	a := addMember(t, room, "p1", "alice", alice)
	addMember(t, room, "p2", "bob", bob)

	Broadcast(context.Background(), room, protocol.ParticipantLeftEvent{
		Type: protocol.EventParticipantLeft, ParticipantSid: "p3",
	}, a.Sid)

	assert.Empty(t, alice.sent)
	require.Len(t, bob.sent, 1)

	var env struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(bob.sent[0], &env))
	assert.Equal(t, protocol.EventParticipantLeft, env.Type)
}

func TestBroadcastAllIncludesEveryone(t *testing.T) {
	room := domain.NewRoom("r1", "standup", nil, 0, calls.NewManager(calls.Options{}), time.Now())
	alice := &fakeConn{socketID: "s1"}
	bob := &fakeConn{socketID: "s2"}
	addMember(t, room, "p1", "alice", alice)
	addMember(t, room, "p2", "bob", bob)

	BroadcastAll(context.Background(), room, protocol.MetadataUpdatedEvent{
		Type: protocol.EventMetadataUpdated, ParticipantSid: "p1",
	})

	assert.Len(t, alice.sent, 1)
	assert.Len(t, bob.sent, 1)
}

func TestBroadcastClosesSlowConsumer(t *testing.T) {
	room := domain.NewRoom("r1", "standup", nil, 0, calls.NewManager(calls.Options{}), time.Now())
	slow := &fakeConn{socketID: "s1", full: true}
	fast := &fakeConn{socketID: "s2"}
	addMember(t, room, "p1", "alice", slow)
	addMember(t, room, "p2", "bob", fast)

	BroadcastAll(context.Background(), room, protocol.ParticipantLeftEvent{
		Type: protocol.EventParticipantLeft, ParticipantSid: "p3",
	})

	assert.Equal(t, SlowConsumerReason, slow.closeReason)
	assert.Empty(t, fast.closeReason)
	assert.Len(t, fast.sent, 1)
}

func TestBroadcastSkipsDetachedParticipants(t *testing.T) {
	room := domain.NewRoom("r1", "standup", nil, 0, calls.NewManager(calls.Options{}), time.Now())
	p := addMember(t, room, "p1", "alice", &fakeConn{socketID: "s1"})
	p.Detach()

	// must not panic on a nil connection
	BroadcastAll(context.Background(), room, protocol.ParticipantLeftEvent{
		Type: protocol.EventParticipantLeft, ParticipantSid: "p2",
	})
}

func TestUnicast(t *testing.T) {
	room := domain.NewRoom("r1", "standup", nil, 0, calls.NewManager(calls.Options{}), time.Now())
	conn := &fakeConn{socketID: "s1"}
	p := addMember(t, room, "p1", "alice", conn)

	ok := Unicast(context.Background(), p, protocol.CallStateEvent{
		Type: protocol.EventCallEnded, CallID: "c1",
	})
	assert.True(t, ok)
	assert.Len(t, conn.sent, 1)

	conn.full = true
	ok = Unicast(context.Background(), p, protocol.CallStateEvent{
		Type: protocol.EventCallEnded, CallID: "c2",
	})
	assert.False(t, ok)
	assert.Equal(t, SlowConsumerReason, conn.closeReason)

	p.Detach()
	assert.False(t, Unicast(context.Background(), p, protocol.CallStateEvent{Type: protocol.EventCallEnded}))
}
