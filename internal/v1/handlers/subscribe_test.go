package handlers

import (
	"testing"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participantSid(t *testing.T, h *testHarness, room, identity string) string {
	t.Helper()
	r, ok := h.rooms.GetByName(types.RoomName(room))
	require.True(t, ok)
	p, ok := r.ParticipantByIdentity(types.Identity(identity))
	require.True(t, ok)
	return string(p.Sid)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")
	camSid := enableCamera(t, h, alice)
	require.NoError(t, h.svc.EnableMicrophone(t.Context(), alice, frame(t, `{"type":"enableMicrophone"}`)))

	aliceSid := participantSid(t, h, "standup", "alice")
	err := h.svc.Subscribe(t.Context(), bob, frame(t,
		`{"type":"subscribeToParticipant","participantSid":"`+aliceSid+`"}`))
	require.NoError(t, err)

	// the recv transport is announced before any consumer
	var created protocol.TransportCreatedEvent
	bob.lastEvent(t, protocol.EventTransportCreated, &created)
	assert.Equal(t, "recv", created.Direction)

	assert.Equal(t, 2, bob.countEvents(t, protocol.EventTrackSubscribed))
	var sub protocol.TrackSubscribedEvent
	bob.lastEvent(t, protocol.EventTrackSubscribed, &sub)
	assert.Equal(t, aliceSid, sub.ParticipantSid)
	assert.NotEmpty(t, sub.ConsumerID)

	// a repeat subscribe is a no-op for already-consumed tracks
	require.NoError(t, h.svc.Subscribe(t.Context(), bob, frame(t,
		`{"type":"subscribeToParticipant","participantSid":"`+aliceSid+`"}`)))
	assert.Equal(t, 2, bob.countEvents(t, protocol.EventTrackSubscribed))

	_ = camSid
}

func TestSubscribe_Denied(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", &auth.VideoGrant{RoomJoin: true, CanPublish: true})
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	aliceSid := participantSid(t, h, "standup", "alice")
	err := h.svc.Subscribe(t.Context(), bob, frame(t,
		`{"type":"subscribeToParticipant","participantSid":"`+aliceSid+`"}`))
	require.Error(t, err)
	assert.Equal(t, protocol.CodePermissionDenied, err.(*protocol.Error).Code)
}

func TestSubscribe_SelfRejected(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	h.join(t, alice, "standup")

	sid := participantSid(t, h, "standup", "alice")
	err := h.svc.Subscribe(t.Context(), alice, frame(t,
		`{"type":"subscribeToParticipant","participantSid":"`+sid+`"}`))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeInvalidRequest, err.(*protocol.Error).Code)
}

func TestSubscribe_CodecMismatchReportedPerTrack(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")
	enableCamera(t, h, alice)

	aliceSid := participantSid(t, h, "standup", "alice")
	// capabilities with no codecs fail the consume gate
	err := h.svc.Subscribe(t.Context(), bob, frame(t,
		`{"type":"subscribeToParticipant","participantSid":"`+aliceSid+`","rtpCapabilities":{"codecs":[]}}`))
	require.NoError(t, err)

	assert.Zero(t, bob.countEvents(t, protocol.EventTrackSubscribed))
	require.Len(t, bob.errs, 1)
	assert.Equal(t, protocol.CodeMediaError, bob.errs[0].Code)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")
	camSid := enableCamera(t, h, alice)

	aliceSid := participantSid(t, h, "standup", "alice")
	require.NoError(t, h.svc.Subscribe(t.Context(), bob, frame(t,
		`{"type":"subscribeToParticipant","participantSid":"`+aliceSid+`"}`)))

	require.NoError(t, h.svc.Unsubscribe(t.Context(), bob, frame(t,
		`{"type":"unsubscribeFromParticipant","participantSid":"`+aliceSid+`"}`)))

	var ev protocol.TrackUnsubscribedEvent
	bob.lastEvent(t, protocol.EventTrackUnsubscribed, &ev)
	assert.Equal(t, camSid, ev.TrackSid)

	// unsubscribing with nothing held is a silent no-op
	require.NoError(t, h.svc.Unsubscribe(t.Context(), bob, frame(t,
		`{"type":"unsubscribeFromParticipant","participantSid":"`+aliceSid+`"}`)))
	assert.Equal(t, 1, bob.countEvents(t, protocol.EventTrackUnsubscribed))
}

func TestConnectTransport(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	h.join(t, alice, "standup")
	enableCamera(t, h, alice)

	var created protocol.TransportCreatedEvent
	alice.lastEvent(t, protocol.EventTransportCreated, &created)

	err := h.svc.ConnectTransport(t.Context(), alice, frame(t,
		`{"type":"connectTransport","transportId":"`+created.TransportID+`","dtlsParameters":{"role":"client"}}`))
	require.NoError(t, err)

	var connected protocol.TransportConnectedEvent
	alice.lastEvent(t, protocol.EventTransportConnected, &connected)
	assert.Equal(t, created.TransportID, connected.TransportID)
}

func TestConnectTransport_ForeignTransportDenied(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")
	enableCamera(t, h, alice)

	var created protocol.TransportCreatedEvent
	alice.lastEvent(t, protocol.EventTransportCreated, &created)

	err := h.svc.ConnectTransport(t.Context(), bob, frame(t,
		`{"type":"connectTransport","transportId":"`+created.TransportID+`","dtlsParameters":{"role":"client"}}`))
	require.Error(t, err)
	assert.Equal(t, protocol.CodePermissionDenied, err.(*protocol.Error).Code)
}

func TestSendData(t *testing.T) {
	h := newHarness(t)
	alice := newMockClient("s1", "alice", nil)
	bob := newMockClient("s2", "bob", nil)
	h.join(t, alice, "standup")
	h.join(t, bob, "standup")

	err := h.svc.SendData(t.Context(), alice, frame(t,
		`{"type":"sendData","payload":{"msg":"hi"},"kind":"reliable"}`))
	require.NoError(t, err)

	var ev protocol.DataReceivedEvent
	bob.lastEvent(t, protocol.EventDataReceived, &ev)
	assert.JSONEq(t, `{"msg":"hi"}`, string(ev.Payload))
	assert.Equal(t, types.DataKindReliable, ev.Kind)
	// the sender is excluded from the fanout
	assert.Zero(t, alice.countEvents(t, protocol.EventDataReceived))
}

func TestSendData_Denied(t *testing.T) {
	h := newHarness(t)
	c := newMockClient("s1", "alice", &auth.VideoGrant{RoomJoin: true, CanPublish: true, CanSubscribe: true})
	h.join(t, c, "standup")

	err := h.svc.SendData(t.Context(), c, frame(t,
		`{"type":"sendData","payload":{"msg":"hi"},"kind":"reliable"}`))
	require.Error(t, err)
	assert.Equal(t, protocol.CodePermissionDenied, err.(*protocol.Error).Code)
}
