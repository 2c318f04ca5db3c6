package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/media"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/rooms"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

// mockClient implements ClientConn for handler tests. Sent events are
// retained as raw frames so assertions can decode them.
type mockClient struct {
	socketID    types.SocketID
	claims      *auth.Claims
	session     *session.Session
	sent        [][]byte
	errs        []*protocol.Error
	closeReason string
	full        bool
}

func newMockClient(socketID, identity string, grant *auth.VideoGrant) *mockClient {
	return &mockClient{
		socketID: types.SocketID(socketID),
		claims:   claimsFor(identity, grant),
		session:  session.New(types.SocketID(socketID)),
	}
}

func claimsFor(identity string, grant *auth.VideoGrant) *auth.Claims {
	if grant == nil {
		grant = &auth.VideoGrant{RoomJoin: true, CanPublish: true, CanSubscribe: true, CanPublishData: true}
	}
	c := &auth.Claims{Name: identity, Video: grant}
	c.Subject = identity
	return c
}

func (m *mockClient) SocketID() types.SocketID  { return m.socketID }
func (m *mockClient) Session() *session.Session { return m.session }

func (m *mockClient) Enqueue(data []byte) bool {
	if m.full {
		return false
	}
	m.sent = append(m.sent, data)
	return true
}

func (m *mockClient) Send(event any) bool {
	data, err := protocol.Encode(event)
	if err != nil {
		return false
	}
	return m.Enqueue(data)
}

func (m *mockClient) SendError(err *protocol.Error) { m.errs = append(m.errs, err) }
func (m *mockClient) CloseWithReason(reason string) { m.closeReason = reason }

// eventTypes decodes the type tag of every frame the client received.
func (m *mockClient) eventTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, raw := range m.sent {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env.Type)
	}
	return out
}

// lastEvent decodes the most recent frame of the given type into v.
func (m *mockClient) lastEvent(t *testing.T, eventType string, v any) {
	t.Helper()
	for i := len(m.sent) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(m.sent[i], &env))
		if env.Type == eventType {
			require.NoError(t, json.Unmarshal(m.sent[i], v))
			return
		}
	}
	t.Fatalf("no %s event received", eventType)
}

func (m *mockClient) countEvents(t *testing.T, eventType string) int {
	t.Helper()
	n := 0
	for _, et := range m.eventTypes(t) {
		if et == eventType {
			n++
		}
	}
	return n
}

const (
	testAPIKey    = "APIknJYNoM3BSEs"
	testAPISecret = "this-is-a-test-secret-with-32-plus-characters"
)

// testHarness bundles a Service with deterministic ids and a fake clock.
type testHarness struct {
	svc    *Service
	rooms  *rooms.Manager
	media  *media.Registry
	minter *auth.Minter
	clock  *testclock.FakeClock
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	fc := testclock.NewFakeClock(time.Now())
	engine := media.NewLoopbackEngine(1)
	reg := media.NewRegistry(engine, media.AdapterConfig{Clock: fc})
	t.Cleanup(func() { _ = reg.Close(t.Context()) })

	mgr := rooms.NewManager(rooms.Config{
		Clock: fc,
		OnRoomClosed: func(ctx context.Context, sid types.RoomID) {
			_ = reg.CloseRoom(ctx, sid)
		},
	})

	validator, err := auth.NewValidator(testAPIKey, testAPISecret)
	require.NoError(t, err)

	svc := NewService(mgr, reg, validator)
	svc.Clock = fc
	partSeq := 0
	svc.PartID = func() types.ParticipantID {
		partSeq++
		return types.ParticipantID(fmt.Sprintf("part-%d", partSeq))
	}
	return &testHarness{
		svc:    svc,
		rooms:  mgr,
		media:  reg,
		minter: auth.NewMinter(testAPIKey, testAPISecret, time.Hour),
		clock:  fc,
	}
}

func frame(t *testing.T, raw string) protocol.Frame {
	t.Helper()
	f, err := protocol.ParseFrame([]byte(raw))
	require.NoError(t, err)
	return f
}

// token mints a join credential matching the mock's identity and grant.
func (h *testHarness) token(t *testing.T, c *mockClient) string {
	t.Helper()
	tok, _, err := h.minter.Mint(auth.MintRequest{
		Identity:    string(c.claims.Identity()),
		DisplayName: c.claims.Name,
		Metadata:    c.claims.Metadata,
		Grants:      c.claims.Video,
	})
	require.NoError(t, err)
	return tok
}

func (h *testHarness) joinFrame(t *testing.T, c *mockClient, room string) protocol.Frame {
	t.Helper()
	return frame(t, `{"type":"joinRoom","room":"`+room+`","token":"`+h.token(t, c)+`"}`)
}

// join runs the full join flow for a client and fails the test on error.
func (h *testHarness) join(t *testing.T, c *mockClient, room string) {
	t.Helper()
	require.NoError(t, h.svc.JoinRoom(t.Context(), c, h.joinFrame(t, c, room)))
}
