package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu    sync.Mutex
	ready bool
	fail  bool
	sent  []json.RawMessage
	kinds []types.DataKind
}

func (p *fakeProvider) Ready() bool { return p.ready }

func (p *fakeProvider) Send(payload json.RawMessage, kind types.DataKind) error {
	if p.fail {
		return assert.AnError
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, payload)
	p.kinds = append(p.kinds, kind)
	return nil
}

// captureServer accepts one websocket connection and records every frame it
// receives.
type captureServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	frames []json.RawMessage
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			cs.mu.Lock()
			cs.frames = append(cs.frames, append(json.RawMessage(nil), data...))
			cs.mu.Unlock()
		}
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) url() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

func (cs *captureServer) frameTypes() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, 0, len(cs.frames))
	for _, f := range cs.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &env)
		out = append(out, env.Type)
	}
	return out
}

func TestSendData_PrefersReadyProvider(t *testing.T) {
	c := New(Options{Room: "standup"})
	p := &fakeProvider{ready: true}
	c.SetDataProvider(p)

	// no signaling connection exists, so success proves the direct path
	payload := json.RawMessage(`{"msg":"hi"}`)
	require.NoError(t, c.SendData(payload, types.DataKindReliable))

	require.Len(t, p.sent, 1)
	assert.JSONEq(t, `{"msg":"hi"}`, string(p.sent[0]))
	assert.Equal(t, types.DataKindReliable, p.kinds[0])
}

func TestSendData_RelaysWhenProviderNotReady(t *testing.T) {
	cs := newCaptureServer(t)
	c := New(Options{URL: cs.url(), Token: "t", Room: "standup"})
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(c.Close)

	c.SetDataProvider(&fakeProvider{ready: false})
	require.NoError(t, c.SendData(json.RawMessage(`{"msg":"hi"}`), types.DataKindLossy))

	assert.Eventually(t, func() bool {
		got := cs.frameTypes()
		return len(got) == 2 && got[1] == "sendData"
	}, time.Second, 10*time.Millisecond)
}

func TestSendData_FallsBackWhenProviderFails(t *testing.T) {
	cs := newCaptureServer(t)
	c := New(Options{URL: cs.url(), Token: "t", Room: "standup"})
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(c.Close)

	c.SetDataProvider(&fakeProvider{ready: true, fail: true})
	require.NoError(t, c.SendData(json.RawMessage(`{"msg":"hi"}`), types.DataKindReliable))

	assert.Eventually(t, func() bool {
		got := cs.frameTypes()
		return len(got) == 2 && got[1] == "sendData"
	}, time.Second, 10*time.Millisecond)
}

func TestSendData_NoProviderNoConnection(t *testing.T) {
	c := New(Options{Room: "standup"})
	err := c.SendData(json.RawMessage(`{}`), types.DataKindReliable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
