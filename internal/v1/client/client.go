// Package client is the Go signaling client: it dials the server, mirrors
// room state locally, and reconciles after reconnects.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/resilience"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"go.uber.org/zap"

	"github.com/gorilla/websocket"
)

// Options configures a signaling client.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/ws.
	URL string
	// Token is the bearer credential presented on dial.
	Token string
	// Room to join after connecting.
	Room string
	// ReconnectMaxElapsed caps total reconnection effort. Zero retries
	// forever.
	ReconnectMaxElapsed time.Duration
	// Policy governs snapshot reconciliation. Defaults to preferServer.
	Policy Policy
	// OnEvent, when set, observes every decoded server event.
	OnEvent func(eventType string, raw json.RawMessage)
}

// Client mirrors one participant's connection to the signaling server.
type Client struct {
	opts    Options
	mirror  *Mirror
	machine *session.Machine

	mu       sync.Mutex
	conn     *websocket.Conn
	provider DataProvider
	closed   bool
}

func New(opts Options) *Client {
	return &Client{
		opts:    opts,
		mirror:  NewMirror(opts.Policy),
		machine: session.NewMachine(),
	}
}

// Mirror exposes the local state copy.
func (c *Client) Mirror() *Mirror { return c.mirror }

// State returns the session lifecycle state.
func (c *Client) State() session.State { return c.machine.State() }

// Connect dials with exponential backoff, joins the room, and starts the
// read loop. It returns once the join intent is on the wire.
func (c *Client) Connect(ctx context.Context) error {
	if !c.machine.Fire(session.EventConnect) {
		return fmt.Errorf("connect not valid in state %s", c.machine.State())
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.machine.Fire(session.EventDisconnect)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.writeJSON(map[string]any{
		"type":  protocol.IntentJoinRoom,
		"room":  c.opts.Room,
		"token": c.opts.Token,
	}); err != nil {
		c.machine.Fire(session.EventDisconnect)
		return err
	}

	go c.readLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	return resilience.RetryConnect(ctx, c.opts.ReconnectMaxElapsed, func() (*websocket.Conn, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.opts.Token)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			logging.Warn(ctx, "Signaling dial failed, retrying",
				zap.String("url", c.opts.URL), zap.Error(err))
			return nil, err
		}
		return conn, nil
	})
}

// SendIntent marshals and sends an arbitrary intent payload. The payload
// must carry its own "type" field.
func (c *Client) SendIntent(v any) error {
	return c.writeJSON(v)
}

// SyncState asks the server for an authoritative snapshot.
func (c *Client) SyncState() error {
	return c.writeJSON(map[string]any{"type": protocol.IntentSyncState})
}

// Leave sends leaveRoom and closes the socket.
func (c *Client) Leave() error {
	err := c.writeJSON(map[string]any{"type": protocol.IntentLeaveRoom})
	c.Close()
	return err
}

// Close tears the connection down for good. No reconnection follows.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if c.machine.CanFire(session.EventClose) {
		c.machine.Fire(session.EventClose)
	}
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// readLoop consumes server events, folds them into the mirror, and drives
// reconnection when the socket drops.
func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(ctx)
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		if jerr := json.Unmarshal(data, &env); jerr != nil || env.Type == "" {
			continue
		}

		if env.Type == protocol.EventRoomJoined || env.Type == protocol.EventStateSynced {
			if c.machine.CanFire(session.EventJoined) {
				c.machine.Fire(session.EventJoined)
			}
		}

		if aerr := c.mirror.Apply(env.Type, data); aerr != nil {
			logging.Warn(ctx, "Failed to apply server event",
				zap.String("event", env.Type), zap.Error(aerr))
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(env.Type, data)
		}
	}
}

// handleDrop moves to reconnecting, redials with backoff, rejoins, and
// requests a snapshot so the mirror reconciles.
func (c *Client) handleDrop(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if !c.machine.Fire(session.EventReconnect) {
		return
	}
	logging.Info(ctx, "Signaling connection lost, reconnecting", zap.String("url", c.opts.URL))

	conn, err := c.dial(ctx)
	if err != nil {
		c.machine.Fire(session.EventDisconnect)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.writeJSON(map[string]any{
		"type":  protocol.IntentJoinRoom,
		"room":  c.opts.Room,
		"token": c.opts.Token,
	}); err != nil {
		c.machine.Fire(session.EventDisconnect)
		return
	}
	_ = c.SyncState()

	go c.readLoop(ctx)
}
