package transport

import (
	"context"
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/metrics"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/session"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long we tolerate silence before declaring the peer
	// dead. Pings go out at half this interval.
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize leaves room for a reliable data frame plus envelope.
	maxMessageSize = 512 * 1024

	// sendQueueSize is the outbound queue cap; overflow marks the client a
	// slow consumer.
	sendQueueSize = 1024
	// inboundQueueSize bounds buffered unprocessed frames. A full queue
	// blocks the read pump, pushing back through TCP.
	inboundQueueSize = 256

	// maxSchemaFailures within schemaFailureWindow closes the connection.
	maxSchemaFailures   = 20
	schemaFailureWindow = time.Minute

	// handlerTimeout bounds a single intent's processing.
	handlerTimeout = 30 * time.Second
)

// Dispatcher routes a validated frame to its intent handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, f protocol.Frame) error
}

// Client is one signaling connection. All intents from one client are
// processed strictly in arrival order by a single dispatch goroutine.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	socketID types.SocketID
	claims   *auth.Claims
	session  *session.Session

	send    chan []byte
	inbound chan protocol.Frame

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closeReason string

	mu            sync.Mutex
	schemaStrikes []time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, claims *auth.Claims) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	socketID := types.SocketID(uuid.NewString())
	ctx = context.WithValue(ctx, logging.CorrelationIDKey, string(socketID))
	return &Client{
		hub:      hub,
		conn:     conn,
		socketID: socketID,
		claims:   claims,
		session:  session.New(socketID),
		send:     make(chan []byte, sendQueueSize),
		inbound:  make(chan protocol.Frame, inboundQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SocketID identifies the connection.
func (c *Client) SocketID() types.SocketID { return c.socketID }

// Claims returns the validated token claims.
func (c *Client) Claims() *auth.Claims { return c.claims }

// Session returns the connection's state machine.
func (c *Client) Session() *session.Session { return c.session }

// Context is cancelled when the connection dies; handlers doing engine work
// derive from it.
func (c *Client) Context() context.Context { return c.ctx }

// Enqueue appends a frame to the outbound queue without blocking. False
// means the queue is full or the client is gone.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Send encodes and enqueues an event, closing the client when it cannot
// keep up.
func (c *Client) Send(event any) bool {
	data, err := protocol.Encode(event)
	if err != nil {
		logging.Error(c.ctx, "Failed to encode event", zap.Error(err))
		return false
	}
	if !c.Enqueue(data) {
		metrics.BroadcastsDropped.Inc()
		c.CloseWithReason("slow consumer: outbound queue full")
		return false
	}
	return true
}

// SendError sends a wire error frame.
func (c *Client) SendError(err *protocol.Error) {
	c.Send(protocol.NewErrorEvent(err))
}

// CloseWithReason tears the connection down once. The read pump's exit
// drives participant cleanup through the hub.
func (c *Client) CloseWithReason(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		c.cancel()
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	})
}

// recordSchemaFailure counts malformed frames in a sliding window and kills
// clients that keep sending garbage.
func (c *Client) recordSchemaFailure() {
	now := time.Now()
	c.mu.Lock()
	cutoff := now.Add(-schemaFailureWindow)
	kept := c.schemaStrikes[:0]
	for _, t := range c.schemaStrikes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.schemaStrikes = append(kept, now)
	strikes := len(c.schemaStrikes)
	c.mu.Unlock()

	if strikes >= maxSchemaFailures {
		logging.Warn(c.ctx, "Closing client after repeated malformed frames",
			zap.String("socketId", string(c.socketID)))
		c.CloseWithReason("too many malformed frames")
	}
}

// readPump owns the socket's read side. It parses frames and feeds the
// dispatch queue; blocking on a full queue is intentional back-pressure.
func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.hub.unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Info(c.ctx, "Client connection closed unexpectedly",
					zap.String("socketId", string(c.socketID)), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.recordSchemaFailure()
			c.SendError(protocol.ErrInvalidRequest("frame", "expected a text frame"))
			continue
		}

		frame, perr := protocol.ParseFrame(data)
		if perr != nil {
			c.recordSchemaFailure()
			c.SendError(protocol.ErrInvalidRequest("frame", "%s", perr))
			continue
		}

		select {
		case c.inbound <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// dispatchLoop processes inbound frames one at a time, giving every intent
// a deadline and a correlation id.
func (c *Client) dispatchLoop(dispatcher Dispatcher) {
	for frame := range c.inbound {
		c.handleFrame(dispatcher, frame)
	}
}

func (c *Client) handleFrame(dispatcher Dispatcher, frame protocol.Frame) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()

	if verr := protocol.ValidateIntent(frame); verr != nil {
		c.recordSchemaFailure()
		c.SendError(verr)
		metrics.IntentsTotal.WithLabelValues(frame.Type, "invalid").Inc()
		return
	}

	err := dispatcher.Dispatch(ctx, c, frame)
	status := "ok"
	if err != nil {
		status = "error"
		c.SendError(protocol.AsError(err))
	}
	metrics.IntentsTotal.WithLabelValues(frame.Type, status).Inc()
	metrics.IntentDuration.WithLabelValues(frame.Type).Observe(time.Since(start).Seconds())
}

// writePump owns the socket's write side and the heartbeat.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
