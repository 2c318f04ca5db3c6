package client

import (
	"encoding/json"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// DataProvider is a direct peer data channel, typically a WebRTC data
// channel. The client prefers it over the signaling relay once it reports
// ready.
type DataProvider interface {
	Ready() bool
	Send(payload json.RawMessage, kind types.DataKind) error
}

// SetDataProvider installs a direct data path. Passing nil reverts to
// relay-only delivery.
func (c *Client) SetDataProvider(p DataProvider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
}

// SendData delivers an application payload to the room. The direct provider
// is tried first; on absence, unreadiness, or send failure the payload is
// relayed through the signaling connection instead.
func (c *Client) SendData(payload json.RawMessage, kind types.DataKind) error {
	c.mu.Lock()
	p := c.provider
	c.mu.Unlock()

	if p != nil && p.Ready() {
		if err := p.Send(payload, kind); err == nil {
			return nil
		}
	}
	return c.writeJSON(map[string]any{
		"type":    protocol.IntentSendData,
		"payload": payload,
		"kind":    kind,
	})
}
