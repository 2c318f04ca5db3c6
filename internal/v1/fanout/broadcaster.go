// Package fanout delivers events to room members. Frames are marshalled
// once, membership is snapshotted under the room lock, and writes happen
// outside it through each connection's non-blocking queue.
package fanout

import (
	"context"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/metrics"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"go.uber.org/zap"
)

// SlowConsumerReason is handed to CloseWithReason when a member's queue
// overflows during a broadcast.
const SlowConsumerReason = "slow consumer: outbound queue full"

// Broadcast sends an event to every room member except excludeSid. Slow
// consumers are closed rather than allowed to stall the room.
func Broadcast(ctx context.Context, room *domain.Room, event any, excludeSid types.ParticipantID) {
	data, err := protocol.Encode(event)
	if err != nil {
		logging.Error(ctx, "Failed to encode broadcast event",
			zap.String("room", string(room.Name)), zap.Error(err))
		return
	}

	for _, p := range room.Snapshot() {
		if p.Sid == excludeSid {
			continue
		}
		deliver(ctx, room, p, data)
	}
}

// BroadcastAll sends an event to every room member including the originator.
func BroadcastAll(ctx context.Context, room *domain.Room, event any) {
	Broadcast(ctx, room, event, "")
}

// Unicast sends an event to one participant.
func Unicast(ctx context.Context, p *domain.Participant, event any) bool {
	data, err := protocol.Encode(event)
	if err != nil {
		logging.Error(ctx, "Failed to encode unicast event",
			zap.String("participant", string(p.Identity)), zap.Error(err))
		return false
	}
	conn := p.Conn()
	if conn == nil {
		return false
	}
	if !conn.Enqueue(data) {
		metrics.BroadcastsDropped.Inc()
		conn.CloseWithReason(SlowConsumerReason)
		return false
	}
	return true
}

func deliver(ctx context.Context, room *domain.Room, p *domain.Participant, data []byte) {
	conn := p.Conn()
	if conn == nil {
		return
	}
	if !conn.Enqueue(data) {
		metrics.BroadcastsDropped.Inc()
		logging.Warn(ctx, "Dropping slow consumer during broadcast",
			zap.String("room", string(room.Name)),
			zap.String("participant", string(p.Identity)),
			zap.String("socketId", string(conn.SocketID())))
		conn.CloseWithReason(SlowConsumerReason)
	}
}
