package handlers

import (
	"context"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/fanout"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/media"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"go.uber.org/zap"
)

// Subscribe creates consumers for every live track of the target
// participant. Tracks the codec gate refuses are reported individually and
// do not fail the rest.
func (s *Service) Subscribe(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.SubscribeIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("subscribeToParticipant", "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}
	if !p.Permissions().MaySubscribe {
		return protocol.NewError(protocol.CodePermissionDenied, "token does not grant subscribe")
	}

	targetSid := types.ParticipantID(intent.ParticipantSid)
	if targetSid == p.Sid {
		return protocol.NewError(protocol.CodeInvalidRequest, "cannot subscribe to yourself")
	}
	target, ok := room.Participant(targetSid)
	if !ok {
		return protocol.NewError(protocol.CodeParticipantNotFound, "participant %s not in room", intent.ParticipantSid)
	}

	adapter, err := s.Media.Adapter(ctx, room.Sid)
	if err != nil {
		return protocol.ErrMedia(protocol.MediaReasonEngine, "media engine unavailable")
	}
	transportID, err := s.ensureRecvTransport(ctx, c, p, adapter)
	if err != nil {
		return err
	}

	existing := p.Consumers()[targetSid]
	for _, track := range target.Tracks() {
		if _, already := existing[track.Sid]; already {
			continue
		}
		producerID, found := target.ProducerID(track.Sid)
		if !found {
			continue
		}

		consumer, cerr := adapter.CreateConsumer(ctx, transportID, producerID, intent.RtpCapabilities)
		if cerr != nil {
			logging.Warn(ctx, "Failed to create consumer",
				zap.String("target", string(target.Identity)),
				zap.String("trackSid", string(track.Sid)), zap.Error(cerr))
			c.SendError(protocol.AsError(cerr))
			continue
		}

		p.AddConsumer(targetSid, track.Sid, consumer.ID)
		c.Send(protocol.TrackSubscribedEvent{
			Type:           protocol.EventTrackSubscribed,
			ParticipantSid: string(targetSid),
			Track:          trackInfo(track),
			ConsumerID:     consumer.ID,
			RtpParameters:  consumer.RtpParameters,
		})
	}
	return nil
}

// Unsubscribe tears down every consumer held on the target participant.
func (s *Service) Unsubscribe(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.SubscribeIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("unsubscribeFromParticipant", "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	targetSid := types.ParticipantID(intent.ParticipantSid)
	consumers := p.RemoveConsumers(targetSid)
	if len(consumers) == 0 {
		return nil
	}

	adapter, hasAdapter := s.Media.Peek(room.Sid)
	for trackSid, consumerID := range consumers {
		if hasAdapter {
			if err := adapter.CloseConsumer(ctx, consumerID); err != nil {
				logging.Warn(ctx, "Failed to close consumer",
					zap.String("consumerId", consumerID), zap.Error(err))
			}
		}
		c.Send(protocol.TrackUnsubscribedEvent{
			Type:           protocol.EventTrackUnsubscribed,
			ParticipantSid: string(targetSid),
			TrackSid:       string(trackSid),
		})
	}
	return nil
}

// ConnectTransport finishes the DTLS handshake for one of the client's own
// transports.
func (s *Service) ConnectTransport(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.ConnectTransportIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("connectTransport", "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}
	if intent.TransportID != p.SendTransportID() && intent.TransportID != p.RecvTransportID() {
		return protocol.NewError(protocol.CodePermissionDenied, "transport %s is not yours", intent.TransportID)
	}

	adapter, ok := s.Media.Peek(room.Sid)
	if !ok {
		return protocol.NewError(protocol.CodeTransportNotFound, "transport %s not found", intent.TransportID)
	}
	if err := adapter.ConnectTransport(ctx, intent.TransportID, intent.DtlsParameters); err != nil {
		return err
	}

	c.Send(protocol.TransportConnectedEvent{
		Type:        protocol.EventTransportConnected,
		TransportID: intent.TransportID,
	})
	return nil
}

// SendData relays an application payload to the rest of the room over
// signaling. Clients preferring WebRTC data channels negotiate those
// directly; this path is the fallback and the source of truth for caps.
func (s *Service) SendData(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.SendDataIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("sendData", "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}
	if !p.Permissions().MayPublishData {
		return protocol.NewError(protocol.CodePermissionDenied, "token does not grant data publish")
	}

	fanout.Broadcast(ctx, room, protocol.DataReceivedEvent{
		Type:           protocol.EventDataReceived,
		ParticipantSid: string(p.Sid),
		Payload:        intent.Payload,
		Kind:           intent.Kind,
	}, p.Sid)
	return nil
}

// ensureRecvTransport mirrors ensureSendTransport for the subscribe side.
func (s *Service) ensureRecvTransport(ctx context.Context, c ClientConn, p *domain.Participant, adapter *media.Adapter) (string, error) {
	if id := p.RecvTransportID(); id != "" {
		return id, nil
	}
	info, err := adapter.CreateTransport(ctx, media.DirectionRecv, nil)
	if err != nil {
		return "", protocol.NewError(protocol.CodeTransportCreateFailed, "failed to create recv transport")
	}
	p.SetRecvTransportID(info.ID)
	c.Send(protocol.TransportCreatedEvent{
		Type:           protocol.EventTransportCreated,
		TransportID:    info.ID,
		Direction:      string(info.Direction),
		IceParameters:  info.IceParameters,
		IceCandidates:  info.IceCandidates,
		DtlsParameters: info.DtlsParameters,
	})
	return info.ID, nil
}
