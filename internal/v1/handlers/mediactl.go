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

func (s *Service) EnableCamera(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.enableMedia(ctx, c, f, "enableCamera", types.TrackSourceCamera, protocol.EventCameraEnabled)
}

func (s *Service) DisableCamera(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.disableMedia(ctx, c, types.TrackSourceCamera, protocol.EventCameraDisabled)
}

func (s *Service) EnableMicrophone(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.enableMedia(ctx, c, f, "enableMicrophone", types.TrackSourceMicrophone, protocol.EventMicrophoneEnabled)
}

func (s *Service) DisableMicrophone(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.disableMedia(ctx, c, types.TrackSourceMicrophone, protocol.EventMicrophoneDisabled)
}

func (s *Service) EnableScreenShare(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.enableMedia(ctx, c, f, "enableScreenShare", types.TrackSourceScreen, protocol.EventScreenShareEnabled)
}

func (s *Service) DisableScreenShare(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.disableMedia(ctx, c, types.TrackSourceScreen, protocol.EventScreenShareDisabled)
}

func (s *Service) MuteTrack(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.setTrackMuted(ctx, c, f, "muteTrack", true, protocol.EventTrackMuted)
}

func (s *Service) UnmuteTrack(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.setTrackMuted(ctx, c, f, "unmuteTrack", false, protocol.EventTrackUnmuted)
}

// enableMedia publishes a track for one source. At most one live track per
// (source, kind): a re-publish replaces the previous track and the replaced
// producer is closed as compensation.
func (s *Service) enableMedia(ctx context.Context, c ClientConn, f protocol.Frame, name string, source types.TrackSource, eventType string) error {
	var intent protocol.EnableMediaIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest(name, "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}
	if !p.Permissions().MayPublish {
		return protocol.NewError(protocol.CodePermissionDenied, "token does not grant publish")
	}

	adapter, err := s.Media.Adapter(ctx, room.Sid)
	if err != nil {
		return protocol.ErrMedia(protocol.MediaReasonEngine, "media engine unavailable")
	}

	transportID, err := s.ensureSendTransport(ctx, c, p, adapter)
	if err != nil {
		return err
	}

	producer, err := adapter.CreateProducer(ctx, transportID, source.Kind(), source, intent.RtpParameters)
	if err != nil {
		return err
	}

	track := &domain.Track{
		Sid:       types.TrackID(producer.ID),
		Kind:      source.Kind(),
		Source:    source,
		Width:     intent.Width,
		Height:    intent.Height,
		Simulcast: intent.Simulcast,
	}
	replaced, replacedProducerID := p.PublishTrack(track, producer.ID)
	if replaced != nil {
		s.retireTrack(ctx, room, p, adapter, replaced, replacedProducerID)
	}

	c.Send(protocol.MediaToggledEvent{Type: eventType, TrackSid: string(track.Sid)})
	fanout.Broadcast(ctx, room, protocol.TrackPublishedEvent{
		Type:           protocol.EventTrackPublished,
		ParticipantSid: string(p.Sid),
		Track:          trackInfo(track),
	}, p.Sid)
	return nil
}

// disableMedia unpublishes the track for one source.
func (s *Service) disableMedia(ctx context.Context, c ClientConn, source types.TrackSource, eventType string) error {
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	t, ok := p.TrackBySource(source)
	if !ok {
		return protocol.NewError(protocol.CodeTrackNotFound, "no %s track published", source)
	}
	track, producerID, ok := p.UnpublishTrack(t.Sid)
	if !ok {
		return protocol.NewError(protocol.CodeTrackNotFound, "no %s track published", source)
	}

	adapter, hasAdapter := s.Media.Peek(room.Sid)
	if hasAdapter {
		s.closeTrackMedia(ctx, room, p, adapter, track.Sid, producerID)
	}

	c.Send(protocol.MediaToggledEvent{Type: eventType, TrackSid: string(track.Sid)})
	fanout.Broadcast(ctx, room, protocol.TrackUnpublishedEvent{
		Type:           protocol.EventTrackUnpublished,
		ParticipantSid: string(p.Sid),
		TrackSid:       string(track.Sid),
	}, p.Sid)
	return nil
}

func (s *Service) setTrackMuted(ctx context.Context, c ClientConn, f protocol.Frame, name string, muted bool, eventType string) error {
	var intent protocol.TrackIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest(name, "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	trackSid := types.TrackID(intent.TrackSid)
	if !p.SetTrackMuted(trackSid, muted) {
		return protocol.NewError(protocol.CodeTrackNotFound, "track %s not found", intent.TrackSid)
	}

	if producerID, ok := p.ProducerID(trackSid); ok {
		if adapter, hasAdapter := s.Media.Peek(room.Sid); hasAdapter {
			var err error
			if muted {
				err = adapter.PauseProducer(ctx, producerID)
			} else {
				err = adapter.ResumeProducer(ctx, producerID)
			}
			if err != nil {
				// Roll the flag back so signaling state matches the engine.
				p.SetTrackMuted(trackSid, !muted)
				return protocol.ErrMedia(protocol.MediaReasonEngine, "failed to toggle producer")
			}
		}
	}

	fanout.BroadcastAll(ctx, room, protocol.TrackMuteEvent{
		Type:           eventType,
		ParticipantSid: string(p.Sid),
		TrackSid:       string(trackSid),
	})
	return nil
}

// ensureSendTransport lazily creates the participant's send transport and
// announces it so the client can run the DTLS handshake.
func (s *Service) ensureSendTransport(ctx context.Context, c ClientConn, p *domain.Participant, adapter *media.Adapter) (string, error) {
	if id := p.SendTransportID(); id != "" {
		return id, nil
	}
	info, err := adapter.CreateTransport(ctx, media.DirectionSend, nil)
	if err != nil {
		return "", protocol.NewError(protocol.CodeTransportCreateFailed, "failed to create send transport")
	}
	p.SetSendTransportID(info.ID)
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

// retireTrack closes the producer behind a replaced track and detaches every
// subscriber from it.
func (s *Service) retireTrack(ctx context.Context, room *domain.Room, p *domain.Participant, adapter *media.Adapter, replaced *domain.Track, producerID string) {
	logging.Info(ctx, "Retiring replaced track",
		zap.String("participant", string(p.Identity)), zap.String("trackSid", string(replaced.Sid)))
	s.closeTrackMedia(ctx, room, p, adapter, replaced.Sid, producerID)
	fanout.Broadcast(ctx, room, protocol.TrackUnpublishedEvent{
		Type:           protocol.EventTrackUnpublished,
		ParticipantSid: string(p.Sid),
		TrackSid:       string(replaced.Sid),
	}, p.Sid)
}

// closeTrackMedia closes a track's producer and the consumers other members
// hold on it, notifying each subscriber.
func (s *Service) closeTrackMedia(ctx context.Context, room *domain.Room, p *domain.Participant, adapter *media.Adapter, trackSid types.TrackID, producerID string) {
	if producerID != "" {
		if err := adapter.CloseProducer(ctx, producerID); err != nil {
			logging.Warn(ctx, "Failed to close producer",
				zap.String("producerId", producerID), zap.Error(err))
		}
	}
	for _, other := range room.Snapshot() {
		if other.Sid == p.Sid {
			continue
		}
		consumerID, ok := other.RemoveConsumerForTrack(p.Sid, trackSid)
		if !ok {
			continue
		}
		_ = adapter.CloseConsumer(ctx, consumerID)
		fanout.Unicast(ctx, other, protocol.TrackUnsubscribedEvent{
			Type:           protocol.EventTrackUnsubscribed,
			ParticipantSid: string(p.Sid),
			TrackSid:       string(trackSid),
		})
	}
}
