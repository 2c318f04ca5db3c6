package handlers

import (
	"context"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/calls"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/domain"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/fanout"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// StartCall rings another participant in the same room.
func (s *Service) StartCall(ctx context.Context, c ClientConn, f protocol.Frame) error {
	var intent protocol.StartCallIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest("startCall", "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	target, ok := room.ParticipantByIdentity(types.Identity(intent.TargetUserID))
	if !ok {
		return protocol.NewError(protocol.CodeParticipantNotFound, "participant %s not in room", intent.TargetUserID)
	}
	if target.Sid == p.Sid {
		return protocol.NewError(protocol.CodeInvalidRequest, "cannot call yourself")
	}

	call, err := room.Calls.Start(p.Sid, target.Sid, intent.Metadata)
	if err != nil {
		return err
	}

	fanout.Unicast(ctx, target, protocol.CallReceivedEvent{
		Type:     protocol.EventCallReceived,
		CallID:   string(call.ID),
		Caller:   participantInfo(p),
		Metadata: call.Metadata,
	})
	c.Send(protocol.CallStartedEvent{
		Type:   protocol.EventCallStarted,
		CallID: string(call.ID),
		Target: participantInfo(target),
	})
	return nil
}

// AcceptCall answers a pending call. Only the callee may accept.
func (s *Service) AcceptCall(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.transitionCall(ctx, c, f, "acceptCall", protocol.EventCallAccepted,
		func(room *domain.Room, call *calls.Call, p *domain.Participant) error {
			if call.TargetSid != p.Sid {
				return protocol.NewError(protocol.CodePermissionDenied, "only the callee may accept")
			}
			_, err := room.Calls.Accept(call.ID)
			return err
		})
}

// RejectCall declines a pending call. Only the callee may reject.
func (s *Service) RejectCall(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.transitionCall(ctx, c, f, "rejectCall", protocol.EventCallRejected,
		func(room *domain.Room, call *calls.Call, p *domain.Participant) error {
			if call.TargetSid != p.Sid {
				return protocol.NewError(protocol.CodePermissionDenied, "only the callee may reject")
			}
			_, err := room.Calls.Reject(call.ID, "rejected by callee")
			return err
		})
}

// EndCall hangs up. Either party may end a pending or accepted call.
func (s *Service) EndCall(ctx context.Context, c ClientConn, f protocol.Frame) error {
	return s.transitionCall(ctx, c, f, "endCall", protocol.EventCallEnded,
		func(room *domain.Room, call *calls.Call, p *domain.Participant) error {
			_, err := room.Calls.End(call.ID, "ended by participant")
			return err
		})
}

// transitionCall factors the shared shape of accept/reject/end: resolve the
// call, check the caller is a party to it, apply the transition, notify both
// sides.
func (s *Service) transitionCall(ctx context.Context, c ClientConn, f protocol.Frame, name, eventType string, apply func(*domain.Room, *calls.Call, *domain.Participant) error) error {
	var intent protocol.CallIntent
	if err := f.Decode(&intent); err != nil {
		return protocol.ErrInvalidRequest(name, "malformed payload")
	}
	room, p, perr := s.joined(c)
	if perr != nil {
		return perr
	}

	call, ok := room.Calls.Get(types.CallID(intent.CallID))
	if !ok {
		return protocol.NewError(protocol.CodeCallNotFound, "call %s not found", intent.CallID)
	}
	if call.CallerSid != p.Sid && call.TargetSid != p.Sid {
		return protocol.NewError(protocol.CodePermissionDenied, "not a party to call %s", intent.CallID)
	}

	if err := apply(room, call, p); err != nil {
		return err
	}

	event := protocol.CallStateEvent{Type: eventType, CallID: string(call.ID), Reason: intent.Reason}
	for _, sid := range []types.ParticipantID{call.CallerSid, call.TargetSid} {
		if member, found := room.Participant(sid); found {
			fanout.Unicast(ctx, member, event)
		}
	}
	return nil
}
