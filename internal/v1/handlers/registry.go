package handlers

import (
	"context"
	"fmt"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/transport"
)

// HandlerFunc processes one decoded intent for one client.
type HandlerFunc func(ctx context.Context, c ClientConn, f protocol.Frame) error

// Registry maps intent types to handlers. Exactly one handler per type;
// double registration is a programming error and panics at startup.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry builds the full intent table for the service.
func NewRegistry(s *Service) *Registry {
	r := &Registry{handlers: make(map[string]HandlerFunc)}

	r.register(protocol.IntentJoinRoom, s.JoinRoom)
	r.register(protocol.IntentLeaveRoom, s.LeaveRoom)
	r.register(protocol.IntentUpdateMetadata, s.UpdateMetadata)
	r.register(protocol.IntentSyncState, s.SyncState)

	r.register(protocol.IntentStartCall, s.StartCall)
	r.register(protocol.IntentAcceptCall, s.AcceptCall)
	r.register(protocol.IntentRejectCall, s.RejectCall)
	r.register(protocol.IntentEndCall, s.EndCall)

	r.register(protocol.IntentEnableCamera, s.EnableCamera)
	r.register(protocol.IntentDisableCamera, s.DisableCamera)
	r.register(protocol.IntentEnableMicrophone, s.EnableMicrophone)
	r.register(protocol.IntentDisableMicrophone, s.DisableMicrophone)
	r.register(protocol.IntentEnableScreenShare, s.EnableScreenShare)
	r.register(protocol.IntentDisableScreenShare, s.DisableScreenShare)
	r.register(protocol.IntentMuteTrack, s.MuteTrack)
	r.register(protocol.IntentUnmuteTrack, s.UnmuteTrack)

	r.register(protocol.IntentSubscribeToParticipant, s.Subscribe)
	r.register(protocol.IntentUnsubscribeFromPeer, s.Unsubscribe)
	r.register(protocol.IntentConnectTransport, s.ConnectTransport)
	r.register(protocol.IntentSendData, s.SendData)

	return r
}

func (r *Registry) register(intent string, fn HandlerFunc) {
	if _, dup := r.handlers[intent]; dup {
		panic(fmt.Sprintf("handler for intent %q registered twice", intent))
	}
	r.handlers[intent] = fn
}

// Dispatch routes a validated frame. Unknown types are a client error.
func (r *Registry) Dispatch(ctx context.Context, c *transport.Client, f protocol.Frame) error {
	return r.dispatch(ctx, c, f)
}

func (r *Registry) dispatch(ctx context.Context, c ClientConn, f protocol.Frame) error {
	fn, ok := r.handlers[f.Type]
	if !ok {
		return protocol.NewError(protocol.CodeInvalidRequest, "unknown intent type %q", f.Type)
	}
	return fn(ctx, c, f)
}
