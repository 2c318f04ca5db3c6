package protocol

import (
	"encoding/json"
	"regexp"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Size bounds enforced before any intent reaches a handler.
const (
	MaxMetadataBytes  = 10 * 1024
	MaxTokenBytes     = 4096
	MaxIdentityBytes  = 256
	MaxDataReliable   = 256 * 1024
	MaxDataLossy      = 16 * 1024
	MaxRoomNameLength = 64
)

var roomNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomName reports whether a room name matches the allowed pattern.
func ValidRoomName(name string) bool {
	return roomNameRe.MatchString(name)
}

// ValidIdentity reports whether an identity string is within bounds.
func ValidIdentity(identity string) bool {
	return len(identity) >= 1 && len(identity) <= MaxIdentityBytes
}

func validateMetadata(path string, md types.Metadata) *Error {
	if md == nil {
		return nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return ErrInvalidRequest(path, "not serializable")
	}
	if len(raw) > MaxMetadataBytes {
		return ErrInvalidRequest(path, "exceeds %d bytes serialized", MaxMetadataBytes)
	}
	return nil
}

// ValidateIntent schema-checks a parsed frame. It returns nil for valid
// intents and a CodeInvalidRequest error with a pathwise message otherwise.
// Unknown intent types pass through; the handler registry rejects them.
func ValidateIntent(f Frame) *Error {
	switch f.Type {
	case IntentJoinRoom:
		var in JoinRoomIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest("joinRoom", "malformed payload")
		}
		if !ValidRoomName(in.Room) {
			return ErrInvalidRequest("joinRoom.room", "must match ^[A-Za-z0-9_-]{1,64}$")
		}
		if in.Token == "" {
			return ErrInvalidRequest("joinRoom.token", "is required")
		}
		if len(in.Token) > MaxTokenBytes {
			return ErrInvalidRequest("joinRoom.token", "exceeds %d bytes", MaxTokenBytes)
		}
		return validateMetadata("joinRoom.metadata", in.Metadata)

	case IntentUpdateMetadata:
		var in UpdateMetadataIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest("updateMetadata", "malformed payload")
		}
		if in.Metadata == nil {
			return ErrInvalidRequest("updateMetadata.metadata", "is required")
		}
		return validateMetadata("updateMetadata.metadata", in.Metadata)

	case IntentStartCall:
		var in StartCallIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest("startCall", "malformed payload")
		}
		if !ValidIdentity(in.TargetUserID) {
			return ErrInvalidRequest("startCall.targetUserId", "must be 1..%d bytes", MaxIdentityBytes)
		}
		return validateMetadata("startCall.metadata", in.Metadata)

	case IntentAcceptCall, IntentRejectCall, IntentEndCall:
		var in CallIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest(f.Type, "malformed payload")
		}
		if in.CallID == "" {
			return ErrInvalidRequest(f.Type+".callId", "is required")
		}
		return nil

	case IntentEnableCamera, IntentEnableMicrophone, IntentEnableScreenShare:
		var in EnableMediaIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest(f.Type, "malformed payload")
		}
		if in.Width < 0 || in.Height < 0 {
			return ErrInvalidRequest(f.Type+".width", "dimensions must be non-negative")
		}
		return nil

	case IntentMuteTrack, IntentUnmuteTrack:
		var in TrackIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest(f.Type, "malformed payload")
		}
		if in.TrackSid == "" {
			return ErrInvalidRequest(f.Type+".trackSid", "is required")
		}
		return nil

	case IntentSubscribeToParticipant, IntentUnsubscribeFromPeer:
		var in SubscribeIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest(f.Type, "malformed payload")
		}
		if in.ParticipantSid == "" {
			return ErrInvalidRequest(f.Type+".participantSid", "is required")
		}
		return nil

	case IntentConnectTransport:
		var in ConnectTransportIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest("connectTransport", "malformed payload")
		}
		if in.TransportID == "" {
			return ErrInvalidRequest("connectTransport.transportId", "is required")
		}
		if len(in.DtlsParameters) == 0 {
			return ErrInvalidRequest("connectTransport.dtlsParameters", "is required")
		}
		return nil

	case IntentSendData:
		var in SendDataIntent
		if err := f.Decode(&in); err != nil {
			return ErrInvalidRequest("sendData", "malformed payload")
		}
		if len(in.Payload) == 0 {
			return ErrInvalidRequest("sendData.payload", "is required")
		}
		switch in.Kind {
		case types.DataKindReliable:
			if len(in.Payload) > MaxDataReliable {
				return ErrInvalidRequest("sendData.payload", "exceeds %d bytes", MaxDataReliable)
			}
		case types.DataKindLossy:
			if len(in.Payload) > MaxDataLossy {
				return ErrInvalidRequest("sendData.payload", "exceeds %d bytes", MaxDataLossy)
			}
		default:
			return ErrInvalidRequest("sendData.kind", "must be reliable or lossy")
		}
		return nil

	case IntentLeaveRoom, IntentSyncState, IntentDisableCamera,
		IntentDisableMicrophone, IntentDisableScreenShare:
		// Empty payloads.
		return nil
	}
	return nil
}
