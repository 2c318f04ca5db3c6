package protocol

import (
	"encoding/json"
	"errors"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Client intent types. Each maps to exactly one registered handler.
const (
	IntentJoinRoom                 = "joinRoom"
	IntentLeaveRoom                = "leaveRoom"
	IntentUpdateMetadata           = "updateMetadata"
	IntentSyncState                = "syncState"
	IntentStartCall                = "startCall"
	IntentAcceptCall               = "acceptCall"
	IntentRejectCall               = "rejectCall"
	IntentEndCall                  = "endCall"
	IntentEnableCamera             = "enableCamera"
	IntentDisableCamera            = "disableCamera"
	IntentEnableMicrophone         = "enableMicrophone"
	IntentDisableMicrophone        = "disableMicrophone"
	IntentEnableScreenShare        = "enableScreenShare"
	IntentDisableScreenShare       = "disableScreenShare"
	IntentMuteTrack                = "muteTrack"
	IntentUnmuteTrack              = "unmuteTrack"
	IntentSubscribeToParticipant   = "subscribeToParticipant"
	IntentUnsubscribeFromPeer      = "unsubscribeFromParticipant"
	IntentConnectTransport         = "connectTransport"
	IntentSendData                 = "sendData"
)

// Server event types.
const (
	EventRoomJoined         = "roomJoined"
	EventParticipantJoined  = "participantJoined"
	EventParticipantLeft    = "participantLeft"
	EventMetadataUpdated    = "metadataUpdated"
	EventStateSynced        = "stateSynced"
	EventCallStarted        = "callStarted"
	EventCallReceived       = "callReceived"
	EventCallAccepted       = "callAccepted"
	EventCallRejected       = "callRejected"
	EventCallEnded          = "callEnded"
	EventCameraEnabled      = "cameraEnabled"
	EventCameraDisabled     = "cameraDisabled"
	EventMicrophoneEnabled  = "microphoneEnabled"
	EventMicrophoneDisabled = "microphoneDisabled"
	EventScreenShareEnabled  = "screenShareEnabled"
	EventScreenShareDisabled = "screenShareDisabled"
	EventTrackPublished     = "trackPublished"
	EventTrackUnpublished   = "trackUnpublished"
	EventTrackSubscribed    = "trackSubscribed"
	EventTrackUnsubscribed  = "trackUnsubscribed"
	EventTrackMuted         = "trackMuted"
	EventTrackUnmuted       = "trackUnmuted"
	EventTransportCreated   = "transportCreated"
	EventTransportConnected = "transportConnected"
	EventDataReceived       = "dataReceived"
	EventError              = "error"
)

// Frame is a parsed client frame: the type tag plus the raw body so each
// handler can decode its own payload.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

type envelope struct {
	Type string `json:"type"`
}

// ParseFrame decodes a single text frame into a Frame. The frame must be a
// JSON object carrying a non-empty "type".
func ParseFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, errors.New("frame is not a JSON object")
	}
	if env.Type == "" {
		return Frame{}, errors.New("frame missing type")
	}
	return Frame{Type: env.Type, Raw: json.RawMessage(data)}, nil
}

// Decode unmarshals the frame body into the intent payload struct.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// --- Intent payloads ---

type JoinRoomIntent struct {
	Room     string         `json:"room"`
	Token    string         `json:"token"`
	Metadata types.Metadata `json:"metadata,omitempty"`
}

type UpdateMetadataIntent struct {
	Metadata types.Metadata `json:"metadata"`
}

type StartCallIntent struct {
	TargetUserID string         `json:"targetUserId"`
	Metadata     types.Metadata `json:"metadata,omitempty"`
}

type CallIntent struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type EnableMediaIntent struct {
	RtpParameters json.RawMessage `json:"rtpParameters,omitempty"`
	Width         int             `json:"width,omitempty"`
	Height        int             `json:"height,omitempty"`
	Simulcast     bool            `json:"simulcast,omitempty"`
}

type TrackIntent struct {
	TrackSid string `json:"trackSid"`
}

type SubscribeIntent struct {
	ParticipantSid  string          `json:"participantSid"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type ConnectTransportIntent struct {
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type SendDataIntent struct {
	Payload json.RawMessage `json:"payload"`
	Kind    types.DataKind  `json:"kind"`
}

// --- Wire representations of domain state ---

type TrackInfo struct {
	Sid       string            `json:"sid"`
	Kind      types.TrackKind   `json:"kind"`
	Source    types.TrackSource `json:"source"`
	Muted     bool              `json:"muted"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Simulcast bool              `json:"simulcast,omitempty"`
}

type ParticipantInfo struct {
	Sid         string         `json:"sid"`
	Identity    string         `json:"identity"`
	DisplayName string         `json:"displayName,omitempty"`
	Metadata    types.Metadata `json:"metadata,omitempty"`
	Tracks      []TrackInfo    `json:"tracks,omitempty"`
}

type RoomInfo struct {
	Sid             string         `json:"sid"`
	Name            string         `json:"name"`
	Metadata        types.Metadata `json:"metadata,omitempty"`
	MaxParticipants int            `json:"maxParticipants,omitempty"`
	CreationTime    int64          `json:"creationTime"`
	NumParticipants int            `json:"numParticipants"`
}

type CallInfo struct {
	CallID    string         `json:"callId"`
	CallerSid string         `json:"callerSid"`
	TargetSid string         `json:"targetSid"`
	State     string         `json:"state"`
	StartTime int64          `json:"startTime"`
	EndTime   int64          `json:"endTime,omitempty"`
	Metadata  types.Metadata `json:"metadata,omitempty"`
}

// --- Server events ---
// Every event struct carries its own type tag so frames marshal directly.

type RoomJoinedEvent struct {
	Type              string            `json:"type"`
	Room              RoomInfo          `json:"room"`
	Participant       ParticipantInfo   `json:"participant"`
	OtherParticipants []ParticipantInfo `json:"otherParticipants"`
}

type ParticipantJoinedEvent struct {
	Type        string          `json:"type"`
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeftEvent struct {
	Type           string `json:"type"`
	ParticipantSid string `json:"participantSid"`
}

type MetadataUpdatedEvent struct {
	Type           string         `json:"type"`
	ParticipantSid string         `json:"participantSid"`
	Metadata       types.Metadata `json:"metadata"`
}

type StateSyncedEvent struct {
	Type              string            `json:"type"`
	Room              RoomInfo          `json:"room"`
	Participant       ParticipantInfo   `json:"participant"`
	OtherParticipants []ParticipantInfo `json:"otherParticipants"`
}

type CallStartedEvent struct {
	Type   string          `json:"type"`
	CallID string          `json:"callId"`
	Target ParticipantInfo `json:"target"`
}

type CallReceivedEvent struct {
	Type     string          `json:"type"`
	CallID   string          `json:"callId"`
	Caller   ParticipantInfo `json:"caller"`
	Metadata types.Metadata  `json:"metadata,omitempty"`
}

type CallStateEvent struct {
	Type   string `json:"type"`
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type MediaToggledEvent struct {
	Type     string `json:"type"`
	TrackSid string `json:"trackSid,omitempty"`
}

type TrackPublishedEvent struct {
	Type           string    `json:"type"`
	ParticipantSid string    `json:"participantSid"`
	Track          TrackInfo `json:"track"`
}

type TrackUnpublishedEvent struct {
	Type           string `json:"type"`
	ParticipantSid string `json:"participantSid"`
	TrackSid       string `json:"trackSid"`
}

type TrackSubscribedEvent struct {
	Type           string          `json:"type"`
	ParticipantSid string          `json:"participantSid"`
	Track          TrackInfo       `json:"track"`
	ConsumerID     string          `json:"consumerId"`
	RtpParameters  json.RawMessage `json:"rtpParameters,omitempty"`
}

type TrackUnsubscribedEvent struct {
	Type           string `json:"type"`
	ParticipantSid string `json:"participantSid"`
	TrackSid       string `json:"trackSid"`
}

type TrackMuteEvent struct {
	Type           string `json:"type"`
	ParticipantSid string `json:"participantSid"`
	TrackSid       string `json:"trackSid"`
}

type TransportCreatedEvent struct {
	Type          string          `json:"type"`
	TransportID   string          `json:"transportId"`
	Direction     string          `json:"direction"`
	IceParameters json.RawMessage `json:"iceParameters,omitempty"`
	IceCandidates json.RawMessage `json:"iceCandidates,omitempty"`
	DtlsParameters json.RawMessage `json:"dtlsParameters,omitempty"`
}

type TransportConnectedEvent struct {
	Type        string `json:"type"`
	TransportID string `json:"transportId"`
}

type DataReceivedEvent struct {
	Type           string          `json:"type"`
	ParticipantSid string          `json:"participantSid"`
	Payload        json.RawMessage `json:"payload"`
	Kind           types.DataKind  `json:"kind"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error *Error `json:"error"`
}

// NewErrorEvent wraps an error into an error frame.
func NewErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Type: EventError, Error: AsError(err)}
}

// Encode marshals a server event to a text frame. Marshal failures are
// programming errors on our own structs, so the frame is dropped and the
// error returned for logging.
func Encode(ev any) ([]byte, error) {
	return json.Marshal(ev)
}
