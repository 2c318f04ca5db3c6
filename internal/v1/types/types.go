package types

// --- Core Domain Types ---

// RoomID is the stable opaque identifier for a room, unique per process.
type RoomID string

// RoomName is the human-chosen room name, unique among active rooms.
type RoomName string

// ParticipantID uniquely identifies a participant process-wide.
type ParticipantID string

// Identity is the application-level user identifier carried in the token.
type Identity string

// TrackID identifies a published track. It equals the underlying producer id.
type TrackID string

// CallID identifies a call between two participants.
type CallID string

// SocketID identifies a single signaling connection.
type SocketID string

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackSource describes where a track originates.
type TrackSource string

const (
	TrackSourceCamera      TrackSource = "camera"
	TrackSourceMicrophone  TrackSource = "microphone"
	TrackSourceScreen      TrackSource = "screen"
	TrackSourceScreenAudio TrackSource = "screenAudio"
)

// Kind returns the media kind implied by the source.
func (s TrackSource) Kind() TrackKind {
	switch s {
	case TrackSourceCamera, TrackSourceScreen:
		return TrackKindVideo
	default:
		return TrackKindAudio
	}
}

// DataKind selects the delivery guarantee for data packets.
type DataKind string

const (
	DataKindReliable DataKind = "reliable"
	DataKindLossy    DataKind = "lossy"
)

// Permissions is the per-participant permission set extracted from grants.
type Permissions struct {
	MayPublish     bool `json:"mayPublish"`
	MaySubscribe   bool `json:"maySubscribe"`
	MayPublishData bool `json:"mayPublishData"`
}

// Metadata is an opaque application-defined key/value map.
type Metadata map[string]string

// Clone returns a shallow copy so callers cannot mutate shared state.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
