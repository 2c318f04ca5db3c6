// Package media defines the narrow port through which the control plane
// drives the SFU media engine, and the adapter that tracks resource
// ownership so closes cascade correctly.
package media

import (
	"context"
	"encoding/json"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Direction of a transport.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// ResourceKind names the adapter's resource categories. The cascade order
// is producers, consumers, data producers, data consumers, then transports.
type ResourceKind string

const (
	KindTransport    ResourceKind = "transport"
	KindProducer     ResourceKind = "producer"
	KindConsumer     ResourceKind = "consumer"
	KindDataProducer ResourceKind = "dataProducer"
	KindDataConsumer ResourceKind = "dataConsumer"
)

// CloseEvent is raised by the engine when it closes a resource on its own,
// e.g. a consumer dying because its producer closed.
type CloseEvent struct {
	Kind ResourceKind
	ID   string
}

// TransportInfo describes a created transport.
type TransportInfo struct {
	ID             string          `json:"id"`
	Direction      Direction       `json:"direction"`
	IceParameters  json.RawMessage `json:"iceParameters,omitempty"`
	IceCandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DtlsParameters json.RawMessage `json:"dtlsParameters,omitempty"`
}

// ProducerInfo describes a created producer.
type ProducerInfo struct {
	ID            string            `json:"id"`
	Kind          types.TrackKind   `json:"kind"`
	Source        types.TrackSource `json:"source"`
	RtpParameters json.RawMessage   `json:"rtpParameters,omitempty"`
}

// ConsumerInfo describes a created consumer.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          types.TrackKind `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

// DataProducerInfo describes a created data producer.
type DataProducerInfo struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Protocol     string          `json:"protocol"`
	StreamParams json.RawMessage `json:"streamParams,omitempty"`
}

// DataConsumerInfo describes a created data consumer.
type DataConsumerInfo struct {
	ID             string `json:"id"`
	DataProducerID string `json:"dataProducerId"`
	Label          string `json:"label"`
	Protocol       string `json:"protocol"`
}

// Router is one room's slice of the media engine. The concrete SFU is an
// external collaborator; the control plane only ever sees this interface.
type Router interface {
	CreateTransport(ctx context.Context, direction Direction, params json.RawMessage) (TransportInfo, error)
	ConnectTransport(ctx context.Context, id string, dtlsParameters json.RawMessage) error

	CreateProducer(ctx context.Context, transportID string, kind types.TrackKind, source types.TrackSource, rtpParameters json.RawMessage) (ProducerInfo, error)
	PauseProducer(ctx context.Context, id string) error
	ResumeProducer(ctx context.Context, id string) error
	CloseProducer(ctx context.Context, id string) error

	CreateConsumer(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error)
	PauseConsumer(ctx context.Context, id string) error
	ResumeConsumer(ctx context.Context, id string) error
	CloseConsumer(ctx context.Context, id string) error

	CreateDataProducer(ctx context.Context, transportID string, streamParams json.RawMessage, label, protocol string) (DataProducerInfo, error)
	CreateDataConsumer(ctx context.Context, transportID, dataProducerID string) (DataConsumerInfo, error)
	CloseDataProducer(ctx context.Context, id string) error
	CloseDataConsumer(ctx context.Context, id string) error

	CloseTransport(ctx context.Context, id string) error
	Close() error

	RtpCapabilities() json.RawMessage
	// CanConsume is the codec gate consulted before CreateConsumer.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	ProducerStats(ctx context.Context, id string) (json.RawMessage, error)
	ConsumerStats(ctx context.Context, id string) (json.RawMessage, error)

	// OnClose registers a listener for engine-side resource closes.
	OnClose(fn func(CloseEvent))
}

// Engine owns routers. One router per room; the engine places each router on
// the least-loaded worker at creation time.
type Engine interface {
	CreateRouter(ctx context.Context, roomID types.RoomID) (Router, error)
	Close() error
}
