package media

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/metrics"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/resilience"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// AdapterConfig tunes one room's adapter.
type AdapterConfig struct {
	// OpTimeout bounds create/connect/pause/resume calls. Default 10s.
	OpTimeout time.Duration
	// CloseTimeout bounds each close call during cascades. Default 10s.
	CloseTimeout time.Duration
	// SweepInterval is the orphan sweeper cadence. Default 5m.
	SweepInterval time.Duration
	// ResourceMaxAge is the orphan age threshold. Default 1h.
	ResourceMaxAge time.Duration
	// AutoSweep starts the background sweeper. Tests drive Sweep directly.
	AutoSweep bool
	Clock     clock.WithTicker
}

func (c *AdapterConfig) withDefaults() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.ResourceMaxAge <= 0 {
		c.ResourceMaxAge = time.Hour
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
}

type transportEntry struct {
	info      TransportInfo
	createdAt time.Time
	children  map[ResourceKind]map[string]struct{}
}

func newTransportEntry(info TransportInfo, now time.Time) *transportEntry {
	return &transportEntry{
		info:      info,
		createdAt: now,
		children: map[ResourceKind]map[string]struct{}{
			KindProducer:     {},
			KindConsumer:     {},
			KindDataProducer: {},
			KindDataConsumer: {},
		},
	}
}

type resourceEntry struct {
	transportID string
	createdAt   time.Time
}

// Adapter implements the media-engine port for one room. It tracks every
// resource it creates in per-category maps plus reverse child sets on the
// owning transport, so closing a transport cascades and nothing dangles.
// Category locks are never held together; each map is touched in isolation.
type Adapter struct {
	roomID types.RoomID
	router Router
	cfg    AdapterConfig

	muT        sync.Mutex
	transports map[string]*transportEntry

	muP       sync.Mutex
	producers map[string]*resourceEntry

	muC       sync.Mutex
	consumers map[string]*resourceEntry

	muDP          sync.Mutex
	dataProducers map[string]*resourceEntry

	muDC          sync.Mutex
	dataConsumers map[string]*resourceEntry

	closeOnce   sync.Once
	sweepCancel context.CancelFunc
}

// NewAdapter wraps a router and wires the engine close events back into the
// ownership maps.
func NewAdapter(roomID types.RoomID, router Router, cfg AdapterConfig) *Adapter {
	cfg.withDefaults()
	a := &Adapter{
		roomID:        roomID,
		router:        router,
		cfg:           cfg,
		transports:    make(map[string]*transportEntry),
		producers:     make(map[string]*resourceEntry),
		consumers:     make(map[string]*resourceEntry),
		dataProducers: make(map[string]*resourceEntry),
		dataConsumers: make(map[string]*resourceEntry),
	}

	router.OnClose(a.handleEngineClose)

	ctx, cancel := context.WithCancel(context.Background())
	a.sweepCancel = cancel
	if cfg.AutoSweep {
		go a.runSweeper(ctx)
	}
	return a
}

// handleEngineClose evicts map entries when the engine closes a resource on
// its own (producer death cascading to consumers, transport teardown).
func (a *Adapter) handleEngineClose(ev CloseEvent) {
	switch ev.Kind {
	case KindProducer:
		a.evictChild(KindProducer, ev.ID)
	case KindConsumer:
		a.evictChild(KindConsumer, ev.ID)
	case KindDataProducer:
		a.evictChild(KindDataProducer, ev.ID)
	case KindDataConsumer:
		a.evictChild(KindDataConsumer, ev.ID)
	case KindTransport:
		a.muT.Lock()
		delete(a.transports, ev.ID)
		a.muT.Unlock()
		a.updateGauge(KindTransport)
	}
}

func (a *Adapter) categoryLock(kind ResourceKind) (*sync.Mutex, map[string]*resourceEntry) {
	switch kind {
	case KindProducer:
		return &a.muP, a.producers
	case KindConsumer:
		return &a.muC, a.consumers
	case KindDataProducer:
		return &a.muDP, a.dataProducers
	default:
		return &a.muDC, a.dataConsumers
	}
}

// recordChild installs a resource entry and its reverse mapping.
func (a *Adapter) recordChild(kind ResourceKind, id, transportID string) {
	now := a.cfg.Clock.Now()
	mu, m := a.categoryLock(kind)
	mu.Lock()
	m[id] = &resourceEntry{transportID: transportID, createdAt: now}
	mu.Unlock()

	a.muT.Lock()
	if t, ok := a.transports[transportID]; ok {
		t.children[kind][id] = struct{}{}
	}
	a.muT.Unlock()
	a.updateGauge(kind)
}

// evictChild removes a resource entry and its reverse mapping.
func (a *Adapter) evictChild(kind ResourceKind, id string) (transportID string, existed bool) {
	mu, m := a.categoryLock(kind)
	mu.Lock()
	entry, ok := m[id]
	if ok {
		transportID = entry.transportID
		delete(m, id)
	}
	mu.Unlock()
	if !ok {
		return "", false
	}

	a.muT.Lock()
	if t, tok := a.transports[transportID]; tok {
		delete(t.children[kind], id)
	}
	a.muT.Unlock()
	a.updateGauge(kind)
	return transportID, true
}

func (a *Adapter) updateGauge(kind ResourceKind) {
	var n int
	switch kind {
	case KindTransport:
		a.muT.Lock()
		n = len(a.transports)
		a.muT.Unlock()
	default:
		mu, m := a.categoryLock(kind)
		mu.Lock()
		n = len(m)
		mu.Unlock()
	}
	metrics.AdapterResources.WithLabelValues(string(kind)).Set(float64(n))
}

func (a *Adapter) observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.AdapterOperations.WithLabelValues(op, status).Inc()
}

// --- port operations ---

// CreateTransport creates a transport and registers it as an owner of
// future child resources.
func (a *Adapter) CreateTransport(ctx context.Context, direction Direction, params json.RawMessage) (TransportInfo, error) {
	info, err := resilience.WithTimeoutResult(ctx, "media.createTransport", a.cfg.OpTimeout, func(ctx context.Context) (TransportInfo, error) {
		return a.router.CreateTransport(ctx, direction, params)
	})
	a.observe("createTransport", err)
	if err != nil {
		return TransportInfo{}, err
	}

	a.muT.Lock()
	a.transports[info.ID] = newTransportEntry(info, a.cfg.Clock.Now())
	a.muT.Unlock()
	a.updateGauge(KindTransport)
	return info, nil
}

// ConnectTransport completes the DTLS handshake for a known transport.
func (a *Adapter) ConnectTransport(ctx context.Context, id string, dtlsParameters json.RawMessage) error {
	a.muT.Lock()
	_, ok := a.transports[id]
	a.muT.Unlock()
	if !ok {
		return protocol.NewError(protocol.CodeTransportNotFound, "transport %s not found", id)
	}

	err := resilience.WithTimeout(ctx, "media.connectTransport", a.cfg.OpTimeout, func(ctx context.Context) error {
		return a.router.ConnectTransport(ctx, id, dtlsParameters)
	})
	a.observe("connectTransport", err)
	return err
}

// CreateProducer creates a producer on the given transport.
func (a *Adapter) CreateProducer(ctx context.Context, transportID string, kind types.TrackKind, source types.TrackSource, rtpParameters json.RawMessage) (ProducerInfo, error) {
	a.muT.Lock()
	_, ok := a.transports[transportID]
	a.muT.Unlock()
	if !ok {
		return ProducerInfo{}, protocol.NewError(protocol.CodeTransportNotFound, "transport %s not found", transportID)
	}

	info, err := resilience.WithTimeoutResult(ctx, "media.createProducer", a.cfg.OpTimeout, func(ctx context.Context) (ProducerInfo, error) {
		return a.router.CreateProducer(ctx, transportID, kind, source, rtpParameters)
	})
	a.observe("createProducer", err)
	if err != nil {
		return ProducerInfo{}, err
	}

	a.recordChild(KindProducer, info.ID, transportID)
	return info, nil
}

func (a *Adapter) PauseProducer(ctx context.Context, id string) error {
	err := resilience.WithTimeout(ctx, "media.pauseProducer", a.cfg.OpTimeout, func(ctx context.Context) error {
		return a.router.PauseProducer(ctx, id)
	})
	a.observe("pauseProducer", err)
	return err
}

func (a *Adapter) ResumeProducer(ctx context.Context, id string) error {
	err := resilience.WithTimeout(ctx, "media.resumeProducer", a.cfg.OpTimeout, func(ctx context.Context) error {
		return a.router.ResumeProducer(ctx, id)
	})
	a.observe("resumeProducer", err)
	return err
}

// CloseProducer is idempotent: closing an untracked producer is a no-op.
// Map entries are removed even when the engine-side close fails.
func (a *Adapter) CloseProducer(ctx context.Context, id string) error {
	if _, existed := a.evictChild(KindProducer, id); !existed {
		return nil
	}
	err := resilience.WithTimeout(ctx, "media.closeProducer", a.cfg.CloseTimeout, func(ctx context.Context) error {
		return a.router.CloseProducer(ctx, id)
	})
	a.observe("closeProducer", err)
	return err
}

// CreateConsumer creates a consumer after the codec gate approves.
func (a *Adapter) CreateConsumer(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error) {
	a.muT.Lock()
	_, ok := a.transports[transportID]
	a.muT.Unlock()
	if !ok {
		return ConsumerInfo{}, protocol.NewError(protocol.CodeTransportNotFound, "transport %s not found", transportID)
	}

	if !a.router.CanConsume(producerID, rtpCapabilities) {
		return ConsumerInfo{}, protocol.ErrMedia(protocol.MediaReasonCodecMismatch, "cannot consume producer %s", producerID)
	}

	info, err := resilience.WithTimeoutResult(ctx, "media.createConsumer", a.cfg.OpTimeout, func(ctx context.Context) (ConsumerInfo, error) {
		return a.router.CreateConsumer(ctx, transportID, producerID, rtpCapabilities)
	})
	a.observe("createConsumer", err)
	if err != nil {
		return ConsumerInfo{}, err
	}

	a.recordChild(KindConsumer, info.ID, transportID)
	return info, nil
}

func (a *Adapter) PauseConsumer(ctx context.Context, id string) error {
	err := resilience.WithTimeout(ctx, "media.pauseConsumer", a.cfg.OpTimeout, func(ctx context.Context) error {
		return a.router.PauseConsumer(ctx, id)
	})
	a.observe("pauseConsumer", err)
	return err
}

func (a *Adapter) ResumeConsumer(ctx context.Context, id string) error {
	err := resilience.WithTimeout(ctx, "media.resumeConsumer", a.cfg.OpTimeout, func(ctx context.Context) error {
		return a.router.ResumeConsumer(ctx, id)
	})
	a.observe("resumeConsumer", err)
	return err
}

// CloseConsumer is idempotent like CloseProducer.
func (a *Adapter) CloseConsumer(ctx context.Context, id string) error {
	if _, existed := a.evictChild(KindConsumer, id); !existed {
		return nil
	}
	err := resilience.WithTimeout(ctx, "media.closeConsumer", a.cfg.CloseTimeout, func(ctx context.Context) error {
		return a.router.CloseConsumer(ctx, id)
	})
	a.observe("closeConsumer", err)
	return err
}

// CreateDataProducer creates a data producer on the given transport.
func (a *Adapter) CreateDataProducer(ctx context.Context, transportID string, streamParams json.RawMessage, label, protocolName string) (DataProducerInfo, error) {
	a.muT.Lock()
	_, ok := a.transports[transportID]
	a.muT.Unlock()
	if !ok {
		return DataProducerInfo{}, protocol.NewError(protocol.CodeTransportNotFound, "transport %s not found", transportID)
	}

	info, err := resilience.WithTimeoutResult(ctx, "media.createDataProducer", a.cfg.OpTimeout, func(ctx context.Context) (DataProducerInfo, error) {
		return a.router.CreateDataProducer(ctx, transportID, streamParams, label, protocolName)
	})
	a.observe("createDataProducer", err)
	if err != nil {
		return DataProducerInfo{}, err
	}

	a.recordChild(KindDataProducer, info.ID, transportID)
	return info, nil
}

// CreateDataConsumer creates a data consumer for a data producer.
func (a *Adapter) CreateDataConsumer(ctx context.Context, transportID, dataProducerID string) (DataConsumerInfo, error) {
	a.muT.Lock()
	_, ok := a.transports[transportID]
	a.muT.Unlock()
	if !ok {
		return DataConsumerInfo{}, protocol.NewError(protocol.CodeTransportNotFound, "transport %s not found", transportID)
	}

	info, err := resilience.WithTimeoutResult(ctx, "media.createDataConsumer", a.cfg.OpTimeout, func(ctx context.Context) (DataConsumerInfo, error) {
		return a.router.CreateDataConsumer(ctx, transportID, dataProducerID)
	})
	a.observe("createDataConsumer", err)
	if err != nil {
		return DataConsumerInfo{}, err
	}

	a.recordChild(KindDataConsumer, info.ID, transportID)
	return info, nil
}

func (a *Adapter) CloseDataProducer(ctx context.Context, id string) error {
	if _, existed := a.evictChild(KindDataProducer, id); !existed {
		return nil
	}
	err := resilience.WithTimeout(ctx, "media.closeDataProducer", a.cfg.CloseTimeout, func(ctx context.Context) error {
		return a.router.CloseDataProducer(ctx, id)
	})
	a.observe("closeDataProducer", err)
	return err
}

func (a *Adapter) CloseDataConsumer(ctx context.Context, id string) error {
	if _, existed := a.evictChild(KindDataConsumer, id); !existed {
		return nil
	}
	err := resilience.WithTimeout(ctx, "media.closeDataConsumer", a.cfg.CloseTimeout, func(ctx context.Context) error {
		return a.router.CloseDataConsumer(ctx, id)
	})
	a.observe("closeDataConsumer", err)
	return err
}

// CloseTransport cascades: children close in producer, consumer,
// data-producer, data-consumer order, continuing past individual failures,
// then the transport itself. All entries are evicted regardless of engine
// errors so no mapping dangles.
func (a *Adapter) CloseTransport(ctx context.Context, id string) error {
	a.muT.Lock()
	entry, ok := a.transports[id]
	var children map[ResourceKind][]string
	if ok {
		children = make(map[ResourceKind][]string, len(entry.children))
		for kind, set := range entry.children {
			ids := make([]string, 0, len(set))
			for cid := range set {
				ids = append(ids, cid)
			}
			children[kind] = ids
		}
	}
	a.muT.Unlock()
	if !ok {
		return nil
	}

	for _, kind := range []ResourceKind{KindProducer, KindConsumer, KindDataProducer, KindDataConsumer} {
		for _, cid := range children[kind] {
			var err error
			switch kind {
			case KindProducer:
				err = a.CloseProducer(ctx, cid)
			case KindConsumer:
				err = a.CloseConsumer(ctx, cid)
			case KindDataProducer:
				err = a.CloseDataProducer(ctx, cid)
			case KindDataConsumer:
				err = a.CloseDataConsumer(ctx, cid)
			}
			if err != nil {
				logging.Warn(ctx, "Failed to close child resource during transport cascade",
					zap.String("room", string(a.roomID)),
					zap.String("transportId", id),
					zap.String("kind", string(kind)),
					zap.String("resourceId", cid),
					zap.Error(err))
			}
		}
	}

	a.muT.Lock()
	delete(a.transports, id)
	a.muT.Unlock()
	a.updateGauge(KindTransport)

	err := resilience.WithTimeout(ctx, "media.closeTransport", a.cfg.CloseTimeout, func(ctx context.Context) error {
		return a.router.CloseTransport(ctx, id)
	})
	a.observe("closeTransport", err)
	return err
}

// Close cascades every transport, stops the sweeper, and closes the router.
func (a *Adapter) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		a.sweepCancel()

		a.muT.Lock()
		ids := make([]string, 0, len(a.transports))
		for id := range a.transports {
			ids = append(ids, id)
		}
		a.muT.Unlock()

		for _, id := range ids {
			if cerr := a.CloseTransport(ctx, id); cerr != nil {
				logging.Warn(ctx, "Failed to close transport during adapter shutdown",
					zap.String("room", string(a.roomID)), zap.String("transportId", id), zap.Error(cerr))
			}
		}
		err = a.router.Close()
	})
	return err
}

// RtpCapabilities returns the room router's capabilities.
func (a *Adapter) RtpCapabilities() json.RawMessage {
	return a.router.RtpCapabilities()
}

// ProducerStats fetches engine-side stats for a producer.
func (a *Adapter) ProducerStats(ctx context.Context, id string) (json.RawMessage, error) {
	return resilience.WithTimeoutResult(ctx, "media.producerStats", a.cfg.OpTimeout, func(ctx context.Context) (json.RawMessage, error) {
		return a.router.ProducerStats(ctx, id)
	})
}

// ConsumerStats fetches engine-side stats for a consumer.
func (a *Adapter) ConsumerStats(ctx context.Context, id string) (json.RawMessage, error) {
	return resilience.WithTimeoutResult(ctx, "media.consumerStats", a.cfg.OpTimeout, func(ctx context.Context) (json.RawMessage, error) {
		return a.router.ConsumerStats(ctx, id)
	})
}

// HasTransport reports whether a transport is tracked. Used by tests and
// the orphan sweeper.
func (a *Adapter) HasTransport(id string) bool {
	a.muT.Lock()
	defer a.muT.Unlock()
	_, ok := a.transports[id]
	return ok
}

// ResourceCount returns the size of one category map.
func (a *Adapter) ResourceCount(kind ResourceKind) int {
	if kind == KindTransport {
		a.muT.Lock()
		defer a.muT.Unlock()
		return len(a.transports)
	}
	mu, m := a.categoryLock(kind)
	mu.Lock()
	defer mu.Unlock()
	return len(m)
}
