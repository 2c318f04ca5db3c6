package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/google/uuid"
)

// loopbackCapabilities is the static capability set the loopback engine
// advertises. Real engines report their negotiated codecs here.
var loopbackCapabilities = json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2},{"mimeType":"video/VP8","clockRate":90000}]}`)

// LoopbackEngine is an in-process Engine used by tests and single-node
// deployments without an external SFU worker. It models a fixed worker pool
// and places each new router on the least-loaded worker.
type LoopbackEngine struct {
	mu      sync.Mutex
	workers []int
	closed  bool
}

// NewLoopbackEngine creates an engine with the given worker count
// (minimum 1).
func NewLoopbackEngine(workerCount int) *LoopbackEngine {
	if workerCount < 1 {
		workerCount = 1
	}
	return &LoopbackEngine{workers: make([]int, workerCount)}
}

// CreateRouter places a router on the least-loaded worker.
func (e *LoopbackEngine) CreateRouter(ctx context.Context, roomID types.RoomID) (Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("media engine is closed")
	}
	worker := 0
	for i, load := range e.workers {
		if load < e.workers[worker] {
			worker = i
		}
	}
	e.workers[worker]++
	return &loopbackRouter{
		engine:     e,
		worker:     worker,
		roomID:     roomID,
		transports: make(map[string]Direction),
		producers:  make(map[string]lbProducer),
		consumers:  make(map[string]lbConsumer),
		dataProds:  make(map[string]struct{}),
		dataCons:   make(map[string]lbDataConsumer),
		byTransport: make(map[string]map[string]ResourceKind),
	}, nil
}

func (e *LoopbackEngine) releaseWorker(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workers[i] > 0 {
		e.workers[i]--
	}
}

// WorkerLoads returns a copy of the per-worker router counts.
func (e *LoopbackEngine) WorkerLoads() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.workers))
	copy(out, e.workers)
	return out
}

func (e *LoopbackEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type lbProducer struct {
	transportID string
	kind        types.TrackKind
	paused      bool
}

type lbConsumer struct {
	transportID string
	producerID  string
	kind        types.TrackKind
	paused      bool
}

type lbDataConsumer struct {
	transportID    string
	dataProducerID string
}

// loopbackRouter keeps resources in plain maps and mirrors engine-side
// cascade behavior: closing a producer closes its consumers and announces
// each close through the OnClose listeners.
type loopbackRouter struct {
	engine *LoopbackEngine
	worker int
	roomID types.RoomID

	mu          sync.Mutex
	transports  map[string]Direction
	producers   map[string]lbProducer
	consumers   map[string]lbConsumer
	dataProds   map[string]struct{}
	dataCons    map[string]lbDataConsumer
	byTransport map[string]map[string]ResourceKind
	listeners   []func(CloseEvent)
	closed      bool
}

func (r *loopbackRouter) OnClose(fn func(CloseEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *loopbackRouter) emit(events []CloseEvent) {
	r.mu.Lock()
	listeners := make([]func(CloseEvent), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (r *loopbackRouter) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed {
		return fmt.Errorf("router for room %s is closed", r.roomID)
	}
	return nil
}

func (r *loopbackRouter) track(transportID, id string, kind ResourceKind) {
	if m, ok := r.byTransport[transportID]; ok {
		m[id] = kind
	}
}

func (r *loopbackRouter) untrack(transportID, id string) {
	if m, ok := r.byTransport[transportID]; ok {
		delete(m, id)
	}
}

func (r *loopbackRouter) CreateTransport(ctx context.Context, direction Direction, params json.RawMessage) (TransportInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return TransportInfo{}, err
	}
	id := uuid.NewString()
	r.transports[id] = direction
	r.byTransport[id] = make(map[string]ResourceKind)
	return TransportInfo{
		ID:            id,
		Direction:     direction,
		IceParameters: json.RawMessage(`{"usernameFragment":"` + id[:8] + `","password":"loopback","iceLite":true}`),
		IceCandidates: json.RawMessage(`[]`),
		DtlsParameters: json.RawMessage(`{"role":"auto","fingerprints":[]}`),
	}, nil
}

func (r *loopbackRouter) ConnectTransport(ctx context.Context, id string, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return err
	}
	if _, ok := r.transports[id]; !ok {
		return fmt.Errorf("unknown transport %s", id)
	}
	return nil
}

func (r *loopbackRouter) CreateProducer(ctx context.Context, transportID string, kind types.TrackKind, source types.TrackSource, rtpParameters json.RawMessage) (ProducerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return ProducerInfo{}, err
	}
	if _, ok := r.transports[transportID]; !ok {
		return ProducerInfo{}, fmt.Errorf("unknown transport %s", transportID)
	}
	id := uuid.NewString()
	r.producers[id] = lbProducer{transportID: transportID, kind: kind}
	r.track(transportID, id, KindProducer)
	return ProducerInfo{ID: id, Kind: kind, Source: source, RtpParameters: rtpParameters}, nil
}

func (r *loopbackRouter) PauseProducer(ctx context.Context, id string) error {
	return r.setProducerPaused(ctx, id, true)
}

func (r *loopbackRouter) ResumeProducer(ctx context.Context, id string) error {
	return r.setProducerPaused(ctx, id, false)
}

func (r *loopbackRouter) setProducerPaused(ctx context.Context, id string, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return err
	}
	p, ok := r.producers[id]
	if !ok {
		return fmt.Errorf("unknown producer %s", id)
	}
	p.paused = paused
	r.producers[id] = p
	return nil
}

// CloseProducer also closes consumers fed by the producer, announcing each.
func (r *loopbackRouter) CloseProducer(ctx context.Context, id string) error {
	r.mu.Lock()
	if err := r.checkOpen(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	p, ok := r.producers[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.producers, id)
	r.untrack(p.transportID, id)
	var events []CloseEvent
	for cid, c := range r.consumers {
		if c.producerID == id {
			delete(r.consumers, cid)
			r.untrack(c.transportID, cid)
			events = append(events, CloseEvent{Kind: KindConsumer, ID: cid})
		}
	}
	r.mu.Unlock()
	r.emit(events)
	return nil
}

func (r *loopbackRouter) CreateConsumer(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return ConsumerInfo{}, err
	}
	if _, ok := r.transports[transportID]; !ok {
		return ConsumerInfo{}, fmt.Errorf("unknown transport %s", transportID)
	}
	p, ok := r.producers[producerID]
	if !ok {
		return ConsumerInfo{}, fmt.Errorf("unknown producer %s", producerID)
	}
	id := uuid.NewString()
	r.consumers[id] = lbConsumer{transportID: transportID, producerID: producerID, kind: p.kind}
	r.track(transportID, id, KindConsumer)
	return ConsumerInfo{ID: id, ProducerID: producerID, Kind: p.kind}, nil
}

func (r *loopbackRouter) PauseConsumer(ctx context.Context, id string) error {
	return r.setConsumerPaused(ctx, id, true)
}

func (r *loopbackRouter) ResumeConsumer(ctx context.Context, id string) error {
	return r.setConsumerPaused(ctx, id, false)
}

func (r *loopbackRouter) setConsumerPaused(ctx context.Context, id string, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return err
	}
	c, ok := r.consumers[id]
	if !ok {
		return fmt.Errorf("unknown consumer %s", id)
	}
	c.paused = paused
	r.consumers[id] = c
	return nil
}

func (r *loopbackRouter) CloseConsumer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return err
	}
	if c, ok := r.consumers[id]; ok {
		delete(r.consumers, id)
		r.untrack(c.transportID, id)
	}
	return nil
}

func (r *loopbackRouter) CreateDataProducer(ctx context.Context, transportID string, streamParams json.RawMessage, label, protocol string) (DataProducerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return DataProducerInfo{}, err
	}
	if _, ok := r.transports[transportID]; !ok {
		return DataProducerInfo{}, fmt.Errorf("unknown transport %s", transportID)
	}
	id := uuid.NewString()
	r.dataProds[id] = struct{}{}
	r.track(transportID, id, KindDataProducer)
	return DataProducerInfo{ID: id, Label: label, Protocol: protocol, StreamParams: streamParams}, nil
}

func (r *loopbackRouter) CreateDataConsumer(ctx context.Context, transportID, dataProducerID string) (DataConsumerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return DataConsumerInfo{}, err
	}
	if _, ok := r.transports[transportID]; !ok {
		return DataConsumerInfo{}, fmt.Errorf("unknown transport %s", transportID)
	}
	if _, ok := r.dataProds[dataProducerID]; !ok {
		return DataConsumerInfo{}, fmt.Errorf("unknown data producer %s", dataProducerID)
	}
	id := uuid.NewString()
	r.dataCons[id] = lbDataConsumer{transportID: transportID, dataProducerID: dataProducerID}
	r.track(transportID, id, KindDataConsumer)
	return DataConsumerInfo{ID: id, DataProducerID: dataProducerID}, nil
}

func (r *loopbackRouter) CloseDataProducer(ctx context.Context, id string) error {
	r.mu.Lock()
	if err := r.checkOpen(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.dataProds, id)
	var events []CloseEvent
	for cid, c := range r.dataCons {
		if c.dataProducerID == id {
			delete(r.dataCons, cid)
			r.untrack(c.transportID, cid)
			events = append(events, CloseEvent{Kind: KindDataConsumer, ID: cid})
		}
	}
	r.mu.Unlock()
	r.emit(events)
	return nil
}

func (r *loopbackRouter) CloseDataConsumer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return err
	}
	if c, ok := r.dataCons[id]; ok {
		delete(r.dataCons, id)
		r.untrack(c.transportID, id)
	}
	return nil
}

// CloseTransport drops the transport and everything riding on it, announcing
// each child close.
func (r *loopbackRouter) CloseTransport(ctx context.Context, id string) error {
	r.mu.Lock()
	if err := r.checkOpen(ctx); err != nil {
		r.mu.Unlock()
		return err
	}
	children := r.byTransport[id]
	var events []CloseEvent
	for cid, kind := range children {
		switch kind {
		case KindProducer:
			delete(r.producers, cid)
		case KindConsumer:
			delete(r.consumers, cid)
		case KindDataProducer:
			delete(r.dataProds, cid)
		case KindDataConsumer:
			delete(r.dataCons, cid)
		}
		events = append(events, CloseEvent{Kind: kind, ID: cid})
	}
	delete(r.byTransport, id)
	delete(r.transports, id)
	r.mu.Unlock()
	r.emit(events)
	return nil
}

func (r *loopbackRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	worker := r.worker
	r.mu.Unlock()
	r.engine.releaseWorker(worker)
	return nil
}

func (r *loopbackRouter) RtpCapabilities() json.RawMessage {
	return loopbackCapabilities
}

// CanConsume requires a live producer and non-empty capabilities. An empty
// codec list means the subscriber shares no codec with the producer.
func (r *loopbackRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	r.mu.Lock()
	_, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if len(rtpCapabilities) == 0 {
		return true
	}
	var caps struct {
		Codecs []json.RawMessage `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	if caps.Codecs != nil && len(caps.Codecs) == 0 {
		return false
	}
	return true
}

func (r *loopbackRouter) ProducerStats(ctx context.Context, id string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	p, ok := r.producers[id]
	if !ok {
		return nil, fmt.Errorf("unknown producer %s", id)
	}
	stats, _ := json.Marshal(map[string]any{"id": id, "kind": p.kind, "paused": p.paused})
	return stats, nil
}

func (r *loopbackRouter) ConsumerStats(ctx context.Context, id string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(ctx); err != nil {
		return nil, err
	}
	c, ok := r.consumers[id]
	if !ok {
		return nil, fmt.Errorf("unknown consumer %s", id)
	}
	stats, _ := json.Marshal(map[string]any{"id": id, "producerId": c.producerID, "paused": c.paused})
	return stats, nil
}
