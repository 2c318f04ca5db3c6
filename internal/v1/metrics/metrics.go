package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Metrics for the signaling control plane.
//
// Naming convention: namespace_subsystem_name
// - namespace: sfu_signaling
// - subsystem: websocket, room, call, media, store
//
// Metric types:
// - Gauge: current state (connections, rooms, participants, resources)
// - Counter: cumulative events (intents processed, broadcasts dropped)
// - Histogram: latency distributions (intent handling time)

var (
	// ActiveConnections tracks the current number of signaling connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active signaling connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the participant count per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_signaling",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room"})

	// IntentsTotal counts processed intents by type and outcome.
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_signaling",
		Subsystem: "websocket",
		Name:      "intents_total",
		Help:      "Total intents processed",
	}, []string{"intent", "status"})

	// IntentDuration tracks time spent handling intents.
	IntentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu_signaling",
		Subsystem: "websocket",
		Name:      "intent_duration_seconds",
		Help:      "Time spent handling intents",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"intent"})

	// BroadcastsDropped counts fan-out writes dropped on slow consumers.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sfu_signaling",
		Subsystem: "websocket",
		Name:      "broadcasts_dropped_total",
		Help:      "Broadcast frames dropped due to slow consumers",
	})

	// ActiveCalls tracks the number of non-terminal calls.
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_signaling",
		Subsystem: "call",
		Name:      "calls_active",
		Help:      "Current number of non-terminal calls",
	})

	// AdapterResources tracks media-engine resources by category.
	AdapterResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_signaling",
		Subsystem: "media",
		Name:      "adapter_resources",
		Help:      "Media adapter resources by category",
	}, []string{"category"})

	// AdapterOperations counts adapter calls by operation and outcome.
	AdapterOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_signaling",
		Subsystem: "media",
		Name:      "adapter_operations_total",
		Help:      "Media adapter operations by outcome",
	}, []string{"operation", "status"})

	// CircuitBreakerState exposes breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_signaling",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// CircuitBreakerRejections counts calls rejected while open.
	CircuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_signaling",
		Subsystem: "store",
		Name:      "circuit_breaker_rejections_total",
		Help:      "Calls rejected by an open circuit breaker",
	}, []string{"name"})
)

func IncConnection() { ActiveConnections.Inc() }
func DecConnection() { ActiveConnections.Dec() }

// ObserveBreaker is wired as a gobreaker OnStateChange hook.
func ObserveBreaker(name string, _ gobreaker.State, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	CircuitBreakerState.WithLabelValues(name).Set(v)
}
