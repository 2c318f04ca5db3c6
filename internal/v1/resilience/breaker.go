package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls outright.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig tunes a Breaker. Zero values take the defaults: trip after
// 5 consecutive failures inside a 10s window, stay open for 60s, then allow
// 2 half-open trial calls.
type BreakerConfig struct {
	Name          string
	FailThreshold uint32
	MonitorWindow time.Duration
	ResetTimeout  time.Duration
	TrialRequests uint32
	OnStateChange func(name string, from, to gobreaker.State)
}

func (c *BreakerConfig) withDefaults() {
	if c.FailThreshold == 0 {
		c.FailThreshold = 5
	}
	if c.MonitorWindow <= 0 {
		c.MonitorWindow = 10 * time.Second
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.TrialRequests == 0 {
		c.TrialRequests = 2
	}
}

// Breaker is a thin wrapper over gobreaker that maps its open-state error to
// ErrCircuitOpen so callers can surface the circuitOpen error kind.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker from the config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.withDefaults()
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.TrialRequests,
		Interval:    cfg.MonitorWindow,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailThreshold
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return res, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
