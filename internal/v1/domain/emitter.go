package domain

import (
	"context"
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"go.uber.org/zap"
)

// Emitter is a typed message bus attached to a domain object. Emission is
// synchronous; a failing listener is isolated so the others still run.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string]map[int]func(payload any)
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string]map[int]func(any))}
}

// On registers a listener and returns a handle for Off.
func (e *Emitter) On(event string, fn func(payload any)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[int]func(any))
	}
	e.listeners[event][e.nextID] = fn
	return e.nextID
}

// Off removes a listener registered with On.
func (e *Emitter) Off(event string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.listeners[event]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(e.listeners, event)
		}
	}
}

// Emit invokes every listener for the event with the payload.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.RLock()
	fns := make([]func(any), 0, len(e.listeners[event]))
	for _, fn := range e.listeners[event] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		invoke(event, fn, payload)
	}
}

func invoke(event string, fn func(any), payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in event listener",
				zap.String("event", event), zap.Any("panic", r))
		}
	}()
	fn(payload)
}
