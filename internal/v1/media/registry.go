package media

import (
	"context"
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
)

// Registry hands out one Adapter per room, creating routers lazily on first
// use and tearing them down when the room closes.
type Registry struct {
	engine Engine
	cfg    AdapterConfig

	mu       sync.Mutex
	adapters map[types.RoomID]*Adapter
}

func NewRegistry(engine Engine, cfg AdapterConfig) *Registry {
	return &Registry{
		engine:   engine,
		cfg:      cfg,
		adapters: make(map[types.RoomID]*Adapter),
	}
}

// Adapter returns the room's adapter, creating the router on first call.
func (r *Registry) Adapter(ctx context.Context, roomID types.RoomID) (*Adapter, error) {
	r.mu.Lock()
	if a, ok := r.adapters[roomID]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	// Router creation can block on the engine; do it outside the lock and
	// tolerate the race where two callers build one each.
	router, err := r.engine.CreateRouter(ctx, roomID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.adapters[roomID]; ok {
		r.mu.Unlock()
		_ = router.Close()
		return existing, nil
	}
	a := NewAdapter(roomID, router, r.cfg)
	r.adapters[roomID] = a
	r.mu.Unlock()
	return a, nil
}

// Peek returns the room's adapter without creating one.
func (r *Registry) Peek(roomID types.RoomID) (*Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[roomID]
	return a, ok
}

// CloseRoom cascades the room's adapter and forgets it.
func (r *Registry) CloseRoom(ctx context.Context, roomID types.RoomID) error {
	r.mu.Lock()
	a, ok := r.adapters[roomID]
	delete(r.adapters, roomID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Close(ctx)
}

// Close tears down every adapter and then the engine itself.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	adapters := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.adapters = make(map[types.RoomID]*Adapter)
	r.mu.Unlock()

	var firstErr error
	for _, a := range adapters {
		if err := a.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.engine.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
