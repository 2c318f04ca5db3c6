package store

import (
	"context"
	"path"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Memory is the process-local Store used when no remote store is configured.
// Expired entries are evicted lazily on read and by a background sweeper.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   clock.WithTicker
	cancel  context.CancelFunc
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no TTL
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemory creates a memory store and starts its TTL sweeper.
func NewMemory() *Memory {
	return NewMemoryWithClock(clock.RealClock{}, time.Minute)
}

// NewMemoryWithClock allows tests to inject a fake clock and sweep cadence.
func NewMemoryWithClock(c clock.WithTicker, sweepEvery time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		clock:   c,
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.sweep(ctx, sweepEvery)
	return m
}

func (m *Memory) sweep(ctx context.Context, every time.Duration) {
	ticker := m.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			now := m.clock.Now()
			m.mu.Lock()
			for k, e := range m.entries {
				if e.expired(now) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if e.expired(m.clock.Now()) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: expires}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	now := m.clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for k, e := range m.entries {
		if e.expired(now) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.cancel()
	return nil
}
