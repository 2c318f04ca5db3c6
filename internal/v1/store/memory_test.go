package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func newTestMemory(t *testing.T) (*Memory, *testclock.FakeClock) {
	t.Helper()
	fc := testclock.NewFakeClock(time.Now())
	m := NewMemoryWithClock(fc, time.Minute)
	t.Cleanup(func() { _ = m.Close() })
	return m, fc
}

func TestMemorySetGet(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))

	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok, err = m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m, fc := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "ephemeral", "v", 30*time.Second))
	require.NoError(t, m.Set(ctx, "durable", "v", 0))

	_, ok, _ := m.Get(ctx, "ephemeral")
	assert.True(t, ok)

	fc.Step(time.Minute)
	_, ok, _ = m.Get(ctx, "ephemeral")
	assert.False(t, ok)

	// no TTL means no expiry
	_, ok, _ = m.Get(ctx, "durable")
	assert.True(t, ok)
}

func TestMemoryOverwriteResetsTTL(t *testing.T) {
	m, fc := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v1", 30*time.Second))
	fc.Step(20 * time.Second)
	require.NoError(t, m.Set(ctx, "k", "v2", 30*time.Second))
	fc.Step(20 * time.Second)

	v, ok, _ := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestMemoryDeleteAndExists(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	ok, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Delete(ctx, "k"))
	ok, _ = m.Exists(ctx, "k")
	assert.False(t, ok)

	// deleting a missing key is not an error
	assert.NoError(t, m.Delete(ctx, "k"))
}

func TestMemoryKeysGlob(t *testing.T) {
	m, fc := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "room:one", "1", 0))
	require.NoError(t, m.Set(ctx, "room:two", "2", 0))
	require.NoError(t, m.Set(ctx, "call:one", "3", 0))
	require.NoError(t, m.Set(ctx, "room:gone", "4", time.Second))
	fc.Step(2 * time.Second)

	keys, err := m.Keys(ctx, "room:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"room:one", "room:two"}, keys)

	keys, err = m.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestMemoryClear(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Set(ctx, "b", "2", 0))
	require.NoError(t, m.Clear(ctx))

	keys, _ := m.Keys(ctx, "*")
	assert.Empty(t, keys)
}
