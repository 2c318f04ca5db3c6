package calls

import (
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func newTestManager(opts Options) *Manager {
	next := 0
	if opts.IDGenerator == nil {
		opts.IDGenerator = func() types.CallID {
			next++
			return types.CallID(string(rune('a' + next - 1)))
		}
	}
	return NewManager(opts)
}

func TestStartAcceptEnd(t *testing.T) {
	m := newTestManager(Options{})

	call, err := m.Start("caller", "target", types.Metadata{"topic": "standup"})
	require.NoError(t, err)
	assert.Equal(t, StatePending, call.State)
	assert.Equal(t, "standup", call.Metadata["topic"])

	accepted, err := m.Accept(call.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, accepted.State)

	ended, err := m.End(call.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, StateEnded, ended.State)
	assert.False(t, ended.EndTime.IsZero())
}

func TestRejectIsTerminal(t *testing.T) {
	m := newTestManager(Options{})
	call, err := m.Start("caller", "target", nil)
	require.NoError(t, err)

	rejected, err := m.Reject(call.ID, "busy")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, rejected.State)

	_, err = m.Accept(call.ID)
	require.Error(t, err)
	assert.Equal(t, protocol.CodeInvalidCallState, err.(*protocol.Error).Code)

	// pair is free again after a terminal state
	_, err = m.Start("caller", "target", nil)
	assert.NoError(t, err)
}

func TestAcceptRequiresPending(t *testing.T) {
	m := newTestManager(Options{})
	call, _ := m.Start("caller", "target", nil)
	_, err := m.Accept(call.ID)
	require.NoError(t, err)

	// accept is not valid from accepted
	_, err = m.Accept(call.ID)
	require.Error(t, err)

	// end is valid from accepted
	_, err = m.End(call.ID, "")
	assert.NoError(t, err)
}

func TestBusyParticipantsRejected(t *testing.T) {
	m := newTestManager(Options{})
	_, err := m.Start("a", "b", nil)
	require.NoError(t, err)

	_, err = m.Start("a", "c", nil)
	require.Error(t, err)
	assert.Equal(t, protocol.CodeCallAlreadyExists, err.(*protocol.Error).Code)

	_, err = m.Start("d", "b", nil)
	require.Error(t, err)
}

func TestSamePairAlwaysRejected(t *testing.T) {
	m := newTestManager(Options{AllowMultipleCalls: true})
	_, err := m.Start("a", "b", nil)
	require.NoError(t, err)

	// reversed order hits the same unordered pair
	_, err = m.Start("b", "a", nil)
	require.Error(t, err)
	assert.Equal(t, protocol.CodeCallAlreadyExists, err.(*protocol.Error).Code)

	// different pairs are fine with multiple calls allowed
	_, err = m.Start("a", "c", nil)
	assert.NoError(t, err)
}

func TestGetCallBetweenParticipants(t *testing.T) {
	m := newTestManager(Options{})
	call, _ := m.Start("a", "b", nil)

	found, ok := m.GetCallBetweenParticipants("b", "a")
	require.True(t, ok)
	assert.Equal(t, call.ID, found.ID)

	_, ok = m.GetCallBetweenParticipants("a", "c")
	assert.False(t, ok)
}

func TestEndActiveCallFor(t *testing.T) {
	m := newTestManager(Options{})
	call, _ := m.Start("a", "b", nil)

	ended, ok := m.EndActiveCallFor("b")
	require.True(t, ok)
	assert.Equal(t, call.ID, ended.ID)
	assert.Equal(t, StateEnded, ended.State)

	_, ok = m.EndActiveCallFor("b")
	assert.False(t, ok)
	_, ok = m.GetActiveCallForParticipant("a")
	assert.False(t, ok)
}

func TestEndAll(t *testing.T) {
	m := newTestManager(Options{AllowMultipleCalls: true})
	m.Start("a", "b", nil)
	m.Start("c", "d", nil)
	done, _ := m.Start("e", "f", nil)
	m.End(done.ID, "")

	ended := m.EndAll()
	assert.Len(t, ended, 2)
	_, ok := m.GetActiveCallForParticipant("a")
	assert.False(t, ok)
}

func TestSweepPurgesOldTerminalCalls(t *testing.T) {
	fc := testclock.NewFakeClock(time.Now())
	m := newTestManager(Options{GCMaxAge: time.Hour, Clock: fc})

	call, _ := m.Start("a", "b", nil)
	m.End(call.ID, "")
	live, _ := m.Start("a", "b", nil)

	fc.Step(30 * time.Minute)
	m.Sweep()
	assert.Equal(t, 2, m.Len())

	fc.Step(time.Hour)
	m.Sweep()
	assert.Equal(t, 1, m.Len())

	_, ok := m.Get(live.ID)
	assert.True(t, ok)
}

func TestCloneIsolation(t *testing.T) {
	m := newTestManager(Options{})
	call, _ := m.Start("a", "b", types.Metadata{"k": "v"})
	call.Metadata["k"] = "mutated"
	call.State = StateEnded

	again, ok := m.Get(call.ID)
	require.True(t, ok)
	assert.Equal(t, "v", again.Metadata["k"])
	assert.Equal(t, StatePending, again.State)
}
