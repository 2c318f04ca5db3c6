package protocol

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/resilience"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/store"
	"github.com/stretchr/testify/assert"
)

func TestAsErrorPassesThroughWireErrors(t *testing.T) {
	e := NewError(CodeRoomNotFound, "no such room")
	assert.Same(t, e, AsError(e))

	// wrapped wire errors are unwrapped, not collapsed
	assert.Equal(t, CodeRoomNotFound, AsError(fmt.Errorf("dispatch: %w", e)).Code)
}

func TestAsErrorMapsTimeouts(t *testing.T) {
	err := &resilience.TimeoutError{Op: "producer.create", Deadline: time.Second}
	we := AsError(err)
	assert.Equal(t, CodeTimeout, we.Code)
	assert.Contains(t, we.Message, "producer.create")
}

func TestAsErrorMapsOpenBreaker(t *testing.T) {
	assert.Equal(t, CodeCircuitOpen, AsError(resilience.ErrCircuitOpen).Code)

	wrapped := fmt.Errorf("store.get: %w", resilience.ErrCircuitOpen)
	assert.Equal(t, CodeCircuitOpen, AsError(wrapped).Code)
}

func TestAsErrorMapsStoreFailures(t *testing.T) {
	err := &store.OpError{Op: "store.set", Err: errors.New("connection refused")}
	assert.Equal(t, CodeStateStoreError, AsError(err).Code)

	// a store call rejected by an open breaker reports the breaker, not the store
	rejected := &store.OpError{Op: "store.get", Err: resilience.ErrCircuitOpen}
	assert.Equal(t, CodeCircuitOpen, AsError(rejected).Code)
}

func TestAsErrorCollapsesUnknown(t *testing.T) {
	we := AsError(errors.New("something leaked"))
	assert.Equal(t, CodeUnknown, we.Code)
	assert.Equal(t, "internal error", we.Message)
}
