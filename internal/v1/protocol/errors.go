package protocol

import (
	"errors"
	"fmt"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/resilience"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/store"
)

// Code is a wire-level error code. Codes form ranges: 100-199 general,
// 200-299 room, 300-399 participant/call, 400-499 track, 500-599 transport.
type Code int

const (
	CodeInvalidRequest   Code = 100
	CodeUnauthorized     Code = 101
	CodePermissionDenied Code = 102
	CodeTimeout          Code = 103
	CodeCircuitOpen      Code = 104
	CodeStateStoreError  Code = 105
	CodeUnknown          Code = 199

	CodeRoomNotFound     Code = 200
	CodeRoomFull         Code = 201
	CodeRoomLimitReached Code = 202
	CodeRoomNameTaken    Code = 203

	CodeParticipantNotFound Code = 300
	CodeCallNotFound        Code = 301
	CodeCallAlreadyExists   Code = 302
	CodeInvalidCallState    Code = 303

	CodeTrackNotFound Code = 400
	CodeMediaError    Code = 401

	CodeTransportNotFound     Code = 500
	CodeTransportCreateFailed Code = 501
)

// MediaErrorReason qualifies CodeMediaError frames.
type MediaErrorReason string

const (
	MediaReasonCodecMismatch MediaErrorReason = "codec-mismatch"
	MediaReasonTransport     MediaErrorReason = "transport"
	MediaReasonEngine        MediaErrorReason = "engine"
)

// Error is the canonical signaling error. It is both the wire payload of an
// error frame and the error value handlers return.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("signaling error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidRequest reports a schema violation at the given field path.
func ErrInvalidRequest(path, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: path + ": " + fmt.Sprintf(format, args...)}
}

// ErrMedia reports a media-engine failure with a machine-readable reason.
func ErrMedia(reason MediaErrorReason, format string, args ...any) *Error {
	return &Error{Code: CodeMediaError, Message: fmt.Sprintf(format, args...), Reason: string(reason)}
}

// AsError coerces an arbitrary error into a wire Error. Breaker, store, and
// deadline failures map onto their dedicated codes; anything else collapses
// to CodeUnknown so internals never leak verbatim.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &Error{Code: CodeCircuitOpen, Message: "service temporarily unavailable"}
	}
	var se *store.OpError
	if errors.As(err, &se) {
		return &Error{Code: CodeStateStoreError, Message: "state store failure"}
	}
	var te *resilience.TimeoutError
	if errors.As(err, &te) {
		return &Error{Code: CodeTimeout, Message: fmt.Sprintf("operation %s timed out", te.Op)}
	}
	return &Error{Code: CodeUnknown, Message: "internal error"}
}
