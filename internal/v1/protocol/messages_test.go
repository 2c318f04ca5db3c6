package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"joinRoom","room":"standup","token":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, IntentJoinRoom, f.Type)

	var in JoinRoomIntent
	require.NoError(t, f.Decode(&in))
	assert.Equal(t, "standup", in.Room)
	assert.Equal(t, "abc", in.Token)
}

func TestParseFrame_Invalid(t *testing.T) {
	_, err := ParseFrame([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"room":"standup"}`))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestValidateIntent_JoinRoom(t *testing.T) {
	valid, err := ParseFrame([]byte(`{"type":"joinRoom","room":"standup","token":"abc"}`))
	require.NoError(t, err)
	assert.Nil(t, ValidateIntent(valid))

	badRoom, _ := ParseFrame([]byte(`{"type":"joinRoom","room":"has spaces","token":"abc"}`))
	verr := ValidateIntent(badRoom)
	require.NotNil(t, verr)
	assert.Equal(t, CodeInvalidRequest, verr.Code)
	assert.Contains(t, verr.Message, "joinRoom.room")

	noToken, _ := ParseFrame([]byte(`{"type":"joinRoom","room":"standup"}`))
	verr = ValidateIntent(noToken)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "joinRoom.token")

	longToken, _ := ParseFrame([]byte(`{"type":"joinRoom","room":"standup","token":"` + strings.Repeat("x", MaxTokenBytes+1) + `"}`))
	verr = ValidateIntent(longToken)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "exceeds")
}

func TestValidateIntent_MetadataSize(t *testing.T) {
	big := strings.Repeat("v", MaxMetadataBytes)
	raw := `{"type":"updateMetadata","metadata":{"k":"` + big + `"}}`
	f, err := ParseFrame([]byte(raw))
	require.NoError(t, err)
	verr := ValidateIntent(f)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "updateMetadata.metadata")
}

func TestValidateIntent_UpdateMetadataRequired(t *testing.T) {
	f, _ := ParseFrame([]byte(`{"type":"updateMetadata"}`))
	verr := ValidateIntent(f)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "is required")
}

func TestValidateIntent_SendData(t *testing.T) {
	ok, _ := ParseFrame([]byte(`{"type":"sendData","payload":{"msg":"hi"},"kind":"reliable"}`))
	assert.Nil(t, ValidateIntent(ok))

	missing, _ := ParseFrame([]byte(`{"type":"sendData","kind":"reliable"}`))
	verr := ValidateIntent(missing)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "sendData.payload")

	badKind, _ := ParseFrame([]byte(`{"type":"sendData","payload":{"a":1},"kind":"bulk"}`))
	verr = ValidateIntent(badKind)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "sendData.kind")

	huge := `{"type":"sendData","payload":"` + strings.Repeat("x", MaxDataLossy+10) + `","kind":"lossy"}`
	f, err := ParseFrame([]byte(huge))
	require.NoError(t, err)
	verr = ValidateIntent(f)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Message, "exceeds")
}

func TestValidateIntent_CallAndTrack(t *testing.T) {
	noCall, _ := ParseFrame([]byte(`{"type":"acceptCall"}`))
	require.NotNil(t, ValidateIntent(noCall))

	withCall, _ := ParseFrame([]byte(`{"type":"acceptCall","callId":"c1"}`))
	assert.Nil(t, ValidateIntent(withCall))

	noTrack, _ := ParseFrame([]byte(`{"type":"muteTrack"}`))
	require.NotNil(t, ValidateIntent(noTrack))

	negDims, _ := ParseFrame([]byte(`{"type":"enableCamera","width":-1}`))
	require.NotNil(t, ValidateIntent(negDims))
}

func TestValidateIntent_EmptyPayloadIntents(t *testing.T) {
	for _, intent := range []string{IntentLeaveRoom, IntentSyncState, IntentDisableCamera, IntentDisableMicrophone, IntentDisableScreenShare} {
		f, err := ParseFrame([]byte(`{"type":"` + intent + `"}`))
		require.NoError(t, err)
		assert.Nil(t, ValidateIntent(f), intent)
	}
}

func TestValidateIntent_UnknownTypePassesThrough(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"somethingNew"}`))
	require.NoError(t, err)
	assert.Nil(t, ValidateIntent(f))
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	wire := NewError(CodeRoomFull, "room %s is full", "standup")
	assert.Same(t, wire, AsError(wire))

	internal := AsError(errors.New("sql: connection refused"))
	assert.Equal(t, CodeUnknown, internal.Code)
	assert.NotContains(t, internal.Message, "sql")
}

func TestErrMediaReason(t *testing.T) {
	e := ErrMedia(MediaReasonCodecMismatch, "cannot consume producer %s", "p1")
	assert.Equal(t, CodeMediaError, e.Code)
	assert.Equal(t, string(MediaReasonCodecMismatch), e.Reason)

	raw, err := json.Marshal(NewErrorEvent(e))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"reason":"codec-mismatch"`)
	assert.Contains(t, string(raw), `"code":401`)
}

func TestEncodeEventCarriesType(t *testing.T) {
	data, err := Encode(ParticipantLeftEvent{Type: EventParticipantLeft, ParticipantSid: "p1"})
	require.NoError(t, err)

	var env struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventParticipantLeft, env.Type)
}
