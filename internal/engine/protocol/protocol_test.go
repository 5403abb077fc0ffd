package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Command
		wantErr bool
	}{
		{
			name:  "user message",
			input: `{"type":"user_message","message":"log 3x10 pushups","request_id":"r1"}`,
			want:  UserMessageCommand{Type: CommandUserMessage, Message: "log 3x10 pushups", RequestID: "r1"},
		},
		{
			name:  "cancel",
			input: `{"type":"cancel_request","request_id":"r1"}`,
			want:  CancelRequestCommand{Type: CommandCancelRequest, RequestID: "r1"},
		},
		{name: "empty message", input: `{"type":"user_message","message":""}`, wantErr: true},
		{name: "blank message", input: `{"type":"user_message","message":"  \n"}`, wantErr: true},
		{name: "unknown type", input: `{"type":"shutdown"}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventWireFormat(t *testing.T) {
	ev := Scope{SessionID: "s1", TurnID: "t1"}.ToolCompleted("c1", "log_exercise", true, "Logged pushup 3x10", 12)
	b, err := MarshalEvent(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"tool_event","session_id":"s1","turn_id":"t1",
		"call_id":"c1","tool":"log_exercise","phase":"completed",
		"success":true,"summary":"Logged pushup 3x10","duration_ms":12
	}`, string(b))

	decoded, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestDecodeEvent(t *testing.T) {
	log := Scope{SessionID: "s1", TurnID: "t1"}.SessionLog(3, "tool_call", json.RawMessage(`{"call_id":"c1"}`))
	b, err := MarshalEvent(log)
	require.NoError(t, err)
	got, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, EventSessionLog, got.GetType())
	assert.JSONEq(t, `{"call_id":"c1"}`, string(got.(SessionLogEvent).Data))

	_, err = DecodeEvent([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}

func TestToolStartedOmitsResultFields(t *testing.T) {
	b, err := MarshalEvent(Scope{SessionID: "s1"}.ToolStarted("c1", "idle"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_event","session_id":"s1","call_id":"c1","tool":"idle","phase":"started"}`, string(b))
}
