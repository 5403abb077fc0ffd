package control_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/tools/control"
)

func dispatch(t *testing.T, name, args string) engine.ToolExecution {
	t.Helper()
	reg, err := engine.NewToolRegistry(control.Tools()...)
	require.NoError(t, err)
	d := engine.NewDispatcher(reg, 0)
	tc := engine.NewToolContext("s1", "u1", "c1", nil)
	return d.Dispatch(context.Background(), engine.ToolCall{ID: "c1", Name: name, Args: json.RawMessage(args)}, tc)
}

func TestControlTools(t *testing.T) {
	tests := []struct {
		name        string
		tool        string
		args        string
		wantSuccess bool
		wantSummary string
	}{
		{"notify", engine.ToolNotify, `{"message":"  Nice set! "}`, true, "Nice set!"},
		{"notify blank", engine.ToolNotify, `{"message":"   "}`, false, ""},
		{"notify bad level", engine.ToolNotify, `{"message":"hi","level":"shout"}`, false, ""},
		{"ask", engine.ToolAskUser, `{"question":"How many reps?"}`, true, "How many reps?"},
		{"ask with options", engine.ToolAskUser, `{"question":"Which day?","options":["Mon","Tue"]}`, true, "Which day?\nOptions: Mon | Tue"},
		{"ask missing question", engine.ToolAskUser, `{}`, false, ""},
		{"idle", engine.ToolIdle, `{"reason":"logged the workout"}`, true, "Turn complete: logged the workout"},
		{"idle empty reason", engine.ToolIdle, `{"reason":""}`, true, "Turn complete."},
		{"idle extra field", engine.ToolIdle, `{"reason":"x","mood":"happy"}`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := dispatch(t, tt.tool, tt.args)
			assert.Equal(t, tt.wantSuccess, exec.Success, exec.Summary)
			if tt.wantSuccess {
				assert.Equal(t, tt.wantSummary, exec.Summary)
				assert.Equal(t, tt.tool, exec.Output.ToolName())
			} else {
				assert.Error(t, exec.Err)
			}
		})
	}
}

func TestNotifyDefaultsLevel(t *testing.T) {
	exec := dispatch(t, engine.ToolNotify, `{"message":"hi"}`)
	require.True(t, exec.Success)
	assert.Equal(t, control.NotifyResult{Message: "hi", Level: "info"}, exec.Output)
}

func TestTerminalStates(t *testing.T) {
	tools := control.Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, engine.ToolNotify, tools[0].Name)
	assert.Empty(t, tools[0].Terminal, "notify keeps the turn going")
	assert.Equal(t, engine.StateAwaitingUser, tools[1].Terminal)
	assert.Equal(t, engine.StateIdle, tools[2].Terminal)
	for _, tool := range tools {
		assert.Equal(t, "control", tool.Metadata.Category)
	}
}
