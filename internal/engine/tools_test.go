package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

func TestToolValidateArgs(t *testing.T) {
	tool := echoTool(nil)

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"valid", `{"text":"hi"}`, false},
		{"missing required", `{}`, true},
		{"empty args treated as object", ``, true},
		{"wrong type", `{"text":3}`, true},
		{"extra field", `{"text":"hi","x":1}`, true},
		{"not json", `{"text":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.ValidateArgs(json.RawMessage(tt.args))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ToolValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, "echo", verr.ToolName)
			assert.False(t, verr.Unknown)
		})
	}
}

func TestNewToolDecodesAndFormats(t *testing.T) {
	tool := echoTool(nil)
	out, err := tool.Fn(context.Background(), ToolContext{}, json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, echoResult{Text: "hi"}, out)
	assert.Equal(t, "echoed hi", tool.FormatResult(out))

	// A result of another tool is reported rather than mis-formatted.
	assert.Contains(t, tool.FormatResult(idleResult{}), "unexpected result")

	_, err = tool.Fn(context.Background(), ToolContext{}, json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestFormatResultWithoutFormatter(t *testing.T) {
	tool := terminalTool("done", StateIdle)
	assert.Equal(t, `{}`, tool.FormatResult(idleResult{}))
}

func TestToolContextEmitArtifact(t *testing.T) {
	var got []session.ArtifactData
	tc := NewToolContext("s1", "u1", "c1", func(_ context.Context, a session.ArtifactData) error {
		got = append(got, a)
		return nil
	})
	require.NoError(t, tc.EmitArtifact(context.Background(), session.ArtifactData{ArtifactID: "p1"}))
	assert.Len(t, got, 1)

	assert.Error(t, ToolContext{}.EmitArtifact(context.Background(), session.ArtifactData{}))
}

func TestNewToolRegistry(t *testing.T) {
	noFn := Tool{Name: "broken", SchemaJSON: `{"type":"object"}`}
	badSchema := echoTool(nil)
	badSchema.Name = "bad"
	badSchema.SchemaJSON = `{"type": 12}`

	tests := []struct {
		name  string
		tools []Tool
	}{
		{"empty name", []Tool{{Fn: echoTool(nil).Fn}}},
		{"no function", []Tool{noFn}},
		{"duplicate", []Tool{echoTool(nil), echoTool(nil)}},
		{"invalid schema", []Tool{badSchema}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewToolRegistry(tt.tools...)
			assert.Error(t, err)
		})
	}
}

func TestToolRegistryLookups(t *testing.T) {
	reg := testRegistry(t, echoTool(nil))

	assert.Equal(t, []string{ToolAskUser, ToolIdle, "echo"}, reg.Names())
	assert.Equal(t, 3, reg.Len())

	_, ok := reg.Get("missing")
	assert.False(t, ok)

	assert.NoError(t, reg.Require(ToolIdle, "echo"))
	err := reg.Require(ToolIdle, "notify", "log_exercise")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify, log_exercise")

	schemas := reg.Schemas()
	require.Len(t, schemas, 3)
	for i, s := range schemas {
		assert.Equal(t, i == len(schemas)-1, s.CacheBreakpoint, s.Name)
	}
	assert.Equal(t, schemas, reg.Schemas(), "schema list is stable")
}
