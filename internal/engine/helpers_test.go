package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// mkEvent builds a log entry with a JSON payload.
func mkEvent(t *testing.T, seq int64, typ session.EventType, data any) session.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return session.Event{SessionID: "s1", Sequence: seq, Type: typ, Data: b}
}

type logBuilder struct {
	t      *testing.T
	events []session.Event
}

func (l *logBuilder) add(typ session.EventType, data any) *logBuilder {
	l.events = append(l.events, mkEvent(l.t, int64(len(l.events)+1), typ, data))
	return l
}

func (l *logBuilder) user(text string) *logBuilder {
	return l.add(session.EventUserMessage, session.UserMessageData{Text: text})
}

func (l *logBuilder) knowledge(src, text string) *logBuilder {
	return l.add(session.EventKnowledge, session.KnowledgeData{Source: src, FormattedText: text})
}

func (l *logBuilder) artifact(id, summary string) *logBuilder {
	return l.add(session.EventArtifact, session.ArtifactData{ArtifactID: id, Type: "workout_plan", Summary: summary})
}

func (l *logBuilder) call(id, name string) *logBuilder {
	return l.add(session.EventToolCall, session.ToolCallData{CallID: id, ToolName: name, Arguments: json.RawMessage(`{}`)})
}

func (l *logBuilder) result(id, name, summary string, ok bool) *logBuilder {
	return l.add(session.EventToolResult, session.ToolResultData{CallID: id, ToolName: name, Summary: summary, Success: ok})
}

type echoResult struct {
	Text string `json:"text"`
}

func (echoResult) ToolName() string { return "echo" }

type echoArgs struct {
	Text string `json:"text"`
}

const echoSchema = `{"type":"object","properties":{"text":{"type":"string","minLength":1}},"required":["text"],"additionalProperties":false}`

func echoTool(fn func(ctx context.Context, a echoArgs) (echoResult, error)) Tool {
	if fn == nil {
		fn = func(_ context.Context, a echoArgs) (echoResult, error) { return echoResult{Text: a.Text}, nil }
	}
	return NewTool("echo", "Echo text back.", echoSchema,
		func(ctx context.Context, _ ToolContext, a echoArgs) (echoResult, error) { return fn(ctx, a) },
		func(r echoResult) string { return "echoed " + r.Text })
}

type idleResult struct{}

func (idleResult) ToolName() string { return ToolIdle }

func terminalTool(name string, state TurnState) Tool {
	t := NewTool(name, "End the turn.", `{"type":"object"}`,
		func(context.Context, ToolContext, struct{}) (idleResult, error) { return idleResult{}, nil }, nil)
	t.Terminal = state
	return t
}

func testRegistry(t *testing.T, extra ...Tool) *ToolRegistry {
	t.Helper()
	tools := append([]Tool{
		terminalTool(ToolAskUser, StateAwaitingUser),
		terminalTool(ToolIdle, StateIdle),
	}, extra...)
	reg, err := NewToolRegistry(tools...)
	require.NoError(t, err)
	return reg
}

// fakeLLM replays canned responses. An exhausted script is an error.
type fakeLLM struct {
	mu        sync.Mutex
	responses []LLMResponse
	errs      []error
	requests  []ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req ChatRequest) (LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return LLMResponse{}, f.errs[i]
	}
	if i >= len(f.responses) {
		return LLMResponse{}, errors.New("script exhausted")
	}
	return f.responses[i], nil
}

func selectResponse(t *testing.T, reason string, sources ...string) LLMResponse {
	t.Helper()
	if sources == nil {
		sources = []string{}
	}
	b, err := json.Marshal(map[string]any{"sources": sources, "reason": reason})
	require.NoError(t, err)
	return LLMResponse{
		ToolCalls: []ToolCall{{ID: "sel", Name: selectToolName, Args: b}},
		Usage:     Usage{Prompt: 50, Completion: 5, Total: 55},
	}
}

func newTestStore(t *testing.T) *session.SQLiteStore {
	t.Helper()
	store, err := session.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
