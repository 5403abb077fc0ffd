// Package enginetest provides deterministic model doubles and fixtures for
// tests of the engine and the packages built on it.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// Response configures one model call in a scripted sequence.
type Response struct {
	Resp engine.LLMResponse
	Err  error
	// Block makes the call wait until its context is done.
	Block bool
	// Before runs when the call starts, e.g. to cancel the turn mid-call.
	Before func()
}

// ScriptedLLM replays responses in order and records every request.
type ScriptedLLM struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []engine.ChatRequest
}

var _ engine.LLMClient = (*ScriptedLLM)(nil)

func NewScriptedLLM(responses ...Response) *ScriptedLLM {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedLLM{responses: cloned}
}

func (m *ScriptedLLM) Chat(ctx context.Context, req engine.ChatRequest) (engine.LLMResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, cloneRequest(req))
	if m.index >= len(m.responses) {
		m.mu.Unlock()
		return engine.LLMResponse{}, fmt.Errorf("script exhausted at call %d", m.index+1)
	}
	current := m.responses[m.index]
	m.index++
	m.mu.Unlock()

	if current.Before != nil {
		current.Before()
	}
	if current.Block {
		<-ctx.Done()
		return engine.LLMResponse{}, ctx.Err()
	}
	if current.Err != nil {
		return engine.LLMResponse{}, current.Err
	}
	return current.Resp, nil
}

// Requests returns a copy of every request received so far.
func (m *ScriptedLLM) Requests() []engine.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.ChatRequest(nil), m.requests...)
}

// Calls returns how many calls were made.
func (m *ScriptedLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func cloneRequest(req engine.ChatRequest) engine.ChatRequest {
	out := req
	out.System = append([]engine.SystemBlock(nil), req.System...)
	out.Tools = append([]engine.ToolSchema(nil), req.Tools...)
	out.Messages = make([]engine.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		out.Messages[i] = engine.ChatMessage{Role: m.Role, Content: append([]engine.ContentBlock(nil), m.Content...)}
	}
	return out
}

// Call builds a response that invokes one tool. args is JSON.
func Call(id, name, args string) Response {
	return Response{Resp: engine.LLMResponse{
		ToolCalls:    []engine.ToolCall{{ID: id, Name: name, Args: json.RawMessage(args)}},
		Usage:        engine.Usage{Prompt: 100, Completion: 10, Total: 110},
		FinishReason: "tool_use",
	}}
}

// Text builds a response without any tool call.
func Text(s string) Response {
	return Response{Resp: engine.LLMResponse{Text: s, FinishReason: "end_turn"}}
}

// Fail builds a response that returns err.
func Fail(err error) Response {
	return Response{Err: err}
}

// Select builds a selector response choosing sources.
func Select(reason string, sources ...string) Response {
	if sources == nil {
		sources = []string{}
	}
	b, _ := json.Marshal(map[string]any{"sources": sources, "reason": reason})
	return Call("sel", "select_context", string(b))
}

// NewStore opens a SQLite session store in a temporary directory.
func NewStore(t testing.TB) *session.SQLiteStore {
	t.Helper()
	store, err := session.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Recorder is a hook that records state transitions and appended events.
type Recorder struct {
	engine.NopHook

	mu          sync.Mutex
	Transitions []engine.TurnState
	Events      []session.Event
	Selections  []engine.SelectionReport
}

func (r *Recorder) OnStateChange(_ context.Context, _ *engine.State, _, to engine.TurnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transitions = append(r.Transitions, to)
}

func (r *Recorder) OnEvent(_ context.Context, _ *engine.State, ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
}

func (r *Recorder) OnSelection(_ context.Context, _ *engine.State, rep engine.SelectionReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Selections = append(r.Selections, rep)
}
