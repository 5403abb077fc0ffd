package engine

import (
	"context"

	"github.com/ChamsBouzaiene/spotter/internal/engine/protocol"
	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// EmitterHook turns hook callbacks into protocol events for live clients.
// Emit must not block the turn for long.
type EmitterHook struct {
	NopHook
	Emit func(ctx context.Context, ev protocol.Event)
}

func scope(st *State) protocol.Scope {
	return protocol.Scope{SessionID: st.SessionID, TurnID: st.TurnID}
}

func (h EmitterHook) OnStateChange(ctx context.Context, st *State, from, to TurnState) {
	h.Emit(ctx, scope(st).Status(string(from), string(to), st.Iteration))
}

func (h EmitterHook) OnAfterLLM(ctx context.Context, st *State, r LLMResponse) {
	h.Emit(ctx, scope(st).TokenUsage(r.Usage.Prompt, r.Usage.Completion, r.Usage.CacheRead, r.Usage.CacheCreation, st.Totals.Total))
}

func (h EmitterHook) OnToolCall(ctx context.Context, st *State, c ToolCall) {
	h.Emit(ctx, scope(st).ToolStarted(c.ID, c.Name))
}

func (h EmitterHook) OnToolResult(ctx context.Context, st *State, c ToolCall, e ToolExecution) {
	h.Emit(ctx, scope(st).ToolCompleted(c.ID, c.Name, e.Success, e.Summary, e.Duration.Milliseconds()))
}

func (h EmitterHook) OnEvent(ctx context.Context, st *State, ev session.Event) {
	h.Emit(ctx, scope(st).SessionLog(ev.Sequence, string(ev.Type), ev.Data))
}

func (h EmitterHook) OnTurnEnd(ctx context.Context, st *State, result *TurnResult, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	actions := 0
	if result != nil {
		actions = len(result.Actions)
	}
	h.Emit(ctx, scope(st).Done(string(st.Turn), st.Iteration, actions, msg))
}
