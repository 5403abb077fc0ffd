package engine

import (
	"context"
	"time"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

type Hooks []Hook

func (hs Hooks) OnTurnStart(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnTurnStart(ctx, st)
	}
}
func (hs Hooks) OnStateChange(ctx context.Context, st *State, from, to TurnState) {
	for _, h := range hs {
		h.OnStateChange(ctx, st, from, to)
	}
}
func (hs Hooks) OnSelection(ctx context.Context, st *State, r SelectionReport) {
	for _, h := range hs {
		h.OnSelection(ctx, st, r)
	}
}
func (hs Hooks) OnBeforeLLM(ctx context.Context, st *State, req ChatRequest) {
	for _, h := range hs {
		h.OnBeforeLLM(ctx, st, req)
	}
}
func (hs Hooks) OnAfterLLM(ctx context.Context, st *State, r LLMResponse) {
	for _, h := range hs {
		h.OnAfterLLM(ctx, st, r)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, st *State, c ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, st, c)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *State, c ToolCall, e ToolExecution) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, e)
	}
}
func (hs Hooks) OnEvent(ctx context.Context, st *State, ev session.Event) {
	for _, h := range hs {
		h.OnEvent(ctx, st, ev)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, st, attempt, maxAttempts, delay, err)
	}
}
func (hs Hooks) OnRetryExhausted(ctx context.Context, st *State, err error) {
	for _, h := range hs {
		h.OnRetryExhausted(ctx, st, err)
	}
}
func (hs Hooks) OnTurnEnd(ctx context.Context, st *State, result *TurnResult, err error) {
	for _, h := range hs {
		h.OnTurnEnd(ctx, st, result, err)
	}
}
