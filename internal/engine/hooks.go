// engine/hooks.go
package engine

import (
	"context"
	"time"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

type Hook interface {
	OnTurnStart(ctx context.Context, st *State)
	OnStateChange(ctx context.Context, st *State, from, to TurnState)
	OnSelection(ctx context.Context, st *State, report SelectionReport)
	OnBeforeLLM(ctx context.Context, st *State, req ChatRequest)
	OnAfterLLM(ctx context.Context, st *State, resp LLMResponse)
	OnToolCall(ctx context.Context, st *State, call ToolCall)
	OnToolResult(ctx context.Context, st *State, call ToolCall, exec ToolExecution)
	// OnEvent fires after every event the turn appends to the session log.
	OnEvent(ctx context.Context, st *State, ev session.Event)
	OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error)
	OnRetryExhausted(ctx context.Context, st *State, err error)
	OnTurnEnd(ctx context.Context, st *State, result *TurnResult, err error)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnTurnStart(context.Context, *State)                                    {}
func (NopHook) OnStateChange(context.Context, *State, TurnState, TurnState)            {}
func (NopHook) OnSelection(context.Context, *State, SelectionReport)                   {}
func (NopHook) OnBeforeLLM(context.Context, *State, ChatRequest)                       {}
func (NopHook) OnAfterLLM(context.Context, *State, LLMResponse)                        {}
func (NopHook) OnToolCall(context.Context, *State, ToolCall)                           {}
func (NopHook) OnToolResult(context.Context, *State, ToolCall, ToolExecution)          {}
func (NopHook) OnEvent(context.Context, *State, session.Event)                         {}
func (NopHook) OnRetryAttempt(context.Context, *State, int, int, time.Duration, error) {}
func (NopHook) OnRetryExhausted(context.Context, *State, error)                        {}
func (NopHook) OnTurnEnd(context.Context, *State, *TurnResult, error)                  {}
