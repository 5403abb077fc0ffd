// engine/hook_logger.go
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// LoggerHook writes one structured log line per turn milestone.
type LoggerHook struct{ L zerolog.Logger }

func (h LoggerHook) with(st *State) zerolog.Context {
	return h.L.With().Str("session_id", st.SessionID).Str("turn_id", st.TurnID)
}

func (h LoggerHook) OnTurnStart(_ context.Context, st *State) {
	l := h.with(st).Logger()
	l.Info().Str("user_id", st.UserID).Str("model", st.Model).Msg("turn start")
}

func (h LoggerHook) OnStateChange(_ context.Context, st *State, from, to TurnState) {
	l := h.with(st).Logger()
	l.Debug().Str("from", string(from)).Str("to", string(to)).Int("iteration", st.Iteration).Msg("state")
}

func (h LoggerHook) OnSelection(_ context.Context, st *State, r SelectionReport) {
	l := h.with(st).Logger()
	ev := l.Info()
	if r.ModelErr != "" || len(r.Failed) > 0 {
		ev = l.Warn()
	}
	failed := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		failed[i] = f.Error()
	}
	ev.Bool("skipped", r.Skipped).
		Strs("injected", r.Injected).
		Strs("dropped", r.Dropped).
		Strs("failed", failed).
		Str("reason", r.Reason).
		Str("model_error", r.ModelErr).
		Msg("context selection")
}

func (h LoggerHook) OnBeforeLLM(_ context.Context, st *State, req ChatRequest) {
	tokens := EstimateRequestTokens(req)
	l := h.with(st).Logger()
	l.Debug().Int("iteration", st.Iteration).Int("messages", len(req.Messages)).
		Int("est_prompt_tokens", tokens).Msg("model call")
	if GetModelLimits(st.Model).NearContextLimit(tokens, req.MaxOutputTokens) {
		l.Warn().Int("est_prompt_tokens", tokens).Msg("prompt is close to the model context window")
	}
}

func (h LoggerHook) OnAfterLLM(_ context.Context, st *State, r LLMResponse) {
	l := h.with(st).Logger()
	l.Info().
		Str("finish", r.FinishReason).
		Int("prompt", r.Usage.Prompt).
		Int("completion", r.Usage.Completion).
		Int("cache_read", r.Usage.CacheRead).
		Int("cache_write", r.Usage.CacheCreation).
		Int("cumulative", st.Totals.Total).
		Msg("model response")
}

func (h LoggerHook) OnToolCall(_ context.Context, st *State, c ToolCall) {
	l := h.with(st).Logger()
	l.Debug().Str("tool", c.Name).Str("call_id", c.ID).Str("args", string(normalizeArgs(c.Args))).Msg("tool call")
}

func (h LoggerHook) OnToolResult(_ context.Context, st *State, c ToolCall, e ToolExecution) {
	l := h.with(st).Logger()
	if e.Err != nil {
		l.Warn().Err(e.Err).Str("tool", c.Name).Dur("took", e.Duration).Msg("tool failed")
		return
	}
	// Truncate the summary for readability
	summary := e.Summary
	if len(summary) > 200 {
		summary = summary[:200] + "..."
	}
	l.Info().Str("tool", c.Name).Dur("took", e.Duration).Str("summary", summary).Msg("tool result")
}

func (h LoggerHook) OnEvent(_ context.Context, st *State, ev session.Event) {
	l := h.with(st).Logger()
	l.Trace().Int64("seq", ev.Sequence).Str("type", string(ev.Type)).Msg("event appended")
}

func (h LoggerHook) OnRetryAttempt(_ context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	l := h.with(st).Logger()
	l.Warn().Err(err).Int("attempt", attempt).Int("max", maxAttempts).Dur("delay", delay).Msg("retrying model call")
}

func (h LoggerHook) OnRetryExhausted(_ context.Context, st *State, err error) {
	l := h.with(st).Logger()
	l.Error().Err(err).Msg("retries exhausted")
}

func (h LoggerHook) OnTurnEnd(_ context.Context, st *State, result *TurnResult, err error) {
	l := h.with(st).Logger()
	ev := l.Info()
	if err != nil {
		ev = l.Warn().Err(err)
	}
	actions := 0
	if result != nil {
		actions = len(result.Actions)
	}
	ev.Str("outcome", string(st.Turn)).
		Int("iterations", st.Iteration).
		Int("actions", actions).
		Int("tokens", st.Totals.Total).
		Int("cache_read", st.Totals.CacheRead).
		Msg("turn end")
}
