package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// TurnRequest is one user message. An empty SessionID resumes the user's
// most recent session, creating one if needed.
type TurnRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// Action is one executed tool call, in log order.
type Action struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    ToolOutput      `json:"result,omitempty"`
	Summary   string          `json:"summary"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Terminal  bool            `json:"terminal,omitempty"`
}

// TurnResult is returned with every turn, including failed ones: Actions
// always mirrors the tool calls the turn recorded.
type TurnResult struct {
	SessionID  string           `json:"session_id"`
	Actions    []Action         `json:"actions"`
	Iterations int              `json:"iterations"`
	Outcome    TurnState        `json:"outcome"`
	Selection  *SelectionReport `json:"selection,omitempty"`
	Usage      Usage            `json:"usage"`
}

// SessionState is a read-only view of a session and its latest events.
type SessionState struct {
	Session      *session.Session `json:"session"`
	RecentEvents []session.Event  `json:"recent_events"`
}

// ProfileSource supplies the serialized user profile for the system prompt.
type ProfileSource interface {
	ProfileSnapshot(ctx context.Context, userID string) (string, error)
}

// Agent runs coaching turns against a session store. It holds no per-turn
// state and is safe for concurrent use; turns on the same session are
// serialized by the store's turn lease.
type Agent struct {
	store      session.Store
	llm        LLMClient
	selector   *Initializer
	profiles   ProfileSource
	builder    *ContextBuilder
	tools      *ToolRegistry
	dispatcher *Dispatcher
	config     AgentConfig
	hooks      Hooks
	log        zerolog.Logger
}

// RunTurn processes one user message until the model calls a terminal
// tool, the iteration cap is hit, or the turn fails. The result is non-nil
// whenever the turn started, even when an error is returned.
func (a *Agent) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := a.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	owner := uuid.NewString()
	if err := a.store.AcquireTurn(ctx, sess.ID, owner, a.config.TurnLeaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := a.store.ReleaseTurn(context.WithoutCancel(ctx), sess.ID, owner); err != nil {
			a.log.Warn().Err(err).Str("session_id", sess.ID).Msg("release turn lease")
		}
	}()
	turnCtx, stopLease := a.holdLease(ctx, sess.ID, owner)
	defer stopLease()

	st := &State{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		TurnID:        owner,
		Model:         a.config.Model,
		Turn:          StateSelectingContext,
		MaxIterations: a.config.MaxIterations,
	}
	result := &TurnResult{SessionID: sess.ID}

	a.hooks.OnTurnStart(ctx, st)
	err = a.run(turnCtx, sess, st, req.Message, result)
	result.Outcome = st.Turn
	result.Iterations = st.Iteration
	result.Usage = st.Totals
	a.hooks.OnTurnEnd(ctx, st, result, err)
	return result, err
}

func (a *Agent) resolveSession(ctx context.Context, req TurnRequest) (*session.Session, error) {
	if req.UserID == "" {
		return nil, errors.New("resolve session: empty user id")
	}
	if req.SessionID == "" {
		return a.store.GetOrCreateSession(ctx, req.UserID)
	}
	sess, err := a.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != req.UserID {
		return nil, fmt.Errorf("%w: %s", ErrSessionForbidden, sess.ID)
	}
	return sess, nil
}

func (a *Agent) run(ctx context.Context, sess *session.Session, st *State, message string, result *TurnResult) error {
	events, err := a.store.GetEvents(ctx, sess.ID, 0)
	if err != nil {
		return a.fail(ctx, st, fmt.Errorf("load events: %w", err))
	}
	if events, err = a.repairDangling(ctx, st, events); err != nil {
		return a.fail(ctx, st, err)
	}

	ev, err := a.appendEvent(ctx, st, session.EventUserMessage, session.UserMessageData{Text: message})
	if err != nil {
		return a.fail(ctx, st, fmt.Errorf("append user message: %w", err))
	}
	events = append(events, ev)

	if ctx.Err() != nil {
		return a.cancel(ctx, st)
	}
	if a.selector != nil {
		report, err := a.selector.Select(ctx, sess, st.TurnID, message, events)
		for _, ev := range report.Events {
			a.hooks.OnEvent(ctx, st, ev)
		}
		st.Totals.Add(report.Usage)
		result.Selection = &report
		a.hooks.OnSelection(ctx, st, report)
		if err != nil {
			if ctx.Err() != nil {
				return a.cancel(ctx, st)
			}
			return a.fail(ctx, st, err)
		}
	}

	profile := ""
	if a.profiles != nil {
		profile, err = a.profiles.ProfileSnapshot(ctx, sess.UserID)
		if err != nil {
			a.log.Warn().Err(err).Str("user_id", sess.UserID).Msg("profile snapshot unavailable")
			profile = ""
		}
	}

	if err := a.setState(ctx, st, StateCallingModel); err != nil {
		return err
	}

	var lastTool string
	for {
		if ctx.Err() != nil {
			return a.cancel(ctx, st)
		}
		if err := a.renewLease(ctx, st.SessionID, st.TurnID); err != nil {
			if ctx.Err() != nil {
				return a.cancel(ctx, st)
			}
			return a.fail(ctx, st, fmt.Errorf("renew turn lease: %w", err))
		}
		st.Iteration++

		events, err := a.store.GetEvents(ctx, sess.ID, 0)
		if err != nil {
			return a.fail(ctx, st, fmt.Errorf("load events: %w", err))
		}
		built, err := a.builder.Build(sess, events, profile)
		if err != nil {
			return a.fail(ctx, st, err)
		}

		req := built.Request(a.config.Model, a.config.MaxOutputTokens, a.config.Temperature)
		a.hooks.OnBeforeLLM(ctx, st, req)
		resp, err := RetryLLMCall(ctx, a.config.Retry, a.llm, req, a.config.ModelTimeout,
			func(attempt int, delay time.Duration, err error) {
				a.hooks.OnRetryAttempt(ctx, st, attempt, a.config.Retry.MaxRetries, delay, err)
			})
		if err != nil {
			if ctx.Err() != nil {
				return a.cancel(ctx, st)
			}
			if IsRetryExhausted(err) {
				a.hooks.OnRetryExhausted(ctx, st, err)
			}
			return a.fail(ctx, st, &TransportError{Model: a.config.Model, Err: err})
		}
		st.Totals.Add(resp.Usage)
		a.hooks.OnAfterLLM(ctx, st, resp)

		if len(resp.ToolCalls) == 0 {
			return a.fail(ctx, st, &TransportError{Model: a.config.Model, Err: ErrNoToolCall})
		}
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			a.log.Warn().Str("session_id", sess.ID).Int("calls", len(resp.ToolCalls)).
				Str("kept", call.Name).Msg("model returned several tool calls; extra calls ignored")
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		call.Args = normalizeArgs(call.Args)

		// Everything the model just saw is now in the provider cache.
		if built.MaxSequence > sess.CacheBoundarySequence {
			if err := a.store.SetCacheBoundary(ctx, sess.ID, built.MaxSequence); err != nil {
				a.log.Warn().Err(err).Str("session_id", sess.ID).Msg("advance cache boundary")
			} else {
				sess.CacheBoundarySequence = built.MaxSequence
			}
		}

		if err := a.setState(ctx, st, StateExecutingTool); err != nil {
			return err
		}
		action, err := a.execute(ctx, st, call)
		if action != nil {
			result.Actions = append(result.Actions, *action)
		}
		if err != nil {
			return a.fail(ctx, st, err)
		}
		lastTool = call.Name

		if action.Terminal {
			tool, _ := a.tools.Get(call.Name)
			return a.setState(ctx, st, tool.Terminal)
		}
		if err := a.setState(ctx, st, StateContinue); err != nil {
			return err
		}
		if st.Iteration >= st.MaxIterations {
			if err := a.setState(ctx, st, StateInconclusive); err != nil {
				return err
			}
			return &LoopBoundError{MaxIterations: st.MaxIterations, LastTool: lastTool}
		}
		if ctx.Err() != nil {
			return a.cancel(ctx, st)
		}
		if err := a.setState(ctx, st, StateCallingModel); err != nil {
			return err
		}
	}
}

// execute records the call, runs it, and records its result. Once the call
// is persisted the result is persisted too, even if ctx is cancelled.
func (a *Agent) execute(ctx context.Context, st *State, call ToolCall) (*Action, error) {
	persist := context.WithoutCancel(ctx)

	if _, err := a.appendEvent(persist, st, session.EventToolCall, session.ToolCallData{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Args,
	}); err != nil {
		return nil, fmt.Errorf("append tool call: %w", err)
	}
	a.hooks.OnToolCall(ctx, st, call)

	tc := NewToolContext(st.SessionID, st.UserID, call.ID, func(ctx context.Context, art session.ArtifactData) error {
		_, err := a.appendEvent(ctx, st, session.EventArtifact, art)
		return err
	})
	exec := a.dispatcher.Dispatch(ctx, call, tc)
	a.hooks.OnToolResult(ctx, st, call, exec)

	data := session.ToolResultData{
		CallID:   call.ID,
		ToolName: call.Name,
		Success:  exec.Success,
		Summary:  exec.Summary,
	}
	if exec.Err != nil {
		data.Error = exec.Err.Error()
	}
	if exec.Output != nil {
		if b, err := json.Marshal(exec.Output); err == nil {
			data.Result = b
		}
	}
	if _, err := a.appendEvent(persist, st, session.EventToolResult, data); err != nil {
		return nil, fmt.Errorf("append tool result: %w", err)
	}

	action := &Action{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Args,
		Result:    exec.Output,
		Summary:   exec.Summary,
		Success:   exec.Success,
		Error:     data.Error,
	}
	if tool, ok := a.tools.Get(call.Name); ok && exec.Success && tool.Terminal != "" {
		action.Terminal = true
	}
	return action, nil
}

// repairDangling closes a tool call left without a result by a crashed
// turn, so the log can be folded again.
func (a *Agent) repairDangling(ctx context.Context, st *State, events []session.Event) ([]session.Event, error) {
	call, ok := DanglingCall(events)
	if !ok {
		return events, nil
	}
	a.log.Warn().Str("session_id", st.SessionID).Str("call_id", call.CallID).
		Str("tool", call.ToolName).Msg("repairing interrupted tool call")

	ev, err := a.appendEvent(ctx, st, session.EventToolResult, session.ToolResultData{
		CallID:    call.CallID,
		ToolName:  call.ToolName,
		Success:   false,
		Summary:   InterruptedToolResult,
		Error:     "interrupted before completion",
		Synthetic: true,
	})
	if err != nil {
		return nil, fmt.Errorf("repair dangling call %s: %w", call.CallID, err)
	}
	return append(events, ev), nil
}

// DanglingCall returns the tool call that is still waiting for its result at
// the end of events.
func DanglingCall(events []session.Event) (session.ToolCallData, bool) {
	var (
		pending session.ToolCallData
		open    bool
	)
	for _, ev := range events {
		switch ev.Type {
		case session.EventToolCall:
			d, err := ev.ToolCall()
			if err != nil {
				continue
			}
			pending, open = d, true
		case session.EventToolResult:
			d, err := ev.ToolResult()
			if err == nil && open && d.CallID == pending.CallID {
				open = false
			}
		}
	}
	return pending, open
}

func (a *Agent) appendEvent(ctx context.Context, st *State, t session.EventType, data any) (session.Event, error) {
	ev, err := a.store.AppendTurnEvent(ctx, st.SessionID, st.TurnID, t, data)
	if err != nil {
		return session.Event{}, err
	}
	a.hooks.OnEvent(ctx, st, ev)
	return ev, nil
}

func (a *Agent) setState(ctx context.Context, st *State, to TurnState) error {
	from := st.Turn
	if err := st.transition(to); err != nil {
		return err
	}
	a.hooks.OnStateChange(ctx, st, from, to)
	return nil
}

// fail moves the turn to FAILED and returns err.
func (a *Agent) fail(ctx context.Context, st *State, err error) error {
	if st.Turn.CanTransition(StateFailed) {
		_ = a.setState(ctx, st, StateFailed)
	}
	return err
}

// cancel ends the turn after ctx is done. A turn whose lease was taken over
// fails instead.
func (a *Agent) cancel(ctx context.Context, st *State) error {
	if cause := context.Cause(ctx); errors.Is(cause, session.ErrTurnLost) {
		return a.fail(ctx, st, cause)
	}
	if st.Turn.CanTransition(StateCancelled) {
		_ = a.setState(ctx, st, StateCancelled)
	}
	return fmt.Errorf("turn cancelled: %w", ctx.Err())
}

// GetSessionState returns the session and its latest limit events.
func (a *Agent) GetSessionState(ctx context.Context, sessionID string, limit int) (*SessionState, error) {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := a.store.RecentEvents(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return &SessionState{Session: sess, RecentEvents: events}, nil
}

// Tools returns the registry the agent dispatches against.
func (a *Agent) Tools() *ToolRegistry { return a.tools }
