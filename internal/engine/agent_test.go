package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/datasource"
	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/engine/enginetest"
	"github.com/ChamsBouzaiene/spotter/internal/session"
	"github.com/ChamsBouzaiene/spotter/internal/tools/control"
)

type logArgs struct {
	Name string `json:"name"`
	Sets int    `json:"sets"`
	Reps int    `json:"reps"`
}

type logResult struct {
	ID string `json:"id"`
}

func (logResult) ToolName() string { return "log_exercise" }

// logTool records exercises in memory, or fails with failWith.
func logTool(logged *[]logArgs, failWith error) engine.Tool {
	return engine.NewTool("log_exercise", "Log an exercise.",
		`{"type":"object","properties":{"name":{"type":"string"},"sets":{"type":"integer","minimum":1},"reps":{"type":"integer","minimum":1}},"required":["name","sets","reps"]}`,
		func(_ context.Context, _ engine.ToolContext, a logArgs) (logResult, error) {
			if failWith != nil {
				return logResult{}, failWith
			}
			*logged = append(*logged, a)
			return logResult{ID: "log-1"}, nil
		},
		func(r logResult) string { return "Logged " + r.ID })
}

type fixture struct {
	agent *engine.Agent
	store *session.SQLiteStore
	rec   *enginetest.Recorder
	llm   *enginetest.ScriptedLLM
}

type option func(*engine.AgentBuilder, *engine.AgentConfig)

func withMaxIterations(n int) option {
	return func(_ *engine.AgentBuilder, c *engine.AgentConfig) { c.MaxIterations = n }
}

func withLeaseTTL(d time.Duration) option {
	return func(_ *engine.AgentBuilder, c *engine.AgentConfig) { c.TurnLeaseTTL = d }
}

type pauseArgs struct {
	Reason string `json:"reason,omitempty"`
}

type pauseResult struct {
	Paused string `json:"paused"`
}

func (pauseResult) ToolName() string { return "pause" }

// pauseTool calls during, then blocks for d or until ctx ends.
func pauseTool(d time.Duration, during func(engine.ToolContext)) engine.Tool {
	return engine.NewTool("pause", "Wait before answering.", `{"type":"object","properties":{"reason":{"type":"string"}}}`,
		func(ctx context.Context, tc engine.ToolContext, _ pauseArgs) (pauseResult, error) {
			during(tc)
			select {
			case <-time.After(d):
				return pauseResult{Paused: d.String()}, nil
			case <-ctx.Done():
				return pauseResult{}, ctx.Err()
			}
		},
		func(r pauseResult) string { return "Paused " + r.Paused })
}

func newFixture(t *testing.T, llm *enginetest.ScriptedLLM, extra []engine.Tool, opts ...option) *fixture {
	t.Helper()
	reg, err := engine.NewToolRegistry(append(control.Tools(), extra...)...)
	require.NoError(t, err)

	store := enginetest.NewStore(t)
	rec := &enginetest.Recorder{}
	cfg := engine.DefaultAgentConfig()
	cfg.Retry = engine.RetryPolicy{}
	cfg.ModelTimeout = 5 * time.Second

	b := engine.NewAgentBuilder().WithStore(store).WithLLM(llm).WithTools(reg).WithHooks(rec)
	for _, opt := range opts {
		opt(b, &cfg)
	}
	agent, err := b.WithConfig(cfg).Build()
	require.NoError(t, err)
	return &fixture{agent: agent, store: store, rec: rec, llm: llm}
}

func (f *fixture) events(t *testing.T, sessionID string) []session.Event {
	t.Helper()
	events, err := f.store.GetEvents(context.Background(), sessionID, 0)
	require.NoError(t, err)
	return events
}

func eventTypes(events []session.Event) []session.EventType {
	out := make([]session.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRunTurn_LogsExerciseThenIdles(t *testing.T) {
	var logged []logArgs
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "log_exercise", `{"name":"pushup","sets":3,"reps":10}`),
		enginetest.Call("c2", "idle", `{"reason":"logged"}`),
	)
	f := newFixture(t, llm, []engine.Tool{logTool(&logged, nil)})

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "log a 3x10 pushup set"})
	require.NoError(t, err)

	assert.Equal(t, engine.StateIdle, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "log_exercise", res.Actions[0].ToolName)
	assert.True(t, res.Actions[0].Success)
	assert.False(t, res.Actions[0].Terminal)
	assert.Equal(t, logResult{ID: "log-1"}, res.Actions[0].Result)
	assert.True(t, res.Actions[1].Terminal)
	assert.Equal(t, []logArgs{{Name: "pushup", Sets: 3, Reps: 10}}, logged)
	assert.Equal(t, 220, res.Usage.Total)

	assert.Equal(t, []engine.TurnState{
		engine.StateCallingModel, engine.StateExecutingTool, engine.StateContinue,
		engine.StateCallingModel, engine.StateExecutingTool, engine.StateIdle,
	}, f.rec.Transitions)

	events := f.events(t, res.SessionID)
	assert.Equal(t, []session.EventType{
		session.EventUserMessage, session.EventToolCall, session.EventToolResult,
		session.EventToolCall, session.EventToolResult,
	}, eventTypes(events))
	assert.Len(t, f.rec.Events, len(events), "every appended event reaches the hooks")

	// The boundary covers what the second call saw.
	sess, err := f.store.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sess.CacheBoundarySequence)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, engine.ToolChoiceAny, reqs[0].ToolChoice.Type)
	assert.False(t, reqs[0].Messages[0].Content[0].CacheBreakpoint)
	assert.True(t, reqs[1].Messages[0].Content[0].CacheBreakpoint, "first user message is cached by the second call")
	assert.Len(t, reqs[1].Messages, 3)
}

func TestRunTurn_ToolFailureIsFedBack(t *testing.T) {
	var logged []logArgs
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "log_exercise", `{"name":"pushup","sets":3,"reps":10}`),
		enginetest.Call("c2", "notify", `{"message":"couldn't log right now"}`),
		enginetest.Call("c3", "idle", `{"reason":"told the user"}`),
	)
	f := newFixture(t, llm, []engine.Tool{logTool(&logged, errors.New("database unavailable"))})

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "log a 3x10 pushup set"})
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, res.Outcome)
	require.Len(t, res.Actions, 3)
	assert.False(t, res.Actions[0].Success)
	assert.Contains(t, res.Actions[0].Error, "database unavailable")
	assert.True(t, res.Actions[1].Success)

	second := llm.Requests()[1]
	last := second.Messages[len(second.Messages)-1].Content[0]
	assert.Equal(t, engine.BlockToolResult, last.Type)
	assert.True(t, last.IsError)
	assert.Contains(t, last.Text, "database unavailable")

	events := f.events(t, res.SessionID)
	failed, err := events[2].ToolResult()
	require.NoError(t, err)
	assert.False(t, failed.Success)
}

func TestRunTurn_InvalidArgumentsAreRecoverable(t *testing.T) {
	var logged []logArgs
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "log_exercise", `{"name":"pushup"}`),
		enginetest.Call("c2", "teleport", `{}`),
		enginetest.Call("c3", "idle", `{"reason":"gave up"}`),
	)
	f := newFixture(t, llm, []engine.Tool{logTool(&logged, nil)})

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "log pushups"})
	require.NoError(t, err)
	require.Len(t, res.Actions, 3)
	assert.Contains(t, res.Actions[0].Error, "validation failed")
	assert.Contains(t, res.Actions[1].Error, `unknown tool "teleport"`)
	assert.Empty(t, logged)
}

func TestRunTurn_IterationCap(t *testing.T) {
	var script []enginetest.Response
	for i := 0; i < 5; i++ {
		script = append(script, enginetest.Call("", "notify", `{"message":"still thinking"}`))
	}
	llm := enginetest.NewScriptedLLM(script...)
	f := newFixture(t, llm, nil, withMaxIterations(3))

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "hmm"})
	var lerr *engine.LoopBoundError
	require.True(t, errors.As(err, &lerr), "got %v", err)
	assert.Equal(t, 3, lerr.MaxIterations)
	assert.Equal(t, "notify", lerr.LastTool)

	require.NotNil(t, res)
	assert.Equal(t, engine.StateInconclusive, res.Outcome)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.Actions, 3)
	assert.Equal(t, 3, llm.Calls())
	for _, a := range res.Actions {
		assert.True(t, strings.HasPrefix(a.CallID, "call_"), "missing ids are generated: %q", a.CallID)
	}
}

func TestRunTurn_TransportFailureKeepsSessionResumable(t *testing.T) {
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "notify", `{"message":"on it"}`),
		enginetest.Fail(errors.New("400 bad request")),
		enginetest.Call("c2", "idle", `{"reason":"done"}`),
	)
	f := newFixture(t, llm, nil)

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "plan my week"})
	var terr *engine.TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, engine.StateFailed, res.Outcome)
	require.Len(t, res.Actions, 1, "progress before the failure is kept")
	assert.Len(t, f.events(t, res.SessionID), 3)

	again, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", SessionID: res.SessionID, Message: "try again"})
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, again.Outcome)
	assert.Len(t, f.events(t, res.SessionID), 6)
}

func TestRunTurn_NoToolCallFails(t *testing.T) {
	f := newFixture(t, enginetest.NewScriptedLLM(enginetest.Text("Great job!")), nil)

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "hi"})
	assert.ErrorIs(t, err, engine.ErrNoToolCall)
	assert.Equal(t, engine.StateFailed, res.Outcome)
	assert.Empty(t, res.Actions)
}

func TestRunTurn_TakesFirstOfSeveralCalls(t *testing.T) {
	resp := enginetest.Call("c1", "notify", `{"message":"first"}`)
	resp.Resp.ToolCalls = append(resp.Resp.ToolCalls, engine.ToolCall{ID: "c2", Name: "idle", Args: []byte(`{"reason":"x"}`)})
	llm := enginetest.NewScriptedLLM(resp, enginetest.Call("c3", "idle", `{"reason":"done"}`))
	f := newFixture(t, llm, nil)

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "c1", res.Actions[0].CallID)
	assert.Equal(t, "c3", res.Actions[1].CallID)
}

func TestRunTurn_AskUserAwaitsAnswer(t *testing.T) {
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "ask_user", `{"question":"How many minutes do you have?","options":["30","45","60"]}`),
	)
	f := newFixture(t, llm, nil)

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "make me a workout"})
	require.NoError(t, err)
	assert.Equal(t, engine.StateAwaitingUser, res.Outcome)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, control.AskUserResult{Status: "awaiting_user", Question: "How many minutes do you have?", Options: []string{"30", "45", "60"}}, res.Actions[0].Result)
}

func TestRunTurn_CancelledBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := enginetest.Call("c1", "notify", `{"message":"working"}`)
	first.Before = cancel
	llm := enginetest.NewScriptedLLM(first, enginetest.Call("c2", "idle", `{"reason":"x"}`))
	f := newFixture(t, llm, nil)

	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, engine.StateCancelled, res.Outcome)
	assert.Equal(t, 1, llm.Calls())

	// The tool that had started still ran and was recorded.
	require.Len(t, res.Actions, 1)
	assert.True(t, res.Actions[0].Success)
	assert.Equal(t, []session.EventType{
		session.EventUserMessage, session.EventToolCall, session.EventToolResult,
	}, eventTypes(f.events(t, res.SessionID)))
}

func TestRunTurn_CancelledDuringModelCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm := enginetest.NewScriptedLLM(enginetest.Response{Block: true, Before: cancel})
	f := newFixture(t, llm, nil)

	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, engine.StateCancelled, res.Outcome)
	assert.Empty(t, res.Actions)
}

func TestRunTurn_RejectsConcurrentTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enginetest.NewScriptedLLM(), nil)
	sess, err := f.store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, f.store.AcquireTurn(ctx, sess.ID, "other-turn", time.Minute))

	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", SessionID: sess.ID, Message: "hi"})
	assert.ErrorIs(t, err, session.ErrTurnInProgress)
	assert.Nil(t, res)
	assert.Empty(t, f.events(t, sess.ID), "a rejected turn writes nothing")
}

func TestRunTurn_ReleasesLease(t *testing.T) {
	ctx := context.Background()
	llm := enginetest.NewScriptedLLM(enginetest.Call("c1", "idle", `{"reason":"x"}`))
	f := newFixture(t, llm, nil)

	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	assert.NoError(t, f.store.AcquireTurn(ctx, res.SessionID, "next", time.Minute))
}

func TestRunTurn_LeaseRenewedWhileToolRuns(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "pause", `{}`),
		enginetest.Call("c2", "idle", `{"reason":"done"}`),
	)
	f := newFixture(t, llm, []engine.Tool{pauseTool(300*time.Millisecond, func(engine.ToolContext) { close(started) })},
		withLeaseTTL(50*time.Millisecond))
	sess, err := f.store.CreateSession(ctx, "u1")
	require.NoError(t, err)

	type outcome struct {
		res *engine.TurnResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", SessionID: sess.ID, Message: "hold on"})
		done <- outcome{res, err}
	}()

	<-started
	time.Sleep(120 * time.Millisecond) // well past the TTL
	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", SessionID: sess.ID, Message: "hello?"})
	assert.ErrorIs(t, err, session.ErrTurnInProgress)
	assert.Nil(t, res)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, engine.StateIdle, first.res.Outcome)
	require.Len(t, first.res.Actions, 2)
	assert.True(t, first.res.Actions[0].Success)

	events := f.events(t, sess.ID)
	assert.Equal(t, []session.EventType{
		session.EventUserMessage, session.EventToolCall, session.EventToolResult,
		session.EventToolCall, session.EventToolResult,
	}, eventTypes(events))
	_, open := engine.DanglingCall(events)
	assert.False(t, open)
}

func TestRunTurn_StopsAfterLosingLease(t *testing.T) {
	ctx := context.Background()
	var f *fixture
	steal := func(tc engine.ToolContext) {
		_, err := f.store.DB().ExecContext(ctx,
			`UPDATE sessions SET turn_owner = 'intruder', turn_expires_at = ? WHERE id = ?`,
			time.Now().Add(time.Hour).UnixMicro(), tc.SessionID)
		assert.NoError(t, err)
	}
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "pause", `{}`),
		enginetest.Call("c2", "idle", `{"reason":"done"}`),
	)
	f = newFixture(t, llm, []engine.Tool{pauseTool(300*time.Millisecond, steal)}, withLeaseTTL(50*time.Millisecond))

	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "hold on"})
	assert.ErrorIs(t, err, session.ErrTurnLost)
	require.NotNil(t, res)
	assert.Equal(t, engine.StateFailed, res.Outcome)
	assert.Equal(t, 1, llm.Calls())
	assert.Equal(t, []session.EventType{session.EventUserMessage, session.EventToolCall}, eventTypes(f.events(t, res.SessionID)),
		"no result is written once the lease is gone")

	// Once the other holder lets go, the next turn closes the interrupted call.
	require.NoError(t, f.store.ReleaseTurn(ctx, res.SessionID, "intruder"))
	again, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", SessionID: res.SessionID, Message: "still there?"})
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, again.Outcome)

	events := f.events(t, res.SessionID)
	repaired, err := events[2].ToolResult()
	require.NoError(t, err)
	assert.True(t, repaired.Synthetic)
	_, open := engine.DanglingCall(events)
	assert.False(t, open)
}

func TestRunTurn_RepairsDanglingCall(t *testing.T) {
	ctx := context.Background()
	llm := enginetest.NewScriptedLLM(enginetest.Call("c2", "idle", `{"reason":"x"}`))
	f := newFixture(t, llm, nil)

	sess, err := f.store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = f.store.AppendEvent(ctx, sess.ID, session.EventUserMessage, session.UserMessageData{Text: "log squats"})
	require.NoError(t, err)
	_, err = f.store.AppendEvent(ctx, sess.ID, session.EventToolCall, session.ToolCallData{CallID: "c0", ToolName: "log_exercise", Arguments: []byte(`{}`)})
	require.NoError(t, err)

	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", SessionID: sess.ID, Message: "did that work?"})
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, res.Outcome)

	events := f.events(t, sess.ID)
	require.GreaterOrEqual(t, len(events), 4)
	repaired, err := events[2].ToolResult()
	require.NoError(t, err)
	assert.Equal(t, "c0", repaired.CallID)
	assert.True(t, repaired.Synthetic)
	assert.False(t, repaired.Success)
	assert.Equal(t, session.EventUserMessage, events[3].Type)

	_, open := engine.DanglingCall(events)
	assert.False(t, open)
}

func TestRunTurn_SessionResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("empty message", func(t *testing.T) {
		f := newFixture(t, enginetest.NewScriptedLLM(), nil)
		_, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "  "})
		assert.ErrorIs(t, err, engine.ErrEmptyMessage)
	})

	t.Run("missing user", func(t *testing.T) {
		f := newFixture(t, enginetest.NewScriptedLLM(), nil)
		_, err := f.agent.RunTurn(ctx, engine.TurnRequest{Message: "hi"})
		assert.Error(t, err)
	})

	t.Run("another user's session", func(t *testing.T) {
		f := newFixture(t, enginetest.NewScriptedLLM(), nil)
		sess, err := f.store.CreateSession(ctx, "u1")
		require.NoError(t, err)
		_, err = f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u2", SessionID: sess.ID, Message: "hi"})
		assert.ErrorIs(t, err, engine.ErrSessionForbidden)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, enginetest.NewScriptedLLM(), nil)
		_, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", SessionID: "nope", Message: "hi"})
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("resumes latest session", func(t *testing.T) {
		llm := enginetest.NewScriptedLLM(
			enginetest.Call("a", "idle", `{"reason":"x"}`),
			enginetest.Call("b", "idle", `{"reason":"y"}`),
		)
		f := newFixture(t, llm, nil)
		first, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "hi"})
		require.NoError(t, err)
		second, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "again"})
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)
	})
}

type staticProfile string

func (p staticProfile) ProfileSnapshot(context.Context, string) (string, error) { return string(p), nil }

func TestRunTurn_SelectsContextAndProfile(t *testing.T) {
	goals := datasource.Source{
		Name:        "training_goals",
		Description: "goals",
		Fetch: func(context.Context, string, map[string]any) (any, error) {
			return "run 5k under 25 minutes", nil
		},
		Format: func(raw any) (string, error) { return "- " + raw.(string), nil },
	}
	reg, err := datasource.NewRegistry(goals)
	require.NoError(t, err)

	selector := enginetest.NewScriptedLLM(enginetest.Select("goal question", "training_goals"))
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "notify", `{"message":"You're on track"}`),
		enginetest.Call("c2", "idle", `{"reason":"answered"}`),
	)
	profile := staticProfile("<user_profile>\nname: Sam\n</user_profile>")
	f := newFixture(t, llm, nil, func(b *engine.AgentBuilder, _ *engine.AgentConfig) {
		b.WithDataSources(reg).WithSelectorLLM(selector).WithProfiles(profile)
	})

	res, err := f.agent.RunTurn(context.Background(), engine.TurnRequest{UserID: "u1", Message: "am I on track for my 5k?"})
	require.NoError(t, err)
	require.NotNil(t, res.Selection)
	assert.Equal(t, []string{"training_goals"}, res.Selection.Injected)
	assert.Equal(t, 330, res.Usage.Total, "selector usage counts toward the turn")
	assert.Equal(t, 1, selector.Calls(), "selection runs once per turn")
	require.Len(t, f.rec.Selections, 1)

	req := llm.Requests()[0]
	require.Len(t, req.System, 2)
	assert.Equal(t, string(profile), req.System[1].Text)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	assert.Contains(t, req.Messages[0].Content[1].Text, "run 5k under 25 minutes")

	events := f.events(t, res.SessionID)
	assert.Equal(t, session.EventKnowledge, events[1].Type)
}

func TestGetSessionState(t *testing.T) {
	ctx := context.Background()
	llm := enginetest.NewScriptedLLM(
		enginetest.Call("c1", "notify", `{"message":"hi"}`),
		enginetest.Call("c2", "idle", `{"reason":"x"}`),
	)
	f := newFixture(t, llm, nil)
	res, err := f.agent.RunTurn(ctx, engine.TurnRequest{UserID: "u1", Message: "hello"})
	require.NoError(t, err)

	state, err := f.agent.GetSessionState(ctx, res.SessionID, 2)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, state.Session.ID)
	assert.Equal(t, int64(5), state.Session.LastSequence)
	require.Len(t, state.RecentEvents, 2)
	assert.Equal(t, int64(4), state.RecentEvents[0].Sequence)

	_, err = f.agent.GetSessionState(ctx, "missing", 10)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
