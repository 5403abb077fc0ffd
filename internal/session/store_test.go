package session_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// postgresDSNEnv points the store tests at a scratch Postgres database.
const postgresDSNEnv = "SPOTTER_TEST_POSTGRES_DSN"

func openSQLite(t *testing.T) session.Store {
	t.Helper()
	store, err := session.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func openPostgres(t *testing.T) session.Store {
	t.Helper()
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	store, err := session.OpenPostgres(context.Background(), dsn, 8)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// eachStore runs fn against every backend. Postgres databases are shared
// between runs, so tests use fresh user ids from newUser.
func eachStore(t *testing.T, fn func(t *testing.T, store session.Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, openPostgres(t)) })
}

func newUser() string { return "user-" + uuid.NewString() }

func newSession(t *testing.T, store session.Store) *session.Session {
	t.Helper()
	sess, err := store.CreateSession(context.Background(), newUser())
	require.NoError(t, err)
	return sess
}

func appendMessages(t *testing.T, store session.Store, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.AppendEvent(context.Background(), sessionID, session.EventUserMessage, session.UserMessageData{Text: "m"})
		require.NoError(t, err)
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		user := newUser()

		sess, err := store.CreateSession(ctx, user)
		require.NoError(t, err)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, user, sess.UserID)
		assert.Zero(t, sess.CacheBoundarySequence)
		assert.Zero(t, sess.LastSequence)

		got, err := store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
		assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))

		_, err = store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)

		_, err = store.CreateSession(ctx, "")
		assert.Error(t, err)
	})
}

func TestStore_GetOrCreateSession(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		user, otherUser := newUser(), newUser()

		first, err := store.GetOrCreateSession(ctx, user)
		require.NoError(t, err)

		again, err := store.GetOrCreateSession(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID, "existing session is reused")

		other, err := store.GetOrCreateSession(ctx, otherUser)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)

		// A newer session with activity becomes the one resumed.
		newer, err := store.CreateSession(ctx, user)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		appendMessages(t, store, newer.ID, 1)

		resumed, err := store.GetOrCreateSession(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, resumed.ID)
	})
}

func TestStore_AppendEvent(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)

		ev, err := store.AppendEvent(ctx, sess.ID, session.EventUserMessage, session.UserMessageData{Text: "log 3x10 pushups"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), ev.Sequence)
		assert.Equal(t, sess.ID, ev.SessionID)

		msg, err := ev.UserMessage()
		require.NoError(t, err)
		assert.Equal(t, "log 3x10 pushups", msg.Text)

		ev2, err := store.AppendEvent(ctx, sess.ID, session.EventToolCall, session.ToolCallData{
			CallID: "c1", ToolName: "log_exercise", Arguments: json.RawMessage(`{"name":"pushup"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), ev2.Sequence)

		got, err := store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.LastSequence)

		tests := []struct {
			name string
			typ  session.EventType
			data any
		}{
			{"unknown type", session.EventType("note"), session.UserMessageData{Text: "x"}},
			{"payload mismatch", session.EventKnowledge, session.UserMessageData{Text: "x"}},
			{"empty message", session.EventUserMessage, session.UserMessageData{}},
			{"knowledge without source", session.EventKnowledge, session.KnowledgeData{FormattedText: "x"}},
			{"call without id", session.EventToolCall, session.ToolCallData{ToolName: "idle"}},
			{"result without id", session.EventToolResult, session.ToolResultData{ToolName: "idle"}},
			{"unsupported payload", session.EventUserMessage, map[string]string{"text": "x"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := store.AppendEvent(ctx, sess.ID, tt.typ, tt.data)
				assert.ErrorIs(t, err, session.ErrInvalidEvent)
			})
		}

		_, err = store.AppendEvent(ctx, "missing", session.EventUserMessage, session.UserMessageData{Text: "x"})
		assert.ErrorIs(t, err, session.ErrNotFound)

		events, err := store.GetEvents(ctx, sess.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2, "rejected appends leave no trace")
	})
}

func TestStore_AppendTurnEvent(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)
		msg := session.UserMessageData{Text: "3x10 squats"}

		_, err := store.AppendTurnEvent(ctx, sess.ID, "turn-a", session.EventUserMessage, msg)
		assert.ErrorIs(t, err, session.ErrTurnLost, "no lease, no append")

		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "turn-a", time.Minute))
		ev, err := store.AppendTurnEvent(ctx, sess.ID, "turn-a", session.EventUserMessage, msg)
		require.NoError(t, err)
		assert.Equal(t, int64(1), ev.Sequence)

		_, err = store.AppendTurnEvent(ctx, sess.ID, "turn-b", session.EventUserMessage, msg)
		assert.ErrorIs(t, err, session.ErrTurnLost)
		_, err = store.AppendTurnEvent(ctx, sess.ID, "", session.EventUserMessage, msg)
		assert.ErrorIs(t, err, session.ErrTurnLost)

		// Once another turn takes the lease, the old owner is locked out.
		require.NoError(t, store.ReleaseTurn(ctx, sess.ID, "turn-a"))
		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "turn-b", time.Minute))
		_, err = store.AppendTurnEvent(ctx, sess.ID, "turn-a", session.EventToolResult,
			session.ToolResultData{CallID: "c1", ToolName: "idle"})
		assert.ErrorIs(t, err, session.ErrTurnLost)

		_, err = store.AppendTurnEvent(ctx, "missing", "turn-a", session.EventUserMessage, msg)
		assert.ErrorIs(t, err, session.ErrNotFound)

		events, err := store.GetEvents(ctx, sess.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		got, err := store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.LastSequence, "refused appends consume no sequence")
	})
}

func TestStore_ConcurrentAppendsAreGapless(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.AppendEvent(ctx, sess.ID, session.EventUserMessage, session.UserMessageData{Text: "set"})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		events, err := store.GetEvents(ctx, sess.ID, 0)
		require.NoError(t, err)
		require.Len(t, events, n)
		for i, ev := range events {
			assert.Equal(t, int64(i+1), ev.Sequence)
		}
	})
}

func TestStore_GetEventsAndRecent(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)
		appendMessages(t, store, sess.ID, 5)

		from, err := store.GetEvents(ctx, sess.ID, 4)
		require.NoError(t, err)
		require.Len(t, from, 2)
		assert.Equal(t, int64(4), from[0].Sequence)

		tests := []struct {
			limit int
			want  []int64
		}{
			{limit: 2, want: []int64{4, 5}},
			{limit: 10, want: []int64{1, 2, 3, 4, 5}},
			{limit: 0, want: []int64{1, 2, 3, 4, 5}},
		}
		for _, tt := range tests {
			events, err := store.RecentEvents(ctx, sess.ID, tt.limit)
			require.NoError(t, err)
			var seqs []int64
			for _, ev := range events {
				seqs = append(seqs, ev.Sequence)
			}
			assert.Equal(t, tt.want, seqs, "limit %d", tt.limit)
		}
	})
}

func TestStore_SetCacheBoundary(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)
		appendMessages(t, store, sess.ID, 3)

		require.NoError(t, store.SetCacheBoundary(ctx, sess.ID, 2))
		require.NoError(t, store.SetCacheBoundary(ctx, sess.ID, 2), "same boundary is accepted")

		err := store.SetCacheBoundary(ctx, sess.ID, 1)
		assert.ErrorIs(t, err, session.ErrInvalidBoundary, "boundary never moves backwards")

		err = store.SetCacheBoundary(ctx, sess.ID, 4)
		assert.ErrorIs(t, err, session.ErrInvalidBoundary, "boundary cannot pass the last event")

		err = store.SetCacheBoundary(ctx, "missing", 1)
		assert.ErrorIs(t, err, session.ErrNotFound)

		got, err := store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.CacheBoundarySequence)
	})
}

func TestStore_TurnLease(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)

		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "a", time.Minute))
		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "a", time.Minute), "owner may renew")

		err := store.AcquireTurn(ctx, sess.ID, "b", time.Minute)
		assert.ErrorIs(t, err, session.ErrTurnInProgress)

		// Releasing with the wrong owner is a no-op.
		require.NoError(t, store.ReleaseTurn(ctx, sess.ID, "b"))
		assert.ErrorIs(t, store.AcquireTurn(ctx, sess.ID, "b", time.Minute), session.ErrTurnInProgress)

		require.NoError(t, store.ReleaseTurn(ctx, sess.ID, "a"))
		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "b", time.Millisecond))

		// An expired lease can be taken over.
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "c", time.Minute))

		assert.ErrorIs(t, store.AcquireTurn(ctx, "missing", "a", time.Minute), session.ErrNotFound)
	})
}

func TestStore_RenewedLeaseOutlivesTTL(t *testing.T) {
	eachStore(t, func(t *testing.T, store session.Store) {
		ctx := context.Background()
		sess := newSession(t, store)

		require.NoError(t, store.AcquireTurn(ctx, sess.ID, "a", 40*time.Millisecond))
		for i := 0; i < 4; i++ {
			time.Sleep(20 * time.Millisecond)
			require.NoError(t, store.AcquireTurn(ctx, sess.ID, "a", 40*time.Millisecond))
		}
		assert.ErrorIs(t, store.AcquireTurn(ctx, sess.ID, "b", time.Minute), session.ErrTurnInProgress,
			"a lease renewed in time is never up for grabs")
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := session.Open(context.Background(), session.Config{Driver: "mysql"})
	assert.Error(t, err)
}
