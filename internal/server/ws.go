package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/engine/protocol"
	"github.com/ChamsBouzaiene/spotter/internal/session"
	"github.com/ChamsBouzaiene/spotter/internal/stream"
)

// Hub serves live session sockets: it relays the session's stream channel
// to the client and runs turns for user_message commands it receives.
type Hub struct {
	coach  Coach
	broker stream.Broker
	log    zerolog.Logger
}

func NewHub(coach Coach, broker stream.Broker, logger zerolog.Logger) *Hub {
	return &Hub{coach: coach, broker: broker, log: logger}
}

// ServeSession handles /ws/sessions/{id}.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	state, err := h.coach.GetSessionState(r.Context(), sessionID, 1)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	userID := state.Session.UserID
	if authed, ok := UserIDFromContext(r.Context()); ok && authed != userID {
		http.Error(w, "session belongs to another user", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages, cleanup, err := h.broker.Subscribe(ctx, stream.SessionChannel(sessionID))
	if err != nil {
		h.log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	runner := &turnRunner{hub: h, conn: conn, sessionID: sessionID, userID: userID}
	defer runner.cancel()
	go func() {
		defer cancel()
		runner.readCommands(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, ok := <-messages:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				h.log.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}

// turnRunner runs at most one turn per connection.
type turnRunner struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	userID    string

	mu     sync.Mutex
	stop   context.CancelFunc
	active bool
}

func (t *turnRunner) readCommands(ctx context.Context) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			t.sendError(ctx, err.Error(), "bad_command")
			continue
		}
		switch c := cmd.(type) {
		case protocol.UserMessageCommand:
			t.start(ctx, c.Message)
		case protocol.CancelRequestCommand:
			t.cancel()
		}
	}
}

func (t *turnRunner) start(ctx context.Context, message string) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		t.sendError(ctx, "a turn is already running on this connection", "turn_in_progress")
		return
	}
	turnCtx, stop := context.WithCancel(ctx)
	t.active = true
	t.stop = stop
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.active = false
			t.stop = nil
			t.mu.Unlock()
			stop()
		}()
		_, err := t.hub.coach.RunTurn(turnCtx, engine.TurnRequest{
			UserID:    t.userID,
			SessionID: t.sessionID,
			Message:   message,
		})
		var loop *engine.LoopBoundError
		switch {
		case err == nil, errors.As(err, &loop):
			// the done event already went out through the stream
		case errors.Is(err, session.ErrTurnInProgress):
			t.sendError(ctx, err.Error(), "turn_in_progress")
		default:
			t.hub.log.Warn().Err(err).Str("session_id", t.sessionID).Msg("websocket turn failed")
			t.sendError(ctx, err.Error(), "turn_failed")
		}
	}()
}

func (t *turnRunner) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
	}
}

func (t *turnRunner) sendError(ctx context.Context, message, kind string) {
	payload, err := protocol.MarshalEvent(protocol.NewErrorEvent(t.sessionID, message, kind))
	if err != nil {
		return
	}
	if err := t.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.hub.log.Debug().Err(err).Msg("websocket write error event")
	}
}
