package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// Coach is the part of the agent the API drives.
type Coach interface {
	RunTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
	GetSessionState(ctx context.Context, sessionID string, limit int) (*engine.SessionState, error)
}

var _ Coach = (*engine.Agent)(nil)

type RunTurnInput struct {
	Body struct {
		UserID    string `json:"user_id,omitempty" doc:"User ID; taken from the bearer token when auth is enabled"`
		SessionID string `json:"session_id,omitempty" doc:"Session to continue; the user's latest session when empty"`
		Message   string `json:"message" minLength:"1" maxLength:"8000" doc:"What the user said"`
	}
}

// TurnResponse is a finished turn. Error is set when the turn ended
// without a terminal tool call.
type TurnResponse struct {
	engine.TurnResult
	Error string `json:"error,omitempty"`
}

type RunTurnOutput struct {
	Body TurnResponse
}

type GetSessionInput struct {
	ID    string `path:"id" doc:"Session ID"`
	Limit int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Most recent events to return"`
}

type GetSessionOutput struct {
	Body *engine.SessionState
}

func registerRoutes(api huma.API, coach Coach) {
	huma.Register(api, huma.Operation{
		OperationID: "run-turn",
		Method:      http.MethodPost,
		Path:        "/turns",
		Summary:     "Send a user message and run one coaching turn",
		Tags:        []string{"Turns"},
	}, func(ctx context.Context, input *RunTurnInput) (*RunTurnOutput, error) {
		userID, err := requestUser(ctx, input.Body.UserID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, huma.Error400BadRequest("message is empty")
		}

		result, err := coach.RunTurn(ctx, engine.TurnRequest{
			UserID:    userID,
			SessionID: input.Body.SessionID,
			Message:   input.Body.Message,
		})
		if err != nil {
			var loop *engine.LoopBoundError
			if result != nil && errors.As(err, &loop) {
				return &RunTurnOutput{Body: TurnResponse{TurnResult: *result, Error: err.Error()}}, nil
			}
			return nil, turnError(err)
		}
		return &RunTurnOutput{Body: TurnResponse{TurnResult: *result}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session and its most recent events",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		state, err := coach.GetSessionState(ctx, input.ID, input.Limit)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to load session", err)
		}
		if userID, ok := UserIDFromContext(ctx); ok && state.Session.UserID != userID {
			return nil, huma.Error403Forbidden("session belongs to another user")
		}
		return &GetSessionOutput{Body: state}, nil
	})
}

// requestUser resolves who is speaking. An authenticated user always wins;
// a body user_id naming someone else is rejected.
func requestUser(ctx context.Context, bodyUser string) (string, error) {
	if userID, ok := UserIDFromContext(ctx); ok {
		if bodyUser != "" && bodyUser != userID {
			return "", huma.Error403Forbidden("user_id does not match token")
		}
		return userID, nil
	}
	if bodyUser == "" {
		return "", huma.Error400BadRequest("user_id is required")
	}
	return bodyUser, nil
}

func turnError(err error) error {
	var transport *engine.TransportError
	switch {
	case errors.Is(err, engine.ErrEmptyMessage):
		return huma.Error400BadRequest("message is empty")
	case errors.Is(err, session.ErrNotFound):
		return huma.Error404NotFound("session not found")
	case errors.Is(err, engine.ErrSessionForbidden):
		return huma.Error403Forbidden("session belongs to another user")
	case errors.Is(err, session.ErrTurnInProgress):
		return huma.Error409Conflict("a turn is already running on this session")
	case errors.As(err, &transport):
		return huma.Error502BadGateway("model call failed", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("turn cancelled", err)
	default:
		return huma.Error500InternalServerError("turn failed", err)
	}
}
