package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("session: not found")
	ErrInvalidEvent    = errors.New("session: invalid event")
	ErrInvalidBoundary = errors.New("session: invalid cache boundary")
	ErrTurnInProgress  = errors.New("session: turn already in progress")
	// ErrTurnLost means the turn lease moved to another owner.
	ErrTurnLost = errors.New("session: turn lease lost")
)

// Store persists sessions and their append-only event logs.
//
// AppendEvent must assign sequence numbers atomically: concurrent appends to
// the same session never share a sequence and never leave gaps.
type Store interface {
	CreateSession(ctx context.Context, userID string) (*Session, error)
	GetOrCreateSession(ctx context.Context, userID string) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	AppendEvent(ctx context.Context, sessionID string, eventType EventType, data any) (Event, error)
	// AppendTurnEvent appends like AppendEvent, but only while owner holds
	// the session's turn lease. The ownership check and the append share
	// one transaction; a lease held by someone else yields ErrTurnLost.
	AppendTurnEvent(ctx context.Context, sessionID, owner string, eventType EventType, data any) (Event, error)
	GetEvents(ctx context.Context, sessionID string, fromSequence int64) ([]Event, error)
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error)

	SetCacheBoundary(ctx context.Context, sessionID string, sequence int64) error

	// AcquireTurn leases the session to owner for ttl, or extends the lease
	// owner already holds. A live lease held by another owner yields
	// ErrTurnInProgress.
	AcquireTurn(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	ReleaseTurn(ctx context.Context, sessionID, owner string) error

	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresDSN string
	MaxConns    int32
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("session.Open: unknown driver %q", cfg.Driver)
	}
}
