package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL. The row lock taken by the
// sequence UPDATE serialises appends to one session across processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session.OpenPostgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session.OpenPostgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session.OpenPostgres: ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session.OpenPostgres: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := migrationFiles("migrations/postgres")
	if err != nil {
		return err
	}

	for _, f := range files {
		var applied int
		if err := s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/postgres/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return fmt.Errorf("exec migration %s: %w", f, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, f); err != nil {
				return fmt.Errorf("record migration %s: %w", f, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const pgSessionColumns = `id, user_id, cache_boundary, last_sequence, created_at, updated_at`

func scanPgSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CacheBoundarySequence, &sess.LastSequence, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	return &sess, nil
}

type pgExecer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertPgSession(ctx context.Context, q pgExecer, userID string) (*Session, error) {
	return scanPgSession(q.QueryRow(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES ($1, $2, now(), now())
		 RETURNING `+pgSessionColumns,
		uuid.NewString(), userID,
	))
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("postgresStore.CreateSession: empty user id")
	}
	sess, err := insertPgSession(ctx, s.pool, userID)
	if err != nil {
		return nil, fmt.Errorf("postgresStore.CreateSession: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("postgresStore.GetOrCreateSession: empty user id")
	}

	var sess *Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialise first-session creation per user.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return fmt.Errorf("lock: %w", err)
		}

		var err error
		sess, err = scanPgSession(tx.QueryRow(ctx,
			`SELECT `+pgSessionColumns+` FROM sessions WHERE user_id = $1
			 ORDER BY updated_at DESC, created_at DESC LIMIT 1`, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			sess, err = insertPgSession(ctx, tx, userID)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("postgresStore.GetOrCreateSession: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := scanPgSession(s.pool.QueryRow(ctx,
		`SELECT `+pgSessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgresStore.GetSession: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgresStore.GetSession: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, sessionID string, eventType EventType, data any) (Event, error) {
	ev, err := s.append(ctx, sessionID, "", eventType, data)
	if err != nil {
		return Event{}, fmt.Errorf("postgresStore.AppendEvent: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) AppendTurnEvent(ctx context.Context, sessionID, owner string, eventType EventType, data any) (Event, error) {
	if owner == "" {
		return Event{}, fmt.Errorf("postgresStore.AppendTurnEvent: %w", ErrTurnLost)
	}
	ev, err := s.append(ctx, sessionID, owner, eventType, data)
	if err != nil {
		return Event{}, fmt.Errorf("postgresStore.AppendTurnEvent: %w", err)
	}
	return ev, nil
}

// append takes the session row lock through UPDATE ... RETURNING, so the
// sequence, the owner check and the insert commit together.
func (s *PostgresStore) append(ctx context.Context, sessionID, owner string, eventType EventType, data any) (Event, error) {
	payload, err := encodePayload(eventType, data)
	if err != nil {
		return Event{}, err
	}

	ev := Event{SessionID: sessionID, Type: eventType, Data: payload}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE sessions SET last_sequence = last_sequence + 1, updated_at = now()
			 WHERE id = $1 AND ($2 = '' OR turn_owner = $2) RETURNING last_sequence, updated_at`,
			sessionID, owner,
		).Scan(&ev.Sequence, &ev.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrTurnLost
		}
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO events (session_id, sequence, event_type, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
			sessionID, ev.Sequence, string(eventType), string(payload), ev.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

func (s *PostgresStore) GetEvents(ctx context.Context, sessionID string, fromSequence int64) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, sequence, event_type, data::text, created_at FROM events
		 WHERE session_id = $1 AND sequence >= $2 ORDER BY sequence ASC`,
		sessionID, fromSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("postgresStore.GetEvents: %w", err)
	}
	events, err := scanPgEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgresStore.GetEvents: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) RecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return s.GetEvents(ctx, sessionID, 0)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, sequence, event_type, data, created_at FROM (
			SELECT session_id, sequence, event_type, data::text AS data, created_at
			FROM events WHERE session_id = $1 ORDER BY sequence DESC LIMIT $2
		 ) recent ORDER BY sequence ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgresStore.RecentEvents: %w", err)
	}
	events, err := scanPgEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("postgresStore.RecentEvents: %w", err)
	}
	return events, nil
}

func scanPgEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			typ  string
			data string
		)
		if err := rows.Scan(&e.SessionID, &e.Sequence, &typ, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Type = EventType(typ)
		e.Data = []byte(data)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) SetCacheBoundary(ctx context.Context, sessionID string, sequence int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET cache_boundary = $2
		 WHERE id = $1 AND $2 >= cache_boundary AND $2 <= last_sequence`,
		sessionID, sequence,
	)
	if err != nil {
		return fmt.Errorf("postgresStore.SetCacheBoundary: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("postgresStore.SetCacheBoundary: %w", err)
	}
	return fmt.Errorf("postgresStore.SetCacheBoundary: %w: %d outside [%d, %d]",
		ErrInvalidBoundary, sequence, sess.CacheBoundarySequence, sess.LastSequence)
}

func (s *PostgresStore) AcquireTurn(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET turn_owner = $2, turn_expires_at = now() + make_interval(secs => $3)
		 WHERE id = $1 AND (turn_owner = '' OR turn_owner = $2 OR turn_expires_at < now())`,
		sessionID, owner, ttl.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("postgresStore.AcquireTurn: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("postgresStore.AcquireTurn: %w", err)
	}
	return fmt.Errorf("postgresStore.AcquireTurn: %w", ErrTurnInProgress)
}

func (s *PostgresStore) ReleaseTurn(ctx context.Context, sessionID, owner string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET turn_owner = '', turn_expires_at = 'epoch' WHERE id = $1 AND turn_owner = $2`,
		sessionID, owner,
	)
	if err != nil {
		return fmt.Errorf("postgresStore.ReleaseTurn: %w", err)
	}
	return nil
}
