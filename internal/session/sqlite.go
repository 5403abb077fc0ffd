package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("session.OpenSQLite: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("session.OpenSQLite: create dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session.OpenSQLite: open: %w", err)
	}
	// One writer keeps append transactions strictly serial.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session.OpenSQLite: ping: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session.OpenSQLite: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so other packages can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := migrationFiles("migrations/sqlite")
	if err != nil {
		return err
	}

	for _, f := range files {
		var applied int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/sqlite/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, f, time.Now().UnixMicro()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

const sqliteSessionColumns = `id, user_id, cache_boundary, last_sequence, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*Session, error) {
	var (
		sess             Session
		created, updated int64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CacheBoundarySequence, &sess.LastSequence, &created, &updated)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMicro(created).UTC()
	sess.UpdatedAt = time.UnixMicro(updated).UTC()
	return &sess, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("sqliteStore.CreateSession: empty user id")
	}
	sess, err := insertSQLiteSession(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.CreateSession: %w", err)
	}
	return sess, nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteSession(ctx context.Context, db sqlExecer, userID string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, now.UnixMicro(), now.UnixMicro(),
	)
	if err != nil {
		return nil, err
	}
	// Round-trip precision matches what a later read returns.
	sess.CreatedAt = time.UnixMicro(now.UnixMicro()).UTC()
	sess.UpdatedAt = sess.CreatedAt
	return sess, nil
}

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("sqliteStore.GetOrCreateSession: empty user id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.GetOrCreateSession: begin: %w", err)
	}
	defer tx.Rollback()

	sess, err := scanSQLiteSession(tx.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM sessions WHERE user_id = ?
		 ORDER BY updated_at DESC, created_at DESC LIMIT 1`, userID))
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		sess, err = insertSQLiteSession(ctx, tx, userID)
		if err != nil {
			return nil, fmt.Errorf("sqliteStore.GetOrCreateSession: insert: %w", err)
		}
	default:
		return nil, fmt.Errorf("sqliteStore.GetOrCreateSession: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqliteStore.GetOrCreateSession: commit: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM sessions WHERE id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqliteStore.GetSession: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.GetSession: %w", err)
	}
	return sess, nil
}

// AppendEvent increments the session counter and inserts the event in one
// transaction; the (session_id, sequence) key rejects any duplicate.
func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID string, eventType EventType, data any) (Event, error) {
	ev, err := s.append(ctx, sessionID, "", eventType, data)
	if err != nil {
		return Event{}, fmt.Errorf("sqliteStore.AppendEvent: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) AppendTurnEvent(ctx context.Context, sessionID, owner string, eventType EventType, data any) (Event, error) {
	if owner == "" {
		return Event{}, fmt.Errorf("sqliteStore.AppendTurnEvent: %w", ErrTurnLost)
	}
	ev, err := s.append(ctx, sessionID, owner, eventType, data)
	if err != nil {
		return Event{}, fmt.Errorf("sqliteStore.AppendTurnEvent: %w", err)
	}
	return ev, nil
}

// append assigns the next sequence and inserts the event in one
// transaction. A non-empty owner must be the current lease holder.
func (s *SQLiteStore) append(ctx context.Context, sessionID, owner string, eventType EventType, data any) (Event, error) {
	payload, err := encodePayload(eventType, data)
	if err != nil {
		return Event{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE sessions SET last_sequence = last_sequence + 1, updated_at = ?
		 WHERE id = ? AND (? = '' OR turn_owner = ?) RETURNING last_sequence`,
		now.UnixMicro(), sessionID, owner, owner,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return Event{}, ErrNotFound
		case err != nil:
			return Event{}, fmt.Errorf("check session: %w", err)
		}
		return Event{}, ErrTurnLost
	}
	if err != nil {
		return Event{}, fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, sequence, event_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, string(eventType), string(payload), now.UnixMicro(),
	); err != nil {
		return Event{}, fmt.Errorf("insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit: %w", err)
	}

	return Event{
		SessionID: sessionID,
		Sequence:  seq,
		Type:      eventType,
		Data:      payload,
		CreatedAt: time.UnixMicro(now.UnixMicro()).UTC(),
	}, nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string, fromSequence int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, event_type, data, created_at FROM events
		 WHERE session_id = ? AND sequence >= ? ORDER BY sequence ASC`,
		sessionID, fromSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.GetEvents: %w", err)
	}
	events, err := scanSQLiteEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.GetEvents: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return s.GetEvents(ctx, sessionID, 0)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, event_type, data, created_at FROM (
			SELECT * FROM events WHERE session_id = ? ORDER BY sequence DESC LIMIT ?
		 ) ORDER BY sequence ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.RecentEvents: %w", err)
	}
	events, err := scanSQLiteEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("sqliteStore.RecentEvents: %w", err)
	}
	return events, nil
}

func scanSQLiteEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			typ     string
			data    string
			created int64
		)
		if err := rows.Scan(&e.SessionID, &e.Sequence, &typ, &data, &created); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Type = EventType(typ)
		e.Data = []byte(data)
		e.CreatedAt = time.UnixMicro(created).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) SetCacheBoundary(ctx context.Context, sessionID string, sequence int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET cache_boundary = ?
		 WHERE id = ? AND ? >= cache_boundary AND ? <= last_sequence`,
		sequence, sessionID, sequence, sequence,
	)
	if err != nil {
		return fmt.Errorf("sqliteStore.SetCacheBoundary: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.boundaryError(ctx, sessionID, sequence)
}

func (s *SQLiteStore) boundaryError(ctx context.Context, sessionID string, sequence int64) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("sqliteStore.SetCacheBoundary: %w", err)
	}
	return fmt.Errorf("sqliteStore.SetCacheBoundary: %w: %d outside [%d, %d]",
		ErrInvalidBoundary, sequence, sess.CacheBoundarySequence, sess.LastSequence)
}

func (s *SQLiteStore) AcquireTurn(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET turn_owner = ?, turn_expires_at = ?
		 WHERE id = ? AND (turn_owner = '' OR turn_owner = ? OR turn_expires_at < ?)`,
		owner, now.Add(ttl).UnixMicro(), sessionID, owner, now.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqliteStore.AcquireTurn: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("sqliteStore.AcquireTurn: %w", err)
	}
	return fmt.Errorf("sqliteStore.AcquireTurn: %w", ErrTurnInProgress)
}

func (s *SQLiteStore) ReleaseTurn(ctx context.Context, sessionID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET turn_owner = '', turn_expires_at = 0 WHERE id = ? AND turn_owner = ?`,
		sessionID, owner,
	)
	if err != nil {
		return fmt.Errorf("sqliteStore.ReleaseTurn: %w", err)
	}
	return nil
}
