package fitness

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteService implements Service on a SQLite file.
type SQLiteService struct {
	db  *sql.DB
	now func() time.Time
}

var _ Service = (*SQLiteService)(nil)

func OpenSQLite(ctx context.Context, path string) (*SQLiteService, error) {
	if path == "" {
		return nil, errors.New("fitness.OpenSQLite: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("fitness.OpenSQLite: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("fitness.OpenSQLite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("fitness.OpenSQLite: ping: %w", err)
	}

	s := &SQLiteService{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("fitness.OpenSQLite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteService) Close() error {
	return s.db.Close()
}

// migrate keeps its own bookkeeping table so the schema can share a file
// with the session store.
func (s *SQLiteService) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS fitness_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fitness_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
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
		if _, err := tx.ExecContext(ctx, "INSERT INTO fitness_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

func (s *SQLiteService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		data    string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, updated_at FROM profiles WHERE user_id = ?`, userID).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fitness.GetProfile: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fitness.GetProfile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("fitness.GetProfile: decode: %w", err)
	}
	p.UserID = userID
	p.UpdatedAt = time.UnixMicro(updated).UTC()
	return &p, nil
}

func (s *SQLiteService) UpsertProfile(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("fitness.UpsertProfile: %w: empty user id", ErrInvalid)
	}
	p.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("fitness.UpsertProfile: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		p.UserID, string(data), p.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("fitness.UpsertProfile: %w", err)
	}
	return nil
}

func (s *SQLiteService) ListGoals(ctx context.Context, userID string) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, target_date, status, created_at FROM goals
		 WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("fitness.ListGoals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var (
			g       Goal
			target  sql.NullInt64
			created int64
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.Description, &target, &g.Status, &created); err != nil {
			return nil, fmt.Errorf("fitness.ListGoals: scan: %w", err)
		}
		if target.Valid {
			t := time.UnixMicro(target.Int64).UTC()
			g.TargetDate = &t
		}
		g.CreatedAt = time.UnixMicro(created).UTC()
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (s *SQLiteService) AddGoal(ctx context.Context, g Goal) (Goal, error) {
	if g.UserID == "" || strings.TrimSpace(g.Description) == "" {
		return Goal{}, fmt.Errorf("fitness.AddGoal: %w: goal needs user and description", ErrInvalid)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = "active"
	}
	g.CreatedAt = s.now().UTC()

	var target sql.NullInt64
	if g.TargetDate != nil {
		target = sql.NullInt64{Int64: g.TargetDate.UnixMicro(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (id, user_id, description, target_date, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Description, target, g.Status, g.CreatedAt.UnixMicro())
	if err != nil {
		return Goal{}, fmt.Errorf("fitness.AddGoal: %w", err)
	}
	return g, nil
}

func (s *SQLiteService) LogExercise(ctx context.Context, l ExerciseLog) (ExerciseLog, error) {
	l.Exercise = strings.ToLower(strings.TrimSpace(l.Exercise))
	switch {
	case l.UserID == "":
		return ExerciseLog{}, fmt.Errorf("fitness.LogExercise: %w: empty user id", ErrInvalid)
	case l.Exercise == "":
		return ExerciseLog{}, fmt.Errorf("fitness.LogExercise: %w: empty exercise name", ErrInvalid)
	case l.Sets < 1 || l.Reps < 1:
		return ExerciseLog{}, fmt.Errorf("fitness.LogExercise: %w: sets and reps must be positive", ErrInvalid)
	case l.WeightKG != nil && *l.WeightKG < 0:
		return ExerciseLog{}, fmt.Errorf("fitness.LogExercise: %w: negative weight", ErrInvalid)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.PerformedAt.IsZero() {
		l.PerformedAt = s.now()
	}
	l.PerformedAt = time.UnixMicro(l.PerformedAt.UnixMicro()).UTC()

	var weight sql.NullFloat64
	if l.WeightKG != nil {
		weight = sql.NullFloat64{Float64: *l.WeightKG, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exercise_logs (id, user_id, exercise, sets, reps, weight_kg, notes, performed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Exercise, l.Sets, l.Reps, weight, l.Notes, l.PerformedAt.UnixMicro())
	if err != nil {
		return ExerciseLog{}, fmt.Errorf("fitness.LogExercise: %w", err)
	}
	return l, nil
}

func (s *SQLiteService) RecentLogs(ctx context.Context, userID string, limit int) ([]ExerciseLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, exercise, sets, reps, weight_kg, notes, performed_at FROM exercise_logs
		 WHERE user_id = ? ORDER BY performed_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("fitness.RecentLogs: %w", err)
	}
	defer rows.Close()

	var logs []ExerciseLog
	for rows.Next() {
		var (
			l         ExerciseLog
			weight    sql.NullFloat64
			performed int64
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Exercise, &l.Sets, &l.Reps, &weight, &l.Notes, &performed); err != nil {
			return nil, fmt.Errorf("fitness.RecentLogs: scan: %w", err)
		}
		if weight.Valid {
			w := weight.Float64
			l.WeightKG = &w
		}
		l.PerformedAt = time.UnixMicro(performed).UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteService) ExerciseSummaries(ctx context.Context, userID string) ([]ExerciseSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exercise, COUNT(*), SUM(sets), COALESCE(MAX(weight_kg), 0), MAX(performed_at)
		 FROM exercise_logs WHERE user_id = ? GROUP BY exercise ORDER BY exercise ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("fitness.ExerciseSummaries: %w", err)
	}
	defer rows.Close()

	var out []ExerciseSummary
	for rows.Next() {
		var (
			sum  ExerciseSummary
			last int64
		)
		if err := rows.Scan(&sum.Exercise, &sum.Sessions, &sum.TotalSets, &sum.BestWeightKG, &last); err != nil {
			return nil, fmt.Errorf("fitness.ExerciseSummaries: scan: %w", err)
		}
		sum.LastPerformed = time.UnixMicro(last).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteService) SavePlan(ctx context.Context, p *WorkoutPlan) error {
	if p.UserID == "" || len(p.Exercises) == 0 {
		return fmt.Errorf("fitness.SavePlan: %w: plan needs a user and exercises", ErrInvalid)
	}
	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PlanDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	equipment, err := json.Marshal(p.Equipment)
	if err != nil {
		return fmt.Errorf("fitness.SavePlan: encode equipment: %w", err)
	}
	exercises, err := json.Marshal(p.Exercises)
	if err != nil {
		return fmt.Errorf("fitness.SavePlan: encode exercises: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workout_plans (id, user_id, focus, duration, equipment, exercises, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET focus = excluded.focus, duration = excluded.duration,
			equipment = excluded.equipment, exercises = excluded.exercises,
			status = excluded.status, updated_at = excluded.updated_at
		 WHERE workout_plans.user_id = excluded.user_id`,
		p.ID, p.UserID, p.Focus, p.DurationMinutes, string(equipment), string(exercises), string(p.Status),
		p.CreatedAt.UnixMicro(), p.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("fitness.SavePlan: %w", err)
	}
	return nil
}

const planColumns = `id, user_id, focus, duration, equipment, exercises, status, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (*WorkoutPlan, error) {
	var (
		p                WorkoutPlan
		status           string
		equipment, exs   string
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Focus, &p.DurationMinutes, &equipment, &exs, &status, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(equipment), &p.Equipment); err != nil {
		return nil, fmt.Errorf("decode equipment: %w", err)
	}
	if err := json.Unmarshal([]byte(exs), &p.Exercises); err != nil {
		return nil, fmt.Errorf("decode exercises: %w", err)
	}
	p.Status = PlanStatus(status)
	p.CreatedAt = time.UnixMicro(created).UTC()
	p.UpdatedAt = time.UnixMicro(updated).UTC()
	return &p, nil
}

func (s *SQLiteService) GetPlan(ctx context.Context, userID, planID string) (*WorkoutPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM workout_plans WHERE id = ? AND user_id = ?`, planID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fitness.GetPlan: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fitness.GetPlan: %w", err)
	}
	return p, nil
}

func (s *SQLiteService) ActivePlan(ctx context.Context, userID string) (*WorkoutPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM workout_plans WHERE user_id = ? AND status = ?
		 ORDER BY updated_at DESC LIMIT 1`, userID, string(PlanActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fitness.ActivePlan: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fitness.ActivePlan: %w", err)
	}
	return p, nil
}

func (s *SQLiteService) ActivatePlan(ctx context.Context, userID, planID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fitness.ActivatePlan: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixMicro()
	if _, err := tx.ExecContext(ctx,
		`UPDATE workout_plans SET status = ?, updated_at = ? WHERE user_id = ? AND status = ? AND id != ?`,
		string(PlanArchived), now, userID, string(PlanActive), planID); err != nil {
		return fmt.Errorf("fitness.ActivatePlan: archive: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE workout_plans SET status = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		string(PlanActive), now, userID, planID)
	if err != nil {
		return fmt.Errorf("fitness.ActivatePlan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fitness.ActivatePlan: %w", ErrNotFound)
	}
	return tx.Commit()
}
