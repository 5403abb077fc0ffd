package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/spotter/internal/fitness"
)

// Source names of the coaching catalog.
const (
	TrainingGoals   = "training_goals"
	RecentWorkouts  = "recent_workouts"
	ExerciseHistory = "exercise_history"
	ActivePlan      = "active_plan"
	ExerciseCatalog = "exercise_catalog"
)

// CoachingSources returns the data sources backed by svc.
func CoachingSources(svc fitness.Service) []Source {
	return []Source{
		{
			Name:        TrainingGoals,
			Description: "The user's stated training goals and target dates.",
			Fetch: func(ctx context.Context, userID string, _ map[string]any) (any, error) {
				return svc.ListGoals(ctx, userID)
			},
			Format: typed(formatGoals),
		},
		{
			Name:        RecentWorkouts,
			Description: "The most recently logged exercise sets, newest first.",
			Fetch: func(ctx context.Context, userID string, params map[string]any) (any, error) {
				return svc.RecentLogs(ctx, userID, intParam(params, "limit", 20))
			},
			Format: typed(formatLogs),
		},
		{
			Name:        ExerciseHistory,
			Description: "Per-exercise totals and personal bests across all logged training.",
			Fetch: func(ctx context.Context, userID string, _ map[string]any) (any, error) {
				return svc.ExerciseSummaries(ctx, userID)
			},
			Format: typed(formatSummaries),
		},
		{
			Name:        ActivePlan,
			Description: "The workout plan the user is currently following.",
			Fetch: func(ctx context.Context, userID string, _ map[string]any) (any, error) {
				p, err := svc.ActivePlan(ctx, userID)
				if errors.Is(err, fitness.ErrNotFound) {
					return (*fitness.WorkoutPlan)(nil), nil
				}
				return p, err
			},
			Format: typed(formatPlan),
		},
		{
			Name:        ExerciseCatalog,
			Description: "Exercises available for generated workouts, with focus areas and required equipment.",
			Fetch: func(context.Context, string, map[string]any) (any, error) {
				return fitness.Catalog(), nil
			},
			Format: typed(formatCatalog),
		},
	}
}

// typed adapts a formatter for a concrete raw type.
func typed[T any](fn func(T) string) FormatFunc {
	return func(raw any) (string, error) {
		v, ok := raw.(T)
		if !ok {
			var zero T
			return "", fmt.Errorf("expected %T, got %T", zero, raw)
		}
		return fn(v), nil
	}
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func formatGoals(goals []fitness.Goal) string {
	if len(goals) == 0 {
		return "No training goals recorded."
	}
	var b strings.Builder
	for _, g := range goals {
		fmt.Fprintf(&b, "- %s [%s]", g.Description, g.Status)
		if g.TargetDate != nil {
			fmt.Fprintf(&b, " by %s", g.TargetDate.Format("2006-01-02"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLogs(logs []fitness.ExerciseLog) string {
	if len(logs) == 0 {
		return "No exercises logged yet."
	}
	var b strings.Builder
	for _, l := range logs {
		fmt.Fprintf(&b, "- %s %s %dx%d", l.PerformedAt.Format("2006-01-02"), l.Exercise, l.Sets, l.Reps)
		if l.WeightKG != nil {
			fmt.Fprintf(&b, " @ %gkg", *l.WeightKG)
		}
		if l.Notes != "" {
			fmt.Fprintf(&b, " (%s)", l.Notes)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSummaries(sums []fitness.ExerciseSummary) string {
	if len(sums) == 0 {
		return "No exercise history."
	}
	var b strings.Builder
	for _, s := range sums {
		fmt.Fprintf(&b, "- %s: %d sessions, %d sets", s.Exercise, s.Sessions, s.TotalSets)
		if s.BestWeightKG > 0 {
			fmt.Fprintf(&b, ", best %gkg", s.BestWeightKG)
		}
		fmt.Fprintf(&b, ", last %s\n", s.LastPerformed.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPlan(p *fitness.WorkoutPlan) string {
	if p == nil {
		return "No active workout plan."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s: %s, %d minutes\n", p.ID, p.Focus, p.DurationMinutes)
	for _, ex := range p.Exercises {
		fmt.Fprintf(&b, "- %s %dx%d, rest %ds", ex.Name, ex.Sets, ex.Reps, ex.RestSeconds)
		if ex.Notes != "" {
			fmt.Fprintf(&b, " (%s)", ex.Notes)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCatalog(exs []fitness.CatalogExercise) string {
	var b strings.Builder
	for _, ex := range exs {
		equipment := ex.Equipment
		if equipment == "" {
			equipment = "bodyweight"
		}
		fmt.Fprintf(&b, "- %s (%s; %s)\n", ex.Name, strings.Join(ex.Focus, ", "), equipment)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ProfileSnapshot renders the slow-changing profile that is sent as its own
// system block on every call.
type ProfileSnapshot struct {
	svc fitness.Service
}

func NewProfileSnapshot(svc fitness.Service) *ProfileSnapshot {
	return &ProfileSnapshot{svc: svc}
}

// ProfileSnapshot returns "" when the user has no profile. The output only
// depends on stored fields so it stays byte-identical between calls.
func (p *ProfileSnapshot) ProfileSnapshot(ctx context.Context, userID string) (string, error) {
	prof, err := p.svc.GetProfile(ctx, userID)
	if errors.Is(err, fitness.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return FormatProfile(prof), nil
}

func FormatProfile(p *fitness.Profile) string {
	var b strings.Builder
	b.WriteString("<user_profile>\n")
	if p.Name != "" {
		fmt.Fprintf(&b, "name: %s\n", p.Name)
	}
	if p.AgeYears > 0 {
		fmt.Fprintf(&b, "age: %d\n", p.AgeYears)
	}
	if p.HeightCM > 0 {
		fmt.Fprintf(&b, "height_cm: %g\n", p.HeightCM)
	}
	if p.WeightKG > 0 {
		fmt.Fprintf(&b, "weight_kg: %g\n", p.WeightKG)
	}
	if p.ExperienceLevel != "" {
		fmt.Fprintf(&b, "experience: %s\n", p.ExperienceLevel)
	}
	if len(p.Equipment) > 0 {
		fmt.Fprintf(&b, "equipment: %s\n", strings.Join(p.Equipment, ", "))
	}
	if len(p.Injuries) > 0 {
		fmt.Fprintf(&b, "injuries: %s\n", strings.Join(p.Injuries, ", "))
	}
	b.WriteString("</user_profile>")
	return b.String()
}
