package fitness

import (
	"fmt"
	"slices"
	"strings"
)

// CatalogExercise is an exercise the plan generator can choose from.
type CatalogExercise struct {
	Name      string   `json:"name"`
	Focus     []string `json:"focus"`
	Equipment string   `json:"equipment"` // "" means bodyweight
	Minutes   int      `json:"minutes"`   // rough time for the default prescription
	Sets      int      `json:"sets"`
	Reps      int      `json:"reps"`
}

// Focus areas accepted by GeneratePlan.
var Focuses = []string{"full_body", "upper", "lower", "push", "pull", "core", "conditioning"}

var catalog = []CatalogExercise{
	{Name: "squat", Focus: []string{"lower", "full_body"}, Equipment: "barbell", Minutes: 10, Sets: 4, Reps: 6},
	{Name: "goblet squat", Focus: []string{"lower", "full_body"}, Equipment: "dumbbell", Minutes: 8, Sets: 3, Reps: 10},
	{Name: "bodyweight squat", Focus: []string{"lower", "full_body", "conditioning"}, Minutes: 5, Sets: 3, Reps: 15},
	{Name: "romanian deadlift", Focus: []string{"lower", "pull", "full_body"}, Equipment: "barbell", Minutes: 9, Sets: 3, Reps: 8},
	{Name: "lunge", Focus: []string{"lower"}, Minutes: 6, Sets: 3, Reps: 10},
	{Name: "glute bridge", Focus: []string{"lower", "core"}, Minutes: 5, Sets: 3, Reps: 12},
	{Name: "bench press", Focus: []string{"upper", "push", "full_body"}, Equipment: "barbell", Minutes: 10, Sets: 4, Reps: 6},
	{Name: "dumbbell press", Focus: []string{"upper", "push"}, Equipment: "dumbbell", Minutes: 8, Sets: 3, Reps: 10},
	{Name: "pushup", Focus: []string{"upper", "push", "full_body", "conditioning"}, Minutes: 5, Sets: 3, Reps: 12},
	{Name: "overhead press", Focus: []string{"upper", "push"}, Equipment: "barbell", Minutes: 8, Sets: 3, Reps: 8},
	{Name: "pullup", Focus: []string{"upper", "pull", "full_body"}, Equipment: "pullup_bar", Minutes: 7, Sets: 3, Reps: 8},
	{Name: "dumbbell row", Focus: []string{"upper", "pull"}, Equipment: "dumbbell", Minutes: 7, Sets: 3, Reps: 10},
	{Name: "inverted row", Focus: []string{"upper", "pull"}, Minutes: 6, Sets: 3, Reps: 10},
	{Name: "plank", Focus: []string{"core", "full_body"}, Minutes: 4, Sets: 3, Reps: 1},
	{Name: "dead bug", Focus: []string{"core"}, Minutes: 4, Sets: 3, Reps: 10},
	{Name: "hanging knee raise", Focus: []string{"core"}, Equipment: "pullup_bar", Minutes: 5, Sets: 3, Reps: 12},
	{Name: "burpee", Focus: []string{"conditioning", "full_body"}, Minutes: 5, Sets: 4, Reps: 10},
	{Name: "jump rope", Focus: []string{"conditioning"}, Equipment: "jump_rope", Minutes: 6, Sets: 5, Reps: 60},
	{Name: "mountain climber", Focus: []string{"conditioning", "core"}, Minutes: 4, Sets: 3, Reps: 20},
}

// Catalog returns the exercises the generator knows.
func Catalog() []CatalogExercise {
	return slices.Clone(catalog)
}

// GeneratePlan picks exercises for focus that fit the available equipment
// and the time budget. Bodyweight exercises are always available. The result
// is deterministic for the same inputs.
func GeneratePlan(focus string, durationMinutes int, equipment []string) ([]PlannedExercise, error) {
	focus = strings.ToLower(strings.TrimSpace(focus))
	if !slices.Contains(Focuses, focus) {
		return nil, fmt.Errorf("%w: unknown focus %q (want one of %s)", ErrInvalid, focus, strings.Join(Focuses, ", "))
	}
	if durationMinutes < 10 || durationMinutes > 180 {
		return nil, fmt.Errorf("%w: duration %d outside 10-180 minutes", ErrInvalid, durationMinutes)
	}

	have := make(map[string]bool, len(equipment))
	for _, e := range equipment {
		have[normalizeEquipment(e)] = true
	}

	budget := durationMinutes - 5 // warm-up
	var plan []PlannedExercise
	for _, ex := range catalog {
		if !slices.Contains(ex.Focus, focus) {
			continue
		}
		if ex.Equipment != "" && !have[ex.Equipment] {
			continue
		}
		if ex.Minutes > budget {
			continue
		}
		budget -= ex.Minutes
		plan = append(plan, PlannedExercise{
			Name:        ex.Name,
			Sets:        ex.Sets,
			Reps:        ex.Reps,
			RestSeconds: restFor(ex),
		})
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: no %s exercises fit %d minutes with the given equipment", ErrInvalid, focus, durationMinutes)
	}
	return plan, nil
}

func restFor(ex CatalogExercise) int {
	switch {
	case ex.Reps <= 6:
		return 150
	case ex.Equipment == "":
		return 45
	default:
		return 90
	}
}

func normalizeEquipment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "dumbbells":
		return "dumbbell"
	case "barbells":
		return "barbell"
	case "pull_up_bar", "pullupbar":
		return "pullup_bar"
	}
	return s
}

// Summary is a one-paragraph description of a plan, used as its artifact
// summary.
func (p *WorkoutPlan) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s workout (%s), %d min: ", strings.ReplaceAll(p.Focus, "_", " "), p.Status, p.DurationMinutes)
	for i, ex := range p.Exercises {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %dx%d", ex.Name, ex.Sets, ex.Reps)
	}
	return b.String()
}
