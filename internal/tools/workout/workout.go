// Package workout provides the coaching domain tools: logging exercises,
// generating plans and editing them.
package workout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/fitness"
	"github.com/ChamsBouzaiene/spotter/internal/session"
)

const (
	ToolLogExercise     = "log_exercise"
	ToolGenerateWorkout = "generate_workout"
	ToolModifyWorkout   = "modify_workout"
	ToolAddGoal         = "add_goal"
	ToolSearchExercises = "search_exercises"

	// ArtifactWorkoutPlan is the artifact type emitted for saved plans.
	ArtifactWorkoutPlan = "workout_plan"

	dateLayout = "2006-01-02"
)

var metadata = engine.ToolMetadata{Version: "1.0.0", Category: "workout"}

// LogExerciseParams defines the input for log_exercise.
type LogExerciseParams struct {
	Name     string   `json:"name"`
	Sets     int      `json:"sets"`
	Reps     int      `json:"reps"`
	WeightKG *float64 `json:"weight_kg,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// LogExerciseResult is the output of log_exercise.
type LogExerciseResult struct {
	ID       string   `json:"id"`
	Exercise string   `json:"exercise"`
	Sets     int      `json:"sets"`
	Reps     int      `json:"reps"`
	WeightKG *float64 `json:"weight_kg,omitempty"`
	Volume   float64  `json:"volume"`
}

func (LogExerciseResult) ToolName() string { return ToolLogExercise }

// NewLogExerciseTool creates the tool that records a completed exercise.
func NewLogExerciseTool(svc fitness.Service) engine.Tool {
	t := engine.NewTool(
		ToolLogExercise,
		`Record an exercise the user has completed. Use one call per exercise. Omit weight_kg for bodyweight work.`,
		`{"type":"object","properties":{
			"name":{"type":"string","minLength":1,"description":"Exercise name, e.g. pushup, back squat"},
			"sets":{"type":"integer","minimum":1,"maximum":50},
			"reps":{"type":"integer","minimum":1,"maximum":500,"description":"Reps per set"},
			"weight_kg":{"type":"number","minimum":0,"description":"Load per rep in kilograms"},
			"notes":{"type":"string"}
		},"required":["name","sets","reps"],"additionalProperties":false}`,
		func(ctx context.Context, tc engine.ToolContext, p LogExerciseParams) (LogExerciseResult, error) {
			log, err := svc.LogExercise(ctx, fitness.ExerciseLog{
				UserID:   tc.UserID,
				Exercise: p.Name,
				Sets:     p.Sets,
				Reps:     p.Reps,
				WeightKG: p.WeightKG,
				Notes:    strings.TrimSpace(p.Notes),
			})
			if err != nil {
				return LogExerciseResult{}, err
			}
			return LogExerciseResult{
				ID:       log.ID,
				Exercise: log.Exercise,
				Sets:     log.Sets,
				Reps:     log.Reps,
				WeightKG: log.WeightKG,
				Volume:   log.Volume(),
			}, nil
		},
		func(r LogExerciseResult) string {
			s := fmt.Sprintf("Logged %s %dx%d", r.Exercise, r.Sets, r.Reps)
			if r.WeightKG != nil {
				s += fmt.Sprintf(" at %gkg", *r.WeightKG)
			}
			return s + fmt.Sprintf(" (id %s)", r.ID)
		},
	)
	t.Metadata = metadata
	return t
}

// GenerateWorkoutParams defines the input for generate_workout.
type GenerateWorkoutParams struct {
	Focus           string   `json:"focus"`
	DurationMinutes int      `json:"duration_minutes"`
	Equipment       []string `json:"equipment,omitempty"`
}

// PlanResult is the output of generate_workout and modify_workout.
type PlanResult struct {
	tool    string
	PlanID  string                    `json:"plan_id"`
	Status  fitness.PlanStatus        `json:"status"`
	Focus   string                    `json:"focus"`
	Minutes int                       `json:"duration_minutes"`
	Plan    []fitness.PlannedExercise `json:"exercises"`
	Summary string                    `json:"summary"`
	Applied []string                  `json:"applied,omitempty"`
	Note    string                    `json:"note,omitempty"`
}

func (r PlanResult) ToolName() string { return r.tool }

func planResult(tool string, p *fitness.WorkoutPlan, applied []string) PlanResult {
	return PlanResult{
		tool:    tool,
		PlanID:  p.ID,
		Status:  p.Status,
		Focus:   p.Focus,
		Minutes: p.DurationMinutes,
		Plan:    p.Exercises,
		Summary: p.Summary(),
		Applied: applied,
	}
}

// NewGenerateWorkoutTool creates the tool that builds and saves a draft plan.
// The saved plan is recorded in the session as an artifact.
func NewGenerateWorkoutTool(svc fitness.Service) engine.Tool {
	schema := fmt.Sprintf(`{"type":"object","properties":{
			"focus":{"type":"string","enum":[%s]},
			"duration_minutes":{"type":"integer","minimum":10,"maximum":180},
			"equipment":{"type":"array","items":{"type":"string"},"description":"Available equipment, e.g. dumbbell, barbell, kettlebell, pullup_bar. Bodyweight is always available."}
		},"required":["focus","duration_minutes"],"additionalProperties":false}`, quoteAll(fitness.Focuses))

	t := engine.NewTool(
		ToolGenerateWorkout,
		`Create a new draft workout plan for the user. Returns the plan id; use modify_workout to adjust or activate it.`,
		schema,
		func(ctx context.Context, tc engine.ToolContext, p GenerateWorkoutParams) (PlanResult, error) {
			exercises, err := fitness.GeneratePlan(p.Focus, p.DurationMinutes, p.Equipment)
			if err != nil {
				return PlanResult{}, err
			}
			plan := &fitness.WorkoutPlan{
				UserID:          tc.UserID,
				Focus:           strings.ToLower(strings.TrimSpace(p.Focus)),
				DurationMinutes: p.DurationMinutes,
				Equipment:       p.Equipment,
				Exercises:       exercises,
				Status:          fitness.PlanDraft,
			}
			if err := svc.SavePlan(ctx, plan); err != nil {
				return PlanResult{}, err
			}
			res := planResult(ToolGenerateWorkout, plan, nil)
			res.Note = emitPlan(ctx, tc, plan)
			return res, nil
		},
		formatPlan,
	)
	t.Metadata = metadata
	return t
}

// PlanChange is one edit applied by modify_workout.
type PlanChange struct {
	Op              string  `json:"op"`
	Exercise        string  `json:"exercise,omitempty"`
	Sets            *int    `json:"sets,omitempty"`
	Reps            *int    `json:"reps,omitempty"`
	RestSeconds     *int    `json:"rest_seconds,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

const (
	OpAddExercise    = "add_exercise"
	OpRemoveExercise = "remove_exercise"
	OpUpdateExercise = "update_exercise"
	OpSetDuration    = "set_duration"
	OpActivate       = "activate"
)

// ModifyWorkoutParams defines the input for modify_workout.
type ModifyWorkoutParams struct {
	PlanID  string       `json:"plan_id"`
	Changes []PlanChange `json:"changes"`
}

// NewModifyWorkoutTool creates the tool that edits a saved plan.
func NewModifyWorkoutTool(svc fitness.Service) engine.Tool {
	t := engine.NewTool(
		ToolModifyWorkout,
		`Edit one of the user's saved workout plans. Changes are applied in order and saved together; if any change is invalid nothing is saved.

Ops:
- add_exercise: exercise, sets, reps, optional rest_seconds and notes
- remove_exercise: exercise
- update_exercise: exercise plus any of sets, reps, rest_seconds, notes
- set_duration: duration_minutes
- activate: make this the user's active plan`,
		`{"type":"object","properties":{
			"plan_id":{"type":"string","minLength":1},
			"changes":{"type":"array","minItems":1,"items":{"type":"object","properties":{
				"op":{"type":"string","enum":["add_exercise","remove_exercise","update_exercise","set_duration","activate"]},
				"exercise":{"type":"string"},
				"sets":{"type":"integer","minimum":1,"maximum":50},
				"reps":{"type":"integer","minimum":1,"maximum":500},
				"rest_seconds":{"type":"integer","minimum":0,"maximum":600},
				"notes":{"type":"string"},
				"duration_minutes":{"type":"integer","minimum":10,"maximum":180}
			},"required":["op"],"additionalProperties":false}}
		},"required":["plan_id","changes"],"additionalProperties":false}`,
		func(ctx context.Context, tc engine.ToolContext, p ModifyWorkoutParams) (PlanResult, error) {
			plan, err := svc.GetPlan(ctx, tc.UserID, p.PlanID)
			if err != nil {
				return PlanResult{}, err
			}
			activate, applied, err := ApplyChanges(plan, p.Changes)
			if err != nil {
				return PlanResult{}, err
			}
			if err := svc.SavePlan(ctx, plan); err != nil {
				return PlanResult{}, err
			}
			if activate {
				if err := svc.ActivatePlan(ctx, tc.UserID, plan.ID); err != nil {
					return PlanResult{}, err
				}
				plan.Status = fitness.PlanActive
			}
			res := planResult(ToolModifyWorkout, plan, applied)
			res.Note = emitPlan(ctx, tc, plan)
			return res, nil
		},
		formatPlan,
	)
	t.Metadata = metadata
	return t
}

// ApplyChanges edits plan in place and reports whether the plan should be
// activated. On error the plan may be partially modified and must not be
// saved.
func ApplyChanges(plan *fitness.WorkoutPlan, changes []PlanChange) (bool, []string, error) {
	var (
		activate bool
		applied  []string
	)
	for i, c := range changes {
		name := strings.ToLower(strings.TrimSpace(c.Exercise))
		idx := indexOf(plan.Exercises, name)

		switch c.Op {
		case OpAddExercise:
			if name == "" || c.Sets == nil || c.Reps == nil {
				return false, nil, fmt.Errorf("%w: change %d: add_exercise needs exercise, sets and reps", fitness.ErrInvalid, i)
			}
			if idx >= 0 {
				return false, nil, fmt.Errorf("%w: change %d: %q is already in the plan", fitness.ErrInvalid, i, name)
			}
			ex := fitness.PlannedExercise{Name: name, Sets: *c.Sets, Reps: *c.Reps, RestSeconds: 60}
			if c.RestSeconds != nil {
				ex.RestSeconds = *c.RestSeconds
			}
			if c.Notes != nil {
				ex.Notes = *c.Notes
			}
			plan.Exercises = append(plan.Exercises, ex)
			applied = append(applied, "added "+name)

		case OpRemoveExercise:
			if idx < 0 {
				return false, nil, fmt.Errorf("%w: change %d: %q is not in the plan", fitness.ErrInvalid, i, c.Exercise)
			}
			if len(plan.Exercises) == 1 {
				return false, nil, fmt.Errorf("%w: change %d: cannot remove the last exercise", fitness.ErrInvalid, i)
			}
			plan.Exercises = append(plan.Exercises[:idx], plan.Exercises[idx+1:]...)
			applied = append(applied, "removed "+name)

		case OpUpdateExercise:
			if idx < 0 {
				return false, nil, fmt.Errorf("%w: change %d: %q is not in the plan", fitness.ErrInvalid, i, c.Exercise)
			}
			ex := &plan.Exercises[idx]
			if c.Sets != nil {
				ex.Sets = *c.Sets
			}
			if c.Reps != nil {
				ex.Reps = *c.Reps
			}
			if c.RestSeconds != nil {
				ex.RestSeconds = *c.RestSeconds
			}
			if c.Notes != nil {
				ex.Notes = *c.Notes
			}
			applied = append(applied, "updated "+name)

		case OpSetDuration:
			if c.DurationMinutes == nil {
				return false, nil, fmt.Errorf("%w: change %d: set_duration needs duration_minutes", fitness.ErrInvalid, i)
			}
			plan.DurationMinutes = *c.DurationMinutes
			applied = append(applied, fmt.Sprintf("duration %d min", plan.DurationMinutes))

		case OpActivate:
			activate = true
			applied = append(applied, "activated")

		default:
			return false, nil, fmt.Errorf("%w: change %d: unknown op %q", fitness.ErrInvalid, i, c.Op)
		}
	}
	return activate, applied, nil
}

func indexOf(exs []fitness.PlannedExercise, name string) int {
	for i, ex := range exs {
		if ex.Name == name {
			return i
		}
	}
	return -1
}

// GoalParams defines the input for add_goal.
type GoalParams struct {
	Description string `json:"description"`
	TargetDate  string `json:"target_date,omitempty"`
}

// GoalResult is the output of add_goal.
type GoalResult struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	TargetDate  string `json:"target_date,omitempty"`
}

func (GoalResult) ToolName() string { return ToolAddGoal }

// NewAddGoalTool creates the tool that records a training goal.
func NewAddGoalTool(svc fitness.Service) engine.Tool {
	t := engine.NewTool(
		ToolAddGoal,
		`Save a training goal the user has stated, e.g. "run 5k under 25 minutes". Pass target_date (YYYY-MM-DD) when the user names a deadline.`,
		`{"type":"object","properties":{
			"description":{"type":"string","minLength":3},
			"target_date":{"type":"string","format":"date","description":"Deadline as YYYY-MM-DD"}
		},"required":["description"],"additionalProperties":false}`,
		func(ctx context.Context, tc engine.ToolContext, p GoalParams) (GoalResult, error) {
			desc := strings.TrimSpace(p.Description)
			if desc == "" {
				return GoalResult{}, errors.New("description cannot be empty")
			}
			goal := fitness.Goal{UserID: tc.UserID, Description: desc}
			if p.TargetDate != "" {
				day, err := time.Parse(dateLayout, p.TargetDate)
				if err != nil {
					return GoalResult{}, fmt.Errorf("%w: target_date must be YYYY-MM-DD", fitness.ErrInvalid)
				}
				goal.TargetDate = &day
			}
			g, err := svc.AddGoal(ctx, goal)
			if err != nil {
				return GoalResult{}, err
			}
			res := GoalResult{ID: g.ID, Description: g.Description}
			if g.TargetDate != nil {
				res.TargetDate = g.TargetDate.Format(dateLayout)
			}
			return res, nil
		},
		func(r GoalResult) string {
			if r.TargetDate != "" {
				return fmt.Sprintf("Goal saved: %s (by %s)", r.Description, r.TargetDate)
			}
			return "Goal saved: " + r.Description
		},
	)
	t.Metadata = metadata
	return t
}

// SearchParams defines the input for search_exercises.
type SearchParams struct {
	Query     string   `json:"query,omitempty"`
	Focus     string   `json:"focus,omitempty"`
	Equipment []string `json:"equipment,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// SearchResult is the output of search_exercises.
type SearchResult struct {
	Hits []fitness.CatalogHit `json:"hits"`
}

func (SearchResult) ToolName() string { return ToolSearchExercises }

// NewSearchExercisesTool creates the tool that looks up catalog exercises,
// e.g. to suggest a substitute before a modify_workout call.
func NewSearchExercisesTool(idx *fitness.CatalogIndex) engine.Tool {
	t := engine.NewTool(
		ToolSearchExercises,
		`Search the exercise catalog by name or muscle group. Use it to find substitutes or valid names before changing a plan.`,
		`{"type":"object","properties":{
			"query":{"type":"string","description":"Free text, e.g. row, squat, core"},
			"focus":{"type":"string","enum":["full_body","upper","lower","push","pull","core","conditioning"]},
			"equipment":{"type":"array","items":{"type":"string"},"description":"Only exercises possible with this equipment"},
			"limit":{"type":"integer","minimum":1,"maximum":20}
		},"additionalProperties":false}`,
		func(_ context.Context, _ engine.ToolContext, p SearchParams) (SearchResult, error) {
			hits, err := idx.Search(p.Query, p.Focus, p.Equipment, p.Limit)
			if err != nil {
				return SearchResult{}, err
			}
			return SearchResult{Hits: hits}, nil
		},
		func(r SearchResult) string {
			if len(r.Hits) == 0 {
				return "No matching exercises."
			}
			names := make([]string, len(r.Hits))
			for i, h := range r.Hits {
				names[i] = h.Exercise.Name
			}
			return "Found: " + strings.Join(names, ", ")
		},
	)
	t.Metadata = metadata
	return t
}

// Tools returns the domain tools backed by svc. search_exercises is added
// when idx is non-nil.
func Tools(svc fitness.Service, idx *fitness.CatalogIndex) []engine.Tool {
	list := []engine.Tool{
		NewLogExerciseTool(svc),
		NewGenerateWorkoutTool(svc),
		NewModifyWorkoutTool(svc),
		NewAddGoalTool(svc),
	}
	if idx != nil {
		list = append(list, NewSearchExercisesTool(idx))
	}
	return list
}

// emitPlan records the saved plan as a session artifact. The plan is already
// saved, so a failure is reported as a note on the result, not as an error.
func emitPlan(ctx context.Context, tc engine.ToolContext, p *fitness.WorkoutPlan) string {
	err := tc.EmitArtifact(ctx, session.ArtifactData{
		ArtifactID: p.ID,
		Type:       ArtifactWorkoutPlan,
		Summary:    p.Summary(),
	})
	if err != nil {
		return "plan saved, but not recorded in the session: " + err.Error()
	}
	return ""
}

func formatPlan(r PlanResult) string {
	s := fmt.Sprintf("Plan %s: %s", r.PlanID, r.Summary)
	if len(r.Applied) > 0 {
		s += " [" + strings.Join(r.Applied, ", ") + "]"
	}
	if r.Note != "" {
		s += " (" + r.Note + ")"
	}
	return s
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = `"` + s + `"`
	}
	return strings.Join(q, ",")
}
