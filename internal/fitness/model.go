// Package fitness is the coaching domain service: profiles, goals, logged
// exercises and workout plans. The agent's tools and data sources call it;
// it knows nothing about sessions or models.
package fitness

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("fitness: not found")
	ErrInvalid  = errors.New("fitness: invalid input")
)

type Profile struct {
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	AgeYears        int       `json:"age_years,omitempty"`
	HeightCM        float64   `json:"height_cm,omitempty"`
	WeightKG        float64   `json:"weight_kg,omitempty"`
	ExperienceLevel string    `json:"experience_level,omitempty"` // beginner | intermediate | advanced
	Equipment       []string  `json:"equipment,omitempty"`
	Injuries        []string  `json:"injuries,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Goal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Description string     `json:"description"`
	TargetDate  *time.Time `json:"target_date,omitempty"`
	Status      string     `json:"status"` // active | achieved | dropped
	CreatedAt   time.Time  `json:"created_at"`
}

type ExerciseLog struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Exercise    string    `json:"exercise"`
	Sets        int       `json:"sets"`
	Reps        int       `json:"reps"`
	WeightKG    *float64  `json:"weight_kg,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

// Volume is sets x reps x load; bodyweight sets count as load 1.
func (l ExerciseLog) Volume() float64 {
	load := 1.0
	if l.WeightKG != nil && *l.WeightKG > 0 {
		load = *l.WeightKG
	}
	return float64(l.Sets*l.Reps) * load
}

// ExerciseSummary aggregates every log of one exercise.
type ExerciseSummary struct {
	Exercise      string    `json:"exercise"`
	Sessions      int       `json:"sessions"`
	TotalSets     int       `json:"total_sets"`
	BestWeightKG  float64   `json:"best_weight_kg,omitempty"`
	LastPerformed time.Time `json:"last_performed"`
}

type PlanStatus string

const (
	PlanDraft    PlanStatus = "draft"
	PlanActive   PlanStatus = "active"
	PlanArchived PlanStatus = "archived"
)

type PlannedExercise struct {
	Name        string `json:"name"`
	Sets        int    `json:"sets"`
	Reps        int    `json:"reps"`
	RestSeconds int    `json:"rest_seconds"`
	Notes       string `json:"notes,omitempty"`
}

type WorkoutPlan struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Focus           string            `json:"focus"`
	DurationMinutes int               `json:"duration_minutes"`
	Equipment       []string          `json:"equipment,omitempty"`
	Exercises       []PlannedExercise `json:"exercises"`
	Status          PlanStatus        `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Service is the domain API used by tools and data sources.
type Service interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error

	ListGoals(ctx context.Context, userID string) ([]Goal, error)
	AddGoal(ctx context.Context, g Goal) (Goal, error)

	LogExercise(ctx context.Context, l ExerciseLog) (ExerciseLog, error)
	RecentLogs(ctx context.Context, userID string, limit int) ([]ExerciseLog, error)
	ExerciseSummaries(ctx context.Context, userID string) ([]ExerciseSummary, error)

	SavePlan(ctx context.Context, p *WorkoutPlan) error
	GetPlan(ctx context.Context, userID, planID string) (*WorkoutPlan, error)
	ActivePlan(ctx context.Context, userID string) (*WorkoutPlan, error)
	// ActivatePlan marks planID active and archives the previously active plan.
	ActivatePlan(ctx context.Context, userID, planID string) error
}
