package engine

import (
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/spotter/internal/prompts"
)

// DefaultMaxIterations caps model calls per turn.
const DefaultMaxIterations = 8

// AgentConfig holds configuration for an agent instance.
type AgentConfig struct {
	Model         string
	SelectorModel string // cheap model for context selection; Model when empty

	MaxIterations     int
	MaxOutputTokens   int
	SelectorMaxTokens int
	Temperature       float32

	ModelTimeout time.Duration // per model call attempt
	ToolTimeout  time.Duration // per tool execution
	TurnLeaseTTL time.Duration // how long a crashed turn keeps the session locked

	Retry RetryPolicy

	PromptID      string
	PromptVersion prompts.PromptVersion // latest when empty
	CoachNotes    string                // appended to the coach instructions
}

// DefaultAgentConfig returns a default agent configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Model:             "claude-sonnet-4-5",
		SelectorModel:     "claude-haiku-4-5",
		MaxIterations:     DefaultMaxIterations,
		MaxOutputTokens:   4096,
		SelectorMaxTokens: 512,
		ModelTimeout:      90 * time.Second,
		ToolTimeout:       30 * time.Second,
		TurnLeaseTTL:      10 * time.Minute,
		Retry:             DefaultRetryPolicy(),
		PromptID:          prompts.CoachID,
	}
}

func (c AgentConfig) validate() error {
	if c.Model == "" {
		return fmt.Errorf("model not configured")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive")
	}
	if c.TurnLeaseTTL <= 0 {
		return fmt.Errorf("turn lease ttl must be positive")
	}
	return nil
}

func (c AgentConfig) selectorModel() string {
	if c.SelectorModel != "" {
		return c.SelectorModel
	}
	return c.Model
}
