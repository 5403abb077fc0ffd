// Package control provides the tools the coach uses to talk to the user and
// to end its turn.
package control

import (
	"context"
	"errors"
	"strings"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

// NotifyParams defines the input for the notify tool.
type NotifyParams struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// NotifyResult is the output of the notify tool.
type NotifyResult struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

func (NotifyResult) ToolName() string { return engine.ToolNotify }

// AskUserParams defines the input for the ask_user tool.
type AskUserParams struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// AskUserResult is the output of the ask_user tool.
type AskUserResult struct {
	Status   string   `json:"status"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

func (AskUserResult) ToolName() string { return engine.ToolAskUser }

// IdleParams defines the input for the idle tool.
type IdleParams struct {
	Reason string `json:"reason"`
}

// IdleResult is the output of the idle tool.
type IdleResult struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (IdleResult) ToolName() string { return engine.ToolIdle }

// NewNotifyTool creates the tool that sends a message without ending the turn.
func NewNotifyTool() engine.Tool {
	t := engine.NewTool(
		engine.ToolNotify,
		`Send a short message to the user and keep working. Use it to confirm what you logged, share a tip, or report progress. Does NOT end your turn.`,
		`{"type":"object","properties":{"message":{"type":"string","minLength":1,"description":"What to tell the user"},"level":{"type":"string","enum":["info","tip","warning"],"description":"Optional tone of the message; defaults to info"}},"required":["message"],"additionalProperties":false}`,
		func(_ context.Context, _ engine.ToolContext, p NotifyParams) (NotifyResult, error) {
			msg := strings.TrimSpace(p.Message)
			if msg == "" {
				return NotifyResult{}, errors.New("message cannot be empty")
			}
			level := p.Level
			if level == "" {
				level = "info"
			}
			return NotifyResult{Message: msg, Level: level}, nil
		},
		func(r NotifyResult) string { return r.Message },
	)
	t.Metadata = engine.ToolMetadata{Version: "1.0.0", Category: "control", Tags: []string{"communication"}}
	return t
}

// NewAskUserTool creates the tool that asks a question and ends the turn
// until the user answers.
func NewAskUserTool() engine.Tool {
	t := engine.NewTool(
		engine.ToolAskUser,
		`Ask the user a question you need answered before continuing. Offer up to 6 short options when the answer is a choice. This ENDS your turn.`,
		`{"type":"object","properties":{"question":{"type":"string","minLength":1,"description":"The question to ask"},"options":{"type":"array","items":{"type":"string","minLength":1},"maxItems":6,"description":"Optional suggested answers"}},"required":["question"],"additionalProperties":false}`,
		func(_ context.Context, _ engine.ToolContext, p AskUserParams) (AskUserResult, error) {
			q := strings.TrimSpace(p.Question)
			if q == "" {
				return AskUserResult{}, errors.New("question cannot be empty")
			}
			return AskUserResult{Status: "awaiting_user", Question: q, Options: p.Options}, nil
		},
		func(r AskUserResult) string {
			if len(r.Options) == 0 {
				return r.Question
			}
			return r.Question + "\nOptions: " + strings.Join(r.Options, " | ")
		},
	)
	t.Terminal = engine.StateAwaitingUser
	t.Metadata = engine.ToolMetadata{Version: "1.0.0", Category: "control", Tags: []string{"communication", "terminal"}}
	return t
}

// NewIdleTool creates the tool that marks the request as handled.
func NewIdleTool() engine.Tool {
	t := engine.NewTool(
		engine.ToolIdle,
		`Signal that the user's message is fully handled and nothing else needs doing. This ENDS your turn. Tell the user anything important with notify first.`,
		`{"type":"object","properties":{"reason":{"type":"string","description":"One sentence on why the turn is complete"}},"required":["reason"],"additionalProperties":false}`,
		func(_ context.Context, _ engine.ToolContext, p IdleParams) (IdleResult, error) {
			return IdleResult{Status: "complete", Reason: strings.TrimSpace(p.Reason)}, nil
		},
		func(r IdleResult) string {
			if r.Reason == "" {
				return "Turn complete."
			}
			return "Turn complete: " + r.Reason
		},
	)
	t.Terminal = engine.StateIdle
	t.Metadata = engine.ToolMetadata{Version: "1.0.0", Category: "control", Tags: []string{"terminal"}}
	return t
}

// Tools returns the three control tools in their registration order.
func Tools() []engine.Tool {
	return []engine.Tool{NewNotifyTool(), NewAskUserTool(), NewIdleTool()}
}
