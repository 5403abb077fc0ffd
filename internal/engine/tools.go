package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// Control tool names. Every agent registers ask_user and idle so a turn can
// always end.
const (
	ToolNotify  = "notify"
	ToolAskUser = "ask_user"
	ToolIdle    = "idle"
)

// ToolOutput is the result of a tool execution. Each tool declares its own
// concrete result type; ToolName is the discriminator.
type ToolOutput interface {
	ToolName() string
}

// ToolContext carries per-call state into a tool. Tools hold no session
// state of their own.
type ToolContext struct {
	SessionID string
	UserID    string
	CallID    string

	artifacts func(ctx context.Context, a session.ArtifactData) error
}

// NewToolContext builds a ToolContext whose artifacts are passed to sink.
func NewToolContext(sessionID, userID, callID string, sink func(context.Context, session.ArtifactData) error) ToolContext {
	return ToolContext{SessionID: sessionID, UserID: userID, CallID: callID, artifacts: sink}
}

// EmitArtifact records a durable work product produced by the running tool.
func (tc ToolContext) EmitArtifact(ctx context.Context, a session.ArtifactData) error {
	if tc.artifacts == nil {
		return errors.New("artifacts not supported in this context")
	}
	return tc.artifacts(ctx, a)
}

type ToolFunc func(ctx context.Context, tc ToolContext, args json.RawMessage) (ToolOutput, error)

// ToolMetadata provides versioning and categorization for tools.
type ToolMetadata struct {
	Version  string   // e.g., "1.0.0"
	Category string   // e.g., "control", "workout"
	Tags     []string // e.g., ["read-only", "idempotent"]
}

type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	Format      func(ToolOutput) string
	// Terminal is the turn state a successful call ends in: StateIdle or
	// StateAwaitingUser. Empty for tools after which the loop continues.
	Terminal TurnState
	Metadata ToolMetadata
}

// NewTool builds a Tool whose arguments decode into A and whose result is R.
func NewTool[A any, R ToolOutput](
	name, description, schema string,
	fn func(ctx context.Context, tc ToolContext, args A) (R, error),
	format func(R) string,
) Tool {
	t := Tool{
		Name:        name,
		Description: description,
		SchemaJSON:  schema,
		Fn: func(ctx context.Context, tc ToolContext, raw json.RawMessage) (ToolOutput, error) {
			var args A
			if err := json.Unmarshal(normalizeArgs(raw), &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
			return fn(ctx, tc, args)
		},
	}
	if format != nil {
		t.Format = func(out ToolOutput) string {
			r, ok := out.(R)
			if !ok {
				return fmt.Sprintf("%s: unexpected result %T", name, out)
			}
			return format(r)
		}
	}
	return t
}

func normalizeArgs(raw json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args json.RawMessage) error {
	if !json.Valid(normalizeArgs(args)) {
		return &ToolValidationError{ToolName: t.Name, Errors: []string{"arguments are not valid JSON"}}
	}

	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(normalizeArgs(args))

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolValidationError{
			ToolName: t.Name,
			Errors:   errorMsgs,
		}
	}

	return nil
}

// FormatResult renders a tool output for the model and the UI.
func (t Tool) FormatResult(out ToolOutput) string {
	if t.Format == nil {
		b, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%s completed", t.Name)
		}
		return string(b)
	}
	return t.Format(out)
}

// ToolRegistry is the fixed set of tools an agent may call. It is built once
// and never mutated, so it can be shared across turns and sessions.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry registers tools in order. Duplicate or incomplete tools
// are rejected.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("tool name is empty")
		}
		if t.Fn == nil {
			return nil, fmt.Errorf("tool %q has no function", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(t.SchemaJSON)); err != nil {
			return nil, fmt.Errorf("tool %q has invalid schema: %w", t.Name, err)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *ToolRegistry) Len() int { return len(r.order) }

// Require reports an error naming every tool that is not registered.
func (r *ToolRegistry) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tools not registered: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Schemas returns tool definitions in registration order. The order is
// stable so the definition list stays byte-identical between calls, and the
// last entry carries the cache breakpoint.
func (r *ToolRegistry) Schemas() []ToolSchema {
	s := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		s = append(s, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	if len(s) > 0 {
		s[len(s)-1].CacheBreakpoint = true
	}
	return s
}
