package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ChamsBouzaiene/spotter/internal/datasource"
	"github.com/ChamsBouzaiene/spotter/internal/session"
)

const selectToolName = "select_context"

// selectionSchema checks the structure of the selector's answer. Names are
// checked against the catalog separately so an unknown one is dropped
// instead of failing the whole answer.
const selectionSchema = `{
	"type": "object",
	"properties": {
		"sources": {"type": "array", "items": {"type": "string"}},
		"reason": {"type": "string"}
	},
	"required": ["sources", "reason"]
}`

// KnowledgeSources is the catalog the selector chooses from.
type KnowledgeSources interface {
	Catalog() []datasource.Descriptor
	Fetch(ctx context.Context, name, userID string, params map[string]any) (any, error)
	Format(name string, raw any) (string, error)
}

// SelectionReport describes what the selector did this turn.
type SelectionReport struct {
	Requested []string           `json:"requested,omitempty"` // names the model asked for
	Injected  []string           `json:"injected,omitempty"`  // sources appended as knowledge
	Dropped   []string           `json:"dropped,omitempty"`   // names outside the catalog
	Failed    []*DataSourceError `json:"failed,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Skipped   bool               `json:"skipped,omitempty"` // every source already loaded
	ModelErr  string             `json:"model_error,omitempty"`
	Usage     Usage              `json:"usage"`

	// Events are the knowledge events appended, in order.
	Events []session.Event `json:"-"`
}

// Initializer decides, once per turn, which additional data sources the
// coach needs and loads them into the session as knowledge events.
type Initializer struct {
	llm          LLMClient
	model        string
	maxTokens    int
	instructions string
	sources      KnowledgeSources
	store        session.Store
	policy       RetryPolicy
	timeout      time.Duration
}

// InjectedSources returns the names already present as knowledge events.
func InjectedSources(events []session.Event) map[string]bool {
	injected := make(map[string]bool)
	for _, ev := range events {
		if ev.Type != session.EventKnowledge {
			continue
		}
		if d, err := ev.Knowledge(); err == nil {
			injected[d.Source] = true
		}
	}
	return injected
}

// Select runs the selector for userMessage. Knowledge events are appended
// under the turn lease held by owner. Model failures and fetch failures are
// recorded in the report; only a store failure is returned.
func (in *Initializer) Select(ctx context.Context, sess *session.Session, owner, userMessage string, events []session.Event) (SelectionReport, error) {
	var report SelectionReport

	injected := InjectedSources(events)
	catalog := in.sources.Catalog()
	known := make(map[string]bool, len(catalog))
	var candidates []datasource.Descriptor
	for _, d := range catalog {
		known[d.Name] = true
		if !injected[d.Name] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		report.Skipped = true
		return report, nil
	}

	names, reason, usage, err := in.ask(ctx, userMessage, catalog, injected)
	report.Usage = usage
	if err != nil {
		report.ModelErr = err.Error()
		return report, nil
	}
	report.Reason = reason

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		report.Requested = append(report.Requested, name)

		switch {
		case !known[name]:
			report.Dropped = append(report.Dropped, name)
			continue
		case injected[name]:
			continue
		}

		text, err := in.load(ctx, name, sess.UserID)
		if err != nil {
			report.Failed = append(report.Failed, &DataSourceError{Source: name, Err: err})
			continue
		}
		ev, err := in.store.AppendTurnEvent(ctx, sess.ID, owner, session.EventKnowledge, session.KnowledgeData{
			Source:        name,
			FormattedText: text,
		})
		if err != nil {
			return report, fmt.Errorf("append knowledge %s: %w", name, err)
		}
		injected[name] = true
		report.Injected = append(report.Injected, name)
		report.Events = append(report.Events, ev)
	}
	return report, nil
}

func (in *Initializer) load(ctx context.Context, name, userID string) (string, error) {
	raw, err := in.sources.Fetch(ctx, name, userID, nil)
	if err != nil {
		return "", err
	}
	return in.sources.Format(name, raw)
}

func (in *Initializer) ask(ctx context.Context, userMessage string, catalog []datasource.Descriptor, injected map[string]bool) ([]string, string, Usage, error) {
	req := ChatRequest{
		Model:           in.model,
		System:          []SystemBlock{{Text: in.instructions}},
		Messages:        []ChatMessage{{Role: RoleUser, Content: []ContentBlock{TextBlock(selectorPrompt(userMessage, catalog, injected))}}},
		Tools:           []ToolSchema{selectToolSchema(catalog)},
		ToolChoice:      ToolChoice{Type: ToolChoiceTool, Name: selectToolName},
		MaxOutputTokens: in.maxTokens,
	}

	resp, err := RetryLLMCall(ctx, in.policy, in.llm, req, in.timeout, nil)
	if err != nil {
		return nil, "", Usage{}, err
	}

	idx := slices.IndexFunc(resp.ToolCalls, func(c ToolCall) bool { return c.Name == selectToolName })
	if idx < 0 {
		return nil, "", resp.Usage, errors.New("selector did not call " + selectToolName)
	}
	args := normalizeArgs(resp.ToolCalls[idx].Args)

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(selectionSchema), gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, "", resp.Usage, fmt.Errorf("validate selection: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, "", resp.Usage, fmt.Errorf("invalid selection: %s", strings.Join(msgs, "; "))
	}

	var sel struct {
		Sources []string `json:"sources"`
		Reason  string   `json:"reason"`
	}
	if err := json.Unmarshal(args, &sel); err != nil {
		return nil, "", resp.Usage, fmt.Errorf("decode selection: %w", err)
	}
	return sel.Sources, sel.Reason, resp.Usage, nil
}

func selectToolSchema(catalog []datasource.Descriptor) ToolSchema {
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sources": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string", "enum": names},
				"description": "Data sources to load for this message. Empty when nothing new is needed.",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "One short sentence explaining the choice.",
			},
		},
		"required": []string{"sources", "reason"},
	}
	b, _ := json.Marshal(schema)
	return ToolSchema{
		Name:        selectToolName,
		Description: "Choose which additional user data sources are needed to answer the message.",
		JSONSchema:  string(b),
	}
}

func selectorPrompt(userMessage string, catalog []datasource.Descriptor, injected map[string]bool) string {
	var b strings.Builder
	b.WriteString("Available data sources:\n")
	for _, d := range catalog {
		status := ""
		if injected[d.Name] {
			status = " (already loaded)"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", d.Name, status, d.Description)
	}
	b.WriteString("\nUser message:\n")
	b.WriteString(userMessage)
	return b.String()
}
