package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is one continuous conversation for one user.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// CacheBoundarySequence is the last sequence known to be covered by the
	// provider's prompt cache. Only moves forward.
	CacheBoundarySequence int64     `json:"cache_boundary_sequence"`
	LastSequence          int64     `json:"last_sequence"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// EventType enumerates the kinds of entries in a session log.
type EventType string

const (
	EventUserMessage EventType = "user_message"
	EventKnowledge   EventType = "knowledge"
	EventArtifact    EventType = "artifact"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventUserMessage, EventKnowledge, EventArtifact, EventToolCall, EventToolResult:
		return true
	}
	return false
}

// Event is an immutable, sequence-numbered entry in a session log.
type Event struct {
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsHistorical reports whether the event is covered by the given cache boundary.
func (e Event) IsHistorical(boundary int64) bool {
	return e.Sequence <= boundary
}

type UserMessageData struct {
	Text string `json:"text"`
}

type KnowledgeData struct {
	Source        string `json:"source"`
	FormattedText string `json:"formatted_text"`
}

type ArtifactData struct {
	ArtifactID string `json:"artifact_id"`
	Type       string `json:"type"`
	Summary    string `json:"summary"`
}

type ToolCallData struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultData is the outcome of a tool call. Summary is the formatted
// result that is fed back to the model on later iterations.
type ToolResultData struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Result    json.RawMessage `json:"result,omitempty"`
	Success   bool            `json:"success"`
	Summary   string          `json:"summary"`
	Error     string          `json:"error,omitempty"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// UserMessage decodes the payload of a user_message event.
func (e Event) UserMessage() (UserMessageData, error) {
	var d UserMessageData
	return d, e.decode(EventUserMessage, &d)
}

// Knowledge decodes the payload of a knowledge event.
func (e Event) Knowledge() (KnowledgeData, error) {
	var d KnowledgeData
	return d, e.decode(EventKnowledge, &d)
}

// Artifact decodes the payload of an artifact event.
func (e Event) Artifact() (ArtifactData, error) {
	var d ArtifactData
	return d, e.decode(EventArtifact, &d)
}

// ToolCall decodes the payload of a tool_call event.
func (e Event) ToolCall() (ToolCallData, error) {
	var d ToolCallData
	return d, e.decode(EventToolCall, &d)
}

// ToolResult decodes the payload of a tool_result event.
func (e Event) ToolResult() (ToolResultData, error) {
	var d ToolResultData
	return d, e.decode(EventToolResult, &d)
}

func (e Event) decode(want EventType, v any) error {
	if e.Type != want {
		return fmt.Errorf("event %d is %s, not %s", e.Sequence, e.Type, want)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s event %d: %w", e.Type, e.Sequence, err)
	}
	return nil
}

// encodePayload checks that data matches the event type and returns its JSON.
func encodePayload(t EventType, data any) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, t)
	}

	switch d := data.(type) {
	case UserMessageData:
		if t != EventUserMessage {
			return nil, mismatch(t, data)
		}
		if d.Text == "" {
			return nil, fmt.Errorf("%w: empty user message", ErrInvalidEvent)
		}
	case KnowledgeData:
		if t != EventKnowledge {
			return nil, mismatch(t, data)
		}
		if d.Source == "" {
			return nil, fmt.Errorf("%w: knowledge without source", ErrInvalidEvent)
		}
	case ArtifactData:
		if t != EventArtifact {
			return nil, mismatch(t, data)
		}
	case ToolCallData:
		if t != EventToolCall {
			return nil, mismatch(t, data)
		}
		if d.CallID == "" || d.ToolName == "" {
			return nil, fmt.Errorf("%w: tool call needs call id and tool name", ErrInvalidEvent)
		}
	case ToolResultData:
		if t != EventToolResult {
			return nil, mismatch(t, data)
		}
		if d.CallID == "" {
			return nil, fmt.Errorf("%w: tool result without call id", ErrInvalidEvent)
		}
	case json.RawMessage:
		// pre-encoded payloads are trusted
		return d, nil
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidEvent, data)
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return b, nil
}

func mismatch(t EventType, data any) error {
	return fmt.Errorf("%w: %T cannot be stored as %s", ErrInvalidEvent, data, t)
}
