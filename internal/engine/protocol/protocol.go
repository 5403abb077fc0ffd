// Package protocol defines the JSON messages exchanged with live clients:
// commands sent over the websocket or stdin and events streamed back while
// a turn runs.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type CommandType string

const (
	CommandUserMessage   CommandType = "user_message"
	CommandCancelRequest CommandType = "cancel_request"
)

// Command is a decoded client command.
type Command interface {
	GetType() CommandType
}

// UserMessageCommand starts a turn on the connected session.
type UserMessageCommand struct {
	Type      CommandType `json:"type"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

func (UserMessageCommand) GetType() CommandType { return CommandUserMessage }

// CancelRequestCommand cancels the turn running on the connection.
type CancelRequestCommand struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

func (CancelRequestCommand) GetType() CommandType { return CommandCancelRequest }

var commandDecoders = map[CommandType]func([]byte) (Command, error){
	CommandUserMessage: func(data []byte) (Command, error) {
		cmd, err := unmarshal[UserMessageCommand](data)
		if err == nil && strings.TrimSpace(cmd.Message) == "" {
			err = errors.New("message is empty")
		}
		return cmd, err
	},
	CommandCancelRequest: func(data []byte) (Command, error) {
		return unmarshal[CancelRequestCommand](data)
	},
}

// DecodeCommand parses one client command.
func DecodeCommand(data []byte) (Command, error) {
	var head struct {
		Type CommandType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	decode, ok := commandDecoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown command type %q", head.Type)
	}
	cmd, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return cmd, nil
}

type EventType string

const (
	EventStatus     EventType = "status"
	EventTool       EventType = "tool_event"
	EventSessionLog EventType = "session_event"
	EventTokenUsage EventType = "token_usage"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
	GetSessionID() string
}

func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
}

func (eventBase) isEvent() {}

func (e eventBase) GetType() EventType { return e.Type }

func (e eventBase) GetSessionID() string { return e.SessionID }

// Scope identifies the turn an event belongs to and builds its events.
type Scope struct {
	SessionID string
	TurnID    string
}

func (s Scope) base(t EventType) eventBase {
	return eventBase{Type: t, SessionID: s.SessionID, TurnID: s.TurnID}
}

// StatusEvent reports a turn state transition.
type StatusEvent struct {
	eventBase
	From      string `json:"from,omitempty"`
	Status    string `json:"status"`
	Iteration int    `json:"iteration"`
}

func (s Scope) Status(from, to string, iteration int) StatusEvent {
	return StatusEvent{eventBase: s.base(EventStatus), From: from, Status: to, Iteration: iteration}
}

type ToolPhase string

const (
	PhaseStarted   ToolPhase = "started"
	PhaseCompleted ToolPhase = "completed"
)

// ToolEvent tracks one tool call. Success, Summary and DurationMs are set
// only once the call completed.
type ToolEvent struct {
	eventBase
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	Phase      ToolPhase `json:"phase"`
	Success    *bool     `json:"success,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

func (s Scope) ToolStarted(callID, tool string) ToolEvent {
	return ToolEvent{eventBase: s.base(EventTool), CallID: callID, Tool: tool, Phase: PhaseStarted}
}

func (s Scope) ToolCompleted(callID, tool string, success bool, summary string, durationMs int64) ToolEvent {
	return ToolEvent{
		eventBase:  s.base(EventTool),
		CallID:     callID,
		Tool:       tool,
		Phase:      PhaseCompleted,
		Success:    &success,
		Summary:    summary,
		DurationMs: durationMs,
	}
}

// SessionLogEvent mirrors an event appended to the session log.
type SessionLogEvent struct {
	eventBase
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

func (s Scope) SessionLog(sequence int64, eventType string, data json.RawMessage) SessionLogEvent {
	return SessionLogEvent{eventBase: s.base(EventSessionLog), Sequence: sequence, EventType: eventType, Data: data}
}

// TokenUsageEvent reports the tokens of one model call; TurnTotal is the
// running total of the turn.
type TokenUsageEvent struct {
	eventBase
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
	TurnTotal        int `json:"turn_total"`
}

func (s Scope) TokenUsage(prompt, completion, cacheRead, cacheWrite, turnTotal int) TokenUsageEvent {
	return TokenUsageEvent{
		eventBase:        s.base(EventTokenUsage),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		CacheReadTokens:  cacheRead,
		CacheWriteTokens: cacheWrite,
		TurnTotal:        turnTotal,
	}
}

// DoneEvent ends a turn.
type DoneEvent struct {
	eventBase
	Outcome    string `json:"outcome"`
	Iterations int    `json:"iterations"`
	Actions    int    `json:"actions"`
	Error      string `json:"error,omitempty"`
}

func (s Scope) Done(outcome string, iterations, actions int, errMsg string) DoneEvent {
	return DoneEvent{eventBase: s.base(EventDone), Outcome: outcome, Iterations: iterations, Actions: actions, Error: errMsg}
}

// ErrorEvent reports a problem outside a running turn, such as a malformed
// command.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func NewErrorEvent(sessionID, message, kind string) ErrorEvent {
	return ErrorEvent{eventBase: Scope{SessionID: sessionID}.base(EventError), Message: message, Kind: kind}
}

var eventDecoders = map[EventType]func([]byte) (Event, error){
	EventStatus:     decodeAs[StatusEvent],
	EventTool:       decodeAs[ToolEvent],
	EventSessionLog: decodeAs[SessionLogEvent],
	EventTokenUsage: decodeAs[TokenUsageEvent],
	EventDone:       decodeAs[DoneEvent],
	EventError:      decodeAs[ErrorEvent],
}

// DecodeEvent parses a serialized event back into its concrete type.
func DecodeEvent(data []byte) (Event, error) {
	var head eventBase
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	decode, ok := eventDecoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	return decode(data)
}

func decodeAs[T Event](data []byte) (Event, error) {
	e, err := unmarshal[T](data)
	if err != nil {
		return nil, fmt.Errorf("decode %T: %w", e, err)
	}
	return e, nil
}

func unmarshal[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
