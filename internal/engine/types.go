package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// BlockType tags a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one typed piece of a message. Which fields are set depends
// on Type: Text for text and tool_result, ToolUseID for tool_use and
// tool_result, ToolName and Input for tool_use.
type ContentBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// CacheBreakpoint asks the provider to cache the prompt up to and
	// including this block.
	CacheBreakpoint bool `json:"cache_breakpoint,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, Input: input}
}

func ToolResultBlock(id, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: id, Text: content, IsError: isError}
}

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole    `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if len(m.Content) == 0 {
		return fmt.Errorf("%s message has no content", m.Role)
	}
	for _, b := range m.Content {
		switch b.Type {
		case BlockText:
		case BlockToolUse:
			if m.Role != RoleAssistant {
				return fmt.Errorf("tool_use block in %s message", m.Role)
			}
		case BlockToolResult:
			if m.Role != RoleUser {
				return fmt.Errorf("tool_result block in %s message", m.Role)
			}
		default:
			return fmt.Errorf("invalid block type: %s", b.Type)
		}
	}
	return nil
}

// SystemBlock is one separately cacheable segment of the system prompt.
type SystemBlock struct {
	Text            string `json:"text"`
	CacheBreakpoint bool   `json:"cache_breakpoint,omitempty"`
}

// ToolSchema is the JSON schema the provider expects for function calling.
type ToolSchema struct {
	Name            string
	Description     string
	JSONSchema      string // keep as raw JSON string for simplicity
	CacheBreakpoint bool
}

// ToolChoiceType controls whether the model may answer without a tool.
type ToolChoiceType string

const (
	ToolChoiceAuto ToolChoiceType = "auto"
	ToolChoiceAny  ToolChoiceType = "any"  // some tool must be called
	ToolChoiceTool ToolChoiceType = "tool" // the named tool must be called
)

type ToolChoice struct {
	Type ToolChoiceType
	Name string
}

// ChatRequest is everything a provider needs for one call.
type ChatRequest struct {
	Model           string
	System          []SystemBlock
	Messages        []ChatMessage
	Tools           []ToolSchema
	ToolChoice      ToolChoice
	MaxOutputTokens int
	Temperature     float32
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt        int `json:"prompt"`
	Completion    int `json:"completion"`
	Total         int `json:"total"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
}

func (u *Usage) Add(o Usage) {
	u.Prompt += o.Prompt
	u.Completion += o.Completion
	u.Total += o.Total
	u.CacheCreation += o.CacheCreation
	u.CacheRead += o.CacheRead
}

// ToolCall represents a function/tool the assistant requested.
type ToolCall struct {
	ID   string          // Provider-specific tool call ID
	Name string
	Args json.RawMessage // raw JSON object
}

// LLMResponse is a normalized result of one chat call.
type LLMResponse struct {
	Text         string     // free text the model produced alongside tool calls
	ToolCalls    []ToolCall // zero or more tool calls requested by the model
	Usage        Usage
	FinishReason string // "stop" | "length" | "tool_calls" | "content_filter"
}

// LLMClient abstracts the chosen SDK (OpenAI, Anthropic, etc.)
type LLMClient interface {
	Chat(ctx context.Context, req ChatRequest) (LLMResponse, error)
}
