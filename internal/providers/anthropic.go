package providers

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

// AnthropicClient implements engine.LLMClient on the Messages API. Cache
// breakpoints set by the context builder become cache_control markers.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client for the engine.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: empty API key")
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(apiKey, opts...)}, nil
}

// Chat implements engine.LLMClient.
func (c *AnthropicClient) Chat(ctx context.Context, req engine.ChatRequest) (engine.LLMResponse, error) {
	areq, err := toAnthropicRequest(req)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	resp, err := c.client.CreateMessages(ctx, areq)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	return fromAnthropicResponse(resp), nil
}

func ephemeral() *anthropic.MessageCacheControl {
	return &anthropic.MessageCacheControl{Type: anthropic.CacheControlTypeEphemeral}
}

func toAnthropicRequest(req engine.ChatRequest) (anthropic.MessagesRequest, error) {
	var system []anthropic.MessageSystemPart
	for _, b := range req.System {
		part := anthropic.MessageSystemPart{Type: "text", Text: b.Text}
		if b.CacheBreakpoint {
			part.CacheControl = ephemeral()
		}
		system = append(system, part)
	}

	msgs := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := make([]anthropic.MessageContent, 0, len(m.Content))
		for _, b := range m.Content {
			var mc anthropic.MessageContent
			switch b.Type {
			case engine.BlockText:
				mc = anthropic.NewTextMessageContent(b.Text)
			case engine.BlockToolUse:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				mc = anthropic.NewToolUseMessageContent(b.ToolUseID, b.ToolName, input)
			case engine.BlockToolResult:
				text := b.Text
				if text == "" {
					text = "{}"
				}
				mc = anthropic.NewToolResultMessageContent(b.ToolUseID, text, b.IsError)
			default:
				return anthropic.MessagesRequest{}, fmt.Errorf("anthropic: unsupported block type %q", b.Type)
			}
			if b.CacheBreakpoint {
				mc.CacheControl = ephemeral()
			}
			content = append(content, mc)
		}
		role := anthropic.RoleUser
		if m.Role == engine.RoleAssistant {
			role = anthropic.RoleAssistant
		}
		msgs = append(msgs, anthropic.Message{Role: role, Content: content})
	}

	var tools []anthropic.ToolDefinition
	for _, ts := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schema); err != nil {
			return anthropic.MessagesRequest{}, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		def := anthropic.ToolDefinition{Name: ts.Name, Description: ts.Description, InputSchema: schema}
		if ts.CacheBreakpoint {
			def.CacheControl = ephemeral()
		}
		tools = append(tools, def)
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := req.Temperature

	out := anthropic.MessagesRequest{
		Model:       anthropic.Model(req.Model),
		MultiSystem: system,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Tools:       tools,
	}
	switch req.ToolChoice.Type {
	case engine.ToolChoiceAny:
		out.ToolChoice = &anthropic.ToolChoice{Type: "any"}
	case engine.ToolChoiceTool:
		out.ToolChoice = &anthropic.ToolChoice{Type: "tool", Name: req.ToolChoice.Name}
	}
	return out, nil
}

func fromAnthropicResponse(resp anthropic.MessagesResponse) engine.LLMResponse {
	var out engine.LLMResponse
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				out.Text += *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil || block.MessageContentToolUse.Name == "" {
				continue
			}
			tu := block.MessageContentToolUse
			args := tu.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, engine.ToolCall{ID: tu.ID, Name: tu.Name, Args: args})
		}
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = "tool_calls"
	case resp.StopReason == anthropic.MessagesStopReasonMaxTokens:
		out.FinishReason = "length"
	default:
		out.FinishReason = "stop"
	}

	u := resp.Usage
	out.Usage = engine.Usage{
		Prompt:        u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
		Completion:    u.OutputTokens,
		CacheCreation: u.CacheCreationInputTokens,
		CacheRead:     u.CacheReadInputTokens,
	}
	out.Usage.Total = out.Usage.Prompt + out.Usage.Completion
	return out
}
