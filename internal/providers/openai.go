package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

// OpenAIClient implements engine.LLMClient against any OpenAI compatible
// chat completions endpoint. Cache breakpoints are ignored; those APIs cache
// shared prefixes on their own.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAIClient creates a new OpenAI client for the engine.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config), baseURL: baseURL}, nil
}

// Chat implements engine.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, req engine.ChatRequest) (engine.LLMResponse, error) {
	oreq, err := toOpenAIRequest(req)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, engine.WrapLLMError(fmt.Errorf("empty response from %s", c.endpoint()), 0, "")
	}
	return fromOpenAIResponse(resp), nil
}

func (c *OpenAIClient) endpoint() string {
	if c.baseURL == "" {
		return "OpenAI"
	}
	return c.baseURL
}

func toOpenAIRequest(req engine.ChatRequest) (openai.ChatCompletionRequest, error) {
	var msgs []openai.ChatCompletionMessage

	if len(req.System) > 0 {
		parts := make([]string, len(req.System))
		for i, b := range req.System {
			parts[i] = b.Text
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.Join(parts, "\n\n"),
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case engine.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text []string
			for _, b := range m.Content {
				switch b.Type {
				case engine.BlockText:
					text = append(text, b.Text)
				case engine.BlockToolUse:
					args := string(b.Input)
					if args == "" {
						args = "{}"
					}
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:       b.ToolUseID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: b.ToolName, Arguments: args},
					})
				default:
					return openai.ChatCompletionRequest{}, fmt.Errorf("openai: %s block in assistant message", b.Type)
				}
			}
			msg.Content = strings.Join(text, "\n\n")
			msgs = append(msgs, msg)

		case engine.RoleUser:
			// Tool results become tool-role messages and must directly follow
			// the assistant call; the remaining text forms one user message.
			var text []string
			for _, b := range m.Content {
				switch b.Type {
				case engine.BlockToolResult:
					content := b.Text
					if b.IsError {
						content = "ERROR: " + content
					}
					msgs = append(msgs, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    content,
						ToolCallID: b.ToolUseID,
					})
				case engine.BlockText:
					text = append(text, b.Text)
				default:
					return openai.ChatCompletionRequest{}, fmt.Errorf("openai: %s block in user message", b.Type)
				}
			}
			if len(text) > 0 {
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: strings.Join(text, "\n\n"),
				})
			}

		default:
			return openai.ChatCompletionRequest{}, fmt.Errorf("openai: invalid message role %q", m.Role)
		}
	}

	var tools []openai.Tool
	for _, ts := range req.Tools {
		if !json.Valid([]byte(ts.JSONSchema)) {
			return openai.ChatCompletionRequest{}, fmt.Errorf("invalid tool schema JSON for %s", ts.Name)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  json.RawMessage(ts.JSONSchema),
			},
		})
	}

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Tools:    tools,
	}
	if len(tools) > 0 {
		switch req.ToolChoice.Type {
		case engine.ToolChoiceAny:
			out.ToolChoice = "required"
		case engine.ToolChoiceTool:
			out.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice.Name},
			}
		default:
			out.ToolChoice = "auto"
		}
	}
	if req.MaxOutputTokens > 0 {
		out.MaxTokens = req.MaxOutputTokens
	}
	temperature := req.Temperature
	out.Temperature = &temperature
	return out, nil
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) engine.LLMResponse {
	choice := resp.Choices[0]
	out := engine.LLMResponse{Text: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, engine.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = "tool_calls"
	case choice.FinishReason == openai.FinishReasonLength:
		out.FinishReason = "length"
	case choice.FinishReason == openai.FinishReasonContentFilter:
		out.FinishReason = "content_filter"
	default:
		out.FinishReason = "stop"
	}

	out.Usage = engine.Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
	return out
}
