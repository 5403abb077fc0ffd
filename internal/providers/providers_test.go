package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/spotter/internal/config"
	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

const logSchema = `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`

// coachRequest mirrors what the context builder produces after one completed
// tool call: two system blocks, a paired call/result and a merged user text.
func coachRequest() engine.ChatRequest {
	return engine.ChatRequest{
		Model: "claude-sonnet-4-5",
		System: []engine.SystemBlock{
			{Text: "You are Spotter."},
			{Text: "<user_profile>\nname: Sam\n</user_profile>", CacheBreakpoint: true},
		},
		Messages: []engine.ChatMessage{
			{Role: engine.RoleUser, Content: []engine.ContentBlock{engine.TextBlock("did 3x10 pushups")}},
			{Role: engine.RoleAssistant, Content: []engine.ContentBlock{
				engine.ToolUseBlock("c1", "log_exercise", json.RawMessage(`{"name":"pushup"}`)),
			}},
			{Role: engine.RoleUser, Content: []engine.ContentBlock{
				func() engine.ContentBlock {
					b := engine.ToolResultBlock("c1", "Logged pushup 3x10", false)
					b.CacheBreakpoint = true
					return b
				}(),
				engine.TextBlock("<knowledge source=\"recent_workouts\">none</knowledge>"),
			}},
		},
		Tools: []engine.ToolSchema{
			{Name: "log_exercise", Description: "Log a set", JSONSchema: logSchema},
			{Name: "idle", Description: "Done", JSONSchema: `{"type":"object"}`, CacheBreakpoint: true},
		},
		ToolChoice:      engine.ToolChoice{Type: engine.ToolChoiceAny},
		MaxOutputTokens: 1024,
	}
}

func TestToAnthropicRequest(t *testing.T) {
	req, err := toAnthropicRequest(coachRequest())
	require.NoError(t, err)

	require.Len(t, req.MultiSystem, 2)
	assert.Nil(t, req.MultiSystem[0].CacheControl)
	require.NotNil(t, req.MultiSystem[1].CacheControl)
	assert.Equal(t, anthropic.CacheControlTypeEphemeral, req.MultiSystem[1].CacheControl.Type)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, anthropic.RoleAssistant, req.Messages[1].Role)
	last := req.Messages[2]
	require.Len(t, last.Content, 2)
	assert.NotNil(t, last.Content[0].CacheControl, "marked tool_result carries cache_control")
	assert.Nil(t, last.Content[1].CacheControl)

	require.Len(t, req.Tools, 2)
	assert.Nil(t, req.Tools[0].CacheControl)
	assert.NotNil(t, req.Tools[1].CacheControl)

	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, "any", req.ToolChoice.Type)
	assert.Equal(t, 1024, req.MaxTokens)

	// The wire form is what the API sees.
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cache_control":{"type":"ephemeral"}`)
	assert.Contains(t, string(raw), `"tool_use_id":"c1"`)
}

func TestToAnthropicRequest_NamedToolAndErrors(t *testing.T) {
	r := coachRequest()
	r.ToolChoice = engine.ToolChoice{Type: engine.ToolChoiceTool, Name: "select_context"}
	r.MaxOutputTokens = 0
	req, err := toAnthropicRequest(r)
	require.NoError(t, err)
	assert.Equal(t, &anthropic.ToolChoice{Type: "tool", Name: "select_context"}, req.ToolChoice)
	assert.Equal(t, 4096, req.MaxTokens)

	r.Tools[0].JSONSchema = "{"
	_, err = toAnthropicRequest(r)
	assert.ErrorContains(t, err, "invalid tool schema JSON for log_exercise")
}

func TestFromAnthropicResponse(t *testing.T) {
	text := "Logging that."
	resp := anthropic.MessagesResponse{
		Content: []anthropic.MessageContent{
			{Type: anthropic.MessagesContentTypeText, Text: &text},
			anthropic.NewToolUseMessageContent("toolu_1", "log_exercise", json.RawMessage(`{"name":"pushup"}`)),
		},
		StopReason: anthropic.MessagesStopReasonToolUse,
		Usage: anthropic.MessagesUsage{
			InputTokens: 20, OutputTokens: 15, CacheCreationInputTokens: 100, CacheReadInputTokens: 900,
		},
	}

	got := fromAnthropicResponse(resp)
	assert.Equal(t, "Logging that.", got.Text)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, engine.ToolCall{ID: "toolu_1", Name: "log_exercise", Args: json.RawMessage(`{"name":"pushup"}`)}, got.ToolCalls[0])
	assert.Equal(t, "tool_calls", got.FinishReason)
	assert.Equal(t, engine.Usage{Prompt: 1020, Completion: 15, Total: 1035, CacheCreation: 100, CacheRead: 900}, got.Usage)

	truncated := fromAnthropicResponse(anthropic.MessagesResponse{StopReason: anthropic.MessagesStopReasonMaxTokens})
	assert.Equal(t, "length", truncated.FinishReason)
}

func TestToOpenAIRequest(t *testing.T) {
	r := coachRequest()
	r.Messages[2].Content[0].IsError = true
	req, err := toOpenAIRequest(r)
	require.NoError(t, err)

	require.Len(t, req.Messages, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are Spotter.\n\n<user_profile>\nname: Sam\n</user_profile>", req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)

	call := req.Messages[2]
	assert.Equal(t, openai.ChatMessageRoleAssistant, call.Role)
	require.Len(t, call.ToolCalls, 1)
	assert.Equal(t, `{"name":"pushup"}`, call.ToolCalls[0].Function.Arguments)

	result := req.Messages[3]
	assert.Equal(t, openai.ChatMessageRoleTool, result.Role)
	assert.Equal(t, "c1", result.ToolCallID)
	assert.Equal(t, "ERROR: Logged pushup 3x10", result.Content)

	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[4].Role, "text after the tool result")
	assert.Equal(t, "required", req.ToolChoice)
	assert.Len(t, req.Tools, 2)
	assert.Equal(t, 1024, req.MaxTokens)

	r.ToolChoice = engine.ToolChoice{Type: engine.ToolChoiceTool, Name: "select_context"}
	req, err = toOpenAIRequest(r)
	require.NoError(t, err)
	assert.Equal(t, openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: "select_context"}}, req.ToolChoice)
}

func TestFromOpenAIResponse(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID: "call_1", Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "idle", Arguments: ""},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 5, TotalTokens: 55},
	}
	got := fromOpenAIResponse(resp)
	require.Len(t, got.ToolCalls, 1)
	assert.JSONEq(t, `{}`, string(got.ToolCalls[0].Args), "empty arguments become an empty object")
	assert.Equal(t, "tool_calls", got.FinishReason)
	assert.Equal(t, 55, got.Usage.Total)
}

func TestExtractErrorMetadata(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{"nil", nil, 0, ""},
		{"openai api error", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, 429, ""},
		{"anthropic request error", fmt.Errorf("call: %w", &anthropic.RequestError{StatusCode: 529, Err: errors.New("overloaded")}), 529, ""},
		{"text status", errors.New("error, status code: 503, message: unavailable"), 503, ""},
		{"retry after header", errors.New("429 Too Many Requests; Retry-After: 30"), 429, "30"},
		{"retry after prose", errors.New("rate limited, retry after 12s."), 0, "12s"},
		{"nothing", errors.New("connection reset by peer"), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, retry := extractErrorMetadata(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantRetry, retry)
		})
	}
}

func TestNewLLMClient(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LLMConfig
		wantModel string
		wantErr   string
	}{
		{name: "anthropic default model", cfg: config.LLMConfig{Provider: "anthropic", APIKey: "k"}, wantModel: "claude-sonnet-4-5"},
		{name: "anthropic needs key", cfg: config.LLMConfig{Provider: "anthropic"}, wantErr: "ANTHROPIC_API_KEY"},
		{name: "openai", cfg: config.LLMConfig{Provider: "OpenAI", APIKey: "k", Model: "gpt-4.1"}, wantModel: "gpt-4.1"},
		{name: "groq needs key", cfg: config.LLMConfig{Provider: "groq"}, wantErr: "GROQ_API_KEY not set"},
		{name: "ollama without key", cfg: config.LLMConfig{Provider: "ollama"}, wantModel: "llama3.1"},
		{name: "unknown", cfg: config.LLMConfig{Provider: "skynet"}, wantErr: `unknown LLM provider "skynet"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, model, err := NewLLMClient(tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
			assert.Equal(t, tt.wantModel, model)
		})
	}

	client, _, err := NewLLMClient(config.LLMConfig{Provider: "ollama", RequestsPerMinute: 60})
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, client)
	assert.Equal(t, "anthropic", Supported()[0])
}

type countingLLM struct{ calls int }

func (c *countingLLM) Chat(context.Context, engine.ChatRequest) (engine.LLMResponse, error) {
	c.calls++
	return engine.LLMResponse{FinishReason: "stop"}, nil
}

func TestRateLimited(t *testing.T) {
	next := &countingLLM{}
	rl := NewRateLimited(next, 60) // burst 6, then one per second

	for range 6 {
		_, err := rl.Chat(context.Background(), engine.ChatRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, 6, next.calls)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rl.Chat(ctx, engine.ChatRequest{})
	assert.ErrorContains(t, err, "rate limit wait")
	assert.Equal(t, 6, next.calls, "the blocked call never reaches the model")
}
