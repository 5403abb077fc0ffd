package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/spotter/internal/config"
	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

// preset describes an OpenAI compatible provider.
type preset struct {
	baseURL      string
	defaultModel string
	keyOptional  bool // local servers accept any key
	placeholder  string
}

var openAICompatible = map[string]preset{
	"openai":   {defaultModel: "gpt-4o-mini"},
	"kimi":     {baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3", defaultModel: "kimi-k2-250711"},
	"gemini":   {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", defaultModel: "gemini-2.0-flash"},
	"deepseek": {baseURL: "https://api.deepseek.com/v1", defaultModel: "deepseek-chat"},
	"groq":     {baseURL: "https://api.groq.com/openai/v1", defaultModel: "llama-3.3-70b-versatile"},
	"lmstudio": {baseURL: "http://localhost:1234/v1", defaultModel: "local-model", keyOptional: true, placeholder: "lm-studio"},
	"ollama":   {baseURL: "http://localhost:11434/v1", defaultModel: "llama3.1", keyOptional: true, placeholder: "ollama"},
}

// Supported lists every provider name NewLLMClient accepts.
func Supported() []string {
	names := []string{"anthropic"}
	for name := range openAICompatible {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// NewLLMClient creates the engine.LLMClient for cfg and returns the model
// to use. When RequestsPerMinute is set the client is rate limited.
func NewLLMClient(cfg config.LLMConfig) (engine.LLMClient, string, error) {
	var (
		client engine.LLMClient
		model  = cfg.Model
	)

	switch provider := strings.ToLower(cfg.Provider); provider {
	case "anthropic":
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		c, err := NewAnthropicClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w (set ANTHROPIC_API_KEY)", err)
		}
		client = c

	default:
		p, ok := openAICompatible[provider]
		if !ok {
			return nil, "", fmt.Errorf("unknown LLM provider %q (supported: %s)", cfg.Provider, strings.Join(Supported(), ", "))
		}
		key := cfg.APIKey
		if key == "" {
			if !p.keyOptional {
				return nil, "", fmt.Errorf("%s_API_KEY not set", strings.ToUpper(provider))
			}
			key = p.placeholder
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = p.baseURL
		}
		if model == "" {
			model = p.defaultModel
		}
		c, err := NewOpenAIClient(key, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
		}
		client = c
	}

	if cfg.RequestsPerMinute > 0 {
		client = NewRateLimited(client, cfg.RequestsPerMinute)
	}
	return client, model, nil
}
