package engine

import "strings"

// ModelLimits describes what a model accepts in one call.
type ModelLimits struct {
	ContextWindow   int // input + output tokens
	MaxOutputTokens int
}

var defaultLimits = ModelLimits{ContextWindow: 16000, MaxOutputTokens: 4096}

// knownLimits is matched in order against the lowercased model name.
var knownLimits = []struct {
	families []string
	limits   ModelLimits
}{
	{[]string{"claude", "sonnet", "opus", "haiku"}, ModelLimits{ContextWindow: 200000, MaxOutputTokens: 8192}},
	{[]string{"kimi"}, ModelLimits{ContextWindow: 200000, MaxOutputTokens: 8192}},
	{[]string{"gpt-4o", "gpt-4.1"}, ModelLimits{ContextWindow: 128000, MaxOutputTokens: 16384}},
	{[]string{"gemini"}, ModelLimits{ContextWindow: 1000000, MaxOutputTokens: 8192}},
	{[]string{"deepseek"}, ModelLimits{ContextWindow: 64000, MaxOutputTokens: 8192}},
}

// GetModelLimits returns the limits for model. Unknown models get a small,
// safe window.
func GetModelLimits(model string) ModelLimits {
	name := strings.ToLower(model)
	for _, k := range knownLimits {
		for _, f := range k.families {
			if strings.Contains(name, f) {
				return k.limits
			}
		}
	}
	return defaultLimits
}

// NearContextLimit reports whether promptTokens leaves less than the output
// allowance plus a 10% margin.
func (l ModelLimits) NearContextLimit(promptTokens, maxOutputTokens int) bool {
	if maxOutputTokens <= 0 {
		maxOutputTokens = l.MaxOutputTokens
	}
	return promptTokens+maxOutputTokens > l.ContextWindow*9/10
}
