package engine

import "strings"

// Per-item framing the providers add around tool definitions and messages.
const (
	toolOverheadTokens    = 10
	messageOverheadTokens = 4
)

// EstimateTokens approximates the token count of text at about four runes a
// token, plus a little for whitespace runs. Good enough for logging and for
// warning before a prompt outgrows the model window; never used for billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	spaces := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")
	return max(len([]rune(text))/4+spaces/6, 1)
}

// EstimateToolTokens approximates what one tool definition costs in a prompt.
func EstimateToolTokens(ts ToolSchema) int {
	return EstimateTokens(ts.Name) + EstimateTokens(ts.Description) + EstimateTokens(ts.JSONSchema) + toolOverheadTokens
}

// EstimateRequestTokens approximates the prompt size of req: system blocks,
// tool definitions and every message block.
func EstimateRequestTokens(req ChatRequest) int {
	total := 0
	for _, sb := range req.System {
		total += EstimateTokens(sb.Text)
	}
	for _, ts := range req.Tools {
		total += EstimateToolTokens(ts)
	}
	for _, msg := range req.Messages {
		total += EstimateTokens(string(msg.Role)) + messageOverheadTokens
		for _, b := range msg.Content {
			if b.Type == BlockToolUse {
				total += EstimateTokens(b.ToolName) + EstimateTokens(string(b.Input))
				continue
			}
			total += EstimateTokens(b.Text)
		}
	}
	return total
}
