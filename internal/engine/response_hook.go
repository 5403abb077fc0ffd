package engine

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ResponseHook prints what the coach says to the user as each tool call
// completes. It is meant for the interactive chat command.
type ResponseHook struct {
	NopHook
	Writer  io.Writer // Defaults to os.Stdout
	Verbose bool      // also print domain tool results
}

// NewResponseHook creates a new response hook that prints to stdout.
func NewResponseHook() *ResponseHook {
	return &ResponseHook{Writer: os.Stdout}
}

func (h *ResponseHook) OnToolResult(_ context.Context, _ *State, c ToolCall, e ToolExecution) {
	w := h.Writer
	if w == nil {
		w = os.Stdout
	}
	switch {
	case !e.Success:
		if h.Verbose {
			fmt.Fprintf(w, "  ! %s: %s\n", c.Name, e.Summary)
		}
	case c.Name == ToolNotify || c.Name == ToolAskUser:
		fmt.Fprintf(w, "coach> %s\n", e.Summary)
	case c.Name == ToolIdle:
		// nothing to say
	case h.Verbose:
		fmt.Fprintf(w, "  · %s: %s\n", c.Name, e.Summary)
	}
}
