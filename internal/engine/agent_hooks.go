package engine

import (
	"github.com/rs/zerolog"
)

// DefaultHooks returns default hooks for an agent (structured logging).
func DefaultHooks(l zerolog.Logger) Hooks {
	return Hooks{
		LoggerHook{L: l},
	}
}
