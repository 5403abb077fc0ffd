// Package stream fans live turn progress out to subscribers. A Broker moves
// raw payloads between processes; Publisher is the engine hook that feeds it.
package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/engine/protocol"
)

// Broker publishes payloads to named channels and subscribes to them.
// Delivery is best effort: subscribers that are not connected miss messages.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel closed when ctx ends or the broker shuts
	// down, plus a cleanup func the caller must invoke.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// SessionChannel returns the channel name for a session's live events.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

const publishTimeout = 2 * time.Second

// NewPublisher returns a hook that publishes every protocol event of a turn
// to the session's channel. Publish failures are logged and never fail the
// turn.
func NewPublisher(b Broker, logger zerolog.Logger) engine.EmitterHook {
	return engine.EmitterHook{
		Emit: func(ctx context.Context, ev protocol.Event) {
			payload, err := protocol.MarshalEvent(ev)
			if err != nil {
				logger.Error().Err(err).Str("event", string(ev.GetType())).Msg("encode stream event")
				return
			}
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			defer cancel()
			if err := b.Publish(pctx, SessionChannel(ev.GetSessionID()), payload); err != nil {
				logger.Warn().Err(err).Str("session_id", ev.GetSessionID()).Msg("publish stream event")
			}
		},
	}
}
