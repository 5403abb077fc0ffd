package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// holdLease renews the turn lease every third of its TTL until stop is
// called. The returned context is cancelled with session.ErrTurnLost when
// another owner has taken the session.
func (a *Agent) holdLease(ctx context.Context, sessionID, owner string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(a.config.TurnLeaseTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := a.renewLease(ctx, sessionID, owner)
			switch {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, session.ErrTurnLost):
				a.log.Error().Str("session_id", sessionID).Str("turn_id", owner).Msg("turn lease taken over")
				cancel(err)
				return
			default:
				a.log.Warn().Err(err).Str("session_id", sessionID).Msg("renew turn lease")
			}
		}
	}()

	return ctx, func() {
		cancel(context.Canceled)
		<-done
	}
}

// renewLease extends owner's lease. It fails with session.ErrTurnLost when
// the session is held by someone else.
func (a *Agent) renewLease(ctx context.Context, sessionID, owner string) error {
	err := a.store.AcquireTurn(ctx, sessionID, owner, a.config.TurnLeaseTTL)
	if errors.Is(err, session.ErrTurnInProgress) {
		return fmt.Errorf("%w: %s", session.ErrTurnLost, sessionID)
	}
	return err
}
