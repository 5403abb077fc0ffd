package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/engine/protocol"
)

func engineCmd(a *app) *cobra.Command {
	var (
		userID    string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Serve the coach over the NDJSON stdio protocol",
		Long: "Reads protocol commands (user_message, cancel_request) from stdin, one JSON object\n" +
			"per line, and writes turn events to stdout. Logs go to stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := prepareRuntimeEnv(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer env.Close()

			runner := newStdIORunner(os.Stdin, os.Stdout, userID, sessionID, a.log)
			agent, err := env.buildAgent(runner.hook())
			if err != nil {
				return err
			}
			runner.coach = agent
			return runner.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "user id")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: the user's latest session)")
	return cmd
}

type turnRunner interface {
	RunTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
}

// stdioRunner bridges one user's session to a line protocol. At most one
// turn runs at a time; cancel_request stops it.
type stdioRunner struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event
	coach   turnRunner
	log     zerolog.Logger

	userID string

	mu        sync.Mutex
	sessionID string
	stop      context.CancelFunc
	running   sync.WaitGroup
}

func newStdIORunner(in io.Reader, out io.Writer, userID, sessionID string, logger zerolog.Logger) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &stdioRunner{
		scanner:   scanner,
		writer:    bufio.NewWriter(out),
		events:    make(chan protocol.Event, 256),
		log:       logger,
		userID:    userID,
		sessionID: sessionID,
	}
}

// hook feeds turn events into the output queue.
func (r *stdioRunner) hook() engine.Hook {
	return engine.EmitterHook{Emit: func(_ context.Context, ev protocol.Event) { r.emitEvent(ev) }}
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(errCh)

	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		r.handleLine(ctx, line)
	}
	if err := r.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.emitEvent(protocol.NewErrorEvent(r.currentSession(), "stdin error: "+err.Error(), "protocol_error"))
	}

	// stdin closed: let a running turn finish before draining the queue
	r.running.Wait()
	close(r.events)
	return <-errCh
}

func (r *stdioRunner) flushEvents(errCh chan<- error) {
	var firstErr error
	for ev := range r.events {
		if firstErr != nil {
			continue
		}
		if err := r.writeEvent(ev); err != nil {
			firstErr = err
		}
	}
	errCh <- firstErr
}

func (r *stdioRunner) writeEvent(ev protocol.Event) error {
	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		r.log.Error().Err(err).Msg("encode stdio event")
		return nil
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return r.writer.Flush()
}

func (r *stdioRunner) emitEvent(ev protocol.Event) {
	r.events <- ev
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emitEvent(protocol.NewErrorEvent(r.currentSession(), err.Error(), "bad_command"))
		return
	}
	switch c := cmd.(type) {
	case protocol.UserMessageCommand:
		r.startTurn(ctx, c.Message)
	case protocol.CancelRequestCommand:
		r.mu.Lock()
		if r.stop != nil {
			r.stop()
		}
		r.mu.Unlock()
	}
}

func (r *stdioRunner) startTurn(ctx context.Context, message string) {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		r.emitEvent(protocol.NewErrorEvent(r.sessionID, "a turn is already running", "turn_in_progress"))
		return
	}
	turnCtx, stop := context.WithCancel(ctx)
	r.stop = stop
	sessionID := r.sessionID
	r.mu.Unlock()

	r.running.Add(1)
	go func() {
		defer r.running.Done()
		res, err := r.coach.RunTurn(turnCtx, engine.TurnRequest{UserID: r.userID, SessionID: sessionID, Message: message})

		r.mu.Lock()
		r.stop = nil
		if res != nil {
			r.sessionID = res.SessionID
		}
		r.mu.Unlock()
		stop()

		// turns that started already reported through the done event
		if err != nil && res == nil {
			kind := "turn_failed"
			if errors.Is(err, context.Canceled) {
				kind = "cancelled"
			}
			r.emitEvent(protocol.NewErrorEvent(sessionID, err.Error(), kind))
		}
	}()
}

func (r *stdioRunner) currentSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}
