package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/spotter/internal/engine"
)

func chatCmd(a *app) *cobra.Command {
	var (
		userID    string
		sessionID string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the coach from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := prepareRuntimeEnv(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer env.Close()

			hook := engine.NewResponseHook()
			hook.Verbose = verbose
			agent, err := env.buildAgent(hook)
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}
			return runChat(ctx, agent, os.Stdin, os.Stdout, userID, sessionID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "user id")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: your latest session)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every tool result")
	return cmd
}

// runChat reads one message per line and runs a turn for each. The coach's
// words reach out through the response hook; this loop only reports how the
// turn ended.
func runChat(ctx context.Context, agent turnRunner, in io.Reader, out io.Writer, userID, sessionID string) error {
	s := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		res, err := agent.RunTurn(ctx, engine.TurnRequest{UserID: userID, SessionID: sessionID, Message: line})
		if res != nil {
			sessionID = res.SessionID
		}
		var loop *engine.LoopBoundError
		switch {
		case err == nil:
		case errors.As(err, &loop):
			fmt.Fprintf(out, "(coach ran out of steps after %d iterations)\n", loop.MaxIterations)
		case errors.Is(err, context.Canceled):
			return nil
		default:
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprintln(out)
	}
	return s.Err()
}
