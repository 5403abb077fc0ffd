package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

func sessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored sessions",
	}

	var (
		limit  int
		asJSON bool
	)
	show := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Print a session and its most recent events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := session.Open(ctx, session.Config{
				Driver:      a.cfg.Storage.Driver,
				SQLitePath:  a.cfg.Storage.Path,
				PostgresDSN: a.cfg.Storage.DSN,
				MaxConns:    2,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := store.RecentEvents(ctx, sess.ID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"session": sess, "recent_events": events})
			}
			return printSession(out, sess, events)
		},
	}
	show.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	show.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(show)
	return cmd
}

func printSession(w io.Writer, sess *session.Session, events []session.Event) error {
	fmt.Fprintf(w, "session %s (user %s)\n", sess.ID, sess.UserID)
	fmt.Fprintf(w, "last sequence: %d, cache boundary: %d\n\n", sess.LastSequence, sess.CacheBoundarySequence)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tAT\tDATA")
	for _, ev := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.Sequence, ev.Type, ev.CreatedAt.Format(time.DateTime), truncate(string(ev.Data), 100))
	}
	return tw.Flush()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
