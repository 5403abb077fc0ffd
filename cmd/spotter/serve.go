package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/spotter/internal/server"
	"github.com/ChamsBouzaiene/spotter/internal/stream"
)

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}

			env, err := prepareRuntimeEnv(ctx, cfg, a.log)
			if err != nil {
				return err
			}
			defer env.Close()

			var broker stream.Broker
			if cfg.Redis.Addr != "" {
				rb, err := stream.NewRedisBroker(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
				if err != nil {
					return err
				}
				broker = rb
				a.log.Info().Str("addr", cfg.Redis.Addr).Msg("streaming session events through redis")
			} else {
				broker = stream.NewLocalBroker()
			}
			defer broker.Close()

			agent, err := env.buildAgent(stream.NewPublisher(broker, a.log))
			if err != nil {
				return err
			}

			srv := server.New(ctx, cfg.Server, agent, broker, a.log)
			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
				errCh <- srv.Start(ctx)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
