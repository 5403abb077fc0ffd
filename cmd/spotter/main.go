package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/spotter/internal/config"
)

// app carries what the root command resolved for its subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	log        zerolog.Logger
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := &cobra.Command{
		Use:           "spotter",
		Short:         "spotter: a fitness coach that answers through tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level")

	root.AddCommand(
		chatCmd(a),
		engineCmd(a),
		serveCmd(a),
		sessionCmd(a),
		profileCmd(a),
		configCmd(a),
		tokenCmd(a),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		m, err := config.NewManager()
		if err != nil {
			return err
		}
		path = m.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	// stdout belongs to the conversation and the stdio protocol
	a.log = config.SetupLogging(cfg.Log, os.Stderr)
	return nil
}
