package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/config"
	"github.com/ChamsBouzaiene/spotter/internal/datasource"
	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/fitness"
	"github.com/ChamsBouzaiene/spotter/internal/providers"
	"github.com/ChamsBouzaiene/spotter/internal/session"
	"github.com/ChamsBouzaiene/spotter/internal/tools"
)

// runtimeEnv owns the stores a command opened.
type runtimeEnv struct {
	Config  *config.Config
	Store   session.Store
	Fitness *fitness.SQLiteService
	Log     zerolog.Logger
}

func (r *runtimeEnv) Close() {
	var errs []error
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	if r.Fitness != nil {
		errs = append(errs, r.Fitness.Close())
	}
	if err := errors.Join(errs...); err != nil {
		r.Log.Warn().Err(err).Msg("close stores")
	}
}

// prepareRuntimeEnv opens the session and fitness stores named by cfg.
func prepareRuntimeEnv(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtimeEnv, error) {
	store, err := session.Open(ctx, session.Config{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.Path,
		PostgresDSN: cfg.Storage.DSN,
		MaxConns:    10,
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	svc, err := fitness.OpenSQLite(ctx, cfg.Storage.FitnessPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open fitness store: %w", err)
	}

	logger.Debug().
		Str("driver", cfg.Storage.Driver).
		Str("fitness_db", cfg.Storage.FitnessPath).
		Msg("stores ready")
	return &runtimeEnv{Config: cfg, Store: store, Fitness: svc, Log: logger}, nil
}

// buildAgent wires the model clients, tools and data sources into an agent.
// Extra hooks run after the structured logger.
func (r *runtimeEnv) buildAgent(extra ...engine.Hook) (*engine.Agent, error) {
	cfg := r.Config

	llm, model, err := providers.NewLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	reg, err := tools.NewToolRegistry(r.Fitness, tools.DefaultToolSet())
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}
	sources, err := datasource.NewRegistry(datasource.CoachingSources(r.Fitness)...)
	if err != nil {
		return nil, fmt.Errorf("data sources: %w", err)
	}

	agentCfg := engine.DefaultAgentConfig()
	agentCfg.Model = model
	agentCfg.SelectorModel = cfg.LLM.SelectorModel
	agentCfg.MaxIterations = cfg.Agent.MaxIterations
	agentCfg.ModelTimeout = cfg.Agent.ModelTimeout
	agentCfg.ToolTimeout = cfg.Agent.ToolTimeout
	agentCfg.CoachNotes = cfg.Agent.CoachNotes
	if cfg.LLM.Provider != "anthropic" && cfg.LLM.SelectorModel == config.Default().LLM.SelectorModel {
		// the default selector model only exists on Anthropic
		agentCfg.SelectorModel = ""
	}

	hooks := append(engine.DefaultHooks(r.Log), extra...)
	return engine.NewAgentBuilder().
		WithConfig(agentCfg).
		WithStore(r.Store).
		WithLLM(llm).
		WithTools(reg).
		WithDataSources(sources).
		WithProfiles(datasource.NewProfileSnapshot(r.Fitness)).
		WithHooks(hooks...).
		WithLogger(r.Log).
		Build()
}
