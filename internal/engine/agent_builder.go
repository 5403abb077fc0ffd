package engine

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ChamsBouzaiene/spotter/internal/prompts"
	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// AgentBuilder helps construct an Agent with a fluent API.
type AgentBuilder struct {
	config       AgentConfig
	store        session.Store
	llm          LLMClient
	selectorLLM  LLMClient
	tools        *ToolRegistry
	sources      KnowledgeSources
	profiles     ProfileSource
	hooks        Hooks
	instructions string
	prompts      *prompts.Registry
	logger       zerolog.Logger
	hasLogger    bool
}

// NewAgentBuilder creates a new agent builder with default configuration.
func NewAgentBuilder() *AgentBuilder {
	return &AgentBuilder{
		config:  DefaultAgentConfig(),
		prompts: prompts.DefaultRegistry(),
	}
}

// WithConfig replaces the whole configuration.
func (b *AgentBuilder) WithConfig(cfg AgentConfig) *AgentBuilder {
	b.config = cfg
	return b
}

// WithStore sets the session event store.
func (b *AgentBuilder) WithStore(store session.Store) *AgentBuilder {
	b.store = store
	return b
}

// WithLLM sets the LLM client.
func (b *AgentBuilder) WithLLM(llm LLMClient) *AgentBuilder {
	b.llm = llm
	return b
}

// WithSelectorLLM sets a separate client for context selection. The main
// client is used when unset.
func (b *AgentBuilder) WithSelectorLLM(llm LLMClient) *AgentBuilder {
	b.selectorLLM = llm
	return b
}

// WithModel sets the model name.
func (b *AgentBuilder) WithModel(model string) *AgentBuilder {
	b.config.Model = model
	return b
}

// WithMaxIterations caps model calls per turn.
func (b *AgentBuilder) WithMaxIterations(n int) *AgentBuilder {
	b.config.MaxIterations = n
	return b
}

// WithTools sets the tool registry.
func (b *AgentBuilder) WithTools(reg *ToolRegistry) *AgentBuilder {
	b.tools = reg
	return b
}

// WithDataSources enables context selection over sources.
func (b *AgentBuilder) WithDataSources(sources KnowledgeSources) *AgentBuilder {
	b.sources = sources
	return b
}

// WithProfiles sets where the per-user profile block comes from.
func (b *AgentBuilder) WithProfiles(p ProfileSource) *AgentBuilder {
	b.profiles = p
	return b
}

// WithHooks sets custom hooks.
func (b *AgentBuilder) WithHooks(hooks ...Hook) *AgentBuilder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// WithLogger sets the logger for the agent and its default hooks.
func (b *AgentBuilder) WithLogger(l zerolog.Logger) *AgentBuilder {
	b.logger = l
	b.hasLogger = true
	return b
}

// WithInstructions overrides the prompt registry with fixed instructions.
func (b *AgentBuilder) WithInstructions(text string) *AgentBuilder {
	b.instructions = text
	return b
}

// WithPrompt sets the prompt ID and version.
func (b *AgentBuilder) WithPrompt(id string, version prompts.PromptVersion) (*AgentBuilder, error) {
	if _, err := b.prompts.Get(id, version); err != nil {
		return nil, err
	}
	b.config.PromptID = id
	b.config.PromptVersion = version
	return b, nil
}

// Build constructs the Agent instance.
func (b *AgentBuilder) Build() (*Agent, error) {
	if b.store == nil {
		return nil, fmt.Errorf("session store not configured: use WithStore")
	}
	if b.llm == nil {
		return nil, fmt.Errorf("LLM client not configured: use WithLLM")
	}
	if b.tools == nil {
		return nil, fmt.Errorf("tools not configured: use WithTools")
	}
	if err := b.config.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	if err := validateControlTools(b.tools); err != nil {
		return nil, err
	}
	if b.config.MaxOutputTokens == 0 {
		b.config.MaxOutputTokens = GetModelLimits(b.config.Model).MaxOutputTokens
	}

	logger := zerolog.Nop()
	if b.hasLogger {
		logger = b.logger
	}

	instructions, promptRef, err := b.coachInstructions()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		store:      b.store,
		llm:        b.llm,
		profiles:   b.profiles,
		builder:    &ContextBuilder{Instructions: instructions, Tools: b.tools},
		tools:      b.tools,
		dispatcher: NewDispatcher(b.tools, b.config.ToolTimeout),
		config:     b.config,
		hooks:      b.hooks,
		log:        logger,
	}
	if a.hooks == nil {
		a.hooks = DefaultHooks(logger)
	}

	if b.sources != nil {
		sel, err := b.prompts.GetLatest(prompts.SelectorID)
		if err != nil {
			return nil, fmt.Errorf("selector prompt: %w", err)
		}
		selLLM := b.selectorLLM
		if selLLM == nil {
			selLLM = b.llm
		}
		maxTokens := b.config.SelectorMaxTokens
		if maxTokens == 0 {
			maxTokens = 512
		}
		a.selector = &Initializer{
			llm:          selLLM,
			model:        b.config.selectorModel(),
			maxTokens:    maxTokens,
			instructions: sel.Content,
			sources:      b.sources,
			store:        b.store,
			policy:       b.config.Retry,
			timeout:      b.config.ModelTimeout,
		}
	}

	logInitialConfiguration(logger, promptRef, instructions, b.tools, b.config.Model)
	return a, nil
}

// coachInstructions resolves the fixed instructions block. It is built once
// so it stays byte-identical for every call of every turn.
func (b *AgentBuilder) coachInstructions() (string, string, error) {
	if b.instructions != "" {
		return b.instructions, "custom", nil
	}

	var (
		p   *prompts.Prompt
		err error
	)
	if b.config.PromptVersion == "" {
		p, err = b.prompts.GetLatest(b.config.PromptID)
	} else {
		p, err = b.prompts.Get(b.config.PromptID, b.config.PromptVersion)
	}
	if err != nil {
		return "", "", err
	}
	text, err := prompts.Render(p, map[string]string{
		"max_iterations": strconv.Itoa(b.config.MaxIterations),
	}, b.config.CoachNotes)
	if err != nil {
		return "", "", err
	}
	return text, p.ID + "@" + string(p.Version), nil
}

// validateControlTools checks that a turn can always end: ask_user and idle
// must exist and be terminal, and no tool may end a turn in any other state.
func validateControlTools(reg *ToolRegistry) error {
	if err := reg.Require(ToolAskUser, ToolIdle); err != nil {
		return err
	}
	want := map[string]TurnState{ToolAskUser: StateAwaitingUser, ToolIdle: StateIdle}
	for _, name := range reg.Names() {
		t, _ := reg.Get(name)
		if w, ok := want[name]; ok && t.Terminal != w {
			return fmt.Errorf("tool %q must end the turn in %s, got %q", name, w, t.Terminal)
		}
		switch t.Terminal {
		case "", StateAwaitingUser, StateIdle:
		default:
			return fmt.Errorf("tool %q has invalid terminal state %q", name, t.Terminal)
		}
	}
	return nil
}

// logInitialConfiguration logs the prompt in use, its estimated size and
// the tool categories on offer.
func logInitialConfiguration(l zerolog.Logger, promptRef, instructions string, tools *ToolRegistry, model string) {
	toolTokens := 0
	categories := make(map[string]bool)
	for _, schema := range tools.Schemas() {
		toolTokens += EstimateToolTokens(schema)
		if tool, ok := tools.Get(schema.Name); ok && tool.Metadata.Category != "" {
			categories[tool.Metadata.Category] = true
		}
	}
	cats := make([]string, 0, len(categories))
	for c := range categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	l.Info().
		Str("prompt", promptRef).
		Str("model", model).
		Int("system_tokens", EstimateTokens(instructions)).
		Int("tool_tokens", toolTokens).
		Int("tools", tools.Len()).
		Strs("categories", cats).
		Msg("agent configured")
}
