// Package config loads spotter's configuration: a YAML file overlaid by
// SPOTTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
}

type LLMConfig struct {
	Provider      string `yaml:"provider"` // anthropic, openai, kimi, gemini, ...
	APIKey        string `yaml:"api_key,omitempty"`
	Model         string `yaml:"model,omitempty"`
	SelectorModel string `yaml:"selector_model,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`
	// RequestsPerMinute caps model calls across all sessions; 0 disables.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	ModelTimeout  time.Duration `yaml:"model_timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	CoachNotes    string        `yaml:"coach_notes,omitempty"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // sqlite | postgres
	Path        string `yaml:"path"`   // sqlite session database
	DSN         string `yaml:"dsn,omitempty"`
	FitnessPath string `yaml:"fitness_path"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	CORSOrigins   []string      `yaml:"cors_origins,omitempty"`
	JWTSecret     string        `yaml:"jwt_secret,omitempty"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// RedisConfig enables session event streaming when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// Default returns a configuration that works locally with SQLite and
// Anthropic.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5",
			SelectorModel: "claude-haiku-4-5",
		},
		Agent: AgentConfig{
			MaxIterations: 8,
			ModelTimeout:  60 * time.Second,
			ToolTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "spotter.db",
			FitnessPath: "fitness.db",
		},
		Server: ServerConfig{
			Addr:          ":8080",
			CORSOrigins:   []string{"http://localhost:5173"},
			RatePerMinute: 30,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  120 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: %w", err)
	}
	return cfg, nil
}

// Load reads path (a missing file means defaults), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: %w", err)
		default:
			if cfg, err = Parse(data); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error

	c.LLM.Provider = getEnv("SPOTTER_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("SPOTTER_LLM_MODEL", c.LLM.Model)
	c.LLM.SelectorModel = getEnv("SPOTTER_SELECTOR_MODEL", c.LLM.SelectorModel)
	c.LLM.BaseURL = getEnv("SPOTTER_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("SPOTTER_LLM_API_KEY", c.LLM.APIKey)
	if c.LLM.APIKey == "" && c.LLM.Provider != "" {
		// Provider keys follow the <PROVIDER>_API_KEY convention.
		c.LLM.APIKey = os.Getenv(strings.ToUpper(c.LLM.Provider) + "_API_KEY")
	}
	if c.LLM.RequestsPerMinute, err = getEnvInt("SPOTTER_LLM_RPM", c.LLM.RequestsPerMinute); err != nil {
		return err
	}

	if c.Agent.MaxIterations, err = getEnvInt("SPOTTER_MAX_ITERATIONS", c.Agent.MaxIterations); err != nil {
		return err
	}
	if c.Agent.ModelTimeout, err = getEnvDuration("SPOTTER_MODEL_TIMEOUT", c.Agent.ModelTimeout); err != nil {
		return err
	}
	if c.Agent.ToolTimeout, err = getEnvDuration("SPOTTER_TOOL_TIMEOUT", c.Agent.ToolTimeout); err != nil {
		return err
	}
	c.Agent.CoachNotes = getEnv("SPOTTER_COACH_NOTES", c.Agent.CoachNotes)

	c.Storage.Driver = getEnv("SPOTTER_DB_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("SPOTTER_DB_PATH", c.Storage.Path)
	c.Storage.DSN = getEnv("SPOTTER_DATABASE_URL", c.Storage.DSN)
	c.Storage.FitnessPath = getEnv("SPOTTER_FITNESS_DB", c.Storage.FitnessPath)

	c.Server.Addr = getEnv("SPOTTER_SERVER_ADDR", c.Server.Addr)
	c.Server.CORSOrigins = getEnvList("SPOTTER_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.JWTSecret = getEnv("SPOTTER_JWT_SECRET", c.Server.JWTSecret)
	if c.Server.RatePerMinute, err = getEnvInt("SPOTTER_RATE_PER_MINUTE", c.Server.RatePerMinute); err != nil {
		return err
	}

	c.Redis.Addr = getEnv("SPOTTER_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("SPOTTER_REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("SPOTTER_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	c.Log.Level = getEnv("SPOTTER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("SPOTTER_LOG_FORMAT", c.Log.Format)
	return nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.LLM.Provider == "" {
		return errors.New("llm.provider is required")
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model is required")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be >= 0, got %d", c.LLM.RequestsPerMinute)
	}

	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 100 {
		return fmt.Errorf("agent.max_iterations must be 1-100, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.ModelTimeout <= 0 {
		return fmt.Errorf("agent.model_timeout must be positive, got %s", c.Agent.ModelTimeout)
	}
	if c.Agent.ToolTimeout <= 0 {
		return fmt.Errorf("agent.tool_timeout must be positive, got %s", c.Agent.ToolTimeout)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.FitnessPath == "" {
		return errors.New("storage.fitness_path is required")
	}

	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < 32 {
		return errors.New("server.jwt_secret must be at least 32 characters")
	}
	if c.Server.RatePerMinute < 0 {
		return fmt.Errorf("server.rate_per_minute must be >= 0, got %d", c.Server.RatePerMinute)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server timeouts must be positive")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
