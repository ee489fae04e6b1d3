// Package config loads and validates the agent.yaml runtime configuration:
// providers, agent definitions, server and scheduler settings, storage
// location. Unknown YAML fields are rejected so typos fail at startup rather
// than silently disabling features.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"goa.design/agentd/runtime/account"
)

type (
	// Config is the full runtime configuration.
	Config struct {
		// Server configures the HTTP surface.
		Server Server `yaml:"server"`
		// Storage configures the SQLite database.
		Storage Storage `yaml:"storage"`
		// Scheduler configures the dispatch loop.
		Scheduler Scheduler `yaml:"scheduler"`
		// Streaming configures the optional Redis event mirror.
		Streaming Streaming `yaml:"streaming"`
		// Providers maps provider names to their credentials source.
		Providers map[string]Provider `yaml:"providers"`
		// Agents maps agent IDs to their definitions.
		Agents map[string]AgentDef `yaml:"agents"`
	}

	// Server configures the HTTP listener.
	Server struct {
		// Port is the listen port. Defaults to 8080.
		Port int `yaml:"port"`
	}

	// Storage configures persistence.
	Storage struct {
		// DBPath is the SQLite file location. Defaults to the
		// PERSONAL_AGENT_DB_PATH environment variable, then to
		// "./personal-agent.sqlite".
		DBPath string `yaml:"dbPath"`
	}

	// Scheduler configures the dispatch loop.
	Scheduler struct {
		// TickSeconds is the dispatch period. Zero uses the loop default.
		TickSeconds int `yaml:"tickSeconds"`
	}

	// Streaming configures mirroring of turn events into Redis streams for
	// out-of-process consumers. Disabled when RedisAddr is empty.
	Streaming struct {
		// RedisAddr is the Redis host:port backing the streams.
		RedisAddr string `yaml:"redisAddr"`
		// StreamMaxLen bounds entries kept per stream. Zero keeps the
		// backend default.
		StreamMaxLen int `yaml:"streamMaxLen"`
	}

	// Provider names the environment variable holding a provider API key.
	Provider struct {
		// APIKeyEnv is the environment variable holding the API key.
		APIKeyEnv string `yaml:"apiKeyEnv"`
	}

	// AgentDef is one configured agent.
	AgentDef struct {
		// Persona names the agent and carries its system prompt.
		Persona Persona `yaml:"persona"`
		// Model binds the agent to a provider and model.
		Model Model `yaml:"model"`
		// Generation tunes sampling.
		Generation Generation `yaml:"generation"`
		// PermissionMode gates governance. Defaults to Standard.
		PermissionMode string `yaml:"permissionMode"`
		// TokenBudget is the per-period token budget. Zero means unlimited
		// within the context window.
		TokenBudget int64 `yaml:"tokenBudget"`
		// QuotaPeriod is the budget rotation period. Defaults to Monthly.
		QuotaPeriod string `yaml:"quotaPeriod"`
		// ContextWindowTokens is the session capacity. Defaults to 200000.
		ContextWindowTokens int64 `yaml:"contextWindowTokens"`
	}

	// Persona is the agent's identity.
	Persona struct {
		// Name is the display name.
		Name string `yaml:"name"`
		// SystemPrompt is prepended to every conversation.
		SystemPrompt string `yaml:"systemPrompt"`
	}

	// Model binds an agent to a configured provider.
	Model struct {
		// Provider is a key of the providers map.
		Provider string `yaml:"provider"`
		// ModelID is the provider-side model identifier.
		ModelID string `yaml:"modelId"`
	}

	// Generation tunes model sampling.
	Generation struct {
		Temperature     float32 `yaml:"temperature"`
		TopP            float32 `yaml:"topP"`
		MaxOutputTokens int     `yaml:"maxOutputTokens"`
		Seed            *int64  `yaml:"seed"`
	}
)

// Defaults applied by Load when the file leaves fields empty.
const (
	DefaultPort          = 8080
	DefaultDBPath        = "./personal-agent.sqlite"
	DefaultContextWindow = 200000
	DBPathEnv            = "PERSONAL_AGENT_DB_PATH"
)

// knownProviders is the provider allow-list. Names outside it fail
// validation; "google" is accepted here and rejected later at model
// resolution, which keeps the config portable across builds.
var knownProviders = map[string]bool{
	"anthropic":  true,
	"openai":     true,
	"openrouter": true,
	"google":     true,
}

// Load reads, decodes and validates the configuration at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Storage.DBPath == "" {
		if env := os.Getenv(DBPathEnv); env != "" {
			c.Storage.DBPath = env
		} else {
			c.Storage.DBPath = DefaultDBPath
		}
	}
	for id, a := range c.Agents {
		if a.PermissionMode == "" {
			a.PermissionMode = string(account.ModeStandard)
		}
		if a.QuotaPeriod == "" {
			a.QuotaPeriod = string(account.PeriodMonthly)
		}
		if a.ContextWindowTokens == 0 {
			a.ContextWindowTokens = DefaultContextWindow
		}
		c.Agents[id] = a
	}
}

// Validate checks cross-field constraints beyond YAML shape.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Scheduler.TickSeconds < 0 {
		return fmt.Errorf("scheduler.tickSeconds must not be negative")
	}
	if c.Streaming.StreamMaxLen < 0 {
		return fmt.Errorf("streaming.streamMaxLen must not be negative")
	}
	for name, p := range c.Providers {
		if !knownProviders[name] {
			return fmt.Errorf("unknown provider %q", name)
		}
		if p.APIKeyEnv == "" {
			return fmt.Errorf("provider %q: apiKeyEnv is required", name)
		}
	}
	if len(c.Agents) == 0 {
		return errors.New("at least one agent is required")
	}
	for id, a := range c.Agents {
		if a.Model.Provider == "" {
			return fmt.Errorf("agent %q: model.provider is required", id)
		}
		if a.Model.ModelID == "" {
			return fmt.Errorf("agent %q: model.modelId is required", id)
		}
		if _, ok := c.Providers[a.Model.Provider]; !ok {
			return fmt.Errorf("agent %q: provider %q is not configured", id, a.Model.Provider)
		}
		if !validPermissionMode(a.PermissionMode) {
			return fmt.Errorf("agent %q: unknown permission mode %q", id, a.PermissionMode)
		}
		if !validQuotaPeriod(a.QuotaPeriod) {
			return fmt.Errorf("agent %q: unknown quota period %q", id, a.QuotaPeriod)
		}
		if a.TokenBudget < 0 {
			return fmt.Errorf("agent %q: tokenBudget must not be negative", id)
		}
		if a.ContextWindowTokens <= 0 {
			return fmt.Errorf("agent %q: contextWindowTokens must be positive", id)
		}
	}
	return nil
}

func validPermissionMode(mode string) bool {
	switch account.PermissionMode(mode) {
	case account.ModePermissive, account.ModeStandard, account.ModeRestrictive:
		return true
	}
	return false
}

func validQuotaPeriod(period string) bool {
	switch account.QuotaPeriod(period) {
	case account.PeriodDaily, account.PeriodMonthly, account.PeriodYearly, account.PeriodLifetime:
		return true
	}
	return false
}
