package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  port: 9090
storage:
  dbPath: /tmp/agent-test.sqlite
scheduler:
  tickSeconds: 5
streaming:
  redisAddr: localhost:6379
  streamMaxLen: 1000
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
  openrouter:
    apiKeyEnv: OPENROUTER_API_KEY
agents:
  assistant:
    persona:
      name: Assistant
      systemPrompt: "You are a helpful personal assistant."
    model:
      provider: anthropic
      modelId: claude-sonnet-4
    generation:
      temperature: 0.7
      maxOutputTokens: 2048
    permissionMode: Standard
    tokenBudget: 1000000
    quotaPeriod: Monthly
  researcher:
    model:
      provider: openrouter
      modelId: deepseek/deepseek-chat
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Scheduler.TickSeconds != 5 {
		t.Fatalf("tick = %d", cfg.Scheduler.TickSeconds)
	}
	a := cfg.Agents["assistant"]
	if a.Persona.Name != "Assistant" {
		t.Fatalf("persona name = %q", a.Persona.Name)
	}
	if !strings.Contains(a.Persona.SystemPrompt, "helpful") {
		t.Fatalf("system prompt = %q", a.Persona.SystemPrompt)
	}
	if a.Model.Provider != "anthropic" || a.Model.ModelID != "claude-sonnet-4" {
		t.Fatalf("model = %+v", a.Model)
	}
	if a.Generation.Temperature != 0.7 || a.Generation.MaxOutputTokens != 2048 {
		t.Fatalf("generation = %+v", a.Generation)
	}
	if cfg.Streaming.RedisAddr != "localhost:6379" || cfg.Streaming.StreamMaxLen != 1000 {
		t.Fatalf("streaming = %+v", cfg.Streaming)
	}

	// The model ID may itself contain slashes (OpenRouter naming).
	r := cfg.Agents["researcher"]
	if r.Model.Provider != "openrouter" || r.Model.ModelID != "deepseek/deepseek-chat" {
		t.Fatalf("researcher model = %+v", r.Model)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  assistant:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Fatalf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Storage.DBPath == "" {
		t.Fatal("dbPath default not applied")
	}
	a := cfg.Agents["assistant"]
	if a.PermissionMode != "Standard" || a.QuotaPeriod != "Monthly" {
		t.Fatalf("agent defaults = %+v", a)
	}
	if a.ContextWindowTokens != DefaultContextWindow {
		t.Fatalf("context window = %d", a.ContextWindowTokens)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  assistant:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
    personna: "typo"
`))
	if err == nil {
		t.Fatal("expected a decode error for a misspelled field")
	}
}

func TestParseRejectsFlatAgentShape(t *testing.T) {
	// The legacy "provider/modelID" string form is not accepted; model is an
	// object with provider and modelId.
	_, err := Parse([]byte(`
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  assistant:
    model: anthropic/claude-sonnet-4
`))
	if err == nil {
		t.Fatal("expected a decode error for a flat model string")
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown provider",
			yaml: `
providers:
  mistral:
    apiKeyEnv: MISTRAL_API_KEY
agents:
  a:
    model:
      provider: mistral
      modelId: large
`,
			want: "unknown provider",
		},
		{
			name: "missing apiKeyEnv",
			yaml: `
providers:
  anthropic: {}
agents:
  a:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
`,
			want: "apiKeyEnv is required",
		},
		{
			name: "no agents",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
`,
			want: "at least one agent",
		},
		{
			name: "missing model provider",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      modelId: claude-sonnet-4
`,
			want: "model.provider is required",
		},
		{
			name: "missing model id",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      provider: anthropic
`,
			want: "model.modelId is required",
		},
		{
			name: "agent references unconfigured provider",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      provider: openai
      modelId: gpt-4o
`,
			want: "not configured",
		},
		{
			name: "bad permission mode",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
    permissionMode: Sudo
`,
			want: "permission mode",
		},
		{
			name: "bad quota period",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
    quotaPeriod: Fortnightly
`,
			want: "quota period",
		},
		{
			name: "negative budget",
			yaml: `
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
    tokenBudget: -1
`,
			want: "tokenBudget",
		},
		{
			name: "negative stream max length",
			yaml: `
streaming:
  streamMaxLen: -5
providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY
agents:
  a:
    model:
      provider: anthropic
      modelId: claude-sonnet-4
`,
			want: "streamMaxLen",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestGoogleProviderAcceptedInConfig(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  google:
    apiKeyEnv: GEMINI_API_KEY
agents:
  a:
    model:
      provider: google
      modelId: gemini-pro
`))
	if err != nil {
		t.Fatalf("google must pass config validation: %v", err)
	}
}
