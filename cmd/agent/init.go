package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"goa.design/clue/log"

	"goa.design/agentd/config"
	"goa.design/agentd/features/store/sqlite"
)

const starterConfig = `server:
  port: 8080

storage:
  dbPath: ./personal-agent.sqlite

scheduler:
  tickSeconds: 10

providers:
  anthropic:
    apiKeyEnv: ANTHROPIC_API_KEY

agents:
  assistant:
    persona:
      name: Assistant
      systemPrompt: You are a helpful personal assistant.
    model:
      provider: anthropic
      modelId: claude-sonnet-4-5
    generation:
      temperature: 0.7
      maxOutputTokens: 2048
    permissionMode: Standard
    tokenBudget: 1000000
    quotaPeriod: Monthly
`

// initCmd writes a starter agent.yaml and creates the database schema.
func initCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configF := fs.String("config", "agent.yaml", "configuration file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*configF); err == nil {
		return fmt.Errorf("%s already exists", *configF)
	}
	if err := os.WriteFile(*configF, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	cfg, err := config.Load(*configF)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	log.Printf(ctx, "wrote %s and created %s", *configF, cfg.Storage.DBPath)
	return nil
}
