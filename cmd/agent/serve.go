package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/debug"
	"goa.design/clue/log"

	"goa.design/agentd/config"
	streampulse "goa.design/agentd/features/stream/pulse"
	clientspulse "goa.design/agentd/features/stream/pulse/clients/pulse"
	"goa.design/agentd/features/model/anthropic"
	"goa.design/agentd/features/model/middleware"
	"goa.design/agentd/features/model/openai"
	"goa.design/agentd/features/store/sqlite"
	"goa.design/agentd/runtime/account"
	"goa.design/agentd/runtime/clock"
	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/model"
	"goa.design/agentd/runtime/registry"
	"goa.design/agentd/runtime/schedule"
	"goa.design/agentd/runtime/scheduler"
	"goa.design/agentd/runtime/telemetry"
	"goa.design/agentd/runtime/turn"
	"goa.design/agentd/server"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		configF = fs.String("config", "agent.yaml", "configuration file")
		dbgF    = fs.Bool("debug", false, "log request and response bodies")
		tpmF    = fs.Float64("tpm", 0, "tokens-per-minute cap per provider (0 disables)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Print(ctx, log.KV{K: "db", V: cfg.Storage.DBPath}, log.KV{K: "port", V: cfg.Server.Port})

	clk := clock.System{}
	ids := ident.UUID{}
	logger := telemetry.NewClueLogger()

	if err := seedAgents(ctx, store, cfg, clk); err != nil {
		return err
	}

	reg, err := buildRegistry(cfg, *tpmF)
	if err != nil {
		return err
	}

	quota := governance.NewQuotaKeeper(governance.DefaultToolQuota)
	pipeline, err := turn.NewPipeline(turn.Options{
		Sessions: store,
		Agents:   store,
		Registry: reg,
		Bind:     bindFromConfig(cfg),
		Quota:    quota,
		Clock:    clk,
		IDs:      ids,
		Log:      logger,
	})
	if err != nil {
		return err
	}

	engine, err := schedule.NewEngine(store, ids)
	if err != nil {
		return err
	}
	lane, err := scheduler.NewLane(store, ids)
	if err != nil {
		return err
	}
	executor, err := scheduler.NewExecutor(scheduler.ExecutorOptions{
		Policy: governance.DefaultEngine{},
		Audit:  store,
		IDs:    ids,
		Clock:  clk,
		Log:    logger,
	})
	if err != nil {
		return err
	}
	loop, err := scheduler.NewLoop(scheduler.LoopOptions{
		Engine:   engine,
		Executor: executor,
		Lane:     lane,
		Clock:    clk,
		Log:      logger,
		Period:   time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	// Cancelling this context stops the dispatch loop and every in-flight
	// turn, including model calls mid-stream.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvOpts := server.Options{
		Sessions:    store,
		Channels:    store,
		Agents:      store,
		Schedules:   store,
		Pipeline:    pipeline,
		Clock:       clk,
		IDs:         ids,
		Log:         logger,
		BaseContext: ctx,
		Version:     version,
	}
	if cfg.Streaming.RedisAddr != "" {
		streams, err := buildStreams(cfg.Streaming)
		if err != nil {
			return err
		}
		defer streams.Close(context.Background())
		srvOpts.Sink = streams.Sink()
		log.Print(ctx, log.KV{K: "event mirror", V: cfg.Streaming.RedisAddr})
	}
	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}

	mux := srv.Handler()
	if *dbgF {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	var handler http.Handler = mux
	if *dbgF {
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	go loop.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("signal: %s", <-c)
	}()
	go func() {
		log.Printf(ctx, "HTTP server listening on %q", addr)
		errc <- httpSrv.ListenAndServe()
	}()

	err = <-errc
	log.Printf(ctx, "shutting down: %v", err)
	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if serr := httpSrv.Shutdown(shutCtx); serr != nil {
		log.Printf(ctx, "failed to shutdown: %v", serr)
	}
	return nil
}

// seedAgents upserts configured agents into the store so budget accounting
// has a row to consume against. Existing consumption state is preserved.
func seedAgents(ctx context.Context, store *sqlite.Store, cfg config.Config, clk clock.Clock) error {
	for id, def := range cfg.Agents {
		existing, err := store.LoadAgent(ctx, id)
		if err == nil {
			existing.PermissionMode = account.PermissionMode(def.PermissionMode)
			existing.TokenBudget = def.TokenBudget
			existing.QuotaPeriod = account.QuotaPeriod(def.QuotaPeriod)
			if err := store.PutAgent(ctx, existing); err != nil {
				return err
			}
			continue
		}
		reset := account.NextReset(account.QuotaPeriod(def.QuotaPeriod), clk.Now())
		a := account.Agent{
			ID:             id,
			PermissionMode: account.PermissionMode(def.PermissionMode),
			TokenBudget:    def.TokenBudget,
			QuotaPeriod:    account.QuotaPeriod(def.QuotaPeriod),
		}
		if account.QuotaPeriod(def.QuotaPeriod) != account.PeriodLifetime {
			a.BudgetResetAt = &reset
		}
		if err := store.PutAgent(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// buildRegistry wires provider factories for the configured providers. The
// "google" provider is accepted by configuration but has no factory, so
// resolving it reports an unsupported provider.
func buildRegistry(cfg config.Config, tpm float64) (*registry.Registry, error) {
	providers := make(map[string]registry.Provider, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providers[name] = registry.Provider{APIKeyEnv: p.APIKeyEnv}
	}
	opts := registry.Options{
		Providers: providers,
		LookupEnv: os.LookupEnv,
	}
	if tpm > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(tpm, tpm*2)
		opts.Middleware = limiter.Middleware()
	}
	reg, err := registry.New(opts)
	if err != nil {
		return nil, err
	}
	reg.Register("anthropic", func(apiKey, _ string) (model.Client, error) {
		return anthropic.NewFromAPIKey(apiKey)
	})
	reg.Register("openai", func(apiKey, _ string) (model.Client, error) {
		return openai.NewFromAPIKey(apiKey)
	})
	reg.Register("openrouter", func(apiKey, _ string) (model.Client, error) {
		return openai.NewOpenRouter(apiKey)
	})
	return reg, nil
}

// buildStreams connects the turn event mirror to Redis.
func buildStreams(cfg config.Streaming) (*streampulse.Streams, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	client, err := clientspulse.New(clientspulse.Options{
		Redis:        rdb,
		StreamMaxLen: cfg.StreamMaxLen,
	})
	if err != nil {
		return nil, err
	}
	return streampulse.NewStreams(streampulse.StreamsOptions{Client: client})
}

// bindFromConfig maps agent IDs to their model bindings.
func bindFromConfig(cfg config.Config) func(agentID string) (turn.Binding, error) {
	return func(agentID string) (turn.Binding, error) {
		def, ok := cfg.Agents[agentID]
		if !ok {
			return turn.Binding{}, fmt.Errorf("agent %q is not configured", agentID)
		}
		return turn.Binding{
			Provider:     def.Model.Provider,
			ModelID:      def.Model.ModelID,
			SystemPrompt: def.Persona.SystemPrompt,
			Temperature:  def.Generation.Temperature,
			TopP:         def.Generation.TopP,
			MaxTokens:    def.Generation.MaxOutputTokens,
			Seed:         def.Generation.Seed,
		}, nil
	}
}
