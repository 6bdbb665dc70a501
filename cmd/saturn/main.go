// Command saturn is an agentic coding assistant: a tool-calling agent loop
// over an OpenAI-compatible chat API, with sub-agent orchestration, a patch
// engine, and session persistence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spotty118/saturn"
	"github.com/spotty118/saturn/internal/config"
	"github.com/spotty118/saturn/observer"
	"github.com/spotty118/saturn/patch"
	"github.com/spotty118/saturn/perf"
	"github.com/spotty118/saturn/provider/openaicompat"
	"github.com/spotty118/saturn/store/postgres"
	"github.com/spotty118/saturn/store/sqlite"
	edittool "github.com/spotty118/saturn/tools/edit"
	filetool "github.com/spotty118/saturn/tools/file"
	greptool "github.com/spotty118/saturn/tools/grep"
	shelltool "github.com/spotty118/saturn/tools/shell"
	"github.com/spotty118/saturn/tools/subagent"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		webMode      bool
		terminalMode bool
		port         int
	)
	flag.BoolVar(&webMode, "web", false, "serve the web chat API")
	flag.BoolVar(&webMode, "w", false, "serve the web chat API (shorthand)")
	flag.BoolVar(&terminalMode, "terminal", false, "run the terminal chat loop")
	flag.BoolVar(&terminalMode, "t", false, "run the terminal chat loop (shorthand)")
	flag.IntVar(&port, "port", 0, "web server port (1024-65535, default 5173)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.Load(os.Getenv("SATURN_CONFIG"))
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cleanup()

	if webMode {
		err = serveWeb(ctx, app, cfg.Server.Port, logger)
	} else {
		err = runTerminal(ctx, app)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// app bundles the wired components handed to the terminal and web frontends.
type app struct {
	agent *saturn.Agent
	orch  *saturn.Orchestrator
}

// buildApp wires config into the provider, store, tools, orchestrator, and
// primary agent.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	root, err := os.Getwd()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("resolve workspace: %w", err)
	}

	// Workspace secrets feed key resolution; a broken store is not fatal,
	// env and TOML keys still resolve.
	if secrets, err := config.NewSecretStore(root); err == nil {
		cfg.AttachSecrets(secrets)
	} else {
		logger.Warn("workspace secret store unavailable", "error", err)
	}

	var provider saturn.Provider = openaicompat.NewProvider(
		cfg.APIKey(cfg.Provider.Name), cfg.Provider.Model, cfg.Provider.BaseURL,
		openaicompat.WithName(cfg.Provider.Name),
		openaicompat.WithAttribution(cfg.Provider.Referer, cfg.Provider.Title),
		openaicompat.WithLogger(logger),
	)
	if cfg.Provider.RetryAttempts > 0 {
		provider = saturn.WithRetry(provider,
			saturn.RetryMaxAttempts(cfg.Provider.RetryAttempts),
			saturn.RetryLogger(logger))
	}
	if cfg.Provider.RPM > 0 || cfg.Provider.TPM > 0 {
		var limits []saturn.RateLimitOption
		if cfg.Provider.RPM > 0 {
			limits = append(limits, saturn.RPM(cfg.Provider.RPM))
		}
		if cfg.Provider.TPM > 0 {
			limits = append(limits, saturn.TPM(cfg.Provider.TPM))
		}
		provider = saturn.WithRateLimit(provider, limits...)
	}

	var tracer saturn.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("observer init: %w", err)
		}
		cleanups = append(cleanups, func() { _ = shutdown(context.Background()) })
		provider = observer.WrapProvider(provider, cfg.Provider.Model, inst)
		tracer = observer.NewTracer()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if store != nil {
		cleanups = append(cleanups, func() { _ = store.Close() })
	}

	tracker, err := perf.NewTracker(cfg.Patch.MetricsPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	engineOpts := []patch.EngineOption{
		patch.WithTracker(tracker),
		patch.WithFallback(cfg.Patch.EnableFallback),
		patch.WithEngineLogger(logger),
	}
	if cfg.Patch.Endpoint != "" {
		engineOpts = append(engineOpts, patch.WithRemote(patch.NewRemoteClient(
			cfg.Patch.Endpoint, cfg.APIKey("morph"), cfg.Patch.Model,
			patch.WithRemoteTimeout(cfg.Patch.RemoteTimeout()))))
	}
	engine := patch.NewEngine(root, engineOpts...)

	registry := saturn.NewRegistry(logger)
	registry.Register(filetool.NewReadTool(root))
	registry.Register(filetool.NewWriteTool(root))
	registry.Register(filetool.NewListTool(root))
	registry.Register(greptool.New(root))
	registry.Register(edittool.New(engine))

	shellOpts := []shelltool.Option{}
	if cfg.Agent.RequireCommandApproval {
		shellOpts = append(shellOpts, shelltool.WithApproval(promptApproval))
	}
	registry.Register(shelltool.New(root, shellOpts...))

	runner := saturn.NewRunner(registry,
		saturn.WithRunnerLogger(logger), saturn.WithRunnerTracer(tracer))
	if inst != nil {
		runner.OnToolCall(observer.ToolMetricsHook(inst))
	}

	agentCfg := saturn.DefaultConfig("saturn", cfg.Provider.Model)
	agentCfg.SystemPrompt = cfg.Agent.SystemPrompt
	agentCfg.Temperature = cfg.Agent.Temperature
	agentCfg.TopP = cfg.Agent.TopP
	agentCfg.MaxTokens = cfg.Agent.MaxTokens
	agentCfg.MaxHistoryMessages = cfg.Agent.MaxHistoryMessages
	agentCfg.ToolAllowlist = cfg.Agent.ToolAllowlist
	agentCfg.RequireCommandApproval = cfg.Agent.RequireCommandApproval
	if cfg.Agent.MaxToolRounds > 0 {
		agentCfg.MaxToolRounds = cfg.Agent.MaxToolRounds
	}

	primary := saturn.NewAgent(agentCfg, provider,
		saturn.WithRegistry(registry),
		saturn.WithRunner(runner),
		saturn.WithStore(store),
		saturn.WithLogger(logger),
		saturn.WithAgentTracer(tracer),
	)

	orch := saturn.NewOrchestrator(saturn.OrchestratorConfig{
		MaxConcurrentAgents: cfg.Agent.MaxConcurrentAgents,
		DefaultModel:        cfg.Provider.Model,
	}, func(subCfg saturn.Config) (*saturn.Agent, error) {
		return saturn.NewAgent(subCfg, provider,
			saturn.WithRegistry(registry),
			saturn.WithRunner(runner),
			saturn.WithStore(store),
			saturn.WithLogger(logger),
			saturn.WithAgentTracer(tracer),
			saturn.WithParentSession(primary.SessionID()),
		), nil
	}, saturn.WithOrchestratorLogger(logger), saturn.WithOrchestratorTracer(tracer))
	cleanups = append(cleanups, orch.Shutdown)

	registry.Register(subagent.NewSpawnTool(orch))
	registry.Register(subagent.NewHandOffTool(orch))
	registry.Register(subagent.NewWaitTool(orch))
	registry.Register(subagent.NewStatusTool(orch))
	registry.Register(subagent.NewTerminateTool(orch))

	return &app{agent: primary, orch: orch}, cleanup, nil
}

// openStore opens the configured session store, or returns nil when
// persistence is disabled.
func openStore(ctx context.Context, cfg config.Config) (saturn.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		st := postgres.New(pool)
		if err := st.Init(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &poolStore{Store: st, pool: pool}, nil
	case "", "none":
		return nil, nil
	default:
		st := sqlite.New(cfg.Store.Path)
		if err := st.Init(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	}
}

// poolStore closes the pgx pool together with the store.
type poolStore struct {
	*postgres.Store
	pool *pgxpool.Pool
}

func (p *poolStore) Close() error {
	p.pool.Close()
	return nil
}
