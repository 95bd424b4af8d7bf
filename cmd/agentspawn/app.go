package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/config"
	"github.com/nidhogg/agentspawn/internal/embedding"
	"github.com/nidhogg/agentspawn/internal/lineage"
	"github.com/nidhogg/agentspawn/internal/mcp"
	"github.com/nidhogg/agentspawn/internal/memory"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/nidhogg/agentspawn/internal/provider"
	"github.com/nidhogg/agentspawn/internal/registry"
	pgstore "github.com/nidhogg/agentspawn/internal/store"
	"github.com/nidhogg/agentspawn/internal/vectorstore"
	"go.uber.org/zap"
)

// app is the wired engine plus the optional backends it was built with.
// Backends that fail to connect are logged and left nil.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	templates *registry.Registry
	tools     *agent.ToolRegistry
	engine    *orchestrator.Engine
	history   memory.Provider
	events    orchestrator.EventLog
	pg        *pgstore.Store
	redis     *orchestrator.RedisSink
	graph     *lineage.Graph

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	router, err := a.providers()
	if err != nil {
		return nil, err
	}
	reasoner := provider.NewReasoner(router, provider.Settings{
		Model:       cfg.Orchestrator.Model,
		Temperature: cfg.Orchestrator.Temperature,
		MaxRetries:  cfg.Orchestrator.MaxRetries,
	}, logger)

	if err := a.initTemplates(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.initPostgres(ctx)
	a.initHistory(ctx)
	a.initTools(ctx)

	recorder := orchestrator.NewRecorder(1000)
	sinks := orchestrator.MultiSink{recorder}
	a.events = recorder
	if url := cfg.Database.Redis.URL; url != "" {
		rs, err := orchestrator.NewRedisSink(ctx, url, cfg.Database.Redis.Stream, logger)
		if err != nil {
			logger.Warn("Redis unavailable, events stay in process", zap.Error(err))
		} else {
			a.redis = rs
			a.events = rs
			sinks = append(sinks, rs)
			a.closers = append(a.closers, func() { rs.Close() })
		}
	}
	if neo := cfg.Database.Neo4j; neo.URI != "" {
		g, err := lineage.NewGraph(ctx, neo.URI, neo.User, neo.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, running without lineage graph", zap.Error(err))
		} else {
			a.graph = g
			sinks = append(sinks, g)
			a.closers = append(a.closers, func() { g.Close(context.Background()) })
		}
	}

	opts := []orchestrator.Option{orchestrator.WithEvents(sinks)}
	if a.history != nil {
		opts = append(opts, orchestrator.WithMemory(a.history))
	}
	if a.pg != nil {
		opts = append(opts, orchestrator.WithRunStore(a.pg))
	}
	o := cfg.Orchestrator
	budget := memory.Budget{MaxTokens: o.HistoryTokens, MaxEntries: o.HistoryLimit}
	if o.CompactHistory {
		opts = append(opts, orchestrator.WithCompactor(memory.NewCompactor(reasoner, budget, logger)))
	}
	a.engine = orchestrator.NewEngine(orchestrator.Config{
		AgentTimeout:   o.AgentTimeout.Duration,
		MaxConcurrency: o.MaxConcurrency,
		HistoryLimit:   o.HistoryLimit,
		HistoryBudget:  budget,
	}, a.templates, reasoner, agent.NewFactory(a.templates, reasoner, a.tools, logger), logger, opts...)
	return a, nil
}

// providers registers every configured model provider and binds each
// provider's routes (agent types) to it.
func (a *app) providers() (*provider.Router, error) {
	router := provider.NewRouter(a.logger)
	for _, pc := range a.cfg.Providers {
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(pc.Provider(), a.logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(pc.Provider(), a.logger))
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", pc.ID, pc.Type)
		}
		for _, route := range pc.Routes {
			router.Bind(route, pc.ID)
		}
	}
	switch {
	case a.cfg.Orchestrator.Provider != "":
		router.SetDefault(a.cfg.Orchestrator.Provider)
	case len(a.cfg.Providers) > 0:
		router.SetDefault(a.cfg.Providers[0].ID)
	default:
		a.logger.Warn("no model providers configured, every task will fail at reasoning")
	}
	return router, nil
}

func (a *app) initTemplates(ctx context.Context) error {
	a.templates = registry.New()
	dir := a.cfg.Registry.TemplateDir
	if dir == "" {
		return nil
	}
	n, err := a.templates.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load templates from %s: %w", dir, err)
	}
	a.logger.Info("Loaded agent templates", zap.String("dir", dir), zap.Int("count", n))
	if a.cfg.Registry.Watch {
		if err := a.templates.Watch(ctx, dir, a.logger); err != nil {
			a.logger.Warn("template hot reload disabled", zap.Error(err))
		}
	}
	return nil
}

func (a *app) initPostgres(ctx context.Context) {
	dsn := a.cfg.Database.Postgres.DSN
	if dsn == "" {
		return
	}
	ps, err := pgstore.New(ctx, dsn, a.logger)
	if err != nil {
		a.logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		return
	}
	if err := ps.Migrate(ctx); err != nil {
		a.logger.Warn("migration failed, running without persistence", zap.Error(err))
		ps.Close()
		return
	}
	a.pg = ps
	a.closers = append(a.closers, ps.Close)
	n, err := ps.LoadTemplates(ctx, a.templates)
	if err != nil {
		a.logger.Warn("failed to load templates from DB", zap.Error(err))
		return
	}
	a.logger.Info("Loaded agent templates from DB", zap.Int("count", n))
}

// initHistory picks the thread memory: Postgres when available, else an
// in-process buffer, optionally layered with Qdrant similarity recall.
func (a *app) initHistory(ctx context.Context) {
	var recent memory.Provider = memory.NewBuffer(0)
	if a.pg != nil {
		recent = a.pg
	}
	a.history = recent

	q := a.cfg.Database.Qdrant
	if q.Host == "" || a.cfg.Embedding.APIKey == "" && a.cfg.Embedding.Endpoint == "" {
		return
	}
	vs, err := vectorstore.NewClient(q)
	if err != nil {
		a.logger.Warn("Qdrant unavailable, running without semantic recall", zap.Error(err))
		return
	}
	sem := memory.NewSemantic(recent, vs, embedding.NewOpenAIProvider(a.cfg.Embedding), q.Collection, a.logger)
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := sem.Init(initCtx); err != nil {
		a.logger.Warn("semantic recall disabled", zap.Error(err))
		vs.Close()
		return
	}
	a.history = sem
	a.closers = append(a.closers, func() { vs.Close() })
	a.logger.Info("Semantic thread recall enabled", zap.String("qdrant", q.Host))
}

func (a *app) initTools(ctx context.Context) {
	a.tools = agent.NewToolRegistry()
	tc := a.cfg.Tools
	agent.RegisterBuiltinTools(a.tools, agent.BuiltinOptions{
		Templates:  a.templates,
		FileRoot:   tc.FileRoot,
		HTTPAllow:  tc.HTTPAllow,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	})
	if tc.SQLitePath != "" {
		qt, err := agent.OpenQueryTool(tc.SQLitePath)
		if err != nil {
			a.logger.Warn("database_query tool disabled", zap.Error(err))
		} else {
			qt.Register(a.tools)
			a.closers = append(a.closers, func() { qt.Close() })
		}
	}
	for _, sc := range a.cfg.MCP.Servers {
		c := mcp.NewClient(sc, a.logger)
		connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := c.Connect(connCtx)
		cancel()
		if err != nil {
			a.logger.Warn("MCP server unavailable", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		c.Register(a.tools)
		a.closers = append(a.closers, func() { c.Close() })
	}
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
