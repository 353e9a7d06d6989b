package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brendan721/flipsync-agents/internal/adapters/chatrepo"
	"github.com/brendan721/flipsync-agents/internal/adapters/llm"
	"github.com/brendan721/flipsync-agents/internal/adapters/marketplace"
	"github.com/brendan721/flipsync-agents/internal/adapters/snapshotstore"
	"github.com/brendan721/flipsync-agents/internal/agents"
	"github.com/brendan721/flipsync-agents/internal/aggregator"
	"github.com/brendan721/flipsync-agents/internal/bus"
	"github.com/brendan721/flipsync-agents/internal/comm"
	"github.com/brendan721/flipsync-agents/internal/config"
	"github.com/brendan721/flipsync-agents/internal/conflict"
	"github.com/brendan721/flipsync-agents/internal/intent"
	"github.com/brendan721/flipsync-agents/internal/observability"
	"github.com/brendan721/flipsync-agents/internal/pipeline"
	"github.com/brendan721/flipsync-agents/internal/realtime"
	"github.com/brendan721/flipsync-agents/internal/registry"
	"github.com/brendan721/flipsync-agents/internal/tasks"
	"github.com/brendan721/flipsync-agents/internal/transport/httpapi"
	"github.com/brendan721/flipsync-agents/internal/transport/ws"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination runtime and chat HTTP/WebSocket surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(config.FromViper(v))
		},
	}
}

// runServe wires every coordination component together and blocks until a
// termination signal arrives, then shuts everything down in reverse
// dependency order.
func runServe(cfg *config.AppConfig) error {
	obs, err := observability.NewObservability(observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		JaegerEndpoint: cfg.JaegerEndpoint,
		PrometheusPort: cfg.PrometheusPort,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	if err != nil {
		return err
	}
	logger := obs.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	b := bus.New(logger)
	reg := registry.New(b, logger, cfg.HealthCheckInterval)
	stopHealthLoop := reg.StartHealthLoop(ctx)
	defer stopHealthLoop()

	delegator := tasks.New(reg, b, logger)
	stopDeadlineMonitor := delegator.StartDeadlineMonitor(ctx)
	defer stopDeadlineMonitor()

	// The aggregator and conflict resolver only publish notifications onto
	// the bus; they hold no subscriptions of their own.
	agg := aggregator.New(b, logger)
	resolver := conflict.New(b, logger)

	rt := realtime.New()
	manager := comm.New(reg, b, logger)

	repo, err := buildChatRepository(cfg)
	if err != nil {
		return err
	}
	store := buildSnapshotStore(cfg)

	controller := pipeline.New(reg, delegator, manager, store, rt, agg, resolver, logger)
	controller.RegisterDefaultTemplates()

	registerAgents(reg, manager, cfg, logger)

	orchestrator := intent.New(repo, reg, delegator, manager, controller, rt, logger)

	httpServer := httpapi.NewServer(repo, orchestrator, logger, nil)
	ws.NewHandler(rt, logger).Mount(httpServer.Router())

	healthServer := observability.NewHealthServer(cfg.HealthPort, cfg.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("chat_repository", observability.NewBasicHealthChecker("chat_repository", func(ctx context.Context) error {
		_, err := repo.ListConversationsByUser(ctx, "healthcheck")
		return err
	}))
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.GetHTTPAddress(),
		Handler: httpServer.Router(),
	}
	go func() {
		logger.Info("chat HTTP/WebSocket surface listening", "address", cfg.GetHTTPAddress())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("coordinator shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown error", "error", err)
	}
	return nil
}

// buildChatRepository picks Postgres-backed persistence when a DSN is
// configured, an in-memory repository otherwise (demo and test runs).
func buildChatRepository(cfg *config.AppConfig) (intent.ChatRepository, error) {
	if cfg.PostgresDSN == "" {
		return chatrepo.NewMemory(), nil
	}
	return chatrepo.NewPostgres(cfg.PostgresDSN)
}

// buildSnapshotStore picks Redis-backed workflow snapshots when an address
// is configured, an in-memory store otherwise.
func buildSnapshotStore(cfg *config.AppConfig) pipeline.SnapshotStore {
	if cfg.RedisAddr == "" {
		return snapshotstore.NewMemory()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return snapshotstore.NewRedis(client, 24*time.Hour)
}

// buildLLMClient picks the real Anthropic-backed client when an API key is
// configured, a deterministic mock otherwise (local/offline demo runs).
func buildLLMClient(cfg *config.AppConfig) llm.Client {
	if cfg.AnthropicAPIKey == "" {
		return llm.NewMockClient()
	}
	return llm.NewAnthropicClient(cfg.AnthropicAPIKey, anthropic.Model(cfg.AnthropicModel))
}

// buildMarketplaceClient wires the SP-API adapter only when LWA/refresh-token
// credentials are configured; the market agent falls back to its in-memory
// quote table otherwise.
func buildMarketplaceClient(cfg *config.AppConfig, logger *slog.Logger) *marketplace.Client {
	if cfg.LWAAppID == "" || cfg.SPAPIRefreshToken == "" {
		return nil
	}
	creds := marketplace.Credentials{
		AppID:         cfg.LWAAppID,
		ClientSecret:  cfg.LWAClientSecret,
		RefreshToken:  cfg.SPAPIRefreshToken,
		MarketplaceID: cfg.MarketplaceID,
	}
	return marketplace.NewClient(creds, "https://sellingpartnerapi-na.amazon.com", logger)
}

// registerAgents constructs the reference handler set, registers each in the
// agent registry, and installs its bus dispatcher on the communication
// manager, matching the per-category handler contract in spec.md §4.H.
func registerAgents(reg *registry.Registry, manager *comm.Manager, cfg *config.AppConfig, logger *slog.Logger) {
	marketCli := buildMarketplaceClient(cfg, logger)
	llmCli := buildLLMClient(cfg)

	handlers := []struct {
		id       string
		category registry.Category
		name     string
		handler  agents.Handler
	}{
		{"market-agent-1", registry.CategoryMarket, "Market Unified Agent", agents.NewMarketAgent(map[string]agents.Quote{}, marketCli)},
		{"executive-agent-1", registry.CategoryExecutive, "Executive Agent", agents.NewExecutiveAgent()},
		{"content-agent-1", registry.CategoryContent, "Content Agent", agents.NewContentAgent()},
		{"logistics-agent-1", registry.CategoryLogistics, "Logistics Agent", agents.NewLogisticsAgent()},
		{"assistant-agent-1", registry.CategoryUtility, "General Assistant", agents.NewAssistantAgent(llmCli)},
	}

	for _, h := range handlers {
		reg.Register(registry.Agent{
			ID:       h.id,
			Category: h.category,
			Name:     h.name,
			Status:   registry.StatusActive,
		})
		manager.RegisterHandler(h.id, h.handler)
	}
}
