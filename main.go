package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banminseok/assistantAPI/internal/adapter/assistant"
	"github.com/banminseok/assistantAPI/internal/adapter/duckduckgo"
	"github.com/banminseok/assistantAPI/internal/adapter/scraper"
	"github.com/banminseok/assistantAPI/internal/adapter/wikipedia"
	"github.com/banminseok/assistantAPI/internal/config"
	"github.com/banminseok/assistantAPI/internal/observability"
	"github.com/banminseok/assistantAPI/internal/policy"
	store "github.com/banminseok/assistantAPI/internal/repository"
	"github.com/banminseok/assistantAPI/internal/service"
	"github.com/banminseok/assistantAPI/internal/tools"
	handler "github.com/banminseok/assistantAPI/internal/transport/http"
	"github.com/banminseok/assistantAPI/internal/transport/ws"
	"github.com/banminseok/assistantAPI/internal/transport/ws/hub"
)

func main() {
	configPath := flag.String("config", os.Getenv("RESEARCH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogPretty)
	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("database", cfg.DatabaseURL).
		Str("model", cfg.AssistantModel).
		Msg("starting research assistant")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer db.Close()

	// Initialize policy engine
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	policyEngine, err := policy.LoadEngine(ctx, cfg.ToolPolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize policy engine")
	}

	// Tool backends
	toolHTTP := &http.Client{Timeout: cfg.ToolTimeout}
	wiki := wikipedia.NewClient(cfg.WikipediaLang,
		wikipedia.WithEndpoint(cfg.WikipediaBaseURL),
		wikipedia.WithHTTPClient(toolHTTP),
		wikipedia.WithUserAgent(cfg.UserAgent),
	)
	ddg := duckduckgo.NewClient(
		duckduckgo.WithBaseURL(cfg.DuckDuckGoBaseURL),
		duckduckgo.WithHTTPClient(toolHTTP),
	)
	web := scraper.New(
		scraper.WithHTTPClient(toolHTTP),
		scraper.WithUserAgent(cfg.UserAgent),
		scraper.WithMaxChars(cfg.WebContentMaxChars),
		scraper.WithRedirectGuard(func(ctx context.Context, u *url.URL) error {
			return policyEngine.AllowURL(ctx, tools.GetWebContent, u)
		}),
	)
	cache, err := tools.NewResultCache(cfg.SearchCacheSize, cfg.SearchCacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize search cache")
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, tools.Builtins{
		Wikipedia:  wiki,
		DuckDuckGo: ddg,
		Web:        web,
		Cache:      cache,
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to register tools")
	}
	executor := tools.NewExecutor(reg,
		tools.WithGuard(policyEngine),
		tools.WithMetrics(metrics),
		tools.WithLogger(observability.Component(logger, "tools")),
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithConcurrency(cfg.ToolConcurrency),
	)

	// Initialize service
	factory := assistant.NewFactory(cfg, observability.Component(logger, "assistant"))
	svc := service.New(db, factory, reg, executor, cfg, metrics, logger)

	// WebSocket hub
	connectionHub := hub.NewHub(logger)
	go connectionHub.Run(ctx)
	wsServer := ws.NewServer(cfg, connectionHub, svc, logger)

	server := handler.NewServer(svc, wsServer, registry, observability.Component(logger, "http"))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to shutdown HTTP server gracefully")
	}
	stop()

	logger.Info().Msg("stopped")
}
