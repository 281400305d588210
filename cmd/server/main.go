package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mcp-chat-server/internal/config"
	"mcp-chat-server/internal/domain/chatflow"
	"mcp-chat-server/internal/domain/conversation"
	"mcp-chat-server/internal/domain/correction"
	"mcp-chat-server/internal/domain/discovery"
	"mcp-chat-server/internal/domain/orchestrator"
	"mcp-chat-server/internal/infrastructure/chatstore"
	"mcp-chat-server/internal/infrastructure/database"
	"mcp-chat-server/internal/infrastructure/llmprovider"
	"mcp-chat-server/internal/infrastructure/logger"
	"mcp-chat-server/internal/infrastructure/mcp"
	"mcp-chat-server/internal/infrastructure/memwatch"
	"mcp-chat-server/internal/infrastructure/observability"
	"mcp-chat-server/internal/interfaces/httpserver"
)

// Application bundles the long-running pieces of the service.
type Application struct {
	httpServer *httpserver.HttpServer
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	var stores chatflow.StoreProvider = chatstore.NewMemoryRegistry()
	if cfg.DatabaseEnabled {
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect database")
		}
		if err := chatstore.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
		stores = chatstore.NewPostgresRegistry(db)
	}

	registryClient := mcp.NewClient(cfg.MCPRegistryURL, cfg.ToolTimeout)
	llmClient := llmprovider.NewClient(cfg.LLMAPIURL, cfg.LLMAPIKey)

	cache := discovery.NewCache(registryClient, cfg.DiscoveryTTL, log)
	sanitizer := conversation.New(cfg.MaxConversation, log)
	correctionEngine := correction.NewEngine(llmClient, log)

	engine := orchestrator.NewEngine(
		cache,
		registryClient,
		llmClient,
		sanitizer,
		correctionEngine,
		orchestrator.Options{
			MaxRounds:     cfg.MaxRounds,
			MaxRetryDepth: cfg.MaxRetryDepth,
		},
		log,
	)

	chatService := chatflow.NewService(
		stores,
		cache,
		llmClient,
		sanitizer,
		engine,
		cfg.DefaultModel,
		log,
	)

	monitor := memwatch.NewMonitor(cfg.MemoryThresholdMB, cfg.MemoryCheckEvery, log)
	monitor.OnPressure(cache.HandleMemoryPressure)
	go monitor.Run(ctx)

	httpServer := httpserver.New(cfg, log, chatService, engine, correctionEngine, cache)
	app := NewApplication(httpServer, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
