package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/axiomguard/engine/internal/antibody"
	"github.com/axiomguard/engine/internal/audit"
	"github.com/axiomguard/engine/internal/auth"
	"github.com/axiomguard/engine/internal/bicameral"
	"github.com/axiomguard/engine/internal/config"
	"github.com/axiomguard/engine/internal/embedding"
	"github.com/axiomguard/engine/internal/llm"
	"github.com/axiomguard/engine/internal/llm/cloud"
	"github.com/axiomguard/engine/internal/llm/local"
	mcpsurface "github.com/axiomguard/engine/internal/mcp"
	"github.com/axiomguard/engine/internal/recycler"
	"github.com/axiomguard/engine/internal/router"
	"github.com/axiomguard/engine/internal/server"
	"github.com/axiomguard/engine/internal/storage"
	"github.com/axiomguard/engine/internal/telemetry"
	"github.com/axiomguard/engine/internal/verify"
	"github.com/axiomguard/engine/internal/verifycache"
	"github.com/axiomguard/engine/internal/vectorskip"
	"github.com/axiomguard/engine/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("ENGINE_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present; non-fatal, production deployments won't have one.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("axiomguard starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	dsn, err := cfg.PostgresDSN()
	if err != nil {
		return fmt.Errorf("antibody store: %w", err)
	}
	db, err := storage.New(ctx, dsn, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	antibodyStore := newAntibodyStore(ctx, cfg, db, logger)

	embedder := newEmbeddingGateway(cfg, logger)

	localClient := local.New(cfg.OllamaBaseURL)

	var cloudClient llm.ChatClient
	var streamingClient llm.StreamingChatClient
	if cfg.CloudEnabled() {
		cloudClient, streamingClient, err = newCloudClient(cfg)
		if err != nil {
			return fmt.Errorf("cloud model client: %w", err)
		}
		logger.Info("cloud model: enabled", "openrouter", cfg.UseOpenRouter())
	} else {
		logger.Info("cloud model: disabled (no OPENAI_API_KEY or OPENROUTER_API_KEY), local-only mode")
	}

	rt := router.New(cfg.CloudEnabled(), cfg.DefaultLocalModel)

	shadowAuditor := audit.New(localClient, cfg.AuditWebhookURL, logger)
	if cfg.AuditWebhookURL == "" {
		logger.Info("shadow auditor: disabled (no AUDIT_WEBHOOK_URL)")
	}

	pipeline := verify.New(verify.Config{
		Cache:        verifycache.New(cfg.CacheCapacity),
		Matcher:      vectorskip.New(cfg.VectorSkipThreshold),
		Embedder:     embedder,
		Router:       rt,
		CloudClient:  cloudClient,
		LocalClient:  localClient,
		CloudEnabled: cfg.CloudEnabled(),
		Auditor:      shadowAuditor,
		Logger:       logger,
	})

	creativeClient := streamingClient
	if creativeClient == nil {
		// Cloud disabled: this IS a local reasoning engine, so the creative
		// half of the bicameral stream falls back to the local client rather
		// than leaving C7 with a nil streaming source.
		creativeClient = localClient
	}
	bicameralStreamer := bicameral.New(bicameral.Config{
		Creative: creativeClient,
		Fiscal:   localClient,
		Embedder: embedder,
		Store:    antibodyStore,
		Logger:   logger,
	})

	recyclerSvc := recycler.New(embedder, antibodyStore, logger)

	mcpSrv := mcpsurface.New(pipeline, embedder, rt, recyclerSvc, logger, version)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.DevMode, logger)

	handlers := server.NewHandlers(server.HandlersDeps{
		Pipeline:            pipeline,
		Embedder:            embedder,
		Router:              rt,
		Recycler:            recyclerSvc,
		Bicameral:           bicameralStreamer,
		HypervisorEnabled:   cfg.ModelPath != "",
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Logger:              logger,
	})
	if cfg.ModelPath == "" {
		logger.Info("logit hypervisor: disabled (no MODEL_PATH); /generate/absolute_truth and /generate/neuro-symbolic degrade to unavailable")
	}

	srv := server.New(server.ServerConfig{
		Handlers:            handlers,
		Verifier:            verifier,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                fmt.Sprintf("%d", cfg.Port),
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		CORSAllowedOrigins:  []string{"*"},
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Logger:              logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("axiomguard shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("axiomguard stopped")
	return nil
}

// newAntibodyStore wires the Postgres antibody store, optionally accelerated
// by Qdrant (fail-open: a Qdrant outage never blocks startup or writes).
func newAntibodyStore(ctx context.Context, cfg config.Config, db *storage.DB, logger *slog.Logger) antibody.Store {
	pg := antibody.NewPostgresStore(db, logger)
	if cfg.QdrantURL == "" {
		logger.Info("qdrant accelerator: disabled (no QDRANT_URL)")
		return pg
	}

	qdrant, err := antibody.NewQdrantAccelerator(ctx, cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection, uint64(cfg.EmbeddingDims), logger) //nolint:gosec // validated positive in config.Validate
	if err != nil {
		logger.Warn("qdrant accelerator: init failed, falling back to postgres-only", "error", err)
		return pg
	}
	logger.Info("qdrant accelerator: enabled", "collection", cfg.QdrantCollection)
	return antibody.NewCompositeStore(pg, qdrant, logger)
}

// newEmbeddingGateway selects an embedding provider: OpenAI when cloud mode
// is on (consistent embeddings for the premium tier), else Ollama, wrapped
// in the memoizing gateway either way. The OpenAI provider is built from
// OPENAI_API_KEY only, so a deployment with just an OpenRouter key gets the
// init-failure fallback to Ollama.
func newEmbeddingGateway(cfg config.Config, logger *slog.Logger) *embedding.Gateway {
	if cfg.CloudEnabled() {
		provider, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
		if err != nil {
			logger.Warn("openai embedding provider init failed, falling back to ollama", "error", err)
		} else {
			logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDims)
			return embedding.NewGateway(provider, cfg.EmbedMemoCapacity)
		}
	}
	logger.Info("embedding provider: ollama", "url", cfg.OllamaBaseURL, "dimensions", cfg.EmbeddingDims)
	provider := embedding.NewOllamaProvider(cfg.OllamaBaseURL, cfg.DefaultLocalModel, cfg.EmbeddingDims)
	return embedding.NewGateway(provider, cfg.EmbedMemoCapacity)
}

// newCloudClient wires the OpenAI-compatible chat client, preferring
// OpenRouter over plain OpenAI when both keys are present (§6 tie rule).
func newCloudClient(cfg config.Config) (llm.ChatClient, llm.StreamingChatClient, error) {
	var client *cloud.Client
	var err error
	if cfg.UseOpenRouter() {
		client, err = cloud.New(cfg.OpenRouterAPIKey, cloud.WithOpenRouter("https://axiomguard.dev", "axiomguard"))
	} else {
		client, err = cloud.New(cfg.OpenAIAPIKey)
	}
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
