package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"advisor/internal/auth"
	"advisor/internal/config"
	agentRepo "advisor/internal/domain/repositories/agent"
	services "advisor/internal/domain/services/agent"
	"advisor/internal/handler"
	"advisor/internal/handler/sse"
	"advisor/internal/middleware"
	"advisor/internal/observability"
	"advisor/internal/repository/postgres"
	postgresAgent "advisor/internal/repository/postgres/agent"
	"advisor/internal/repository/sqlite"
	"advisor/internal/service/agent/agents"
	"advisor/internal/service/agent/contextedit"
	"advisor/internal/service/agent/orchestrator"
	"advisor/internal/service/agent/providers"
	"advisor/internal/service/agent/providers/lorem"
	"advisor/internal/service/agent/providers/openai"
	"advisor/internal/service/agent/tokens"
	"advisor/internal/service/agent/tools"
	"advisor/internal/service/agent/tools/external"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
)

// loremAnswerWords is the length of offline answers
const loremAnswerWords = 120

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
		"sqlite", cfg.UsesSQLite(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Turn store
	store, pinger, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open turn store: %v", err)
	}
	defer closeStore()

	// Token counting
	counter, err := tokens.NewTiktokenCounter(tokens.DefaultEncoding)
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, using approximate token counts", "error", err)
		counter = tokens.NewCounter(tokens.ApproxEncoder{})
	}
	editor := contextedit.NewEditor(counter, contextedit.Thresholds{
		ToolOutput:     cfg.ToolOutputTrimThreshold,
		TurnTrim:       cfg.TurnTrimThreshold,
		TurnTrimTarget: cfg.TurnTrimTargetTokens,
	})

	// Agents and providers
	agentRegistry, err := agents.NewRegistry(cfg.Models)
	if err != nil {
		log.Fatalf("Failed to load agent definitions: %v", err)
	}

	runners := []services.Runner{lorem.NewRunner(loremAnswerWords)}
	if cfg.OpenAIAPIKey != "" {
		openaiRunner, err := openai.NewRunner(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL}, logger)
		if err != nil {
			log.Fatalf("Failed to create OpenAI runner: %v", err)
		}
		runners = append(runners, openaiRunner)
	} else {
		logger.Warn("OPENAI_API_KEY not set, only lorem-* models are available")
	}
	runner := providers.NewRouter(runners...)
	logger.Info("agents loaded", "models", agentRegistry.Models())

	// Tools
	var toolSet services.ToolSet
	if cfg.TavilyAPIKey != "" {
		toolConfig := tools.DefaultToolConfig()
		toolRegistry := tools.NewToolRegistry(toolConfig, logger)
		toolRegistry.Register(tools.NewWebSearchTool(external.NewTavilyClient(cfg.TavilyAPIKey), toolConfig, logger))
		toolSet = toolRegistry
	} else {
		logger.Warn("TAVILY_API_KEY not set, web search disabled")
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics("advisor", promRegistry)

	turnService, err := orchestrator.New(orchestrator.Dependencies{
		Store:   store,
		Editor:  editor,
		Counter: counter,
		Runner:  runner,
		Agents:  agentRegistry,
		Tools:   toolSet,
		Metrics: metrics,
		Logger:  logger,
	}, orchestrator.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to setup turn orchestrator: %v", err)
	}

	// Optional Supabase authentication
	var jwtVerifier auth.JWTVerifier
	if cfg.SupabaseJWKSURL != "" {
		jwtVerifier, err = auth.NewJWTVerifier(ctx, cfg.SupabaseJWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer jwtVerifier.Close()
	} else {
		logger.Warn("SUPABASE_URL not set, all requests run as the default user", "user_id", cfg.DefaultUserID)
	}

	sseConfig := sse.DefaultConfig()
	agentHandler := handler.NewAgentHandler(turnService, sseConfig, logger)
	healthHandler := handler.NewHealthHandler(pinger, sseConfig, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.HealthCheck)
	mux.Handle("GET /metrics", observability.MetricsHandler(promRegistry))

	// Agent routes
	mux.HandleFunc("GET /api/agent/stream", agentHandler.Stream)
	mux.HandleFunc("POST /api/agent/stream", agentHandler.Stream)
	mux.HandleFunc("GET /api/threads/{id}/turns", agentHandler.ListTurns)

	// Debug routes
	if cfg.Debug {
		mux.HandleFunc("GET /api/test-sse", healthHandler.TestSSE)
		logger.Warn("Debug route registered: GET /api/test-sse")
	}

	// Apply middleware in reverse order (they wrap each other)
	// Order: RequestID → CORS → Recovery → Auth → Routes
	var h http.Handler = mux
	h = middleware.AuthMiddleware(jwtVerifier, cfg.DefaultUserID, logger, "/health", "/metrics", "/api/test-sse")(h)
	h = middleware.Recovery(logger)(h)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)
	h = middleware.RequestID(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("server shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// openStore opens the configured turn store and its schema
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agentRepo.TurnStore, handler.Pinger, func(), error) {
	if cfg.UsesSQLite() {
		store, err := sqlite.Open(cfg.SQLitePath(), cfg.TablePrefix, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("sqlite store opened", "path", cfg.SQLitePath())
		return store, store, func() { store.Close() }, nil
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgresAgent.EnsureSchema(ctx, pool, tables); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	stat := pool.Config()
	logger.Info("database connected",
		"max_conns", stat.MaxConns,
		"min_conns", stat.MinConns,
	)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	store := postgresAgent.NewTurnStore(repoConfig, postgres.NewTransactionManager(pool, logger))
	return store, pool, pool.Close, nil
}
