package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gwi.com/recall-chat/internal/api"
	"gwi.com/recall-chat/internal/config"
	"gwi.com/recall-chat/internal/core"
	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/realtime"
	"gwi.com/recall-chat/internal/store"
	"gwi.com/recall-chat/internal/vectorstore"
)

func main() {
	reindexFlag := flag.Bool("reindex", false, "Re-embed every stored message into the vector store and exit")
	flag.Parse()

	// Load configuration
	dotenvFound, cfgErr := config.LoadConfig()
	cfg := config.AppConfig

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !dotenvFound {
		log.Debug("No .env file found, using process environment")
	}
	if cfgErr != nil {
		log.Fatal("Invalid configuration", "error", cfgErr)
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	vectors, err := newVectorStore(log, cfg, dbStore)
	if err != nil {
		log.Fatal("Failed to initialize vector store", "backend", cfg.VectorBackend, "error", err)
	}
	defer vectors.Close()

	// Initialize LLM service
	llmService, err := core.NewLLMService(context.Background(), log, core.LLMConfig{
		APIKey:         cfg.GeminiAPIKey,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		TitleModel:     cfg.TitleModel,
	})
	if err != nil {
		log.Fatal("Failed to initialize LLM service", "error", err)
	}
	defer llmService.Close()

	orchestrator := core.NewOrchestrator(log, dbStore, vectors, llmService, llmService, core.OrchestratorConfig{
		TopK:         cfg.MemoryTopK,
		HistoryLimit: cfg.HistoryLimit,
		Dimensions:   cfg.EmbeddingDimensions,
		Scope:        cfg.MemoryScope,
	})

	if *reindexFlag {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log.Info("Starting reindex", "backend", cfg.VectorBackend, "interval", cfg.ReindexInterval)
		n, err := orchestrator.Reindex(ctx, dbStore, cfg.ReindexInterval)
		if err != nil {
			log.Error("Reindex failed", "indexed", n, "error", err)
			return
		}
		log.Info("Reindex complete, exiting", "indexed", n)
		return
	}

	chatService := core.NewChatService(log, dbStore, orchestrator, llmService)
	userService := core.NewUserService(log, dbStore)
	wsServer := realtime.NewServer(log, userService, chatService, realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		TurnTimeout:    cfg.TurnTimeout,
	})

	secureCookie := strings.HasPrefix(strings.ToLower(cfg.LogMode), "prod")
	apiHandler := api.NewAPIHandler(log, chatService, userService, secureCookie)
	router := api.NewRouter(log, apiHandler, wsServer)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TurnTimeout + 15*time.Second, // synchronous turns hold the response open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting server", "addr", serverAddr, "vector_backend", cfg.VectorBackend, "memory_scope", cfg.MemoryScope)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	// Hijacked websocket connections are not tracked by Shutdown; let running turns finish.
	if err := wsServer.Wait(ctx); err != nil {
		log.Warn("Turns still running at shutdown", "error", err)
	}
	log.Info("Server exiting gracefully")
}

func newVectorStore(log *logger.Logger, cfg config.Config, dbStore *store.SQLiteStore) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendChromem:
		return vectorstore.NewChromemStore(log, cfg.ChromemPath, cfg.EmbeddingDimensions)
	case config.VectorBackendPinecone:
		return vectorstore.NewPineconeStore(log, vectorstore.PineconeConfig{
			APIKey:    cfg.PineconeAPIKey,
			IndexHost: cfg.PineconeIndexHost,
			Namespace: cfg.PineconeNamespace,
			Dims:      cfg.EmbeddingDimensions,
		})
	default:
		return vectorstore.NewSQLiteStore(log, dbStore.DB(), cfg.EmbeddingDimensions)
	}
}
