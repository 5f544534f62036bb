package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iammorganparry/hindsight/internal/api"
	"github.com/iammorganparry/hindsight/internal/config"
	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/entity"
	"github.com/iammorganparry/hindsight/internal/extraction"
	"github.com/iammorganparry/hindsight/internal/ingest"
	"github.com/iammorganparry/hindsight/internal/linker"
	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/retrieval"
	"github.com/iammorganparry/hindsight/internal/store"
	"github.com/iammorganparry/hindsight/internal/temporal"
)

func main() {
	// Logger
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// SQLite
	db, err := store.Open(cfg.DBPath, cfg.EmbeddingDim, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	unitStore := store.NewUnitStore(db)
	entityStore := store.NewEntityStore(db)
	linkStore := store.NewLinkStore(db)

	// External services
	ollamaClient := embedding.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	extractor := extraction.NewLLMExtractor(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ExtractionModel)
	parser := temporal.NewLLMParser(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.TemporalModel)
	reranker := retrieval.NewHTTPReranker(cfg.RerankerURL, cfg.RerankerModel)

	counter, err := retrieval.NewTiktoken()
	if err != nil {
		logger.Error("failed to load tokenizer", "error", err)
		os.Exit(1)
	}

	// Write path
	resolver := entity.NewResolver(entityStore, logger)
	linkBuilder := linker.NewBuilder(unitStore, entityStore, linkStore, linker.Config{
		Window:         cfg.TemporalWindow(),
		SemanticK:      cfg.SemanticLinkK,
		SemanticMinSim: cfg.SemanticLinkMinSim,
	}, logger)
	ingestor := ingest.NewIngestor(unitStore, entityStore, resolver, linkBuilder, extractor, ollamaClient, logger)

	// Read path
	weights := models.Weights{
		Activation: cfg.ActivationWeight,
		Semantic:   cfg.SemanticWeight,
		Recency:    cfg.RecencyWeight,
		Frequency:  cfg.FrequencyWeight,
	}
	retriever := retrieval.NewRetriever(
		unitStore, linkStore, ollamaClient, parser, reranker, counter,
		weights, cfg.QueryTimeout(), logger,
	)

	if err := ollamaClient.HealthCheck(context.Background()); err != nil {
		logger.Warn("ollama not available at startup, will retry on first use", "error", err)
	}

	// Router
	router := api.NewRouter(db, unitStore, entityStore, ingestor, retriever, linkBuilder, ollamaClient, logger)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("hindsight server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
