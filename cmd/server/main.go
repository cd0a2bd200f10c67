package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/config"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/db"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/entities"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/handlers"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/metrics"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/middleware"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/repository"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/retry"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/router"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/services"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/summarizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tokenizer"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/tracing"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	tp := tracing.Setup()
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shut down tracer provider", "error", err)
		}
	}()

	// Collaborator handles are built once and shared by every request.
	models, circuits, err := buildModels(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize models", "error", err)
	}

	// Optional analysis cache
	var repo repository.Repository
	if cfg.CacheDBPath != "" {
		if err := db.RunMigrations(cfg.CacheDBPath); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}

		database, err := db.NewSQLiteDB(cfg.CacheDBPath)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer database.Close()

		repo = repository.NewRepository(database)
		logger.Info("Analysis cache enabled", "path", cfg.CacheDBPath)
	}

	reportService := services.NewService(models, services.Options{
		Summarizer: summarizer.Options{
			WindowTokens:    cfg.ChunkTokens,
			MinWords:        cfg.MinSummaryWords,
			SecondPassWords: cfg.SecondPassWords,
			Concurrency:     cfg.ChunkConcurrency,
		},
		CacheScope:             cacheScope(cfg),
		StrictEntityExtraction: cfg.StrictEntityExtraction,
	}, repo, metrics.NewPrometheus(), logger)

	// Setup HTTP router
	routerOpts := router.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        router.MetricsHandler(),
	}
	if cfg.RateLimitRPS > 0 {
		routerOpts.RateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	}

	handler := router.NewRouter(
		handlers.NewReportHandler(reportService, cfg.MaxUploadBytes, logger),
		handlers.NewHealthHandler(cfg.SummarizerBackend, cfg.TokenizerEncoding, repo != nil, circuits, logger),
		routerOpts,
		logger,
	)

	// Long reports fan out into several model calls, so writes get more time than reads.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * cfg.SummarizerTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "summarizer", cfg.SummarizerBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited")
}

func buildModels(cfg *config.Config, logger *utils.Logger) (services.Models, []handlers.Circuit, error) {
	tok, err := tokenizer.NewTiktoken(cfg.TokenizerEncoding)
	if err != nil {
		return services.Models{}, nil, err
	}

	nerHTTP := retry.NewHTTPClient(retry.HTTPClientConfig{
		RetryMax: cfg.CollaboratorRetries,
		Timeout:  cfg.NERTimeout,
	}, logger.With("collaborator", "ner"))
	ner := entities.NewNERClient(cfg.NERURL, nerHTTP, logger)

	model, circuit, err := buildSummarizer(cfg, logger)
	if err != nil {
		return services.Models{}, nil, err
	}

	return services.Models{
		Recognizer: ner,
		Tokenizer:  tok,
		Summarizer: model,
	}, []handlers.Circuit{ner.Circuit(), circuit}, nil
}

func buildSummarizer(cfg *config.Config, logger *utils.Logger) (summarizer.Model, handlers.Circuit, error) {
	switch cfg.SummarizerBackend {
	case config.BackendInference:
		httpClient := retry.NewHTTPClient(retry.HTTPClientConfig{
			RetryMax: cfg.CollaboratorRetries,
			Timeout:  cfg.SummarizerTimeout,
		}, logger.With("collaborator", "summarizer"))
		m := summarizer.NewInference(cfg.InferenceURL, cfg.InferenceToken, httpClient, logger)
		return m, m.Circuit(), nil

	case config.BackendOpenAI:
		m := summarizer.NewOpenAI(summarizer.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			Timeout:    cfg.SummarizerTimeout,
			MaxRetries: cfg.CollaboratorRetries,
		}, tracedClient(), logger)
		return m, m.Circuit(), nil

	case config.BackendAnthropic:
		m := summarizer.NewAnthropic(summarizer.AnthropicConfig{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.AnthropicModel,
			Timeout:    cfg.SummarizerTimeout,
			MaxRetries: cfg.CollaboratorRetries,
		}, tracedClient(), logger)
		return m, m.Circuit(), nil
	}

	return nil, nil, fmt.Errorf("unknown summarizer backend %q", cfg.SummarizerBackend)
}

// cacheScope names the collaborators whose output a cached analysis holds.
func cacheScope(cfg *config.Config) string {
	scope := []string{cfg.SummarizerBackend, cfg.TokenizerEncoding, cfg.NERURL}
	switch cfg.SummarizerBackend {
	case config.BackendInference:
		scope = append(scope, cfg.InferenceURL)
	case config.BackendOpenAI:
		scope = append(scope, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case config.BackendAnthropic:
		scope = append(scope, cfg.AnthropicModel)
	}
	return strings.Join(scope, "|")
}

// tracedClient is used by the SDK backends, which retry through retry.Do.
func tracedClient() *http.Client {
	return retry.NewHTTPClient(retry.HTTPClientConfig{RetryMax: 0}, nil)
}
