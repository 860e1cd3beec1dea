package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/config"
	dbRedis "github.com/folio-cloud/ragdex/internal/db/redis"
	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/formatter"
	logpkg "github.com/folio-cloud/ragdex/internal/logger"
	"github.com/folio-cloud/ragdex/internal/metrics"
	"github.com/folio-cloud/ragdex/internal/repository/embcache"
	indexrepo "github.com/folio-cloud/ragdex/internal/repository/index"
	sessionrepo "github.com/folio-cloud/ragdex/internal/repository/session"
	chiTransport "github.com/folio-cloud/ragdex/internal/transport/chi"
	"github.com/folio-cloud/ragdex/internal/transport/cms"
	"github.com/folio-cloud/ragdex/internal/transport/ollama"
	openaiEmb "github.com/folio-cloud/ragdex/internal/transport/openai"
	analyzeruc "github.com/folio-cloud/ragdex/internal/usecase/analyzer"
	healthuc "github.com/folio-cloud/ragdex/internal/usecase/health"
	retrievaluc "github.com/folio-cloud/ragdex/internal/usecase/retrieval"
	synceruc "github.com/folio-cloud/ragdex/internal/usecase/syncer"
	"github.com/folio-cloud/ragdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterRAGMetrics()

	schemas, err := cfg.SchemaSet()
	if err != nil {
		logger.Fatal("Invalid schema configuration", zap.Error(err))
	}

	// Embedder chain: OpenAI-compatible provider behind a Redis cache.
	baseEmbedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	var embedder domain.Embedder = embcache.New(
		baseEmbedder, store, cfg.Embedding.Model, metrics.EmbeddingCacheTotal, logger,
	)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Local relevance model
	analyzerClient := ollama.NewClient(&ollama.Config{
		BaseURL:      cfg.Analyzer.BaseURL,
		Model:        cfg.Analyzer.Model,
		NumCtx:       cfg.Analyzer.NumCtx,
		Timeout:      time.Duration(cfg.Analyzer.TimeoutSec) * time.Second,
		ProbeTimeout: time.Duration(cfg.Analyzer.ProbeTimeoutMs) * time.Millisecond,
		Logger:       logger,
	})

	// Content store client
	contentClient := cms.NewClient(&cms.Config{
		BaseURL: cfg.CMS.BaseURL,
		Token:   cfg.CMS.Token,
		Timeout: time.Duration(cfg.CMS.TimeoutSec) * time.Second,
		Logger:  logger,
	})

	// Repositories
	indexRepo := indexrepo.New(store, cfg.Embedding.Dimensions)
	sessionRepo := sessionrepo.New(store, time.Duration(cfg.Sessions.TTLMinutes)*time.Minute)

	if err := indexRepo.EnsureCollection(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}

	// Use case services
	fmtr := formatter.New(logger)
	analyzerSvc := analyzeruc.NewService(analyzerClient, logger)
	syncSvc := synceruc.NewService(contentClient, indexRepo, fmtr, embedder, store, schemas, logger)
	retrievalSvc := retrievaluc.NewService(analyzerSvc, embedder, indexRepo, schemas, logger)
	healthSvc := healthuc.New(store, baseEmbedder, analyzerClient)

	server := chiTransport.NewServer(
		syncSvc, retrievalSvc, healthSvc, sessionRepo, indexRepo, embedder, schemas, logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
