// Command server runs the indexing and search HTTP service: it wires
// configuration, the metadata store, vector store, embedding provider, job
// admitter, background worker pool, and search service together and serves
// the HTTP API until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/jamaly87/code-search-service/internal/cache"
	"github.com/jamaly87/code-search-service/internal/chunker"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/embeddings"
	"github.com/jamaly87/code-search-service/internal/httpapi"
	"github.com/jamaly87/code-search-service/internal/jobs"
	"github.com/jamaly87/code-search-service/internal/languages"
	"github.com/jamaly87/code-search-service/internal/logging"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/search"
	"github.com/jamaly87/code-search-service/internal/store"
	"github.com/jamaly87/code-search-service/internal/vectordb"
	"github.com/jamaly87/code-search-service/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logging.New(os.Stdout, cfg.Logging.Level, "server")
	log.Info().Str("server_name", cfg.Server.Name).Str("version", cfg.Server.Version).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metadata, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.WritePoolSize, cfg.Database.ReadPoolSize, cfg.Database.AnalyticsPoolSize, log)
	if err != nil {
		return fmt.Errorf("connect metadata store: %w", err)
	}
	defer metadata.Close()
	if err := metadata.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	vectors, err := vectordb.NewQdrantStore(cfg.VectorDB, log)
	if err != nil {
		return fmt.Errorf("connect vector store: %w", err)
	}
	defer vectors.Close()

	embedder, err := embeddings.NewOllamaProvider(cfg.Embeddings, cfg.Worker.EmbedderConcurrency)
	if err != nil {
		return fmt.Errorf("build embedding provider: %w", err)
	}
	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readyCancel()
	if err := embedder.EnsureReady(readyCtx); err != nil {
		log.Warn().Err(err).Msg("embedding provider not ready at startup, continuing anyway")
	}
	if err := vectors.EnsureCollection(ctx, embedder.EmbeddingDimension()); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}

	registry := languages.NewRegistry()
	chunks, err := chunker.New(registry, cfg.Chunking)
	if err != nil {
		return fmt.Errorf("build chunker: %w", err)
	}

	admitter := jobs.NewAdmitter(metadata, time.Duration(cfg.Server.AdmissionTimeoutMS)*time.Millisecond, log)

	resultsCache, err := cache.NewLRU[string, []models.SearchMatch](cfg.Search.CacheSize)
	if err != nil {
		return fmt.Errorf("build result cache: %w", err)
	}
	searcher := search.New(cfg.Search, embedder, vectors, metadata, resultsCache, log)

	pool := worker.New(cfg.Worker, metadata, vectors, chunks, registry, embedder, log)
	pool.Start(ctx)
	defer pool.Stop()

	api := httpapi.New(admitter, metadata, searcher, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.Routes(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	cancel()
	log.Info().Msg("shutdown complete")
	return nil
}
