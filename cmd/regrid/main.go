// Command regrid is the streaming service: it consumes frame notices from
// Kafka, regrids each frame, and publishes the result.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/radar-regrid/internal/adapter/fetch"
	"github.com/couchcryptid/radar-regrid/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/radar-regrid/internal/adapter/kafka"
	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/observability"
	"github.com/couchcryptid/radar-regrid/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	profiles, err := config.NewProfileStore(cfg.ProfilePath, logger)
	if err != nil {
		logger.Error("failed to load grid profile", "path", cfg.ProfilePath, "error", err)
		os.Exit(1)
	}
	active := profiles.Current()
	logger.Info("grid profile loaded", "name", active.Name,
		"source", active.Source.String(), "target", active.Target.String())

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	fetcher := fetch.NewClient(cfg.DownloadDir, cfg.FetchTimeout, cfg.FetchRetries, metrics, logger)
	cache := pipeline.NewTransformCache(cfg.TransformCacheSize, metrics)
	transformer := pipeline.NewTransformer(fetcher, profiles.Current, cache, cfg.OutputDir, metrics, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, profiles, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the grid profile; frames already in flight keep their transform.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				_ = profiles.Reload()
			}
		}
	}()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start regrid pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
