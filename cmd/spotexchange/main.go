package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/spotexchange/internal/broadcast"
	"github.com/efreitasn/spotexchange/internal/cache"
	"github.com/efreitasn/spotexchange/internal/config"
	"github.com/efreitasn/spotexchange/internal/engine"
	"github.com/efreitasn/spotexchange/internal/handler"
	"github.com/efreitasn/spotexchange/internal/metrics"
	"github.com/efreitasn/spotexchange/internal/service"
	"github.com/efreitasn/spotexchange/internal/store"
)

const cacheJanitorInterval = time.Minute

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exchange failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := openStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeLogged(logger, "store", repo)

	idem, err := openCache(cfg.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer closeLogged(logger, "cache", idem)
	idem.StartJanitor(ctx, cacheJanitorInterval)

	m := metrics.New()
	hub := broadcast.NewHub(0, m.SetConnections, logger)
	defer hub.Close()

	sinks := []broadcast.Sink{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := broadcast.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, logger)
		defer closeLogged(logger, "kafka", kafka)
		sinks = append(sinks, kafka)
	}
	publisher := broadcast.NewPublisher(logger, sinks...)

	exchange := engine.NewExchange(cfg.Instruments, repo, publisher, m, engine.Options{
		QueueSize:       cfg.QueueSize,
		BroadcastLevels: cfg.BroadcastLevels,
	}, logger)
	exchange.Start(ctx)
	defer exchange.Stop()

	if err := exchange.Restore(ctx); err != nil {
		return fmt.Errorf("restore books: %w", err)
	}

	snapshotter := engine.NewSnapshotter(cfg.SnapshotInterval, cfg.SnapshotLevels, exchange, repo, m, logger)
	snapshotter.Start(ctx)

	orderSvc := service.NewOrderService(exchange, repo, idem, cfg.IdempotencyTTL, logger)
	marketSvc := service.NewMarketService(exchange, repo, snapshotter)

	router := handler.NewRouter(orderSvc, marketSvc, handler.RouterOptions{
		Metrics:   m.Handler(),
		Stream:    hub,
		Ping:      repo.Ping,
		RateLimit: cfg.RateLimit,
	}, logger)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.Any("instruments", cfg.Instruments),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	}

	// Graceful shutdown: drain HTTP first so no new orders reach the engines,
	// then the deferred calls stop the engines and close the stores.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
	return nil
}

// openStore opens SQLite at path, or an in-memory store for ":memory:" or
// an empty path.
func openStore(path string) (store.Repository, error) {
	if path == "" || path == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(path)
}

// openCache opens the idempotency cache under dir, in memory when dir is
// empty.
func openCache(dir string, logger *slog.Logger) (*cache.PebbleCache, error) {
	if dir == "" {
		return cache.OpenInMemory(logger)
	}
	return cache.Open(dir, logger)
}

func closeLogged(logger *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("close failed", slog.String("resource", name), slog.String("error", err.Error()))
	}
}
