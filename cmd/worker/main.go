package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"session-service/internal/client"
	"session-service/internal/config"
	"session-service/internal/events"
	"session-service/internal/logging"
	"session-service/internal/tablesync"
	"session-service/internal/tracing"
)

const serviceName = "table-sync-worker"

func main() {
	cfg := config.Load()

	logging.Setup(serviceName)

	shutdownTracer, err := tracing.InitTracerProvider(serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("Error shutting down tracer provider", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := tablesync.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := events.Connect(cfg.NatsURL, serviceName)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Drain()

	worker := tablesync.NewWorker(
		client.NewTableRegistry(cfg.TableServiceURL, cfg.ClientTimeout),
		tablesync.NewRedisStore(redisClient),
		events.NewNatsPublisher(natsConn),
		tablesync.Config{
			MaxRetries: cfg.TableSyncRetries,
			RetryDelay: cfg.TableSyncRetryDelay,
		},
	)
	if _, err := worker.Start(natsConn); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metrics := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	slog.Info("Table sync worker started, waiting for events...")
	<-ctx.Done()

	slog.Info("Shutting down table sync worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx)
}
