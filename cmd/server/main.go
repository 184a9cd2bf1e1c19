package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"session-service/internal/api"
	"session-service/internal/client"
	"session-service/internal/config"
	"session-service/internal/events"
	"session-service/internal/logging"
	"session-service/internal/repository"
	"session-service/internal/service"
	"session-service/internal/storage"
	"session-service/internal/tracing"
	_ "session-service/migrations"
)

const serviceName = "session-service"

func main() {
	cfg := config.Load()

	logging.Setup(serviceName)

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		handleMigrations(cfg.DB.URL())
		return
	}

	shutdownTracer, err := tracing.InitTracerProvider(serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("Error shutting down tracer provider", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := connectDB(cfg.DB.URL())
	defer db.Close()

	natsConn, err := events.Connect(cfg.NatsURL, serviceName)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Drain()
	slog.Info("Successfully connected to NATS.")

	sessionRepo := repository.NewPostgresSessionRepository(db)
	outboxRepo := repository.NewPostgresOutboxRepository(db)
	paymentRepo := repository.NewPostgresPaymentRepository(db)
	invoiceRepo := repository.NewPostgresInvoiceRepository(db)

	tables := client.NewTableRegistry(cfg.TableServiceURL, cfg.ClientTimeout)
	orders := client.NewOrderClient(cfg.OrderServiceURL, cfg.ClientTimeout)

	sessionService := service.NewSessionService(sessionRepo, cfg.DefaultHourlyRate)

	var paymentOpts []service.PaymentOption
	if cfg.S3.Enabled() {
		archive, err := storage.NewInvoiceArchive(ctx, storage.S3Config{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			log.Fatalf("Failed to configure invoice archive: %v", err)
		}
		paymentOpts = append(paymentOpts, service.WithArchiver(archive))
	} else {
		slog.Warn("S3_BUCKET_NAME not set, invoices will not be archived")
	}
	paymentService := service.NewPaymentService(paymentRepo, invoiceRepo, sessionService, orders, paymentOpts...)

	relay := events.NewRelay(outboxRepo, events.NewNatsPublisher(natsConn), events.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	go relay.Run(ctx)

	retrier := service.NewSagaRetrier(paymentService, cfg.SagaRetryInterval)
	go retrier.Run(ctx)

	hub := events.NewHub()
	if err := hub.Attach(natsConn); err != nil {
		// The dashboard stream is optional; the ledger keeps serving without it.
		slog.Warn("Session stream unavailable", slog.Any("error", err))
	}
	defer hub.Close()

	app := fiber.New()
	app.Use(otelfiber.Middleware())
	app.Use(api.PrometheusMiddleware())

	api.SetupRoutes(app, serviceName, api.Handlers{
		Sessions: api.NewSessionHandler(sessionService, tables),
		Payments: api.NewPaymentHandler(paymentService),
		Stream:   api.NewStreamHandler(hub),
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("Error shutting down HTTP server", slog.Any("error", err))
		}
	}()

	slog.Info("Listening session-service", slog.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("HTTP server stopped: %v", err)
	}
}

func connectDB(dbURL string) *sqlx.DB {
	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	slog.Info("Successfully connected to the database.")
	return db
}

func handleMigrations(dbURL string) {
	fmt.Println("Running database migrations...")

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to database for migration: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("failed to set goose dialect: %v", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		log.Fatalf("goose: failed to run migrations: %v", err)
	}

	fmt.Println("Migrations applied successfully!")
}
