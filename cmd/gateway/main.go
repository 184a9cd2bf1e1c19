package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"

	"session-service/internal/config"
	"session-service/internal/gateway"
	"session-service/internal/logging"
	"session-service/internal/tracing"
)

const serviceName = "api-gateway"

func main() {
	cfg := config.LoadGateway()

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

	upstreams := gateway.UpstreamsFromConfig(cfg)
	for _, u := range upstreams {
		slog.Info("Service route", slog.String("service", u.Name), slog.String("url", u.URL))
	}

	app := gateway.New(upstreams, gateway.NewUpstreamClient(), gateway.Options{
		RateLimitMax:        cfg.RateLimitMax,
		RateLimitExpiration: cfg.RateLimitExpiration,
		UpstreamTimeout:     cfg.UpstreamTimeout,
		Middleware:          []fiber.Handler{otelfiber.Middleware()},
	})

	slog.Info("Starting API gateway", slog.String("port", cfg.Port))
	log.Fatal(app.Listen(":" + cfg.Port))
}
