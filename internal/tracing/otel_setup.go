package tracing

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultCollector = "jaeger:4317"

// Settings controls where spans go and how many are kept.
type Settings struct {
	Endpoint    string
	SampleRatio float64
	Disabled    bool
	Environment string
}

// SettingsFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_SAMPLER_ARG,
// OTEL_SDK_DISABLED and APP_ENV.
func SettingsFromEnv() Settings {
	s := Settings{
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRatio: 1,
		Disabled:    os.Getenv("OTEL_SDK_DISABLED") == "true",
		Environment: os.Getenv("APP_ENV"),
	}
	if s.Endpoint == "" {
		s.Endpoint = defaultCollector
	}
	if ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && ratio >= 0 && ratio <= 1 {
		s.SampleRatio = ratio
	}
	if s.Environment == "" {
		s.Environment = "development"
	}
	return s
}

// InitTracerProvider installs the global tracer provider for serviceName from
// SettingsFromEnv. The returned func flushes and stops it.
func InitTracerProvider(serviceName string) (func(context.Context) error, error) {
	return Init(context.Background(), serviceName, SettingsFromEnv())
}

// Init exports spans over OTLP gRPC, sampling parent-based at s.SampleRatio.
// With s.Disabled only the propagator is installed so trace headers still
// pass through.
func Init(ctx context.Context, serviceName string, s Settings) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if s.Disabled {
		slog.Info("Tracing disabled", slog.String("service", serviceName))
		return func(context.Context) error { return nil }, nil
	}

	conn, err := grpc.NewClient(s.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(s.Environment),
			semconv.TelemetrySDKLanguageKey.String("go"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	slog.Info("OpenTelemetry initialized",
		slog.String("service", serviceName),
		slog.String("endpoint", s.Endpoint),
		slog.Float64("sample_ratio", s.SampleRatio),
	)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return conn.Close()
	}, nil
}
