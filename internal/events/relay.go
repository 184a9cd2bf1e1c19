package events

import (
	"context"
	"log/slog"
	"time"

	"session-service/internal/model"
	"session-service/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutboxDLQSubject receives outbox payloads that could not be published
// within the attempt budget.
const OutboxDLQSubject = "session.outbox.failed"

var (
	outboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_outbox_published_total",
			Help: "Outbox events published to NATS",
		},
		[]string{"event"},
	)
	outboxFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_publish_failures_total",
		Help: "Failed outbox publish attempts",
	})
	outboxDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_dead_lettered_total",
		Help: "Outbox events moved to the dead-letter subject",
	})
)

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Relay moves committed lifecycle events from the session_outbox table onto
// NATS. Delivery is at least once and in commit order per session.
type Relay struct {
	outbox    repository.OutboxRepository
	publisher Publisher
	cfg       RelayConfig
	now       func() time.Time
}

func NewRelay(outbox repository.OutboxRepository, publisher Publisher, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Relay{outbox: outbox, publisher: publisher, cfg: cfg, now: time.Now}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Outbox relay started",
		slog.Duration("interval", r.cfg.PollInterval),
		slog.Int("batch_size", r.cfg.BatchSize),
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				slog.ErrorContext(ctx, "Outbox relay pass failed", slog.Any("error", err))
			}
		}
	}
}

// Tick publishes one batch and returns how many events went out.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	batch, err := r.outbox.ClaimPending(ctx, r.cfg.BatchSize, 2*r.cfg.PollInterval+5*time.Second)
	if err != nil {
		return 0, err
	}

	published := 0
	blocked := map[uuid.UUID]bool{}
	for _, event := range batch {
		// A failed earlier event holds back the rest of its session.
		if blocked[event.SessionID] {
			continue
		}

		err := r.publisher.Publish(ctx, event.EventType.Subject(), event.ID.String(), event.Payload)
		if err == nil {
			if err := r.outbox.MarkPublished(ctx, event.ID, r.now().UTC()); err != nil {
				return published, err
			}
			outboxPublished.WithLabelValues(string(event.EventType)).Inc()
			published++
			continue
		}

		outboxFailures.Inc()
		if event.Attempts+1 >= r.cfg.MaxAttempts {
			if !r.deadLetter(ctx, event, err) {
				blocked[event.SessionID] = true
			}
			continue
		}

		blocked[event.SessionID] = true
		slog.WarnContext(ctx, "Failed to publish outbox event",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", string(event.EventType)),
			slog.Int("attempt", event.Attempts+1),
			slog.Any("error", err),
		)
		if err := r.outbox.MarkFailed(ctx, event.ID, err.Error()); err != nil {
			return published, err
		}
	}

	return published, nil
}

func (r *Relay) deadLetter(ctx context.Context, event model.OutboxEvent, cause error) bool {
	slog.ErrorContext(ctx, "Outbox event exhausted its attempts, dead-lettering",
		slog.String("event_id", event.ID.String()),
		slog.String("session_id", event.SessionID.String()),
		slog.Any("error", cause),
	)

	if err := r.publisher.Publish(ctx, OutboxDLQSubject, event.ID.String(), event.Payload); err != nil {
		slog.ErrorContext(ctx, "Failed to publish to DLQ", slog.String("subject", OutboxDLQSubject), slog.Any("error", err))
		_ = r.outbox.MarkFailed(ctx, event.ID, cause.Error())
		return false
	}

	outboxDeadLettered.Inc()
	if err := r.outbox.MarkPublished(ctx, event.ID, r.now().UTC()); err != nil {
		slog.ErrorContext(ctx, "Failed to retire dead-lettered event", slog.Any("error", err))
	}
	return true
}
