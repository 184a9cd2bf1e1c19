package tablesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"session-service/internal/events"
	"session-service/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	QueueGroup = "table-sync"
	DLQSubject = "table.sync.failed"

	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
	defaultKeyTTL     = 24 * time.Hour
)

var syncOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tablesync_events_total",
		Help: "Lifecycle events handled by the table sync worker, by outcome",
	},
	[]string{"outcome"},
)

// StatusSetter is the part of the Table Registry the worker drives.
type StatusSetter interface {
	SetStatus(ctx context.Context, tableID string, status model.TableStatus) error
}

type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	KeyTTL     time.Duration
}

// Worker keeps table occupancy in the registry in line with session
// lifecycle events. Its failures never touch session state.
type Worker struct {
	registry StatusSetter
	store    Store
	dlq      events.Publisher
	cfg      Config
}

func NewWorker(registry StatusSetter, store Store, dlq events.Publisher, cfg Config) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = defaultKeyTTL
	}
	return &Worker{registry: registry, store: store, dlq: dlq, cfg: cfg}
}

// Start joins the table-sync queue group so each event is handled by one
// worker replica.
func (w *Worker) Start(conn *nats.Conn) (*nats.Subscription, error) {
	sub, err := conn.QueueSubscribe(events.LifecycleSubjects, QueueGroup, func(msg *nats.Msg) {
		w.Handle(context.Background(), msg.Data)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Table sync worker listening",
		slog.String("subject", events.LifecycleSubjects),
		slog.String("queue", QueueGroup),
	)
	return sub, nil
}

func (w *Worker) Handle(ctx context.Context, data []byte) {
	var event model.SessionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal session event", slog.Any("error", err))
		w.deadLetter(ctx, "undecodable", data)
		syncOutcomes.WithLabelValues("invalid").Inc()
		return
	}

	tableID := event.Session.TableID
	status := event.EventType.TableStatus()
	key := fmt.Sprintf("tablesync:%s:%s", event.Session.ID, status)
	log := slog.With(
		slog.String("session_id", event.Session.ID.String()),
		slog.String("table_id", tableID),
		slog.String("status", string(status)),
	)

	claimed, err := w.store.Claim(ctx, key, w.cfg.KeyTTL)
	if err != nil {
		// Registry updates are idempotent, so an unreachable store only costs a repeat call.
		log.WarnContext(ctx, "Idempotency store unavailable, applying anyway", slog.Any("error", err))
		claimed = true
	}
	if !claimed {
		log.DebugContext(ctx, "Table update already applied, skipping")
		syncOutcomes.WithLabelValues("duplicate").Inc()
		return
	}

	fresh, err := w.store.Advance(ctx, tableID, event.OccurredAt, w.cfg.KeyTTL)
	if err != nil {
		log.WarnContext(ctx, "Failed to check table watermark", slog.Any("error", err))
		fresh = true
	}
	if !fresh {
		log.InfoContext(ctx, "Newer event already applied to table, skipping")
		syncOutcomes.WithLabelValues("stale").Inc()
		return
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		lastErr = w.registry.SetStatus(ctx, tableID, status)
		if lastErr == nil {
			log.InfoContext(ctx, "Table status synced", slog.Int("attempt", attempt))
			syncOutcomes.WithLabelValues("applied").Inc()
			return
		}
		log.WarnContext(ctx, "Failed to sync table status",
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)
		if attempt < w.cfg.MaxRetries {
			time.Sleep(w.cfg.RetryDelay)
		}
	}

	log.ErrorContext(ctx, "Giving up on table status sync",
		slog.Int("attempts", w.cfg.MaxRetries),
		slog.Any("error", lastErr),
	)
	if err := w.store.Release(ctx, key); err != nil {
		log.WarnContext(ctx, "Failed to release idempotency key", slog.Any("error", err))
	}
	w.deadLetter(ctx, event.EventID.String(), data)
	syncOutcomes.WithLabelValues("failed").Inc()
}

func (w *Worker) deadLetter(ctx context.Context, msgID string, data []byte) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Publish(ctx, DLQSubject, msgID, data); err != nil {
		slog.ErrorContext(ctx, "Failed to publish to DLQ", slog.String("subject", DLQSubject), slog.Any("error", err))
		return
	}
	slog.InfoContext(ctx, "Published failed table sync to DLQ", slog.String("subject", DLQSubject))
}
