package repository

import (
	"context"
	"sort"
	"time"

	"session-service/internal/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type OutboxRepository interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type postgresOutboxRepository struct {
	db *sqlx.DB
}

func NewPostgresOutboxRepository(db *sqlx.DB) OutboxRepository {
	return &postgresOutboxRepository{db: db}
}

// ClaimPending leases up to limit unpublished rows to the caller. Rows locked
// by another relay are skipped, and a lease that expires without the row being
// published makes it claimable again. Rows come back oldest first.
func (r *postgresOutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	query := `
		UPDATE session_outbox
		SET claimed_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM session_outbox
			WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, session_id, event_type, target_table_status, payload, attempts, last_error, published_at, created_at
	`
	if err := r.db.SelectContext(ctx, &events, query, limit, lease.Seconds()); err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (r *postgresOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE session_outbox SET published_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}

func (r *postgresOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE session_outbox SET attempts = attempts + 1, last_error = $1, claimed_until = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, reason, id)
	return err
}
