package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"session-service/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolation = "23505"

var (
	// ErrLiveSessionExists is returned when the table already holds an ACTIVE
	// or PAUSED session and the partial unique index rejects the insert.
	ErrLiveSessionExists = errors.New("table already has a live session")
	// ErrVersionConflict means the row changed between read and write.
	ErrVersionConflict = errors.New("session was modified concurrently")
)

const sessionColumns = `id, table_id, customer_id, staff_id, start_time, end_time, hourly_rate, status,
		total_cost, notes, paused_at, paused_ms, version, created_at, updated_at`

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) (*model.Session, error)
	FindByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	List(ctx context.Context, filter model.SessionFilter) ([]model.Session, error)
	Update(ctx context.Context, session *model.Session, expectedVersion int64, event model.EventType) (*model.Session, error)
}

type postgresSessionRepository struct {
	db *sqlx.DB
}

func NewPostgresSessionRepository(db *sqlx.DB) SessionRepository {
	return &postgresSessionRepository{db: db}
}

// Create inserts an ACTIVE session together with its session:started outbox row.
func (r *postgresSessionRepository) Create(ctx context.Context, session *model.Session) (*model.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sessions (id, table_id, customer_id, staff_id, start_time, hourly_rate, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version
	`

	row := tx.QueryRowxContext(ctx, query,
		session.ID, session.TableID, session.CustomerID, session.StaffID, session.StartTime,
		session.HourlyRate, session.Status, session.Notes, session.CreatedAt, session.UpdatedAt,
	)
	if err := row.Scan(&session.Version); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrLiveSessionExists
		}
		return nil, err
	}

	if err := insertOutbox(ctx, tx, session, model.EventSessionStarted); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return session, nil
}

func (r *postgresSessionRepository) FindByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	var session model.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	err := r.db.GetContext(ctx, &session, query, sessionID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &session, nil
}

func (r *postgresSessionRepository) List(ctx context.Context, filter model.SessionFilter) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`

	args := []interface{}{}
	argID := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, filter.Status)
		argID++
	}
	if filter.TableID != "" {
		query += fmt.Sprintf(" AND table_id = $%d", argID)
		args = append(args, filter.TableID)
	}
	query += " ORDER BY start_time DESC"

	var sessions []model.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, err
	}

	if sessions == nil {
		sessions = []model.Session{}
	}

	return sessions, nil
}

// Update writes the mutable lifecycle columns of session if its stored
// version still equals expectedVersion, and records event in the outbox
// within the same transaction.
func (r *postgresSessionRepository) Update(ctx context.Context, session *model.Session, expectedVersion int64, event model.EventType) (*model.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE sessions
		SET status = $1, end_time = $2, total_cost = $3, paused_at = $4, paused_ms = $5,
			version = version + 1, updated_at = $6
		WHERE id = $7 AND version = $8
		RETURNING version
	`

	row := tx.QueryRowxContext(ctx, query,
		session.Status, session.EndTime, session.TotalCost, session.PausedAt, session.PausedMs,
		session.UpdatedAt, session.ID, expectedVersion,
	)
	if err := row.Scan(&session.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionConflict
		}
		return nil, err
	}

	if err := insertOutbox(ctx, tx, session, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return session, nil
}

func insertOutbox(ctx context.Context, tx *sqlx.Tx, session *model.Session, eventType model.EventType) error {
	event := model.SessionEvent{
		EventID:    uuid.New(),
		EventType:  eventType,
		Session:    *session,
		OccurredAt: session.UpdatedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	query := `
		INSERT INTO session_outbox (id, session_id, event_type, target_table_status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, query, event.EventID, session.ID, eventType, eventType.TableStatus(), payload, session.UpdatedAt)
	return err
}
