package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"session-service/internal/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrPaymentStatusMismatch means the payment was not in the expected status
// when a guarded status update ran.
var ErrPaymentStatusMismatch = errors.New("payment status mismatch")

const paymentColumns = `id, session_id, customer_id, staff_id, session_amount, order_amount, discount,
		total_amount, method, status, notes, created_at, updated_at`

type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) (*model.Payment, error)
	FindByID(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error)
	List(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, error)
	Complete(ctx context.Context, paymentID uuid.UUID, method *model.PaymentMethod, at time.Time) (*model.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, notes *string, at time.Time) (*model.Payment, error)
}

type postgresPaymentRepository struct {
	db *sqlx.DB
}

func NewPostgresPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &postgresPaymentRepository{db: db}
}

func (r *postgresPaymentRepository) Create(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	query := `
		INSERT INTO payments (session_id, customer_id, staff_id, session_amount, order_amount, discount, total_amount, method, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		payment.SessionID, payment.CustomerID, payment.StaffID, payment.SessionAmount, payment.OrderAmount,
		payment.Discount, payment.TotalAmount, payment.Method, payment.Status, payment.Notes,
	)
	if err := row.Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *postgresPaymentRepository) FindByID(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error) {
	var payment model.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	err := r.db.GetContext(ctx, &payment, query, paymentID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &payment, nil
}

func (r *postgresPaymentRepository) List(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`

	args := []interface{}{}
	argID := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, filter.Status)
		argID++
	}
	if filter.Method != "" {
		query += fmt.Sprintf(" AND method = $%d", argID)
		args = append(args, filter.Method)
		argID++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argID)
		args = append(args, *filter.From)
		argID++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argID)
		args = append(args, *filter.To)
	}
	query += " ORDER BY created_at DESC"

	var payments []model.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, err
	}

	if payments == nil {
		payments = []model.Payment{}
	}

	return payments, nil
}

// Complete moves a PENDING payment to COMPLETED and opens its pending-invoice
// saga record in one transaction.
func (r *postgresPaymentRepository) Complete(ctx context.Context, paymentID uuid.UUID, method *model.PaymentMethod, at time.Time) (*model.Payment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var payment model.Payment
	query := `
		UPDATE payments
		SET status = 'COMPLETED', method = COALESCE($1, method), updated_at = $2
		WHERE id = $3 AND status = 'PENDING'
		RETURNING ` + paymentColumns

	if err := tx.GetContext(ctx, &payment, query, method, at, paymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentStatusMismatch
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO pending_invoices (payment_id, created_at) VALUES ($1, $2)`, paymentID, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *postgresPaymentRepository) Refund(ctx context.Context, paymentID uuid.UUID, notes *string, at time.Time) (*model.Payment, error) {
	var payment model.Payment
	query := `
		UPDATE payments
		SET status = 'REFUNDED', notes = COALESCE($1, notes), updated_at = $2
		WHERE id = $3 AND status = 'COMPLETED'
		RETURNING ` + paymentColumns

	if err := r.db.GetContext(ctx, &payment, query, notes, at, paymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentStatusMismatch
		}
		return nil, err
	}

	return &payment, nil
}
