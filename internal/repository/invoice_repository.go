package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-service/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrInvoiceNumberTaken is returned when a generated invoice number collides
// with an existing one. Callers pick a new number and retry.
var ErrInvoiceNumberTaken = errors.New("invoice number already taken")

const invoiceColumns = `id, payment_id, invoice_number, session_amount, order_amount, subtotal, discount, total, archive_key, created_at`

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error)
	FindByID(ctx context.Context, invoiceID uuid.UUID) (*model.Invoice, error)
	FindByPaymentID(ctx context.Context, paymentID uuid.UUID) (*model.Invoice, error)
	SetArchiveKey(ctx context.Context, invoiceID uuid.UUID, key string) error

	ListUnresolved(ctx context.Context, limit int) ([]model.PendingInvoice, error)
	MarkSessionEnded(ctx context.Context, paymentID uuid.UUID) error
	RecordFailure(ctx context.Context, paymentID uuid.UUID, reason string) error
	Resolve(ctx context.Context, paymentID uuid.UUID, at time.Time) error
}

type postgresInvoiceRepository struct {
	db *sqlx.DB
}

func NewPostgresInvoiceRepository(db *sqlx.DB) InvoiceRepository {
	return &postgresInvoiceRepository{db: db}
}

// Create is idempotent per payment: a retried saga step returns the invoice
// that an earlier attempt already stored.
func (r *postgresInvoiceRepository) Create(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	query := `
		INSERT INTO invoices (payment_id, invoice_number, session_amount, order_amount, subtotal, discount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		invoice.PaymentID, invoice.InvoiceNumber, invoice.SessionAmount, invoice.OrderAmount,
		invoice.Subtotal, invoice.Discount, invoice.Total,
	)
	err := row.Scan(&invoice.ID, &invoice.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.FindByPaymentID(ctx, invoice.PaymentID)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrInvoiceNumberTaken
		}
		return nil, err
	}

	return invoice, nil
}

func (r *postgresInvoiceRepository) FindByID(ctx context.Context, invoiceID uuid.UUID) (*model.Invoice, error) {
	return r.findOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)
}

func (r *postgresInvoiceRepository) FindByPaymentID(ctx context.Context, paymentID uuid.UUID) (*model.Invoice, error) {
	return r.findOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE payment_id = $1`, paymentID)
}

func (r *postgresInvoiceRepository) findOne(ctx context.Context, query string, arg uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *postgresInvoiceRepository) SetArchiveKey(ctx context.Context, invoiceID uuid.UUID, key string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE invoices SET archive_key = $1 WHERE id = $2`, key, invoiceID)
	return err
}

func (r *postgresInvoiceRepository) ListUnresolved(ctx context.Context, limit int) ([]model.PendingInvoice, error) {
	var pending []model.PendingInvoice
	query := `
		SELECT payment_id, session_ended, attempts, last_error, resolved_at, created_at
		FROM pending_invoices
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	err := r.db.SelectContext(ctx, &pending, query, limit)
	return pending, err
}

func (r *postgresInvoiceRepository) MarkSessionEnded(ctx context.Context, paymentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pending_invoices SET session_ended = true WHERE payment_id = $1`, paymentID)
	return err
}

func (r *postgresInvoiceRepository) RecordFailure(ctx context.Context, paymentID uuid.UUID, reason string) error {
	query := `UPDATE pending_invoices SET attempts = attempts + 1, last_error = $1 WHERE payment_id = $2`
	_, err := r.db.ExecContext(ctx, query, reason, paymentID)
	return err
}

func (r *postgresInvoiceRepository) Resolve(ctx context.Context, paymentID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pending_invoices SET resolved_at = $1 WHERE payment_id = $2`, at, paymentID)
	return err
}
