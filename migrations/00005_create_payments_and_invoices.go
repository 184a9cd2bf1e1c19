package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreatePaymentsAndInvoices, downCreatePaymentsAndInvoices)
}

func upCreatePaymentsAndInvoices(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE payments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			session_id UUID NOT NULL REFERENCES sessions(id),
			customer_id TEXT,
			staff_id TEXT NOT NULL,
			session_amount BIGINT NOT NULL DEFAULT 0,
			order_amount BIGINT NOT NULL DEFAULT 0,
			discount BIGINT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL,
			method TEXT NOT NULL DEFAULT 'CASH',
			status TEXT NOT NULL DEFAULT 'PENDING',
			notes TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);

		CREATE INDEX payments_status_created_idx ON payments (status, created_at);

		CREATE TABLE invoices (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			payment_id UUID NOT NULL UNIQUE REFERENCES payments(id),
			invoice_number TEXT NOT NULL UNIQUE,
			session_amount BIGINT NOT NULL,
			order_amount BIGINT NOT NULL,
			subtotal BIGINT NOT NULL,
			discount BIGINT NOT NULL,
			total BIGINT NOT NULL,
			archive_key TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);

		CREATE TABLE pending_invoices (
			payment_id UUID PRIMARY KEY REFERENCES payments(id),
			session_ended BOOLEAN NOT NULL DEFAULT false,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			resolved_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreatePaymentsAndInvoices(ctx context.Context, tx *sql.Tx) error {
	query := `
		DROP TABLE IF EXISTS pending_invoices;
		DROP TABLE IF EXISTS invoices;
		DROP TABLE IF EXISTS payments;
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}
