package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateSessionsTable, downCreateSessionsTable)
}

func upCreateSessionsTable(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			table_id TEXT NOT NULL,
			customer_id TEXT,
			staff_id TEXT NOT NULL,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			end_time TIMESTAMP WITH TIME ZONE,
			hourly_rate BIGINT NOT NULL CHECK (hourly_rate >= 0),
			status TEXT NOT NULL DEFAULT 'ACTIVE'
				CHECK (status IN ('ACTIVE', 'PAUSED', 'COMPLETED', 'CANCELLED')),
			total_cost BIGINT,
			notes TEXT,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);

		CREATE INDEX sessions_status_idx ON sessions (status);
		CREATE INDEX sessions_table_id_idx ON sessions (table_id, start_time DESC);
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreateSessionsTable(ctx context.Context, tx *sql.Tx) error {
	query := `DROP TABLE IF EXISTS sessions;`
	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}
