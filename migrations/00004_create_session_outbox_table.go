package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateSessionOutbox, downCreateSessionOutbox)
}

func upCreateSessionOutbox(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE session_outbox (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			target_table_status TEXT NOT NULL,
			payload JSONB NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			published_at TIMESTAMP WITH TIME ZONE,
			claimed_until TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);

		CREATE INDEX session_outbox_unpublished_idx
			ON session_outbox (created_at)
			WHERE published_at IS NULL;
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreateSessionOutbox(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS session_outbox;`)
	return err
}
