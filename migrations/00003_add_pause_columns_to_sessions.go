package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddPauseColumns, downAddPauseColumns)
}

func upAddPauseColumns(ctx context.Context, tx *sql.Tx) error {
	query := `
		ALTER TABLE sessions
			ADD COLUMN paused_at TIMESTAMP WITH TIME ZONE,
			ADD COLUMN paused_ms BIGINT NOT NULL DEFAULT 0;
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downAddPauseColumns(ctx context.Context, tx *sql.Tx) error {
	query := `
		ALTER TABLE sessions
			DROP COLUMN IF EXISTS paused_at,
			DROP COLUMN IF EXISTS paused_ms;
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}
