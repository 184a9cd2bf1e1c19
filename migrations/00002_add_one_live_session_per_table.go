package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upOneLiveSessionPerTable, downOneLiveSessionPerTable)
}

// A table can hold at most one running or paused session. Concurrent starts
// race on this index and exactly one insert wins.
func upOneLiveSessionPerTable(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE UNIQUE INDEX sessions_one_live_per_table
			ON sessions (table_id)
			WHERE status IN ('ACTIVE', 'PAUSED');
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downOneLiveSessionPerTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS sessions_one_live_per_table;`)
	return err
}
