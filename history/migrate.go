package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avolkhin/snaptix/history/migrations"
)

const migrationLedgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// ApplyMigrations brings the schema up to date. All pending migrations
// run inside one transaction together with their ledger entries, so a
// partially migrated schema is never left behind.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migrationLedgerDDL); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, migration := range migrations.All {
		if applied[migration.ID] {
			continue
		}
		if err := applyMigration(ctx, tx, migration); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func applyMigration(ctx context.Context, tx *sql.Tx, migration migrations.Migration) error {
	if _, err := tx.ExecContext(ctx, migration.Script); err != nil {
		return fmt.Errorf("migration %s: %w", migration.ID, err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (id, applied_at) VALUES ($1, NOW())`, migration.ID)
	if err != nil {
		return fmt.Errorf("recording migration %s: %w", migration.ID, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool, len(migrations.All))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		applied[id] = true
	}
	return applied, rows.Err()
}
