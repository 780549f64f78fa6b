package database

import (
	"context"
	"fmt"
)

// InitSchema loads schemaSQL when the evaluations table is missing. Anything
// added after the base schema is left to Migrate.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var table *string
	if err := db.Pool.QueryRow(ctx, `SELECT to_regclass('public.evaluations')::text`).Scan(&table); err != nil {
		return fmt.Errorf("probe schema: %w", err)
	}
	if table != nil {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit base schema: %w", err)
	}
	db.log.Info().Int("bytes", len(schemaSQL)).Msg("base schema loaded into empty database")
	return nil
}
