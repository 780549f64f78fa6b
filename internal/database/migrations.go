package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// step is one schema change. Steps are applied in order and recorded by
// version in schema_migrations; present reports whether a database that
// predates the ledger already has the change.
type step struct {
	version int
	name    string
	up      string
	present string
}

var steps = []step{
	{
		version: 1,
		name:    "evaluations.dataset",
		up:      `ALTER TABLE evaluations ADD COLUMN IF NOT EXISTS dataset text`,
		present: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'evaluations' AND column_name = 'dataset')`,
	},
	{
		version: 2,
		name:    "idx_evaluations_dataset",
		up:      `CREATE INDEX IF NOT EXISTS idx_evaluations_dataset ON evaluations (dataset) WHERE dataset IS NOT NULL`,
		present: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_evaluations_dataset')`,
	},
	{
		version: 3,
		name:    "hypothesis_scores.hypothesis_length",
		up:      `ALTER TABLE hypothesis_scores ADD COLUMN IF NOT EXISTS hypothesis_length int NOT NULL DEFAULT 0`,
		present: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'hypothesis_scores' AND column_name = 'hypothesis_length')`,
	},
}

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    int PRIMARY KEY,
	name       text NOT NULL,
	applied_at timestamptz NOT NULL DEFAULT now()
)`

// Migrate brings the schema up to the latest step. Each step runs in its own
// transaction together with its ledger row. A failure stops the run and
// returns a *MigrationError listing what is left to apply by hand.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	todo := pendingSteps(done)
	for i, s := range todo {
		if err := db.applyStep(ctx, s); err != nil {
			return &MigrationError{Step: s.name, Remaining: todo[i:], Err: err}
		}
	}
	if len(todo) > 0 {
		db.log.Info().Int("applied", len(todo)).Int("version", todo[len(todo)-1].version).Msg("schema up to date")
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(versions))
	for _, v := range versions {
		done[v] = true
	}
	return done, nil
}

func pendingSteps(done map[int]bool) []step {
	var todo []step
	for _, s := range steps {
		if !done[s.version] {
			todo = append(todo, s)
		}
	}
	return todo
}

func (db *DB) applyStep(ctx context.Context, s step) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if s.present != "" {
		if err := tx.QueryRow(ctx, s.present).Scan(&exists); err != nil {
			return err
		}
	}
	if !exists {
		if _, err := tx.Exec(ctx, s.up); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, s.version, s.name); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	db.log.Info().Int("version", s.version).Str("step", s.name).Bool("recorded_only", exists).Msg("migration applied")
	return nil
}

// MigrationError reports a step that could not be applied, usually for lack
// of privileges, along with the SQL an administrator can run instead.
type MigrationError struct {
	Step      string
	Remaining []step
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// ManualSQL returns the statements for every remaining step, each followed
// by its ledger insert.
func (e *MigrationError) ManualSQL() string {
	var b strings.Builder
	for _, s := range e.Remaining {
		fmt.Fprintf(&b, "%s;\nINSERT INTO schema_migrations (version, name) VALUES (%d, '%s');\n", s.up, s.version, s.name)
	}
	return b.String()
}
