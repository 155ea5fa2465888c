package postgres

import (
	"context"
	"fmt"

	"github.com/d4mr/coredrain/internal/store"
)

// requiredUniqueIndexes are the indexes correctness depends on: without
// them, concurrent batch inserts could double-insert a transfer or
// anchor under load instead of hitting ON CONFLICT.
var requiredUniqueIndexes = map[string]string{
	"transfers":  "transfers_pkey",
	"anchor_txs": "idx_anchor_txs_internal_hash",
}

// EnsureSchema runs pending migrations and then confirms the unique
// indexes batch inserts rely on actually exist and are unique, the same defensive
// closing step RunMigrations' caller performs before serving traffic.
func (db *DB) EnsureSchema(ctx context.Context, migrationsDir string) error {
	if err := db.RunMigrations(ctx, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	for table, indexName := range requiredUniqueIndexes {
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_indexes WHERE tablename = $1 AND indexname = $2
				  AND indexdef LIKE 'CREATE UNIQUE INDEX%'
			)
		`, table, indexName).Scan(&exists)
		if err != nil {
			return &store.IndexVerificationError{Index: indexName, Err: err}
		}
		if !exists {
			return &store.IndexVerificationError{Index: indexName, Err: fmt.Errorf("index %s missing or not unique on table %s", indexName, table)}
		}
	}
	return nil
}
