package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. Version 1 databases are
// upgraded in place; any other version is refused.
const schemaVersion = 2

// activeJobIndex allows one queued or running job per media item.
const activeJobIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_media
    ON jobs(media_id) WHERE status IN ('queued', 'running')`

// ErrSchemaMismatch reports a database whose user_version is not schemaVersion.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	switch version {
	case schemaVersion:
		return nil
	case 1:
		return s.migrate(ctx, activeJobIndex)
	case 0:
		var tables int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'media_items'",
		).Scan(&tables); err != nil {
			return fmt.Errorf("inspect tables: %w", err)
		}
		if tables == 0 {
			return s.applySchema(ctx)
		}
	}
	return fmt.Errorf("%w: %s has version %d, this build expects %d (move it aside to start fresh)",
		ErrSchemaMismatch, s.path, version, schemaVersion)
}

func (s *Store) applySchema(ctx context.Context) error {
	return s.migrate(ctx, schemaSQL)
}

// migrate runs ddl and records schemaVersion in one transaction.
func (s *Store) migrate(ctx context.Context, ddl string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema v%d: %w", schemaVersion, err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
