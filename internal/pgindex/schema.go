package pgindex

import (
	"context"
	"fmt"
)

func schemaStatements(dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS media (
            id           BIGINT PRIMARY KEY,
            external_ref TEXT NOT NULL,
            title        TEXT NOT NULL DEFAULT '',
            scope_id     TEXT NOT NULL DEFAULT ''
        )`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS segments (
            id             BIGSERIAL PRIMARY KEY,
            media_id       BIGINT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
            sequence_index INTEGER NOT NULL,
            start_offset   INTEGER NOT NULL,
            end_offset     INTEGER NOT NULL,
            start_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
            end_seconds    DOUBLE PRECISION NOT NULL DEFAULT 0,
            word_count     INTEGER NOT NULL,
            text           TEXT NOT NULL,
            tsv            tsvector GENERATED ALWAYS AS (to_tsvector('simple', text)) STORED,
            embedding      vector(%d) NOT NULL,
            UNIQUE (media_id, sequence_index)
        )`, dims),
		`CREATE INDEX IF NOT EXISTS segments_tsv_idx ON segments USING GIN (tsv)`,
		`CREATE INDEX IF NOT EXISTS segments_embedding_idx ON segments USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS media_scope_idx ON media (scope_id)`,
	}
}

func (x *Index) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(x.dims) {
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
