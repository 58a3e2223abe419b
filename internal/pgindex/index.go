package pgindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"scribe/internal/retrieval"
	"scribe/internal/store"
)

// Index is a pgvector-backed segment index.
type Index struct {
	pool *pgxpool.Pool
	dims int
}

// Open connects to dsn, verifies the connection and applies the schema for
// vectors of width dims.
func Open(ctx context.Context, dsn string, dims int) (*Index, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %d", dims)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	x := &Index{pool: pool, dims: dims}
	if err := x.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return x, nil
}

// Close releases the pool.
func (x *Index) Close() {
	if x != nil && x.pool != nil {
		x.pool.Close()
	}
}

// Ping checks connectivity.
func (x *Index) Ping(ctx context.Context) error {
	return x.pool.Ping(ctx)
}

// transact runs fn inside one transaction.
func transact[T any](ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("begin transaction: %w", err)
	}
	result, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// ReplaceMediaSegments upserts the media row and supersedes its segments in
// one transaction.
func (x *Index) ReplaceMediaSegments(ctx context.Context, media *store.MediaItem, segs []store.Segment) error {
	if media == nil {
		return errors.New("media item is nil")
	}
	for i, seg := range segs {
		if len(seg.Embedding) != x.dims {
			return fmt.Errorf("segment %d: embedding has %d dimensions, index expects %d", i, len(seg.Embedding), x.dims)
		}
	}
	_, err := transact(ctx, x.pool, func(tx pgx.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO media (id, external_ref, title, scope_id) VALUES ($1, $2, $3, $4)
             ON CONFLICT (id) DO UPDATE SET external_ref = EXCLUDED.external_ref,
                 title = EXCLUDED.title, scope_id = EXCLUDED.scope_id`,
			media.ID, media.ExternalRef, media.Title, media.ScopeID,
		); err != nil {
			return struct{}{}, fmt.Errorf("upsert media: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE media_id = $1`, media.ID); err != nil {
			return struct{}{}, fmt.Errorf("delete segments: %w", err)
		}
		if len(segs) == 0 {
			return struct{}{}, nil
		}
		batch := &pgx.Batch{}
		for i, seg := range segs {
			batch.Queue(
				`INSERT INTO segments (media_id, sequence_index, start_offset, end_offset,
                    start_seconds, end_seconds, word_count, text, embedding)
                 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				media.ID, i, seg.StartOffset, seg.EndOffset, seg.StartSeconds, seg.EndSeconds,
				seg.WordCount, seg.Text, pgvector.NewVector(seg.Embedding),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return struct{}{}, fmt.Errorf("insert segments: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// CountSegments returns how many segments mediaID has.
func (x *Index) CountSegments(ctx context.Context, mediaID int64) (int, error) {
	var n int
	if err := x.pool.QueryRow(ctx, `SELECT COUNT(*) FROM segments WHERE media_id = $1`, mediaID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count segments: %w", err)
	}
	return n, nil
}

const candidateColumns = `s.id, s.media_id, s.sequence_index, s.start_offset, s.end_offset,
    s.start_seconds, s.end_seconds, s.word_count, s.text,
    m.external_ref, m.title, m.scope_id`

// Candidates implements retrieval.Source. The lexical pass ranks with
// ts_rank_cd over an OR of the query terms; the vector pass orders by cosine
// distance. Both passes return both scores.
func (x *Index) Candidates(ctx context.Context, q retrieval.Query) ([]retrieval.Candidate, []retrieval.Candidate, error) {
	tsquery := strings.Join(q.Terms, " | ")
	vec := pgvector.NewVector(q.Vector)
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}

	var lexical []retrieval.Candidate
	if tsquery != "" {
		var err error
		lexical, err = x.query(ctx, `SELECT `+candidateColumns+`,
                ts_rank_cd(s.tsv, q) AS lexical, 1 - (s.embedding <=> $2) AS cosine
            FROM segments s
            JOIN media m ON m.id = s.media_id
            CROSS JOIN to_tsquery('simple', $1) q
            WHERE s.tsv @@ q AND ($3::text = '' OR m.scope_id = $3)
            ORDER BY lexical DESC, s.id
            LIMIT $4`, tsquery, vec, q.ScopeID, limit)
		if err != nil {
			return nil, nil, fmt.Errorf("lexical pass: %w", err)
		}
	}

	vector, err := x.query(ctx, `SELECT `+candidateColumns+`,
            CASE WHEN $1::text = '' THEN 0 ELSE ts_rank_cd(s.tsv, to_tsquery('simple', $1)) END AS lexical,
            1 - (s.embedding <=> $2) AS cosine
        FROM segments s
        JOIN media m ON m.id = s.media_id
        WHERE ($3::text = '' OR m.scope_id = $3)
        ORDER BY s.embedding <=> $2, s.id
        LIMIT $4`, tsquery, vec, q.ScopeID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("vector pass: %w", err)
	}
	return lexical, vector, nil
}

func (x *Index) query(ctx context.Context, sql string, args ...any) ([]retrieval.Candidate, error) {
	rows, err := x.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retrieval.Candidate
	for rows.Next() {
		var (
			c       retrieval.Candidate
			lexical float32
		)
		seg := &c.Segment
		if err := rows.Scan(
			&seg.ID, &seg.MediaID, &seg.SequenceIndex, &seg.StartOffset, &seg.EndOffset,
			&seg.StartSeconds, &seg.EndSeconds, &seg.WordCount, &seg.Text,
			&seg.ExternalRef, &seg.Title, &seg.ScopeID,
			&lexical, &c.Cosine,
		); err != nil {
			return nil, err
		}
		c.Lexical = float64(lexical)
		out = append(out, c)
	}
	return out, rows.Err()
}
