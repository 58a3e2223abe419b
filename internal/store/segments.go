package store

import (
	"context"
	"database/sql"
	"fmt"
)

const segmentColumns = "s.id, s.media_id, s.sequence_index, s.start_offset, s.end_offset, s.start_seconds, s.end_seconds, s.word_count, s.text, s.embedding, s.created_at"

func scanSegmentInto(seg *Segment, extra []any, scanner rowScanner) error {
	var (
		startSeconds sql.NullFloat64
		endSeconds   sql.NullFloat64
		blob         []byte
		createdRaw   sql.NullString
	)
	dest := []any{
		&seg.ID,
		&seg.MediaID,
		&seg.SequenceIndex,
		&seg.StartOffset,
		&seg.EndOffset,
		&startSeconds,
		&endSeconds,
		&seg.WordCount,
		&seg.Text,
		&blob,
		&createdRaw,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	seg.StartSeconds = startSeconds.Float64
	seg.EndSeconds = endSeconds.Float64
	vec, err := DecodeVector(blob)
	if err != nil {
		return fmt.Errorf("segment %d: %w", seg.ID, err)
	}
	seg.Embedding = vec
	if created, err := ParseTime(createdRaw.String); err == nil {
		seg.CreatedAt = created
	}
	return nil
}

// ReplaceSegments supersedes every segment of mediaID with segs in a single
// transaction. Sequence indexes are assigned from slice order.
func (s *Store) ReplaceSegments(ctx context.Context, mediaID int64, segs []Segment) error {
	ctx = ensureContext(ctx)
	ts := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE media_id = ?`, mediaID); err != nil {
			return fmt.Errorf("delete segments: %w", err)
		}
		if len(segs) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO segments (media_id, sequence_index, start_offset, end_offset, start_seconds,
                end_seconds, word_count, text, embedding, dimensions, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare segment insert: %w", err)
		}
		defer stmt.Close()
		for i, seg := range segs {
			if _, err := stmt.ExecContext(ctx,
				mediaID, i, seg.StartOffset, seg.EndOffset, seg.StartSeconds, seg.EndSeconds,
				seg.WordCount, seg.Text, EncodeVector(seg.Embedding), len(seg.Embedding), ts,
			); err != nil {
				return fmt.Errorf("insert segment %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListSegments returns the segments of mediaID in sequence order.
func (s *Store) ListSegments(ctx context.Context, mediaID int64) ([]Segment, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+segmentColumns+` FROM segments s WHERE s.media_id = ? ORDER BY s.sequence_index`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var seg Segment
		if err := scanSegmentInto(&seg, nil, rows); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// CountSegments returns how many segments mediaID has.
func (s *Store) CountSegments(ctx context.Context, mediaID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(*) FROM segments WHERE media_id = ?`, mediaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count segments: %w", err)
	}
	return count, nil
}

// ScopeSegments returns every segment whose media item belongs to scopeID.
// An empty scopeID returns segments across all media.
func (s *Store) ScopeSegments(ctx context.Context, scopeID string) ([]ScopedSegment, error) {
	query := `SELECT ` + segmentColumns + `, m.external_ref, COALESCE(m.title, ''), COALESCE(m.scope_id, '')
        FROM segments s JOIN media_items m ON m.id = s.media_id`
	var args []any
	if scopeID != "" {
		query += ` WHERE m.scope_id = ?`
		args = append(args, scopeID)
	}
	query += ` ORDER BY s.id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("scope segments: %w", err)
	}
	defer rows.Close()

	var segs []ScopedSegment
	for rows.Next() {
		var seg ScopedSegment
		if err := scanSegmentInto(&seg.Segment, []any{&seg.ExternalRef, &seg.Title, &seg.ScopeID}, rows); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}
