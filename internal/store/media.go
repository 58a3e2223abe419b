package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const mediaColumns = "id, external_ref, scope_id, title, duration_seconds, status, error_message, language, content_start_offset_seconds, transcript_text, transcript_cues_json, transcript_source, content_hash, summary, topics_json, created_at, updated_at"

func scanMedia(scanner rowScanner) (*MediaItem, error) {
	var (
		item         MediaItem
		scopeID      sql.NullString
		title        sql.NullString
		status       string
		errorMessage sql.NullString
		language     sql.NullString
		contentStart sql.NullFloat64
		transcript   sql.NullString
		cues         sql.NullString
		source       sql.NullString
		hash         sql.NullString
		summary      sql.NullString
		topics       sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&item.ID,
		&item.ExternalRef,
		&scopeID,
		&title,
		&item.DurationSeconds,
		&status,
		&errorMessage,
		&language,
		&contentStart,
		&transcript,
		&cues,
		&source,
		&hash,
		&summary,
		&topics,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	item.ScopeID = scopeID.String
	item.Title = title.String
	item.Status = Status(status)
	item.ErrorMessage = errorMessage.String
	item.Language = language.String
	if contentStart.Valid {
		v := contentStart.Float64
		item.ContentStartSeconds = &v
	}
	item.TranscriptText = transcript.String
	item.TranscriptCuesJSON = cues.String
	item.TranscriptSource = TranscriptSource(source.String)
	item.ContentHash = hash.String
	item.Summary = summary.String
	item.Topics, item.Keywords = decodeTopics(topics.String)
	if created, err := ParseTime(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := ParseTime(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

// EnsureMedia returns the media item for externalRef, creating it when absent.
// A non-empty scopeID overwrites the stored scope.
func (s *Store) EnsureMedia(ctx context.Context, externalRef, scopeID string) (*MediaItem, error) {
	if externalRef == "" {
		return nil, errors.New("external ref is required")
	}
	ts := s.timestamp()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO media_items (external_ref, scope_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(external_ref) DO UPDATE SET
            scope_id = COALESCE(excluded.scope_id, media_items.scope_id)`,
		externalRef, nullableString(scopeID), StatusQueued, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert media: %w", err)
	}
	return s.GetMediaByRef(ctx, externalRef)
}

// InsertMediaWithID creates a media row with a caller-chosen identifier.
// Used when a queue message references a media item that was never persisted.
func (s *Store) InsertMediaWithID(ctx context.Context, id int64, externalRef string) (*MediaItem, error) {
	ts := s.timestamp()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO media_items (id, external_ref, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id, externalRef, StatusQueued, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert media %d: %w", id, err)
	}
	return s.GetMedia(ctx, id)
}

// GetMedia fetches a media item by identifier.
func (s *Store) GetMedia(ctx context.Context, id int64) (*MediaItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+mediaColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}
	return item, nil
}

// GetMediaByRef fetches a media item by its external reference.
func (s *Store) GetMediaByRef(ctx context.Context, externalRef string) (*MediaItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+mediaColumns+` FROM media_items WHERE external_ref = ?`, externalRef)
	item, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %q: %w", externalRef, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}
	return item, nil
}

// ListMedia returns media items, optionally restricted to a scope.
func (s *Store) ListMedia(ctx context.Context, scopeID string) ([]*MediaItem, error) {
	query := `SELECT ` + mediaColumns + ` FROM media_items`
	var args []any
	if scopeID != "" {
		query += ` WHERE scope_id = ?`
		args = append(args, scopeID)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var items []*MediaItem
	for rows.Next() {
		item, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func updateMediaTx(ctx context.Context, tx *sql.Tx, item *MediaItem, ts string) error {
	if (item.TranscriptSource != SourceNone) != (item.TranscriptText != "") {
		return ErrInvalidTranscript
	}
	topics, err := encodeTopics(item.Topics, item.Keywords)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE media_items SET
            scope_id = ?, title = ?, duration_seconds = ?, status = ?, error_message = ?,
            language = ?, content_start_offset_seconds = ?, transcript_text = ?,
            transcript_cues_json = ?, transcript_source = ?, content_hash = ?,
            summary = ?, topics_json = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(item.ScopeID),
		nullableString(item.Title),
		item.DurationSeconds,
		item.Status,
		nullableString(item.ErrorMessage),
		nullableString(item.Language),
		nullableFloat(item.ContentStartSeconds),
		nullableString(item.TranscriptText),
		nullableString(item.TranscriptCuesJSON),
		nullableString(string(item.TranscriptSource)),
		nullableString(item.ContentHash),
		nullableString(item.Summary),
		topics,
		ts,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("media %d: %w", item.ID, ErrNotFound)
	}
	return nil
}

// UpdateMedia writes every mutable media field.
func (s *Store) UpdateMedia(ctx context.Context, item *MediaItem) error {
	ts := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return updateMediaTx(ensureContext(ctx), tx, item, ts)
	})
	if err != nil {
		return err
	}
	if t, perr := ParseTime(ts); perr == nil {
		item.UpdatedAt = t
	}
	return nil
}
