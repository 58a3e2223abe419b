package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scribe/internal/store"
)

// SharedWindow keeps the ledger in the budget_ledger table so every process
// using the same database shares one budget. Each reservation runs in a
// BEGIN IMMEDIATE transaction, which serializes writers across processes.
type SharedWindow struct {
	db     *sql.DB
	bucket string
	limits Limits
}

// NewSharedWindow returns a window over the ledger rows tagged bucket.
func NewSharedWindow(db *sql.DB, bucket string, limits Limits) *SharedWindow {
	if bucket == "" {
		bucket = "default"
	}
	return &SharedWindow{db: db, bucket: bucket, limits: limits}
}

// Reserve implements Window.
func (w *SharedWindow) Reserve(ctx context.Context, now time.Time, units int) (time.Duration, error) {
	var wait time.Duration
	err := store.RetryOnBusy(ctx, func() error {
		var txErr error
		wait, txErr = w.reserveOnce(ctx, now, units)
		return txErr
	})
	if err != nil {
		return 0, fmt.Errorf("reserve shared budget: %w", err)
	}
	return wait, nil
}

func (w *SharedWindow) reserveOnce(ctx context.Context, now time.Time, units int) (wait time.Duration, err error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	nowMS := now.UnixMilli()
	cutoff := nowMS - w.limits.span().Milliseconds()
	if _, err := conn.ExecContext(ctx,
		`DELETE FROM budget_ledger WHERE bucket = ? AND at_ms <= ?`, w.bucket, cutoff); err != nil {
		return 0, err
	}
	live, err := loadEntries(ctx, conn, w.bucket)
	if err != nil {
		return 0, err
	}
	ok, wait := admit(live, w.limits, time.UnixMilli(nowMS), units)
	if ok {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO budget_ledger (bucket, at_ms, units) VALUES (?, ?, ?)`, w.bucket, nowMS, units); err != nil {
			return 0, err
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, err
	}
	committed = true
	return wait, nil
}

// Usage implements Window.
func (w *SharedWindow) Usage(ctx context.Context, now time.Time) (Usage, error) {
	cutoff := now.UnixMilli() - w.limits.span().Milliseconds()
	var u Usage
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(units), 0) FROM budget_ledger WHERE bucket = ? AND at_ms > ?`,
		w.bucket, cutoff,
	).Scan(&u.Calls, &u.Tokens)
	if err != nil {
		return Usage{}, fmt.Errorf("read shared budget: %w", err)
	}
	return u, nil
}

func loadEntries(ctx context.Context, conn *sql.Conn, bucket string) ([]entry, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT at_ms, units FROM budget_ledger WHERE bucket = ? ORDER BY at_ms, id`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var live []entry
	for rows.Next() {
		var (
			atMS  int64
			units int
		)
		if err := rows.Scan(&atMS, &units); err != nil {
			return nil, err
		}
		live = append(live, entry{at: time.UnixMilli(atMS), units: units})
	}
	return live, rows.Err()
}
