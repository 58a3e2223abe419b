package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scribe/internal/config"
)

// Store manages job, media and segment persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// busyPolicy bounds how long a statement is retried while another
// connection holds the write lock.
var busyPolicy = struct {
	attempts int
	first    time.Duration
	ceiling  time.Duration
}{attempts: 5, first: 10 * time.Millisecond, ceiling: 200 * time.Millisecond}

// sqliteBusy is SQLITE_BUSY; extended codes keep it in the low byte.
const sqliteBusy = 5

const sqliteConstraintUnique = 2067

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// IsBusy reports whether err is SQLite's busy/locked condition.
func IsBusy(err error) bool {
	var coded interface{ Code() int }
	switch {
	case err == nil:
		return false
	case errors.As(err, &coded):
		return coded.Code()&0xff == sqliteBusy
	default:
		return strings.Contains(err.Error(), "database is locked")
	}
}

// isUniqueViolation reports a UNIQUE constraint failure on column.
func isUniqueViolation(err error, column string) bool {
	var coded interface{ Code() int }
	if !errors.As(err, &coded) || coded.Code() != sqliteConstraintUnique {
		return false
	}
	return strings.Contains(err.Error(), column)
}

// RetryOnBusy runs op again with doubling delays while it fails with a busy
// error. Other errors, success and context cancellation end the loop.
func RetryOnBusy(ctx context.Context, op func() error) error {
	ctx = ensureContext(ctx)
	wait := busyPolicy.first
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !IsBusy(err) || attempt == busyPolicy.attempts {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, busyPolicy.ceiling)
	}
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (res sql.Result, err error) {
	ctx = ensureContext(ctx)
	err = RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// withTx runs fn in a transaction. Busy failures retry the whole unit.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return RetryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Open initializes or connects to the pipeline database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database file at dbPath, creating the schema when absent.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	st := &Store{db: db, path: dbPath, now: time.Now}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sqlite db %s: %w", dbPath, err)
	}
	if err := st.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// sqliteDSN puts pragmas in the DSN so every pooled connection applies them.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range []string{"journal_mode(WAL)", "foreign_keys(1)", "busy_timeout(5000)"} {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// DB exposes the connection for the queue and budget ledger tables.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return FormatTime(s.now())
}
