// Package transcriptcache persists resolver results and tier misses in a
// badger key-value store with per-entry TTLs.
//
// Resolved transcripts are keyed by external reference and kept for the
// configured cache TTL. Tier misses are keyed by tier and reference and kept
// for the shorter miss TTL so a source that later gains captions is retried.
package transcriptcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"scribe/internal/logging"
	"scribe/internal/transcript"
)

// Options configure a Cache.
type Options struct {
	// Dir is the badger directory. Ignored when InMemory is set.
	Dir       string
	InMemory  bool
	ResultTTL time.Duration
	MissTTL   time.Duration
	Logger    *slog.Logger
}

// Cache implements transcript.Cache over badger.
type Cache struct {
	db        *badger.DB
	resultTTL time.Duration
	missTTL   time.Duration
}

var _ transcript.Cache = (*Cache)(nil)

type loggerAdapter struct {
	logger *slog.Logger
}

func (l loggerAdapter) Errorf(msg string, args ...any)   { l.logger.Error(fmt.Sprintf(msg, args...)) }
func (l loggerAdapter) Warningf(msg string, args ...any) { l.logger.Warn(fmt.Sprintf(msg, args...)) }
func (l loggerAdapter) Infof(msg string, args ...any)    { l.logger.Debug(fmt.Sprintf(msg, args...)) }
func (l loggerAdapter) Debugf(msg string, args ...any)   { l.logger.Debug(fmt.Sprintf(msg, args...)) }

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("transcript cache: directory required")
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcript cache: create dir: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts.Logger = loggerAdapter{logger: logger.With(logging.String(logging.FieldComponent, "transcript-cache"))}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("transcript cache: open: %w", err)
	}
	return &Cache{db: db, resultTTL: opts.ResultTTL, missTTL: opts.MissTTL}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func refHash(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:])
}

func resultKey(ref string) []byte {
	return []byte("result/" + refHash(ref))
}

func missKey(tier, ref string) []byte {
	return []byte("miss/" + tier + "/" + refHash(ref))
}

type missRecord struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Lookup returns a cached transcript for ref.
func (c *Cache) Lookup(ctx context.Context, ref string) (transcript.Result, bool, error) {
	var result transcript.Result
	found, err := c.get(ctx, resultKey(ref), &result)
	if err != nil || !found {
		return transcript.Result{}, false, err
	}
	return result, true, nil
}

// Store caches a resolved transcript.
func (c *Cache) Store(ctx context.Context, ref string, result transcript.Result) error {
	return c.put(ctx, resultKey(ref), result, c.resultTTL)
}

// MissCached reports whether tier recently missed for ref.
func (c *Cache) MissCached(ctx context.Context, tier, ref string) (string, bool, error) {
	var record missRecord
	found, err := c.get(ctx, missKey(tier, ref), &record)
	if err != nil || !found {
		return "", false, err
	}
	return record.Reason, true, nil
}

// StoreMiss records a tier miss. A non-positive miss TTL disables miss caching.
func (c *Cache) StoreMiss(ctx context.Context, tier, ref, reason string) error {
	if c.missTTL <= 0 {
		return nil
	}
	return c.put(ctx, missKey(tier, ref), missRecord{Reason: reason, At: time.Now().UTC()}, c.missTTL)
}

// Invalidate drops everything cached for ref.
func (c *Cache) Invalidate(ctx context.Context, ref string, tiers ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(resultKey(ref)); err != nil {
			return err
		}
		for _, tier := range tiers {
			if err := txn.Delete(missKey(tier, ref)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) get(ctx context.Context, key []byte, target any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transcript cache: read: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("transcript cache: decode: %w", err)
	}
	return true, nil
}

func (c *Cache) put(ctx context.Context, key []byte, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("transcript cache: encode: %w", err)
	}
	entry := badger.NewEntry(key, data)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	if err := c.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(entry) }); err != nil {
		return fmt.Errorf("transcript cache: write: %w", err)
	}
	return nil
}
