package transcriptcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/store"
	"scribe/internal/transcript"
)

func openMemory(t *testing.T, resultTTL, missTTL time.Duration) *Cache {
	t.Helper()
	cache, err := Open(Options{InMemory: true, ResultTTL: resultTTL, MissTTL: missTTL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestStoreAndLookup(t *testing.T) {
	ctx := context.Background()
	cache := openMemory(t, time.Hour, time.Hour)

	_, found, err := cache.Lookup(ctx, "ref")
	require.NoError(t, err)
	assert.False(t, found)

	want := transcript.Result{
		Text:      "hello world",
		Cues:      []transcript.Cue{{Start: 0, End: 1, Text: "hello world"}},
		Language:  "en",
		WordCount: 2,
		Source:    store.SourceTier1,
	}
	require.NoError(t, cache.Store(ctx, "ref", want))

	got, found, err := cache.Lookup(ctx, "ref")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestMissesAreKeyedByTier(t *testing.T) {
	ctx := context.Background()
	cache := openMemory(t, time.Hour, time.Hour)

	require.NoError(t, cache.StoreMiss(ctx, "captions", "ref", "no captions"))

	reason, found, err := cache.MissCached(ctx, "captions", "ref")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "no captions", reason)

	_, found, err = cache.MissCached(ctx, "transcript_api", "ref")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestZeroMissTTLDisablesMissCache(t *testing.T) {
	ctx := context.Background()
	cache := openMemory(t, time.Hour, 0)
	require.NoError(t, cache.StoreMiss(ctx, "captions", "ref", "none"))
	_, found, err := cache.MissCached(ctx, "captions", "ref")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := openMemory(t, time.Hour, time.Hour)
	require.NoError(t, cache.Store(ctx, "ref", transcript.Result{Text: "x", Source: store.SourceTier2}))
	require.NoError(t, cache.StoreMiss(ctx, "captions", "ref", "none"))

	require.NoError(t, cache.Invalidate(ctx, "ref", "captions"))

	_, found, _ := cache.Lookup(ctx, "ref")
	assert.False(t, found)
	_, found, _ = cache.MissCached(ctx, "captions", "ref")
	assert.False(t, found)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	cache, err := Open(Options{Dir: dir, ResultTTL: time.Hour})
	require.NoError(t, err)
	require.NoError(t, cache.Store(context.Background(), "ref", transcript.Result{Text: "persisted", Source: store.SourceTier3}))
	require.NoError(t, cache.Close())

	reopened, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()
	got, found, err := reopened.Lookup(context.Background(), "ref")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "persisted", got.Text)
}
