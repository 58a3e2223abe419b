package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/services"
	"scribe/internal/store"
	"scribe/internal/transcript"
)

const stageName = "indexing"

// DefaultWindowWords is the window size used when none is configured.
const DefaultWindowWords = 250

// Embedder produces one vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// SegmentWriter supersedes the segment set of one media item atomically.
type SegmentWriter interface {
	ReplaceSegments(ctx context.Context, mediaID int64, segs []store.Segment) error
	ListSegments(ctx context.Context, mediaID int64) ([]store.Segment, error)
}

// ErrMirrorDiverged reports a mirror left holding a different segment set
// than the primary store. Re-indexing the media item realigns them.
var ErrMirrorDiverged = errors.New("segment mirror diverged from primary store")

// MirrorWriter receives a copy of each segment set together with the media
// item it belongs to.
type MirrorWriter interface {
	ReplaceMediaSegments(ctx context.Context, media *store.MediaItem, segs []store.Segment) error
}

// Indexer turns transcripts into embedded segments.
type Indexer struct {
	embedder    Embedder
	primary     SegmentWriter
	mirrors     []MirrorWriter
	windowWords int
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithWindowWords sets the words per window.
func WithWindowWords(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.windowWords = n
		}
	}
}

// WithConcurrency bounds in-flight embedding calls.
func WithConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// WithMirror adds a secondary index that receives the same segment set.
// Mirrors are written before the primary store and restored from it when a
// later write fails.
func WithMirror(w MirrorWriter) Option {
	return func(ix *Indexer) {
		if w != nil {
			ix.mirrors = append(ix.mirrors, w)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithMetrics records indexed segment counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// New builds an Indexer writing to primary.
func New(embedder Embedder, primary SegmentWriter, opts ...Option) *Indexer {
	ix := &Indexer{
		embedder:    embedder,
		primary:     primary,
		windowWords: DefaultWindowWords,
		concurrency: 4,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Plan computes the windows for a media item without embedding them.
func (ix *Indexer) Plan(media *store.MediaItem) ([]Window, error) {
	if media == nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "plan", "media item is nil", nil)
	}
	cues, err := transcript.DecodeCues(media.TranscriptCuesJSON)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "decode cues", "", err)
	}
	text := media.TranscriptText
	from := ContentStartOffset(text, cues, media.ContentStart(), media.DurationSeconds)
	windows := Split(text, from, ix.windowWords)
	annotateTimes(windows, text, cues)
	return windows, nil
}

// Index embeds every window of the media item's transcript and replaces its
// segments. It returns the number of segments written.
func (ix *Indexer) Index(ctx context.Context, media *store.MediaItem) (int, error) {
	windows, err := ix.Plan(media)
	if err != nil {
		return 0, err
	}
	vectors, err := ix.embedAll(ctx, windows)
	if err != nil {
		return 0, err
	}

	segs := make([]store.Segment, len(windows))
	for i, w := range windows {
		segs[i] = store.Segment{
			MediaID:       media.ID,
			SequenceIndex: i,
			StartOffset:   w.StartOffset,
			EndOffset:     w.EndOffset,
			StartSeconds:  w.StartSeconds,
			EndSeconds:    w.EndSeconds,
			WordCount:     w.WordCount,
			Text:          w.Text,
			Embedding:     vectors[i],
		}
	}
	for i, m := range ix.mirrors {
		if err := m.ReplaceMediaSegments(ctx, media, segs); err != nil {
			cause := services.Wrap(services.ErrTransient, stageName, "replace mirrored segments", "", err)
			return 0, ix.restoreMirrors(ctx, media, ix.mirrors[:i], cause)
		}
	}
	if err := ix.primary.ReplaceSegments(ctx, media.ID, segs); err != nil {
		cause := services.Wrap(services.ErrTransient, stageName, "replace segments", "", err)
		return 0, ix.restoreMirrors(ctx, media, ix.mirrors, cause)
	}
	ix.metrics.Indexed(len(segs))
	return len(segs), nil
}

// restoreMirrors copies the primary store's committed segments back into
// mirrors after a failed write. It returns cause, or ErrMirrorDiverged when a
// mirror could not be restored.
func (ix *Indexer) restoreMirrors(ctx context.Context, media *store.MediaItem, mirrors []MirrorWriter, cause error) error {
	if len(mirrors) == 0 {
		return cause
	}
	ctx = context.WithoutCancel(ctx)
	committed, err := ix.primary.ListSegments(ctx, media.ID)
	if err == nil {
		for _, m := range mirrors {
			if err = m.ReplaceMediaSegments(ctx, media, committed); err != nil {
				break
			}
		}
	}
	if err == nil {
		return cause
	}
	logging.ErrorWithContext(ix.logger, "segment mirror left out of sync", "mirror_diverged",
		logging.Int64(logging.FieldMediaID, media.ID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "resubmit the media item with reprocess to rebuild both indexes"),
		logging.String(logging.FieldImpact, "search results may differ between backends for this media item"),
	)
	return services.Wrap(services.ErrTransient, stageName, "restore mirror", "",
		fmt.Errorf("%w: %w (after %w)", ErrMirrorDiverged, err, cause))
}

// embedAll embeds windows on a bounded pool and returns vectors in window
// order. The first failure cancels the remaining calls.
func (ix *Indexer) embedAll(ctx context.Context, windows []Window) ([][]float32, error) {
	vectors := make([][]float32, len(windows))
	if len(windows) == 0 {
		return vectors, nil
	}
	if ix.embedder == nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "embed", "no embedder configured", nil)
	}

	pool, err := ants.NewPool(min(ix.concurrency, len(windows)))
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	defer pool.Release()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for i := range windows {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vec, err := ix.embedder.Embed(ctx, windows[i].Text)
			if err != nil {
				fail(fmt.Errorf("window %d: %w", i, err))
				return
			}
			vectors[i] = vec
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("submit window %d: %w", i, submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}
