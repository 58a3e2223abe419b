package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/services"
	"scribe/internal/store"
)

const component = "retrieval"

// Request is one search.
type Request struct {
	Query   string `json:"query"`
	ScopeID string `json:"scope_id,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

// Result is one ranked segment with citation metadata. LexicalScore is the
// normalized lexical term, VectorScore the raw cosine similarity.
type Result struct {
	SegmentID     int64   `json:"segment_id"`
	MediaID       int64   `json:"media_id"`
	ExternalRef   string  `json:"external_ref"`
	Title         string  `json:"title,omitempty"`
	SequenceIndex int     `json:"sequence_index"`
	StartOffset   int     `json:"start_offset"`
	EndOffset     int     `json:"end_offset"`
	StartSeconds  float64 `json:"start_seconds"`
	EndSeconds    float64 `json:"end_seconds"`
	Text          string  `json:"text"`
	LexicalScore  float64 `json:"lexical_score"`
	VectorScore   float64 `json:"vector_score"`
	CombinedScore float64 `json:"combined_score"`
}

// Candidate is a segment produced by either pass with both raw sub-scores.
type Candidate struct {
	Segment store.ScopedSegment
	Lexical float64
	Cosine  float64
}

// Query is what a Source receives: the raw text, its tokens, the query
// vector and the per-pass limit.
type Query struct {
	Text    string
	Terms   []string
	Vector  []float32
	ScopeID string
	Limit   int
}

// Source runs both passes over a scope. Each returned candidate must carry
// its lexical and cosine scores even if only one pass selected it.
type Source interface {
	Candidates(ctx context.Context, q Query) (lexical, vector []Candidate, err error)
}

// QueryEmbedder embeds the query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune ranking.
type Options struct {
	CandidatesPerPass int
	DefaultTopK       int
	Weights           Weights
}

// OptionsFromConfig reads the retrieval section.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		CandidatesPerPass: cfg.Retrieval.CandidatesPerPass,
		DefaultTopK:       cfg.Retrieval.DefaultTopK,
		Weights: Weights{
			Lexical:    cfg.Retrieval.LexicalWeight,
			Vector:     cfg.Retrieval.VectorWeight,
			Saturation: cfg.Retrieval.LexicalSaturation,
		},
	}
}

// Engine is the hybrid retrieval engine.
type Engine struct {
	source   Source
	embedder QueryEmbedder
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewEngine builds an Engine. Zero options fall back to 5 candidates per
// pass, top_k 5 and the default weights.
func NewEngine(source Source, embedder QueryEmbedder, opts Options, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if opts.CandidatesPerPass <= 0 {
		opts.CandidatesPerPass = 5
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	opts.Weights = opts.Weights.normalized()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		source:   source,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With(logging.String(logging.FieldComponent, component)),
		metrics:  m,
	}
}

// Search ranks segments in scope for req.Query and returns at most TopK
// results.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	started := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, services.Wrap(services.ErrValidation, component, "search", "query is required", nil)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.opts.DefaultTopK
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	q := Query{
		Text:    query,
		Terms:   uniqueTerms(Tokenize(query)),
		Vector:  vector,
		ScopeID: strings.TrimSpace(req.ScopeID),
		Limit:   max(e.opts.CandidatesPerPass, topK),
	}
	lexical, semantic, err := e.source.Candidates(ctx, q)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "candidates", "", err)
	}

	results := e.fuse(lexical, semantic)
	if len(results) > topK {
		results = results[:topK]
	}

	e.metrics.Searched(time.Since(started))
	logging.WithContext(ctx, e.logger).Debug("search ranked",
		logging.String("scope_id", q.ScopeID),
		logging.Int("lexical_candidates", len(lexical)),
		logging.Int("vector_candidates", len(semantic)),
		logging.Int("results", len(results)),
	)
	return results, nil
}

// fuse merges both passes by segment id and sorts by combined score.
func (e *Engine) fuse(passes ...[]Candidate) []Result {
	merged := make(map[int64]Candidate)
	for _, pass := range passes {
		for _, c := range pass {
			if _, ok := merged[c.Segment.ID]; !ok {
				merged[c.Segment.ID] = c
			}
		}
	}

	results := make([]Result, 0, len(merged))
	for _, c := range merged {
		seg := c.Segment
		results = append(results, Result{
			SegmentID:     seg.ID,
			MediaID:       seg.MediaID,
			ExternalRef:   seg.ExternalRef,
			Title:         seg.Title,
			SequenceIndex: seg.SequenceIndex,
			StartOffset:   seg.StartOffset,
			EndOffset:     seg.EndOffset,
			StartSeconds:  seg.StartSeconds,
			EndSeconds:    seg.EndSeconds,
			Text:          seg.Text,
			LexicalScore:  e.opts.Weights.NormalizeLexical(c.Lexical),
			VectorScore:   c.Cosine,
			CombinedScore: e.opts.Weights.Combine(c.Lexical, c.Cosine),
		})
	}
	sortResults(results)
	return results
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		return a.SegmentID < b.SegmentID
	})
}
