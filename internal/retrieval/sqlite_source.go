package retrieval

import (
	"context"
	"sort"

	"scribe/internal/store"
)

// SegmentLister loads every segment in a scope.
type SegmentLister interface {
	ScopeSegments(ctx context.Context, scopeID string) ([]store.ScopedSegment, error)
}

// StoreSource scores segments in process over the SQLite store. BM25 corpus
// statistics are taken over the scope.
type StoreSource struct {
	segments SegmentLister
}

// NewStoreSource wraps a segment lister.
func NewStoreSource(segments SegmentLister) *StoreSource {
	return &StoreSource{segments: segments}
}

// Candidates implements Source.
func (s *StoreSource) Candidates(ctx context.Context, q Query) ([]Candidate, []Candidate, error) {
	segs, err := s.segments.ScopeSegments(ctx, q.ScopeID)
	if err != nil {
		return nil, nil, err
	}
	if len(segs) == 0 {
		return nil, nil, nil
	}

	docs := make([][]string, len(segs))
	for i, seg := range segs {
		docs[i] = Tokenize(seg.Text)
	}
	lexScores := BM25(q.Terms, docs)

	all := make([]Candidate, len(segs))
	for i, seg := range segs {
		all[i] = Candidate{Segment: seg, Lexical: lexScores[i], Cosine: Cosine(q.Vector, seg.Embedding)}
	}

	var lexical []Candidate
	for _, c := range all {
		if c.Lexical > 0 {
			lexical = append(lexical, c)
		}
	}
	sortByScore(lexical, func(c Candidate) float64 { return c.Lexical })
	vector := append([]Candidate(nil), all...)
	sortByScore(vector, func(c Candidate) float64 { return c.Cosine })

	return head(lexical, q.Limit), head(vector, q.Limit), nil
}

func sortByScore(cands []Candidate, score func(Candidate) float64) {
	sort.SliceStable(cands, func(i, j int) bool {
		si, sj := score(cands[i]), score(cands[j])
		if si != sj {
			return si > sj
		}
		return cands[i].Segment.ID < cands[j].Segment.ID
	})
}

func head(cands []Candidate, n int) []Candidate {
	if n > 0 && len(cands) > n {
		return cands[:n]
	}
	return cands
}
