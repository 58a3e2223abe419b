package retrieval

import "math"

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25 scores every document against the query terms. Documents are already
// tokenized.
func BM25(terms []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 || len(terms) == 0 {
		return scores
	}
	terms = uniqueTerms(terms)

	var totalLen int
	df := make(map[string]int, len(terms))
	tf := make([]map[string]int, len(docs))
	for i, doc := range docs {
		totalLen += len(doc)
		counts := make(map[string]int)
		for _, tok := range doc {
			counts[tok]++
		}
		tf[i] = counts
		for _, term := range terms {
			if counts[term] > 0 {
				df[term]++
			}
		}
	}
	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		return scores
	}
	n := float64(len(docs))

	for i, doc := range docs {
		norm := bm25K1 * (1 - bm25B + bm25B*float64(len(doc))/avgLen)
		for _, term := range terms {
			f := float64(tf[i][term])
			if f == 0 {
				continue
			}
			d := float64(df[term])
			idf := math.Log(1 + (n-d+0.5)/(d+0.5))
			scores[i] += idf * f * (bm25K1 + 1) / (f + norm)
		}
	}
	return scores
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero-length or the widths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Weights parameterize score fusion.
type Weights struct {
	Lexical    float64
	Vector     float64
	Saturation float64
}

// DefaultWeights favour the vector pass.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.4, Vector: 0.6, Saturation: 1}
}

func (w Weights) normalized() Weights {
	if w.Lexical < 0 {
		w.Lexical = 0
	}
	if w.Vector < 0 {
		w.Vector = 0
	}
	if w.Lexical == 0 && w.Vector == 0 {
		return DefaultWeights()
	}
	if w.Saturation <= 0 {
		w.Saturation = 1
	}
	return w
}

// NormalizeLexical maps a non-negative raw lexical score into [0, 1).
func (w Weights) NormalizeLexical(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	w = w.normalized()
	return raw / (raw + w.Saturation)
}

// Combine fuses a raw lexical score and a cosine similarity.
func (w Weights) Combine(lexicalRaw, cosine float64) float64 {
	w = w.normalized()
	if math.IsNaN(cosine) {
		cosine = 0
	}
	cosine = math.Max(-1, math.Min(1, cosine))
	return w.Lexical*w.NormalizeLexical(lexicalRaw) + w.Vector*(1+cosine)/2
}
