// Package retrieval ranks indexed transcript segments for a query by fusing
// a lexical pass with a vector pass.
//
// Each pass returns its top N candidates from a Source. The union is keyed
// by segment id, every member carries both sub-scores, and the combined
// score is
//
//	lexical_weight * L/(L+saturation) + vector_weight * (1+cos)/2
//
// which is strictly increasing in both L (BM25 or backend rank) and cos.
// Ties prefer the higher cosine, then the lower segment id.
package retrieval
