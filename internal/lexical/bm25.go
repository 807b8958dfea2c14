// Package lexical provides the BM25 index used for local ranking and the
// statistical gating fallback.
package lexical

import "math"

// Default BM25 tuning constants. Standard Robertson et al. values.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

type bm25Doc struct {
	tf     map[string]int
	length int
}

// BM25Index is an inverted-statistics index over a candidate pool. Each
// document is a candidate's tokenized search text. The index is immutable
// after construction and safe for concurrent use.
type BM25Index struct {
	k1     float64
	b      float64
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

// NewBM25Index builds an index from tokenized documents. Zero or negative
// k1/b fall back to the defaults. An empty corpus yields a valid index that
// scores everything zero.
func NewBM25Index(docs [][]string, k1, b float64) *BM25Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}

	idx := &BM25Index{
		k1:   k1,
		b:    b,
		docs: make([]bm25Doc, len(docs)),
		idf:  make(map[string]float64),
	}

	df := make(map[string]int)
	totalLen := 0

	for i, tokens := range docs {
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			df[tok]++
		}
		idx.docs[i] = bm25Doc{tf: tf, length: len(tokens)}
		totalLen += len(tokens)
	}

	if len(docs) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(docs))
	}

	// Lucene-style smoothing avoids zero and negative IDF for very common
	// terms.
	n := float64(len(docs))
	for tok, count := range df {
		idx.idf[tok] = math.Log((n+1)/(float64(count)+1)) + 1
	}

	return idx
}

// Len returns the number of indexed documents.
func (idx *BM25Index) Len() int {
	return len(idx.docs)
}

// Score computes the BM25 score of the query tokens against document i.
// Out-of-range indices score zero.
func (idx *BM25Index) Score(query []string, i int) float64 {
	if i < 0 || i >= len(idx.docs) || idx.avgLen == 0 {
		return 0
	}

	doc := idx.docs[i]
	score := 0.0

	for _, tok := range query {
		tf := float64(doc.tf[tok])
		if tf == 0 {
			continue
		}

		idf := idx.idf[tok]
		norm := 1 - idx.b + idx.b*float64(doc.length)/idx.avgLen
		score += idf * (tf * (idx.k1 + 1)) / (tf + idx.k1*norm)
	}

	return score
}

// HasAnyToken reports whether document i contains at least one query token.
// The statistical gating stage restricts ranking to such documents.
func (idx *BM25Index) HasAnyToken(query []string, i int) bool {
	if i < 0 || i >= len(idx.docs) {
		return false
	}
	for _, tok := range query {
		if idx.docs[i].tf[tok] > 0 {
			return true
		}
	}
	return false
}
