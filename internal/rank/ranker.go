// Package rank scores gated candidates locally and builds the small window
// handed to the external reranker.
package rank

import (
	"sort"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/gate"
	"github.com/curatelabs/selection-engine/internal/intent"
	"github.com/curatelabs/selection-engine/internal/lexical"
	"github.com/curatelabs/selection-engine/internal/textutil"
)

// Boost weights applied on top of the BM25 base score.
const (
	exactPhraseBoost = 2.0
	facetBoost       = 1.5
	multiPieceBoost  = 1.5
	avoidPenalty     = 1.0
)

// multiPieceTerms mark collection/multi-piece candidates worth boosting for
// collection-seeking requests.
var multiPieceTerms = []string{"set", "pack", "bundle", "kit", "collection", "piece", "pieces"}

// Scored pairs a candidate with its local ranking score.
type Scored struct {
	Candidate catalog.Candidate
	Score     float64
}

// Config holds ranker parameters.
type Config struct {
	BM25K1        float64
	BM25B         float64
	WindowSingle  int
	WindowPerItem int
	PreRankPool   int
}

// DefaultConfig returns default ranker parameters.
func DefaultConfig() Config {
	return Config{
		BM25K1:        lexical.DefaultK1,
		BM25B:         lexical.DefaultB,
		WindowSingle:  20,
		WindowPerItem: 15,
		PreRankPool:   60,
	}
}

// Ranker computes local BM25-plus-boost scores.
type Ranker struct {
	config Config
}

// NewRanker creates a ranker.
func NewRanker(cfg Config) *Ranker {
	if cfg.WindowSingle <= 0 {
		cfg.WindowSingle = 20
	}
	if cfg.WindowPerItem <= 0 {
		cfg.WindowPerItem = 15
	}
	if cfg.PreRankPool <= 0 {
		cfg.PreRankPool = 60
	}
	return &Ranker{config: cfg}
}

// Rank scores every candidate in the gated pool and returns them in
// descending score order. Ties break by availability (in stock first), then
// identifier order, so the ranking is deterministic.
func (r *Ranker) Rank(gp *gate.GatedPool, it intent.Intent) []Scored {
	pool := gp.Candidates
	if len(pool) == 0 {
		return nil
	}

	docs := make([][]string, len(pool))
	for i := range pool {
		docs[i] = textutil.Tokenize(pool[i].Haystack())
	}
	idx := lexical.NewBM25Index(docs, r.config.BM25K1, r.config.BM25B)

	query := it.QueryTokens()
	wantsMultiPiece := it.OpenEnded || hasMultiPieceTerm(it.SoftTerms)

	scored := make([]Scored, len(pool))
	for i := range pool {
		c := pool[i]
		score := idx.Score(query, i)
		haystack := c.Haystack()

		for _, term := range it.HardTerms {
			if textutil.ContainsPhrase(haystack, term) {
				score += exactPhraseBoost
			}
		}

		for attr, facet := range it.Facets {
			for _, v := range facet.Values() {
				if c.HasFacetValue(attr, v) {
					score += facetBoost
					break
				}
			}
		}

		if wantsMultiPiece {
			for _, term := range multiPieceTerms {
				if textutil.ContainsToken(haystack, term) {
					score += multiPieceBoost
					break
				}
			}
		}

		for _, term := range it.AvoidTerms {
			if textutil.ContainsPhrase(haystack, term) {
				score -= avoidPenalty
			}
		}

		scored[i] = Scored{Candidate: c, Score: score}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		if scored[a].Candidate.Available != scored[b].Candidate.Available {
			return scored[a].Candidate.Available
		}
		return scored[a].Candidate.ID < scored[b].Candidate.ID
	})

	return scored
}

// Window truncates a ranked list to the reranking window size.
func Window(scored []Scored, k int) []Scored {
	if k <= 0 || k >= len(scored) {
		return scored
	}
	return scored[:k]
}

// WindowSingle returns the single-item reranking window size.
func (r *Ranker) WindowSingle() int { return r.config.WindowSingle }

// WindowPerItem returns the per-bundle-item reranking window size.
func (r *Ranker) WindowPerItem() int { return r.config.WindowPerItem }

// PreRankPool returns the per-item pre-rank pool cap.
func (r *Ranker) PreRankPool() int { return r.config.PreRankPool }

func hasMultiPieceTerm(terms []string) bool {
	for _, t := range terms {
		for _, mp := range multiPieceTerms {
			if t == mp {
				return true
			}
		}
	}
	return false
}
