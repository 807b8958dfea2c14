package gate

import (
	"errors"
	"sort"

	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/intent"
	"github.com/curatelabs/selection-engine/internal/lexical"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/textutil"
)

// ErrNoMatch is the terminal outcome when zero candidates exist even before
// facet gating. It short-circuits ranking, reranking, and billing.
var ErrNoMatch = errors.New("no candidates match the request")

// Config holds gating parameters.
type Config struct {
	// MinForRanking is the floor of the stage-stop threshold.
	MinForRanking int
	// Buffer is added to the requested count for the stage-stop threshold.
	Buffer int
	// FacetCoverageThreshold demotes a facet whose attribute coverage in the
	// pool falls below this fraction.
	FacetCoverageThreshold float64
	// BM25K1 and BM25B tune the statistical fallback ranking.
	BM25K1 float64
	BM25B  float64
}

// DefaultConfig returns default gating parameters.
func DefaultConfig() Config {
	return Config{
		MinForRanking:          5,
		Buffer:                 4,
		FacetCoverageThreshold: 0.25,
		BM25K1:                 lexical.DefaultK1,
		BM25B:                  lexical.DefaultB,
	}
}

// Engine applies the staged relaxation ladder.
type Engine struct {
	config Config
	logger *observability.Logger
}

// NewEngine creates a gating engine.
func NewEngine(cfg Config, logger *observability.Logger) *Engine {
	if cfg.MinForRanking <= 0 {
		cfg.MinForRanking = 5
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 4
	}
	if cfg.FacetCoverageThreshold <= 0 || cfg.FacetCoverageThreshold >= 1 {
		cfg.FacetCoverageThreshold = 0.25
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{config: cfg, logger: logger}
}

// Gate runs the relaxation ladder and returns the pool of the first stage
// meeting the minimum-candidate threshold. An empty input pool is the
// terminal NO_MATCH outcome.
func (e *Engine) Gate(pool []catalog.Candidate, it intent.Intent, requestedCount int) (*GatedPool, error) {
	if len(pool) == 0 {
		return nil, ErrNoMatch
	}

	minNeeded := e.config.MinForRanking
	if n := requestedCount + e.config.Buffer; n > minNeeded {
		minNeeded = n
	}

	vocab := catalog.PoolVocabulary(pool)
	variants := expandHardTerms(it.HardTerms, vocab)

	enforced, demotions := e.partitionFacets(pool, it.Facets)
	for _, d := range demotions {
		e.logger.Info().
			Str("facet", d.Attribute).
			Float64("coverage", d.Coverage).
			Msg("Facet demoted to soft term: low attribute coverage")
	}

	facetFiltered := filterByFacets(pool, enforced)

	type stageResult struct {
		stage      Stage
		candidates []catalog.Candidate
	}

	stages := []stageResult{
		{StageStrict, filterCandidates(facetFiltered, func(c *catalog.Candidate) bool {
			return matchesAllHardTerms(c, variants)
		})},
		{StageFacetRelaxed, filterCandidates(pool, func(c *catalog.Candidate) bool {
			return matchesAllHardTerms(c, variants)
		})},
		{StageTermRelaxed, filterCandidates(pool, func(c *catalog.Candidate) bool {
			return matchesAnyHardToken(c, variants)
		})},
		{StageTokenContainment, e.statisticalFallback(pool, it, variants)},
	}

	var lastNonEmpty *stageResult
	for i := range stages {
		s := &stages[i]
		e.logger.Debug().
			Str("stage", string(s.stage)).
			Int("count", len(s.candidates)).
			Int("needed", minNeeded).
			Msg("Gating stage evaluated")

		if len(s.candidates) >= minNeeded {
			return e.pooled(s.stage, s.candidates, enforced, demotions, variants, false), nil
		}
		if len(s.candidates) > 0 {
			lastNonEmpty = s
		}
	}

	// No stage met the threshold. Use the most relaxed non-empty stage so
	// later fill stages have the widest constraint-respecting pool.
	if lastNonEmpty != nil {
		return e.pooled(lastNonEmpty.stage, lastNonEmpty.candidates, enforced, demotions, variants, false), nil
	}

	// All stages empty: hard-constraint enforcement is abandoned. Use the
	// facet-filtered pool as-is; later stages may pull from the unrestricted
	// pool.
	e.logger.Warn().
		Strs("hard_terms", it.HardTerms).
		Msg("All gating stages empty, entering trust fallback")

	fallback := facetFiltered
	if len(fallback) == 0 {
		fallback = pool
	}
	return e.pooled(StageTrustFallback, fallback, enforced, demotions, variants, true), nil
}

func (e *Engine) pooled(stage Stage, candidates []catalog.Candidate, enforced map[string]intent.Facet, demotions []FacetDemotion, variants map[string][]string, trustFallback bool) *GatedPool {
	return &GatedPool{
		Candidates:     candidates,
		Stage:          stage,
		TrustFallback:  trustFallback,
		EnforcedFacets: enforced,
		Demotions:      demotions,
		hardVariants:   variants,
	}
}

// partitionFacets splits the requested facets into enforced and demoted
// based on attribute coverage across the pool.
func (e *Engine) partitionFacets(pool []catalog.Candidate, facets map[string]intent.Facet) (map[string]intent.Facet, []FacetDemotion) {
	enforced := map[string]intent.Facet{}
	var demotions []FacetDemotion

	attrs := make([]string, 0, len(facets))
	for attr := range facets {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	for _, attr := range attrs {
		covered := 0
		for i := range pool {
			if len(pool[i].Facets[attr]) > 0 {
				covered++
			}
		}
		coverage := float64(covered) / float64(len(pool))

		if coverage < e.config.FacetCoverageThreshold {
			demotions = append(demotions, FacetDemotion{Attribute: attr, Coverage: coverage})
			continue
		}
		enforced[attr] = facets[attr]
	}

	return enforced, demotions
}

// statisticalFallback BM25-ranks the pool restricted to candidates sharing
// at least one hard-term token, using the loose containment matcher.
func (e *Engine) statisticalFallback(pool []catalog.Candidate, it intent.Intent, variants map[string][]string) []catalog.Candidate {
	eligible := filterCandidates(pool, func(c *catalog.Candidate) bool {
		return containsAnyHardToken(c, variants)
	})
	if len(eligible) == 0 {
		return nil
	}

	docs := make([][]string, len(eligible))
	for i := range eligible {
		docs[i] = textutil.Tokenize(eligible[i].SearchText)
	}
	idx := lexical.NewBM25Index(docs, e.config.BM25K1, e.config.BM25B)

	query := it.QueryTokens()
	type scored struct {
		c     catalog.Candidate
		score float64
	}
	ranked := make([]scored, len(eligible))
	for i := range eligible {
		ranked[i] = scored{c: eligible[i], score: idx.Score(query, i)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].c.ID < ranked[b].c.ID
	})

	out := make([]catalog.Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.c
	}
	return out
}

// expandHardTerms builds the variant map for hard terms. Single-word terms
// get morphological and decompounding expansion against the pool's own
// vocabulary; multi-word phrases stay as-is.
func expandHardTerms(terms []string, vocab map[string]struct{}) map[string][]string {
	variants := make(map[string][]string, len(terms))
	for _, term := range terms {
		vs := textutil.Variants(term, vocab)
		if len(vs) == 0 {
			continue
		}
		variants[term] = vs
	}
	return variants
}

func filterByFacets(pool []catalog.Candidate, enforced map[string]intent.Facet) []catalog.Candidate {
	if len(enforced) == 0 {
		return pool
	}
	return filterCandidates(pool, func(c *catalog.Candidate) bool {
		for attr, facet := range enforced {
			if !matchesFacet(c, attr, facet) {
				return false
			}
		}
		return true
	})
}

func filterCandidates(pool []catalog.Candidate, keep func(*catalog.Candidate) bool) []catalog.Candidate {
	var out []catalog.Candidate
	for i := range pool {
		if keep(&pool[i]) {
			out = append(out, pool[i])
		}
	}
	return out
}
