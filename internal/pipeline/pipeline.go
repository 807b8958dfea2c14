package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/curatelabs/selection-engine/internal/bundle"
	"github.com/curatelabs/selection-engine/internal/catalog"
	"github.com/curatelabs/selection-engine/internal/config"
	"github.com/curatelabs/selection-engine/internal/gate"
	"github.com/curatelabs/selection-engine/internal/intent"
	"github.com/curatelabs/selection-engine/internal/observability"
	"github.com/curatelabs/selection-engine/internal/rank"
	"github.com/curatelabs/selection-engine/internal/reason"
	"github.com/curatelabs/selection-engine/internal/rerank"
	"github.com/curatelabs/selection-engine/internal/textutil"
	"github.com/curatelabs/selection-engine/internal/validate"
)

// ResultStore persists terminal selection results and answers the
// idempotency lookup.
type ResultStore interface {
	FindResult(ctx context.Context, sessionKey string) (*SelectionResult, error)
	SaveResult(ctx context.Context, result *SelectionResult) error
	MarkTerminal(ctx context.Context, sessionKey string, status Status) error
}

// Biller charges a session for delivered items.
type Biller interface {
	ChargeForDelivered(ctx context.Context, sessionKey string, delivered int) (creditsCharged, overageDelta int, err error)
}

// Pipeline runs selection requests end to end.
type Pipeline struct {
	cfg      *config.Config
	source   catalog.Source
	semantic intent.SemanticParser
	reranker rerank.Service
	store    ResultStore
	biller   Biller
	logger   *observability.Logger
}

// New creates a pipeline. semantic, reranker, store and biller may each be
// nil; the pipeline degrades to pattern parsing, local ranking, and
// ephemeral unbilled results respectively.
func New(cfg *config.Config, source catalog.Source, semantic intent.SemanticParser, reranker rerank.Service, store ResultStore, biller Biller, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Pipeline{
		cfg:      cfg,
		source:   source,
		semantic: semantic,
		reranker: reranker,
		store:    store,
		biller:   biller,
		logger:   logger,
	}
}

// Submit checks the idempotency key and, when no prior terminal result
// exists, launches the pipeline as a detached background task. The boolean
// reports whether the returned result is a prior one.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*SelectionResult, bool, error) {
	if prior, err := p.priorResult(ctx, req.SessionKey); err != nil {
		return nil, false, err
	} else if prior != nil {
		return prior, true, nil
	}

	go func() {
		// Detached on purpose: the caller got its acknowledgment and the
		// run must finish even if the request connection goes away.
		p.Execute(context.Background(), req)
	}()
	return nil, false, nil
}

// Run executes synchronously, honoring the idempotency key first.
func (p *Pipeline) Run(ctx context.Context, req Request) (*SelectionResult, error) {
	if prior, err := p.priorResult(ctx, req.SessionKey); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}
	return p.Execute(ctx, req), nil
}

func (p *Pipeline) priorResult(ctx context.Context, sessionKey string) (*SelectionResult, error) {
	if p.store == nil || sessionKey == "" {
		return nil, nil
	}
	prior, err := p.store.FindResult(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check for prior result: %w", err)
	}
	if prior != nil {
		p.logger.Info().Str("session", sessionKey).Msg("Returning prior terminal result")
	}
	return prior, nil
}

// Execute runs the full pipeline to a terminal result, persists it and
// settles billing. It never returns nil: fatal upstream failures become a
// FAILED result carrying the raw error as reasoning.
func (p *Pipeline) Execute(ctx context.Context, req Request) *SelectionResult {
	logger := p.logger.WithSession(req.SessionKey)
	trail := reason.NewTrail()

	result, err := p.run(ctx, req, trail, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Pipeline failed")
		result = &SelectionResult{
			SessionKey: req.SessionKey,
			Status:     StatusFailed,
			Reasoning:  err.Error(),
			CreatedAt:  time.Now().UTC(),
		}
	}

	if p.store != nil {
		if err := p.store.SaveResult(ctx, result); err != nil {
			logger.Error().Err(err).Msg("Failed to persist selection result")
		}
		if err := p.store.MarkTerminal(ctx, req.SessionKey, result.Status); err != nil {
			logger.Error().Err(err).Msg("Failed to mark session terminal")
		}
	}

	// NO_MATCH sessions are never billed; emergency picks bill zero via
	// Delivered.
	if p.biller != nil && result.Status == StatusComplete && result.ErrorCode != ErrCodeNoMatch {
		credits, overage, err := p.biller.ChargeForDelivered(ctx, req.SessionKey, result.Delivered())
		if err != nil {
			logger.Error().Err(err).Msg("Billing failed")
		} else {
			logger.Info().Int("credits", credits).Int("overage", overage).Msg("Session billed")
		}
	}

	logger.Info().
		Int("delivered", len(result.Identifiers)).
		Str("source", string(result.Source)).
		Str("status", string(result.Status)).
		Msg("Selection run finished")
	return result
}

func (p *Pipeline) run(ctx context.Context, req Request, trail *reason.Trail, logger *observability.Logger) (*SelectionResult, error) {
	count := req.RequestedCount
	if count <= 0 {
		count = 1
	}

	base, err := p.source.FetchByFilter(ctx, req.ShopRef, p.cfg.Catalog.FetchLimit, "")
	if err != nil {
		return nil, fmt.Errorf("catalog fetch failed: %w", err)
	}
	base = catalog.NormalizeAll(base)

	lexicon := intent.NewLexicon(catalog.TypeLexicon(base), catalog.FacetVocabulary(base))
	pattern := intent.NewParser(lexicon, intent.ParserConfig{
		PrimaryBudgetShare: p.cfg.Selection.PrimaryBudgetShare,
		TaperBudgetShare:   p.cfg.Selection.SecondaryBudgetShare,
	}, logger)
	it := intent.NewResilientParser(p.semantic, pattern, logger).Parse(ctx, req.Text, req.Answers)

	pool, err := p.constrainedPool(ctx, req.ShopRef, base, it, count)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return p.noMatchResult(req, it, trail, logger), nil
	}

	if it.IsBundle() {
		return p.runBundle(ctx, req, it, pool, base, count, trail, logger)
	}
	return p.runSingle(ctx, req, it, pool, base, count, trail, logger)
}

// constrainedPool builds the pool handed to gating. With hard terms it is
// the query-constrained fetch merged with base-pool candidates holding any
// hard token, so an off-catalog term ("lightsaber" in a clothing shop)
// yields an empty pool rather than the whole catalog. Without hard terms
// the full base pool applies.
func (p *Pipeline) constrainedPool(ctx context.Context, shopRef string, base []catalog.Candidate, it *intent.Intent, count int) ([]catalog.Candidate, error) {
	tokens := it.HardTokens()
	if it.IsBundle() {
		for _, item := range it.Bundle.Items {
			for _, term := range item.HardTerms {
				tokens = append(tokens, textutil.Tokenize(term)...)
			}
		}
	}
	if len(tokens) == 0 {
		return base, nil
	}

	target := count * p.cfg.Selection.PreRankPoolPerItem
	fetched, err := p.source.FetchByQuery(ctx, shopRef, strings.Join(tokens, " "), target)
	if err != nil {
		return nil, fmt.Errorf("catalog query failed: %w", err)
	}
	fetched = catalog.NormalizeAll(fetched)

	seen := make(map[string]bool, len(fetched))
	pool := make([]catalog.Candidate, 0, len(fetched))
	for _, c := range fetched {
		if !seen[c.ID] {
			seen[c.ID] = true
			pool = append(pool, c)
		}
	}
	for _, c := range base {
		if seen[c.ID] {
			continue
		}
		haystack := c.Haystack()
		for _, tok := range tokens {
			if textutil.ContainsTokenLoose(haystack, tok) {
				seen[c.ID] = true
				pool = append(pool, c)
				break
			}
		}
	}
	return pool, nil
}

func (p *Pipeline) runSingle(ctx context.Context, req Request, it *intent.Intent, pool, base []catalog.Candidate, count int, trail *reason.Trail, logger *observability.Logger) (*SelectionResult, error) {
	engine := gate.NewEngine(p.gateConfig(), logger)
	gp, err := engine.Gate(pool, *it, count)
	if errors.Is(err, gate.ErrNoMatch) {
		return p.noMatchResult(req, it, trail, logger), nil
	}
	if err != nil {
		return nil, err
	}
	p.recordGate(gp, trail)

	ranker := rank.NewRanker(p.rankConfig())
	ranked := ranker.Rank(gp, *it)
	if it.OpenEnded {
		ranked = rank.Diversify(ranked)
	}
	window := rank.Window(ranked, p.cfg.Selection.RerankWindowSingle)
	p.enrichWindow(ctx, window, logger)

	errorCode := ErrCodeNone
	adapter := rerank.NewAdapter(p.reranker, logger)
	rerankStart := time.Now()
	reranked, rerankSource, rerr := adapter.Rerank(ctx, req.Text, window)
	rerankDur := time.Since(rerankStart)
	if rerr != nil {
		errorCode = ErrCodeRerankFailure
		trail.Add(reason.KindRerankFallback, "Relevance service was unavailable, kept the local ordering")
	}

	validator := validate.NewValidator(p.cfg.Selection.StockOnly, logger)
	vres := validator.Validate(gp, candidatesOf(reranked))
	if vres.AnchorRetry && !vres.Emptied {
		trail.Add(reason.KindAnchorRetry, "Recovered the selection with a broader token match")
	}

	selected := vres.Kept
	if vres.Emptied && len(window) > 0 {
		// Deterministic fallback: the local order already passed gating.
		errorCode = ErrCodeValidationEmptied
		selected = candidatesOf(window)
		rerankSource = rerank.SourceFallback
	}

	selected = p.applyCeiling(selected, it.PriceCeiling)
	if len(selected) > count {
		selected = selected[:count]
	}

	g := &guarantor{stockOnly: p.cfg.Selection.StockOnly, logger: logger}
	pools := [][]catalog.Candidate{gp.Candidates, pool}
	if gp.TrustFallback {
		pools = append(pools, base)
	}
	selected, total := g.topUp(selected, count, pools, sumPrices(selected), nil, it.PriceCeiling, trail)

	source := SourceFallback
	if rerankSource == rerank.SourceExternal {
		source = SourceReranked
	}

	if len(selected) == 0 {
		if pick, ok := g.emergencyPick([][]catalog.Candidate{pool, base}, trail); ok {
			selected = []catalog.Candidate{pick}
			total = pick.EffectivePrice()
			source = SourceEmergency
			errorCode = ErrCodeEmergency
		}
	}

	result := &SelectionResult{
		SessionKey:     req.SessionKey,
		Identifiers:    identifiersOf(selected),
		Source:         source,
		TotalPrice:     total,
		Status:         StatusComplete,
		ErrorCode:      errorCode,
		RerankDuration: rerankDur,
		CreatedAt:      time.Now().UTC(),
	}
	if it.PriceCeiling != nil {
		exceeded := anyAbove(selected, *it.PriceCeiling)
		result.BudgetExceeded = &exceeded
		if exceeded {
			result.ErrorCode = ErrCodeBudgetUnattain
			trail.Add(reason.KindBudgetExceeded,
				"Could not stay under %.2f for every item", *it.PriceCeiling)
		}
	}
	result.Reasoning = trail.Render()
	return result, nil
}

func (p *Pipeline) runBundle(ctx context.Context, req Request, it *intent.Intent, pool, base []catalog.Candidate, count int, trail *reason.Trail, logger *observability.Logger) (*SelectionResult, error) {
	engine := gate.NewEngine(p.gateConfig(), logger)
	ranker := rank.NewRanker(p.rankConfig())

	nItems := len(it.Bundle.Items)
	itemPools := make([]*gate.GatedPool, nItems)
	itemWindows := make([][]rank.Scored, nItems)
	anyTrust := false

	for i := 0; i < nItems; i++ {
		itemIntent := it.ItemIntent(i)
		quantity := maxOf(1, it.Bundle.Items[i].Quantity)

		gp, err := engine.Gate(pool, itemIntent, quantity)
		if errors.Is(err, gate.ErrNoMatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		p.recordGate(gp, trail)
		if gp.TrustFallback {
			anyTrust = true
		}

		ranked := rank.Window(ranker.Rank(gp, itemIntent), p.cfg.Selection.PreRankPoolPerItem)
		itemPools[i] = gp
		itemWindows[i] = rank.Window(ranked, p.cfg.Selection.RerankWindowPerItem)
	}

	// One rerank call covers every item window; the relevance order is
	// split back per item afterwards.
	var combined []rank.Scored
	for _, w := range itemWindows {
		combined = append(combined, w...)
	}
	p.enrichWindow(ctx, combined, logger)

	errorCode := ErrCodeNone
	adapter := rerank.NewAdapter(p.reranker, logger)
	rerankStart := time.Now()
	reranked, rerankSource, rerr := adapter.Rerank(ctx, req.Text, combined)
	rerankDur := time.Since(rerankStart)
	if rerr != nil {
		errorCode = ErrCodeRerankFailure
		trail.Add(reason.KindRerankFallback, "Relevance service was unavailable, kept the local ordering")
	}

	relevanceRank := make(map[string]int, len(reranked))
	for pos, s := range reranked {
		relevanceRank[s.Candidate.ID] = pos
	}

	ordered := make([][]catalog.Candidate, nItems)
	for i := 0; i < nItems; i++ {
		ordered[i] = reorderByRelevance(itemWindows[i], relevanceRank)
	}
	validator := validate.NewValidator(p.cfg.Selection.StockOnly, logger)
	validated := validator.ValidateBundle(itemPools, ordered)

	items := make([]bundle.Item, 0, nItems)
	for i := 0; i < nItems; i++ {
		vres := validated[i]
		kept := vres.Kept
		if vres.AnchorRetry && !vres.Emptied {
			trail.Add(reason.KindAnchorRetry, "Recovered one item group with a broader token match")
		}
		if vres.Emptied && itemPools[i] != nil {
			errorCode = ErrCodeValidationEmptied
			kept = ordered[i]
		}

		itemIntent := it.ItemIntent(i)
		items = append(items, bundle.Item{
			Index:      i,
			Label:      itemLabel(it.Bundle.Items[i]),
			Quantity:   it.Bundle.Items[i].Quantity,
			Ceiling:    itemIntent.PriceCeiling,
			Candidates: kept,
			Pool:       itemPools[i],
		})
	}

	allocator := bundle.NewAllocator(logger)
	alloc := allocator.Allocate(items, count, it.Bundle.TotalBudget, trail)

	selected := make([]catalog.Candidate, 0, len(alloc.Picks))
	for _, pick := range alloc.Picks {
		selected = append(selected, pick.Candidate)
	}

	if len(selected) < count {
		g := &guarantor{stockOnly: p.cfg.Selection.StockOnly, logger: logger}
		pools := make([][]catalog.Candidate, 0, nItems+2)
		for _, gp := range itemPools {
			if gp != nil {
				pools = append(pools, gp.Candidates)
			}
		}
		pools = append(pools, pool)
		if anyTrust || alloc.TrustFallback {
			pools = append(pools, base)
		}
		selected, alloc.TotalPrice = g.topUp(selected, count, pools, alloc.TotalPrice, it.Bundle.TotalBudget, nil, trail)
	}

	source := SourceFallback
	if rerankSource == rerank.SourceExternal {
		source = SourceReranked
	}
	if len(selected) == 0 {
		g := &guarantor{stockOnly: p.cfg.Selection.StockOnly, logger: logger}
		if pick, ok := g.emergencyPick([][]catalog.Candidate{pool, base}, trail); ok {
			selected = []catalog.Candidate{pick}
			alloc.TotalPrice = pick.EffectivePrice()
			source = SourceEmergency
			errorCode = ErrCodeEmergency
		}
	}

	if len(alloc.MissingLabels) > 0 && errorCode == ErrCodeNone {
		errorCode = ErrCodePartialBundle
	}
	if alloc.BudgetExceeded != nil && *alloc.BudgetExceeded {
		errorCode = ErrCodeBudgetUnattain
	}

	result := &SelectionResult{
		SessionKey:     req.SessionKey,
		Identifiers:    identifiersOf(selected),
		Source:         source,
		BudgetExceeded: alloc.BudgetExceeded,
		TotalPrice:     alloc.TotalPrice,
		Status:         StatusComplete,
		ErrorCode:      errorCode,
		RerankDuration: rerankDur,
		CreatedAt:      time.Now().UTC(),
	}
	result.Reasoning = trail.Render()
	return result, nil
}

// noMatchResult is the terminal empty result: no billing, no items, and a
// reasoning line suggesting broader terms.
func (p *Pipeline) noMatchResult(req Request, it *intent.Intent, trail *reason.Trail, logger *observability.Logger) *SelectionResult {
	terms := strings.Join(it.HardTerms, ", ")
	trail.Add(reason.KindNoMatch,
		"Nothing in the catalog matches %q, try broader or different terms", terms)
	logger.Info().Str("terms", terms).Msg("No candidates matched the request")
	return &SelectionResult{
		SessionKey:  req.SessionKey,
		Identifiers: []string{},
		Source:      SourceFallback,
		Status:      StatusComplete,
		ErrorCode:   ErrCodeNoMatch,
		Reasoning:   trail.Render(),
		CreatedAt:   time.Now().UTC(),
	}
}

// enrichWindow lazily fetches full descriptions for the reranking window
// only; the wider pool never pays that cost.
func (p *Pipeline) enrichWindow(ctx context.Context, window []rank.Scored, logger *observability.Logger) {
	if len(window) == 0 {
		return
	}
	handles := make([]string, 0, len(window))
	for i := range window {
		if window[i].Candidate.Description == "" {
			handles = append(handles, window[i].Candidate.Handle)
		}
	}
	if len(handles) == 0 {
		return
	}
	descriptions, err := p.source.FetchDescriptions(ctx, handles)
	if err != nil {
		logger.Warn().Err(err).Msg("Description enrichment failed, ranking on titles only")
		return
	}
	for i := range window {
		if d, ok := descriptions[window[i].Candidate.Handle]; ok {
			window[i].Candidate.Description = d
		}
	}
}

func (p *Pipeline) recordGate(gp *gate.GatedPool, trail *reason.Trail) {
	for _, d := range gp.Demotions {
		trail.Add(reason.KindDemotedFacet,
			"Treated %s as a preference since few items carry it", d.Attribute)
	}
	if gp.Stage != gate.StageStrict && !gp.TrustFallback {
		trail.Add(reason.KindRelaxedStage, "Broadened the match to find enough options")
	}
}

func (p *Pipeline) applyCeiling(cands []catalog.Candidate, ceiling *float64) []catalog.Candidate {
	if ceiling == nil {
		return cands
	}
	kept := cands[:0:0]
	for _, c := range cands {
		if c.EffectivePrice() <= *ceiling {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		// Everything is above budget; keep the original order and let the
		// budget flag tell the story.
		return cands
	}
	return kept
}

func (p *Pipeline) gateConfig() gate.Config {
	return gate.Config{
		MinForRanking:          p.cfg.Selection.MinForRanking,
		Buffer:                 p.cfg.Selection.GateBuffer,
		FacetCoverageThreshold: p.cfg.Selection.FacetCoverageThreshold,
		BM25K1:                 p.cfg.Selection.BM25K1,
		BM25B:                  p.cfg.Selection.BM25B,
	}
}

func (p *Pipeline) rankConfig() rank.Config {
	return rank.Config{
		BM25K1:        p.cfg.Selection.BM25K1,
		BM25B:         p.cfg.Selection.BM25B,
		WindowSingle:  p.cfg.Selection.RerankWindowSingle,
		WindowPerItem: p.cfg.Selection.RerankWindowPerItem,
		PreRankPool:   p.cfg.Selection.PreRankPoolPerItem,
	}
}

// reorderByRelevance sorts one item's window by the combined relevance
// order while keeping local rank for anything the reranker did not place.
func reorderByRelevance(window []rank.Scored, relevance map[string]int) []catalog.Candidate {
	type pos struct {
		c catalog.Candidate
		r int
	}
	ordered := make([]pos, 0, len(window))
	for i, s := range window {
		r, ok := relevance[s.Candidate.ID]
		if !ok {
			r = len(relevance) + i
		}
		ordered = append(ordered, pos{c: s.Candidate, r: r})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].r < ordered[j].r })
	out := make([]catalog.Candidate, len(ordered))
	for i := range ordered {
		out[i] = ordered[i].c
	}
	return out
}

func candidatesOf(scored []rank.Scored) []catalog.Candidate {
	out := make([]catalog.Candidate, len(scored))
	for i := range scored {
		out[i] = scored[i].Candidate
	}
	return out
}

func identifiersOf(cands []catalog.Candidate) []string {
	out := make([]string, len(cands))
	for i := range cands {
		out[i] = cands[i].ID
	}
	return out
}

func sumPrices(cands []catalog.Candidate) float64 {
	total := 0.0
	for i := range cands {
		total += cands[i].EffectivePrice()
	}
	return total
}

func anyAbove(cands []catalog.Candidate, ceiling float64) bool {
	for i := range cands {
		if cands[i].EffectivePrice() > ceiling {
			return true
		}
	}
	return false
}

func itemLabel(item intent.BundleItem) string {
	if len(item.HardTerms) > 0 {
		return item.HardTerms[0]
	}
	return ""
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
