package intent

import (
	"context"

	"github.com/curatelabs/selection-engine/internal/observability"
)

// SemanticParser is an external parser (typically LLM-backed) that produces
// a structured Intent from free text. Its output must have the same shape
// as the pattern parser's.
type SemanticParser interface {
	ParseIntent(ctx context.Context, text string, answers *Answers) (*Intent, error)
}

// ResilientParser tries the semantic parser first and falls back to the
// pattern parser on error or structurally invalid output. Callers always
// receive a usable Intent.
type ResilientParser struct {
	semantic SemanticParser
	pattern  *Parser
	logger   *observability.Logger
}

// NewResilientParser creates a parser with semantic-first, pattern-fallback
// behavior. A nil semantic parser degrades to pattern-only.
func NewResilientParser(semantic SemanticParser, pattern *Parser, logger *observability.Logger) *ResilientParser {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ResilientParser{semantic: semantic, pattern: pattern, logger: logger}
}

// Parse returns the parsed intent, never an error; parser failure is
// recovered locally.
func (r *ResilientParser) Parse(ctx context.Context, text string, answers *Answers) *Intent {
	if r.semantic != nil {
		it, err := r.semantic.ParseIntent(ctx, text, answers)
		if err == nil && validShape(it) {
			// Structured answers still win regardless of which parser ran.
			r.pattern.applyAnswers(it, answers)
			return it
		}
		if err != nil {
			r.logger.Warn().Err(err).Msg("Semantic parser failed, using pattern parser")
		} else {
			r.logger.Warn().Msg("Semantic parser returned invalid structure, using pattern parser")
		}
	}

	return r.pattern.Parse(text, answers)
}

// validShape checks that a semantic parser result is structurally usable:
// it must carry at least one constraint and any bundle must have two or
// more items, each with a hard term.
func validShape(it *Intent) bool {
	if it == nil {
		return false
	}
	if len(it.HardTerms) == 0 && len(it.SoftTerms) == 0 && len(it.Facets) == 0 && it.Bundle == nil {
		return false
	}
	if it.Bundle != nil {
		if len(it.Bundle.Items) < 2 {
			return false
		}
		for _, item := range it.Bundle.Items {
			if len(item.HardTerms) == 0 {
				return false
			}
		}
	}
	if it.Facets == nil {
		it.Facets = map[string]Facet{}
	}
	return true
}
