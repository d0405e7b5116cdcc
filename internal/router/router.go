// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// MaxQueryLength is the maximum allowed query length in bytes (100KB).
// Queries exceeding this limit will be rejected to prevent resource exhaustion.
const MaxQueryLength = 100000

var (
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrQueryTooLong is returned when a query exceeds MaxQueryLength.
	ErrQueryTooLong = fmt.Errorf("query exceeds maximum length of %d bytes", MaxQueryLength)
)

// truncateForLog shortens s to at most maxRunes runes for logging.
func truncateForLog(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

// validateQuery rejects blank and oversized queries.
func validateQuery(query string) error {
	if len(query) > MaxQueryLength {
		return fmt.Errorf("%w: %d bytes", ErrQueryTooLong, len(query))
	}
	if Normalize(query) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// ============================================================================
// SPECIAL-CASE DETECTION
// ============================================================================

// StatusDetector recognizes the composite "institution status report" intent:
// a status word and a report word in the same query.
type StatusDetector struct {
	StatusWords []string
	ReportWords []string
}

// DefaultStatusDetector returns the built-in detector.
func DefaultStatusDetector() StatusDetector {
	return StatusDetector{
		StatusWords: []string{"现状", "状态", "情况", "概况"},
		ReportWords: []string{"报表", "图表", "统计", "数据", "显示", "展示"},
	}
}

// Detect reports whether the query is a status-report request.
func (d StatusDetector) Detect(query string) bool {
	q := Normalize(query)
	return containsAny(q, d.StatusWords) && containsAny(q, d.ReportWords)
}

// ============================================================================
// ROUTER
// ============================================================================

// Options configures a Router.
type Options struct {
	// ComplexityThreshold is the medium/high score boundary.
	ComplexityThreshold float64
	// SmartMatch enables the composite domain rules of the keyword table.
	SmartMatch bool
	// ResponseActions override the dictionary's response -> action mappings.
	ResponseActions []ResponseAction
	// DisableStatusReport turns the status-report detector off.
	DisableStatusReport bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ComplexityThreshold: DefaultComplexityThreshold,
		SmartMatch:          true,
	}
}

// tables is the immutable state swapped on reload.
type tables struct {
	keywords  *KeywordTable
	evaluator *Evaluator
	actions   *ActionTable
	loadedAt  time.Time
}

// Router picks the initial tier for a query. Safe for concurrent use;
// Reload swaps the dictionary without blocking Route.
type Router struct {
	opts   Options
	status StatusDetector
	logger zerolog.Logger

	current atomic.Pointer[tables]

	routed   [3]atomic.Int64
	specials atomic.Int64
	reloads  atomic.Int64
}

// New creates a router over the dictionary. A nil dictionary means the
// built-in one.
func New(d *Dictionary, opts Options, logger zerolog.Logger) *Router {
	r := &Router{
		opts:   opts,
		status: DefaultStatusDetector(),
		logger: logger.With().Str("component", "router").Logger(),
	}
	r.current.Store(r.build(d))
	return r
}

func (r *Router) build(d *Dictionary) *tables {
	if d == nil {
		d = DefaultDictionary()
	}
	return &tables{
		keywords:  NewKeywordTable(d.Matches, r.opts.SmartMatch),
		evaluator: NewEvaluator(d, r.opts.ComplexityThreshold),
		actions:   NewActionTable(d.ResponseActions, r.opts.ResponseActions),
		loadedAt:  time.Now(),
	}
}

// Reload atomically replaces the dictionary.
func (r *Router) Reload(d *Dictionary) {
	t := r.build(d)
	r.current.Store(t)
	r.reloads.Add(1)
	r.logger.Info().
		Int("keywords", t.keywords.Len()).
		Int("response_actions", t.actions.Len()).
		Msg("DICTIONARY_RELOAD")
}

// Evaluate runs only the complexity evaluator.
func (r *Router) Evaluate(query string) ComplexityEvaluation {
	return r.current.Load().evaluator.Evaluate(query)
}

// InferAction looks a canned-response identifier up in the action table.
func (r *Router) InferAction(identifier string) (string, bool) {
	return r.current.Load().actions.Lookup(identifier)
}

// Route decides the initial tier.
//
// Precedence:
//  1. status-report detector (flag only; the caller owns the handler)
//  2. keyword table hit -> DIRECT, confidence 1.0, never overridden
//  3. complexity evaluation -> COMPLEX for the full strategy, else SEMANTIC
//
// The complexity evaluation is always attached, even for DIRECT routes.
func (r *Router) Route(ctx context.Context, query string) (RouteResult, error) {
	if err := ctx.Err(); err != nil {
		return RouteResult{}, err
	}
	if err := validateQuery(query); err != nil {
		return RouteResult{}, err
	}

	start := time.Now()
	t := r.current.Load()
	eval := t.evaluator.Evaluate(query)

	var result RouteResult
	if m, ok := t.keywords.Match(query); ok {
		result = RouteResult{
			Tier:            TierDirect,
			Confidence:      1.0,
			EstimatedTokens: m.Tokens,
			Response:        m.Response,
			ResponseID:      m.Identifier(),
			Action:          m.Action,
			MatchedKeywords: []string{m.Phrase},
			Complexity:      eval,
			Reason:          fmt.Sprintf("keyword match %q", m.Phrase),
		}
	} else {
		tier := TierSemantic
		if eval.NeedsFullReasoning() {
			tier = TierComplex
		}
		result = RouteResult{
			Tier:            tier,
			Confidence:      eval.Confidence,
			EstimatedTokens: eval.EstimatedTokens,
			MatchedKeywords: eval.MatchedKeywords,
			Complexity:      eval,
			Reason: fmt.Sprintf("%s complexity (score %.2f) -> %s strategy",
				eval.Level, eval.Score, eval.Strategy.Kind),
		}
	}

	if !r.opts.DisableStatusReport && r.status.Detect(query) {
		result.SpecialCase = SpecialStatusReport
		r.specials.Add(1)
	}

	result.DecisionTime = time.Since(start)
	r.routed[result.Tier].Add(1)

	r.logger.Debug().
		Str("query", truncateForLog(query, 50)).
		Stringer("tier", result.Tier).
		Float64("confidence", result.Confidence).
		Float64("score", eval.Score).
		Stringer("level", eval.Level).
		Int("est_tokens", result.EstimatedTokens).
		Strs("matched", result.MatchedKeywords).
		Stringer("special", result.SpecialCase).
		Dur("decision", result.DecisionTime).
		Msg("ROUTING")

	return result, nil
}

// Stats is the router section of the stats endpoint.
type Stats struct {
	DirectMatchCount    int64            `json:"directMatchCount"`
	KeywordCount        int              `json:"keywordCount"`
	ResponseActionCount int              `json:"responseActionCount"`
	ComplexityThreshold float64          `json:"complexityThreshold"`
	Routed              map[string]int64 `json:"routed"`
	SpecialCases        int64            `json:"specialCases"`
	Reloads             int64            `json:"reloads"`
	LoadedAt            time.Time        `json:"loadedAt"`
}

// Stats returns a snapshot of router state.
func (r *Router) Stats() Stats {
	t := r.current.Load()
	return Stats{
		DirectMatchCount:    r.routed[TierDirect].Load(),
		KeywordCount:        t.keywords.Len(),
		ResponseActionCount: t.actions.Len(),
		ComplexityThreshold: t.evaluator.Threshold(),
		Routed: map[string]int64{
			TierDirect.String():   r.routed[TierDirect].Load(),
			TierSemantic.String(): r.routed[TierSemantic].Load(),
			TierComplex.String():  r.routed[TierComplex].Load(),
		},
		SpecialCases: r.specials.Load(),
		Reloads:      r.reloads.Load(),
		LoadedAt:     t.loadedAt,
	}
}
