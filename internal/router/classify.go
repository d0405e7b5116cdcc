// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ROUTER: Complexity scoring and strategy recommendation
package router

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxEstimatedTokens caps the estimate of a single query.
const MaxEstimatedTokens = 4000

// DefaultComplexityThreshold separates medium from high complexity.
const DefaultComplexityThreshold = 0.6

// lowBoundary separates low from medium complexity.
const lowBoundary = 0.3

// indicator is a phrase group that pushes a query toward full reasoning.
type indicator struct {
	words  []string
	weight float64
}

var indicators = []indicator{
	{words: []string{"分析", "报告", "建议", "analy", "report", "recommend", "suggest"}, weight: 0.4},
	{words: []string{"比较", "对比", "趋势", "compar", "trend", "versus"}, weight: 0.3},
	{words: []string{"为什么", "如何", "怎么", "why", "how"}, weight: 0.2},
}

// ============================================================================
// TERM MATCHING
// ============================================================================

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// containsTerm reports whether q contains k. ASCII keywords must start at a
// word boundary so that "how" does not hit "show"; they may be a word prefix
// ("analy" hits "analysis"). Other keywords match anywhere.
func containsTerm(q, k string) bool {
	if k == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(k)
	if !isASCIILetter(r) {
		return strings.Contains(q, k)
	}
	for off := 0; off <= len(q)-len(k); {
		i := strings.Index(q[off:], k)
		if i < 0 {
			return false
		}
		pos := off + i
		if pos == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(q[:pos])
		if !isASCIILetter(prev) {
			return true
		}
		off = pos + 1
	}
	return false
}

// segments approximates the word count of mixed Chinese/Latin text: one per
// whitespace-separated Latin word, one per two Han characters.
func segments(q string) float64 {
	var han int
	latin := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Han, r) {
			han++
			return ' '
		}
		return r
	}, q)
	words := 0
	for _, f := range strings.Fields(latin) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			words++
		}
	}
	return float64(words) + float64(han)/2
}

// ============================================================================
// EVALUATOR
// ============================================================================

// Evaluator scores queries. It holds only read-only vocabularies, so one
// Evaluator may be shared across goroutines.
type Evaluator struct {
	actions   Vocabulary
	entities  Vocabulary
	modifiers Vocabulary
	threshold float64
}

// NewEvaluator creates an evaluator over the dictionary vocabularies.
// A threshold outside (0.3, 1] falls back to DefaultComplexityThreshold.
func NewEvaluator(d *Dictionary, threshold float64) *Evaluator {
	if threshold <= lowBoundary || threshold > 1 {
		threshold = DefaultComplexityThreshold
	}
	if d == nil {
		d = DefaultDictionary()
	}
	return &Evaluator{
		actions:   d.Actions,
		entities:  d.Entities,
		modifiers: d.Modifiers,
		threshold: threshold,
	}
}

// Threshold returns the medium/high boundary.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate scores the query. Same input, same output.
//
// Score terms (summed, clamped to [0,1]):
//   - length: min(segments/20, 0.3)
//   - no action category: +0.3; more than one: +0.2
//   - no entity category: +0.2; more than two: +0.2
//   - more than two modifier categories: +0.1
//   - each indicator group present: +0.4 / +0.3 / +0.2
func (e *Evaluator) Evaluate(query string) ComplexityEvaluation {
	q := Normalize(query)
	segs := segments(q)

	actionCats, actionWords := e.actions.Match(q)
	entityCats, entityWords := e.entities.Match(q)
	modifierCats, modifierWords := e.modifiers.Match(q)

	score := math.Min(segs/20, 0.3)

	switch {
	case len(actionCats) == 0:
		score += 0.3
	case len(actionCats) > 1:
		score += 0.2
	}
	switch {
	case len(entityCats) == 0:
		score += 0.2
	case len(entityCats) > 2:
		score += 0.2
	}
	if len(modifierCats) > 2 {
		score += 0.1
	}

	var matched []string
	matched = append(matched, actionWords...)
	matched = append(matched, entityWords...)
	matched = append(matched, modifierWords...)
	for _, ind := range indicators {
		for _, w := range ind.words {
			if containsTerm(q, w) {
				score += ind.weight
				matched = append(matched, w)
				break
			}
		}
	}

	score = math.Max(0, math.Min(score, 1))
	// Avoid float noise like 0.30000000000000004 landing on the wrong side of
	// a boundary.
	score = math.Round(score*1e6) / 1e6

	level := e.level(score)
	tokens := 100 + int(segs*5) + len(matched)*20 + int(math.Round(score*500))
	if tokens > MaxEstimatedTokens {
		tokens = MaxEstimatedTokens
	}

	return ComplexityEvaluation{
		Score:           score,
		Level:           level,
		Confidence:      e.confidence(score),
		EstimatedTokens: tokens,
		MatchedKeywords: matched,
		Strategy:        StrategyFor(level),
	}
}

func (e *Evaluator) level(score float64) Level {
	switch {
	case score < lowBoundary:
		return LevelLow
	case score < e.threshold:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// confidence grows with the distance from the nearest level boundary.
func (e *Evaluator) confidence(score float64) float64 {
	d := math.Min(math.Abs(score-lowBoundary), math.Abs(score-e.threshold))
	return math.Max(0.5, math.Min(1, 0.5+d))
}
