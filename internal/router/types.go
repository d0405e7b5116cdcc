// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier represents a processing tier for routing decisions.
// Ordered by cost: Direct < Semantic < Complex
type Tier int

const (
	// TierDirect answers from the keyword table or a named action (near-zero tokens).
	TierDirect Tier = iota
	// TierSemantic answers from the entity index or a reduced-context model call.
	TierSemantic
	// TierComplex builds the full context window and may attach tools.
	TierComplex
)

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierSemantic:
		return "semantic"
	case TierComplex:
		return "complex"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier parses a wire name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return TierDirect, nil
	case "semantic":
		return TierSemantic, nil
	case "complex":
		return TierComplex, nil
	default:
		return TierComplex, fmt.Errorf("unknown tier %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Order returns the numeric order of the tier for comparison.
// Lower values mean cheaper tiers.
func (t Tier) Order() int {
	return int(t)
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t >= TierDirect && t <= TierComplex
}

// TypicalTokens returns the token cost normally charged by the tier.
// Used as the estimate when nothing better is known.
func (t Tier) TypicalTokens() int {
	switch t {
	case TierDirect:
		return 10
	case TierSemantic:
		return 500
	default:
		return 2000
	}
}

// Escalate returns the next tier up for escalation on an invalid result.
// Returns nil if there is no higher tier to escalate to.
//
// Direct escalates straight to Complex. Semantic is only ever entered from
// the router, never as an escalation target.
func (t Tier) Escalate() *Tier {
	var next Tier
	switch t {
	case TierDirect, TierSemantic:
		next = TierComplex
	default:
		return nil
	}
	return &next
}

// ============================================================================
// COMPLEXITY LEVEL
// ============================================================================

// Level is the discrete complexity level of a query.
type Level int

const (
	// LevelLow represents templated or very short queries.
	LevelLow Level = iota
	// LevelMedium represents queries that need some context.
	LevelMedium
	// LevelHigh represents analysis, comparison or open-ended requests.
	LevelHigh
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ============================================================================
// RECOMMENDED STRATEGY
// ============================================================================

// StrategyKind names how much model capacity a query should get.
type StrategyKind string

const (
	// StrategyLight uses a reduced context and a tight token ceiling.
	StrategyLight StrategyKind = "ai_light"
	// StrategyFull uses the full context window, history, memory and tools.
	StrategyFull StrategyKind = "ai_full"
)

// ContextSize is the size class of the context window.
type ContextSize string

const (
	ContextSmall  ContextSize = "small"
	ContextMedium ContextSize = "medium"
	ContextLarge  ContextSize = "large"
)

// Strategy is the recommended processing strategy for a complexity level.
type Strategy struct {
	Kind           StrategyKind `json:"level"`
	ContextSize    ContextSize  `json:"contextSize"`
	IncludeHistory bool         `json:"useHistory"`
	IncludeMemory  bool         `json:"useMemory"`
	MaxTokens      int          `json:"maxTokens"`
}

// strategies is the single level -> strategy lookup.
var strategies = map[Level]Strategy{
	LevelLow: {
		Kind:        StrategyLight,
		ContextSize: ContextSmall,
		MaxTokens:   500,
	},
	LevelMedium: {
		Kind:           StrategyLight,
		ContextSize:    ContextMedium,
		IncludeHistory: true,
		MaxTokens:      1000,
	},
	LevelHigh: {
		Kind:           StrategyFull,
		ContextSize:    ContextLarge,
		IncludeHistory: true,
		IncludeMemory:  true,
		MaxTokens:      2000,
	},
}

// StrategyFor returns the recommended strategy for a level.
// Unknown levels get the full strategy.
func StrategyFor(l Level) Strategy {
	if s, ok := strategies[l]; ok {
		return s
	}
	return strategies[LevelHigh]
}

// ============================================================================
// COMPLEXITY EVALUATION
// ============================================================================

// ComplexityEvaluation is the score-driven recommendation for a query.
// Derived once per query and never mutated.
type ComplexityEvaluation struct {
	Score           float64  `json:"score"`
	Level           Level    `json:"level"`
	Confidence      float64  `json:"confidence"`
	EstimatedTokens int      `json:"estimatedTokens"`
	MatchedKeywords []string `json:"matchedKeywords,omitempty"`
	Strategy        Strategy `json:"recommendedStrategy"`
}

// NeedsFullReasoning reports whether the strategy calls for the complex tier.
func (e ComplexityEvaluation) NeedsFullReasoning() bool {
	return e.Strategy.Kind == StrategyFull
}

// ============================================================================
// ROUTE RESULT
// ============================================================================

// SpecialCase flags intents that bypass the three-tier machinery.
type SpecialCase int

const (
	// SpecialNone means normal tier routing applies.
	SpecialNone SpecialCase = iota
	// SpecialStatusReport is the composite "institution status report" intent.
	SpecialStatusReport
)

// String returns the name of the special case.
func (s SpecialCase) String() string {
	switch s {
	case SpecialNone:
		return "none"
	case SpecialStatusReport:
		return "status_report"
	default:
		return fmt.Sprintf("SpecialCase(%d)", int(s))
	}
}

// RouteResult contains the full routing analysis for a query.
type RouteResult struct {
	// Tier is the selected processing tier.
	Tier Tier `json:"level"`
	// Confidence is 1.0 for keyword matches, the evaluator's confidence otherwise.
	Confidence float64 `json:"confidence"`
	// EstimatedTokens is the expected token cost of the chosen tier.
	EstimatedTokens int `json:"estimatedTokens"`
	// Response is the canned response of a keyword match.
	Response string `json:"directResponse,omitempty"`
	// ResponseID identifies the canned response for action inference.
	ResponseID string `json:"responseId,omitempty"`
	// Action is the named action of a keyword match.
	Action string `json:"action,omitempty"`
	// MatchedKeywords lists the phrase or vocabulary hits behind the decision.
	MatchedKeywords []string `json:"matchedKeywords,omitempty"`
	// Complexity is the evaluation that drove (or would have driven) the tier.
	Complexity ComplexityEvaluation `json:"complexity"`
	// SpecialCase is set when a hard-coded detector matched.
	SpecialCase SpecialCase `json:"-"`
	// DecisionTime is how long routing took.
	DecisionTime time.Duration `json:"-"`
	// Reason explains why this routing decision was made.
	Reason string `json:"reason"`
}

// String returns a human-readable summary of the routing decision.
func (r RouteResult) String() string {
	return fmt.Sprintf("%s (confidence=%.2f, est_tokens=%d, score=%.2f): %s",
		r.Tier, r.Confidence, r.EstimatedTokens, r.Complexity.Score, r.Reason)
}
