// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/jeranaias/kgassist/internal/router"
)

// DefaultReferenceBudget is the token cost of answering a query with the full
// model and context, the baseline that savings are measured against.
const DefaultReferenceBudget = 3000

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome describes one completed request.
type Outcome struct {
	// Tier is the tier that produced the final answer.
	Tier router.Tier
	// RoutedTier is the tier the router picked first.
	RoutedTier router.Tier
	// TokensUsed is the total charged across all attempts.
	TokensUsed int
	// Latency is the end-to-end processing time.
	Latency time.Duration
	// Escalated is set when a second tier ran.
	Escalated bool
	// SpecialCase is set for status-report style short circuits.
	SpecialCase bool
	// InvalidReason is the validation failure that caused escalation, if any.
	InvalidReason string
}

// TokensSaved returns max(0, budget - used).
func TokensSaved(budget, used int) int {
	if saved := budget - used; saved > 0 {
		return saved
	}
	return 0
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator holds process-wide counters. All state is atomic: Record never
// blocks, Snapshot never blocks, and there is no lock to contend on.
//
// Averages are kept as sums and divided on read, which gives the same value
// as an incremental running mean without a read-modify-write race.
type Aggregator struct {
	budget int64

	total    atomic.Int64
	perTier  [3]atomic.Int64
	fallback atomic.Int64
	special  atomic.Int64

	tokensUsed   atomic.Int64
	tokensSaved  atomic.Int64
	latencyMicro atomic.Int64

	started time.Time
}

// NewAggregator creates an aggregator. budget <= 0 means DefaultReferenceBudget.
func NewAggregator(budget int) *Aggregator {
	if budget <= 0 {
		budget = DefaultReferenceBudget
	}
	return &Aggregator{budget: int64(budget), started: time.Now()}
}

// ReferenceBudget returns the configured baseline.
func (a *Aggregator) ReferenceBudget() int {
	return int(a.budget)
}

// Record adds one completed request. It is called once, after the request has
// finished, so a cancelled request leaves no partial increments.
func (a *Aggregator) Record(o Outcome) {
	used := o.TokensUsed
	if used < 0 {
		used = 0
	}
	tier := o.Tier
	if !tier.Valid() {
		tier = router.TierComplex
	}

	a.perTier[tier].Add(1)
	if o.Escalated {
		a.fallback.Add(1)
	}
	if o.SpecialCase {
		a.special.Add(1)
	}
	a.tokensUsed.Add(int64(used))
	a.tokensSaved.Add(int64(TokensSaved(int(a.budget), used)))
	a.latencyMicro.Add(o.Latency.Microseconds())
	a.total.Add(1)
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	TotalQueries       int64 `json:"totalQueries"`
	DirectQueries      int64 `json:"directQueries"`
	SemanticQueries    int64 `json:"semanticQueries"`
	ComplexQueries     int64 `json:"complexQueries"`
	FallbackQueries    int64 `json:"fallbackQueries"`
	SpecialCaseQueries int64 `json:"specialCaseQueries"`

	TotalTokensUsed    int64   `json:"totalTokensUsed"`
	TotalTokensSaved   int64   `json:"totalTokensSaved"`
	AverageTokensSaved float64 `json:"averageTokensSaved"`
	AverageLatencyMs   float64 `json:"averageResponseTime"`

	// Percentages in [0, 100].
	TokenSavingRate   float64 `json:"tokenSavingRate"`
	DirectQueryRate   float64 `json:"directQueryRate"`
	SemanticQueryRate float64 `json:"semanticQueryRate"`
	ComplexQueryRate  float64 `json:"complexQueryRate"`
	FallbackRate      float64 `json:"fallbackRate"`

	ReferenceBudget int       `json:"referenceBudget"`
	Uptime          string    `json:"uptime"`
	TakenAt         time.Time `json:"takenAt"`
}

// Snapshot reads the counters and derives the rates.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		TotalQueries:       a.total.Load(),
		DirectQueries:      a.perTier[router.TierDirect].Load(),
		SemanticQueries:    a.perTier[router.TierSemantic].Load(),
		ComplexQueries:     a.perTier[router.TierComplex].Load(),
		FallbackQueries:    a.fallback.Load(),
		SpecialCaseQueries: a.special.Load(),
		TotalTokensUsed:    a.tokensUsed.Load(),
		TotalTokensSaved:   a.tokensSaved.Load(),
		ReferenceBudget:    int(a.budget),
		Uptime:             time.Since(a.started).Round(time.Second).String(),
		TakenAt:            time.Now(),
	}
	if s.TotalQueries == 0 {
		return s
	}

	n := float64(s.TotalQueries)
	s.AverageTokensSaved = float64(s.TotalTokensSaved) / n
	s.AverageLatencyMs = float64(a.latencyMicro.Load()) / n / 1000
	s.TokenSavingRate = percent(float64(s.TotalTokensSaved), n*float64(a.budget))
	s.DirectQueryRate = percent(float64(s.DirectQueries), n)
	s.SemanticQueryRate = percent(float64(s.SemanticQueries), n)
	s.ComplexQueryRate = percent(float64(s.ComplexQueries), n)
	s.FallbackRate = percent(float64(s.FallbackQueries), n)
	return s
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	p := part / whole * 100
	if p > 100 {
		return 100
	}
	return p
}
