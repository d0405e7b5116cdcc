// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides query accounting for the assistant.
//
// # Key Types
//
//   - Aggregator: lock-free process-wide counters
//   - Snapshot: point-in-time read with derived rates
//   - Metrics: Prometheus collectors
//   - Reporter: cron-driven snapshot writer
//
// # Usage
//
//	agg := telemetry.NewAggregator(telemetry.DefaultReferenceBudget)
//	agg.Record(telemetry.Outcome{Tier: router.TierDirect, TokensUsed: 20})
//	snap := agg.Snapshot()
//
// Tokens saved per query are max(0, budget - used), so the total never
// decreases.
package telemetry
