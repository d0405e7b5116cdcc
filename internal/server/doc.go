// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the dispatcher over HTTP.
//
// Endpoints:
//   - POST /api/ai/query - answer one assistant query (bearer token required)
//   - GET  /api/ai/stats - performance snapshot and component statistics
//   - GET  /health       - liveness with a store ping
//   - GET  /metrics      - Prometheus exposition
//
// Bearer tokens map to a user id and role; the role in the request body is
// ignored. Clients are rate limited per IP with token buckets.
package server
