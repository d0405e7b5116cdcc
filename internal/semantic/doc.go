// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package semantic provides the entity lookup behind the SEMANTIC tier.
//
// Index scores the router's entity vocabulary against a query and suggests
// a directory action when the query also carries a read or count verb.
// Cached memoizes results in Redis.
package semantic
