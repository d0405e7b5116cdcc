// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the callable capabilities offered to the provider
// during COMPLEX-tier reasoning.
//
// # Key Types
//
//   - Tool: descriptor with schema, risk level, minimum role and keywords
//   - Registry: ordered tool set with keyword-scored ForQuery
//   - Selector: role and flag gated selection, capped by truncation
//   - Runner: executes provider tool calls through actions or executors
//
// # Gating
//
// Registry tools are offered only when tool use is enabled and the caller is
// an administrator. The web_search descriptor is independent of that flag: it
// is offered whenever web search is enabled, even on its own.
//
// # Usage
//
//	sel := tools.NewSelector(tools.NewRegistry(), 3)
//	chosen := sel.Select(tools.SelectionContext{
//	    Query:           "最新的学前教育政策",
//	    Role:            tools.ParseRole("teacher"),
//	    EnableWebSearch: true,
//	})
//	// chosen == []Tool{*tools.WebSearchTool}
package tools
