// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router decides the initial processing tier for assistant queries.
//
// Routes queries to the cheapest tier that can answer them:
// Direct (keyword table) -> Semantic (entity index, reduced context) -> Complex (full context)
//
// # Key Types
//
//   - Router: combines the keyword table and the complexity evaluator
//   - KeywordTable: phrase -> canned response / action, first match wins
//   - ActionTable: canned-response identifier -> action name
//   - Evaluator: pure complexity scoring with a fixed strategy lookup
//   - Dictionary: the data behind all of the above, loadable from JSON
//   - DictionaryWatcher: fsnotify hot reload of the dictionary directory
//
// # Precedence
//
// A keyword table hit always routes to TierDirect with confidence 1.0, no
// matter how complex the query looks. Only queries without a hit are scored.
//
// # Usage
//
//	d, err := router.LoadDictionaryDir("config/ai-dictionaries")
//	r := router.New(d, router.DefaultOptions(), logger)
//	result, err := r.Route(ctx, "学生总数")
//	switch result.Tier {
//	case router.TierDirect:
//	    // run result.Action or return result.Response
//	case router.TierSemantic:
//	    // entity index, then a reduced-context completion
//	case router.TierComplex:
//	    // full context and tools
//	}
package router
