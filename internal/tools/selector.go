// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxTools caps a selection when nothing else is configured.
const DefaultMaxTools = 3

// =============================================================================
// SELECTION
// =============================================================================

// SelectionContext is built once per COMPLEX-tier invocation.
type SelectionContext struct {
	Query           string
	Role            Role
	UserID          string
	ConversationID  string
	MaxTools        int
	EnableTools     bool
	EnableWebSearch bool
}

// Selector picks a bounded set of tools for a query.
type Selector struct {
	registry *Registry
	maxTools int
}

// NewSelector creates a selector. maxTools <= 0 means DefaultMaxTools.
func NewSelector(registry *Registry, maxTools int) *Selector {
	if maxTools <= 0 {
		maxTools = DefaultMaxTools
	}
	return &Selector{registry: registry, maxTools: maxTools}
}

// Select returns at most MaxTools descriptors. It never fails.
//
//   - Registry tools are offered only with EnableTools and an administrative role.
//   - web_search appears only with EnableWebSearch; it is then always present,
//     displacing the least relevant tool when the selection is full.
func (s *Selector) Select(sc SelectionContext) []Tool {
	limit := sc.MaxTools
	if limit <= 0 || limit > s.maxTools {
		limit = s.maxTools
	}

	var out []Tool
	hasWebSearch := false
	if sc.EnableTools && sc.Role.AtLeast(RoleAdmin) && s.registry != nil {
		for _, t := range s.registry.ForQuery(sc.Query, sc.Role) {
			if t.Name == WebSearchName {
				if !sc.EnableWebSearch {
					continue
				}
				hasWebSearch = true
			}
			out = append(out, *t)
		}
		if len(out) > limit {
			out = out[:limit]
			hasWebSearch = containsTool(out, WebSearchName)
		}
	}

	if sc.EnableWebSearch && !hasWebSearch {
		if len(out) >= limit {
			out = out[:limit-1]
		}
		out = append(out, *WebSearchTool)
	}
	return out
}

func containsTool(list []Tool, name string) bool {
	for _, t := range list {
		if t.Name == name {
			return true
		}
	}
	return false
}

// =============================================================================
// EXECUTION
// =============================================================================

// ActionFunc runs a named directory action and returns its text response.
type ActionFunc func(ctx context.Context, action, query string) (string, error)

// Runner executes tool calls returned by the provider.
type Runner struct {
	registry *Registry
	actions  ActionFunc
	timeout  time.Duration
}

// NewRunner creates a runner. Tools backed by an action go through actions.
func NewRunner(registry *Registry, actions ActionFunc, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{registry: registry, actions: actions, timeout: timeout}
}

// Run executes one call. Failures are reported in the Result, never as errors,
// so the provider can see them and answer anyway.
func (r *Runner) Run(ctx context.Context, call ToolCall) Result {
	start := time.Now()
	tool := r.registry.Get(call.Name)
	if tool == nil {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch {
	case tool.Executor != nil:
		res, err := tool.Executor.Execute(ctx, call.Params)
		if err != nil {
			return Result{Success: false, Error: err.Error(), Duration: time.Since(start)}
		}
		return res
	case tool.Action != "" && r.actions != nil:
		out, err := r.actions(ctx, tool.Action, call.GetString("query", ""))
		if err != nil {
			return Result{Success: false, Error: err.Error(), Duration: time.Since(start)}
		}
		return Result{Success: true, Output: out, Duration: time.Since(start)}
	default:
		return Result{Success: false, Error: fmt.Sprintf("tool %q is not executable", call.Name)}
	}
}
