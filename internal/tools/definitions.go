// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// TOOLS: Descriptors, registry and call parsing for COMPLEX-tier reasoning.
package tools

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// RISK LEVELS
// =============================================================================

// RiskLevel indicates how dangerous a tool operation is.
type RiskLevel int

const (
	// RiskLow - Read-only operations, no side effects
	RiskLow RiskLevel = iota

	// RiskMedium - Writes records that can be corrected
	RiskMedium

	// RiskHigh - Bulk or hard-to-undo changes
	RiskHigh
)

// String returns the string representation of a risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool represents a callable capability offered to the provider.
type Tool struct {
	// Name is the tool identifier sent to the provider (e.g., "query_students")
	Name string

	// Description explains what the tool does (full description for documentation)
	Description string

	// ShortDescription is a concise description for LLM tool schemas.
	// If empty, the first line of Description is used
	ShortDescription string

	// Schema defines the tool's parameters
	Schema Schema

	// RiskLevel indicates how dangerous the tool is
	RiskLevel RiskLevel

	// MinRole is the lowest role allowed to be offered this tool
	MinRole Role

	// Keywords score the tool's relevance to a query
	Keywords []string

	// Action names the directory action backing the tool, if any
	Action string

	// Executor handles execution for tools not backed by an action
	Executor ToolExecutor `json:"-"`
}

// GetShortDescription returns the concise description suitable for LLM tool schemas.
// Returns ShortDescription if set, otherwise returns the first line of Description.
func (t *Tool) GetShortDescription() string {
	if t.ShortDescription != "" {
		return t.ShortDescription
	}
	if idx := strings.Index(t.Description, "\n"); idx != -1 {
		return t.Description[:idx]
	}
	return t.Description
}

// Schema defines a tool's parameters.
type Schema struct {
	Parameters []Parameter
}

// Parameter defines a single tool parameter.
type Parameter struct {
	// Name of the parameter
	Name string

	// Type is the parameter type ("string", "number", "integer", "boolean", "array")
	Type string

	// Required indicates if the parameter must be provided
	Required bool

	// Description explains the parameter
	Description string

	// Default is the default value if not provided
	Default interface{}

	// Enum contains allowed values for string type (optional)
	Enum []string
}

// =============================================================================
// TOOL EXECUTOR INTERFACE
// =============================================================================

// ToolExecutor is the interface for individual tool execution.
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}) (Result, error)
}

// Result holds the outcome of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool

	// Output is the tool's output (for successful execution)
	Output string

	// Error is the error message (for failed execution)
	Error string

	// Duration is how long execution took
	Duration time.Duration

	// MatchCount for search operations
	MatchCount int
}

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds all available tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates a new tool registry with built-in tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.RegisterBuiltins()
	return r
}

// RegisterBuiltins registers all built-in tools.
func (r *Registry) RegisterBuiltins() {
	for _, t := range BuiltinTools() {
		r.Register(t)
	}
	r.Register(WebSearchTool)
}

// Register adds a tool to the registry. Re-registering a name replaces the
// tool but keeps its position.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// All returns all registered tools in registration order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ForQuery lists the tools the role may use, most relevant first.
// Relevance is the number of tool keywords found in the query; ties keep
// registration order.
func (r *Registry) ForQuery(query string, role Role) []*Tool {
	q := strings.ToLower(norm.NFKC.String(query))

	type scored struct {
		tool  *Tool
		score int
	}
	var candidates []scored
	for _, t := range r.All() {
		if !role.AtLeast(t.MinRole) {
			continue
		}
		s := 0
		for _, k := range t.Keywords {
			if k != "" && strings.Contains(q, k) {
				s++
			}
		}
		candidates = append(candidates, scored{tool: t, score: s})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := make([]*Tool, len(candidates))
	for i, c := range candidates {
		out[i] = c.tool
	}
	return out
}

// =============================================================================
// TOOL CALL PARSING
// =============================================================================

// ToolCall represents a parsed tool invocation.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]interface{}
}

// GetString gets a string parameter with a default value.
func (tc *ToolCall) GetString(name string, defaultVal string) string {
	if val, ok := tc.Params[name]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetInt gets an integer parameter with a default value.
func (tc *ToolCall) GetInt(name string, defaultVal int) int {
	if val, ok := tc.Params[name]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return defaultVal
}

// GetBool gets a boolean parameter with a default value.
func (tc *ToolCall) GetBool(name string, defaultVal bool) bool {
	if val, ok := tc.Params[name]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
