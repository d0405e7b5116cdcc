// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/tools"
)

// ErrInvalidRequest is returned for requests rejected before routing.
var ErrInvalidRequest = errors.New("invalid request")

// =============================================================================
// QUERY
// =============================================================================

// Metadata carries per-request feature flags.
type Metadata struct {
	EnableTools     bool           `json:"enableTools"`
	EnableWebSearch bool           `json:"enableWebSearch"`
	UserRole        string         `json:"userRole"`
	PageContext     map[string]any `json:"pageContext,omitempty"`
}

// Query is an authenticated assistant request. Treat it as immutable.
type Query struct {
	Text           string
	ConversationID string
	UserID         string
	Metadata       Metadata
	RequestID      string
}

// Role returns the effective role.
func (q Query) Role() tools.Role {
	return tools.ParseRole(q.Metadata.UserRole)
}

// Validate rejects requests that must not enter the tier pipeline.
func (q Query) Validate() error {
	switch {
	case strings.TrimSpace(q.Text) == "":
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	case strings.TrimSpace(q.ConversationID) == "":
		return fmt.Errorf("%w: conversationId is required", ErrInvalidRequest)
	case strings.TrimSpace(q.UserID) == "":
		return fmt.Errorf("%w: authenticated user is required", ErrInvalidRequest)
	}
	return nil
}

// =============================================================================
// EXECUTION RESULT
// =============================================================================

// Method identifies the strategy that produced a result.
type Method string

const (
	MethodDirectAction   Method = "direct-action"
	MethodDirectResponse Method = "direct-response"
	MethodSemanticDirect Method = "semantic-direct"
	MethodSemanticAI     Method = "semantic-ai"
	MethodComplexAI      Method = "complex-ai"
	MethodStatusReport   Method = "status-report"
)

// Trace describes the context a COMPLEX call was built from.
type Trace struct {
	TotalTokens    int  `json:"totalTokens"`
	ComponentCount int  `json:"componentCount"`
	Truncated      bool `json:"truncated"`
	ToolCount      int  `json:"toolCount"`
	ToolCalls      int  `json:"toolCalls,omitempty"`
	HistoryTurns   int  `json:"historyTurns"`
	MemorySnippets int  `json:"memorySnippets"`
}

// ExecutionResult is the output of one tier attempt.
type ExecutionResult struct {
	Tier           router.Tier
	Success        bool
	Text           string
	Data           any
	TokensUsed     int
	ProcessingTime time.Duration
	Method         Method
	Error          string
	NavigationPath string
	SemanticHits   []EntityMatch
	Trace          *Trace
}

func failed(tier router.Tier, method Method, start time.Time, err error) *ExecutionResult {
	return &ExecutionResult{
		Tier:           tier,
		Success:        false,
		Method:         method,
		Error:          err.Error(),
		ProcessingTime: time.Since(start),
	}
}

// =============================================================================
// RESPONSE
// =============================================================================

// UIComponent is a front-end component description.
type UIComponent struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Data  any    `json:"data"`
}

// UIInstruction asks the front end to render something.
type UIInstruction struct {
	Type      string      `json:"type"`
	Component UIComponent `json:"component"`
}

// ResponseData is the payload of a successful response.
type ResponseData struct {
	Response        any            `json:"response"`
	Level           router.Tier    `json:"level"`
	InitialLevel    router.Tier    `json:"initialLevel"`
	Confidence      float64        `json:"confidence"`
	TokensUsed      int            `json:"tokensUsed"`
	EstimatedTokens int            `json:"estimatedTokens"`
	TokensSaved     int            `json:"tokensSaved"`
	ProcessingTime  int64          `json:"processingTime"`
	Method          Method         `json:"method"`
	Escalated       bool           `json:"escalated"`
	NavigationPath  string         `json:"navigationPath,omitempty"`
	UIInstruction   *UIInstruction `json:"ui_instruction,omitempty"`
	AdditionalData  any            `json:"additionalData,omitempty"`
}

// Response is returned by Dispatcher.Handle.
type Response struct {
	Success   bool         `json:"success"`
	Data      ResponseData `json:"data"`
	RequestID string       `json:"requestId,omitempty"`

	// Trace is kept for diagnostics and not serialized.
	Trace *Trace `json:"-"`
	// Attempts lists the tiers that ran, in order.
	Attempts []router.Tier `json:"-"`
}
