// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"time"

	"github.com/jeranaias/kgassist/internal/tools"
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Turn is one stored conversation message.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MemorySnippet is a long-term fact remembered about a user.
type MemorySnippet struct {
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ConversationStore persists conversation turns and user memory.
type ConversationStore interface {
	// History returns up to limit turns, oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]Turn, error)
	// Memory returns up to limit snippets, most important first.
	Memory(ctx context.Context, userID string, limit int) ([]MemorySnippet, error)
	// Append stores turns in order.
	Append(ctx context.Context, turns ...Turn) error
}

// =============================================================================
// TEXT GENERATION
// =============================================================================

// Message is one entry of a provider prompt.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"toolCallId,omitempty"`
	ToolCalls  []tools.ToolCall `json:"toolCalls,omitempty"`
}

// CompletionRequest is a provider call.
type CompletionRequest struct {
	Messages  []Message
	MaxTokens int
	Tools     []tools.Tool
	UserID    string
}

// Completion is a provider answer.
type Completion struct {
	Text         string
	TokensUsed   int
	ToolCalls    []tools.ToolCall
	FinishReason string
	Model        string
}

// Provider generates text. It returns an error on outage or timeout.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// =============================================================================
// SEMANTIC INDEX
// =============================================================================

// EntityMatch is one semantic search hit.
type EntityMatch struct {
	Entity          string   `json:"entity"`
	Category        string   `json:"category,omitempty"`
	Confidence      float64  `json:"confidence"`
	SuggestedAction string   `json:"suggestedAction,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}

// SemanticIndex finds entities related to a query, ordered by descending
// confidence.
type SemanticIndex interface {
	Search(ctx context.Context, query string, topK int) ([]EntityMatch, error)
}

// =============================================================================
// ACTIONS AND TOOLS
// =============================================================================

// ActionResult is the outcome of a named action.
type ActionResult struct {
	Success        bool          `json:"success"`
	Response       string        `json:"response"`
	Data           any           `json:"data,omitempty"`
	TokensUsed     int           `json:"tokensUsed"`
	ProcessingTime time.Duration `json:"processingTime"`
	NavigationPath string        `json:"navigationPath,omitempty"`
}

// ActionRunner executes named actions.
type ActionRunner interface {
	Execute(ctx context.Context, action, query string) (*ActionResult, error)
}

// ToolSelector picks the tools offered to the provider.
type ToolSelector interface {
	Select(sc tools.SelectionContext) []tools.Tool
}

// ToolRunner executes tool calls returned by the provider.
type ToolRunner interface {
	Run(ctx context.Context, call tools.ToolCall) tools.Result
}

// =============================================================================
// STATUS REPORT
// =============================================================================

// StatusReport is the institution overview shown on a stat card.
type StatusReport struct {
	TotalClasses        int     `json:"totalClasses"`
	TotalStudents       int     `json:"totalStudents"`
	TotalTeachers       int     `json:"totalTeachers"`
	EnrollmentRate      float64 `json:"enrollmentRate"`
	ActiveStudents      int     `json:"activeStudents"`
	TeacherStudentRatio string  `json:"teacherStudentRatio"`
	CapacityUtilization float64 `json:"capacityUtilization"`
}

// StatusReporter builds the institution status report.
type StatusReporter interface {
	StatusReport(ctx context.Context) (*StatusReport, error)
}
