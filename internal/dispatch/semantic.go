// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/router"
)

// Semantic tier defaults.
const (
	DefaultSemanticTopK            = 3
	DefaultSemanticDirectThreshold = 0.8
	DefaultSemanticLookupOverhead  = 50
	// SemanticMaxTokens caps the reduced-context provider call.
	SemanticMaxTokens = 500
)

// systemPromptPrefix opens every reduced-context prompt.
const systemPromptPrefix = "你是幼儿园管理系统的AI助手。当前上下文："

// categoryLabels maps vocabulary categories to context labels.
var categoryLabels = map[string]string{
	"student":    "学生信息",
	"teacher":    "教师信息",
	"class":      "班级信息",
	"activity":   "活动信息",
	"parent":     "家长信息",
	"attendance": "考勤信息",
	"fee":        "费用信息",
	"schedule":   "课程安排",
	"health":     "健康信息",
	"enrollment": "招生信息",
}

// SemanticConfig tunes the SEMANTIC tier.
type SemanticConfig struct {
	TopK            int
	DirectThreshold float64
	// LookupOverhead is added to a semantic-direct answer; zero means the default.
	LookupOverhead  int
	SearchTimeout   time.Duration
	ProviderTimeout time.Duration
	ActionTimeout   time.Duration
}

func (c *SemanticConfig) fillDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultSemanticTopK
	}
	if c.DirectThreshold <= 0 || c.DirectThreshold > 1 {
		c.DirectThreshold = DefaultSemanticDirectThreshold
	}
	if c.LookupOverhead <= 0 {
		c.LookupOverhead = DefaultSemanticLookupOverhead
	}
}

// SemanticExecutor runs the SEMANTIC tier.
type SemanticExecutor struct {
	index    SemanticIndex
	actions  ActionRunner
	provider Provider
	cfg      SemanticConfig
	logger   zerolog.Logger
}

// NewSemanticExecutor creates the executor.
func NewSemanticExecutor(index SemanticIndex, actions ActionRunner, provider Provider, cfg SemanticConfig, logger zerolog.Logger) *SemanticExecutor {
	cfg.fillDefaults()
	return &SemanticExecutor{index: index, actions: actions, provider: provider, cfg: cfg, logger: logger}
}

// Execute consults the index, runs a high-confidence suggested action when
// there is one, and otherwise asks the provider with a reduced context.
func (e *SemanticExecutor) Execute(ctx context.Context, route router.RouteResult, q Query) *ExecutionResult {
	start := time.Now()

	var matches []EntityMatch
	if e.index != nil {
		var err error
		matches, err = e.search(ctx, q.Text)
		if err != nil {
			return failed(router.TierSemantic, MethodSemanticAI, start, fmt.Errorf("semantic search: %w", err))
		}
	}
	hits := matches
	if len(hits) > 2 {
		hits = hits[:2]
	}

	if len(matches) > 0 {
		top := matches[0]
		if top.Confidence > e.cfg.DirectThreshold && top.SuggestedAction != "" && e.actions != nil {
			if res := e.runSuggested(ctx, top, q.Text); res != nil {
				res.SemanticHits = hits
				res.ProcessingTime = time.Since(start)
				return res
			}
		}
	}

	if e.provider == nil {
		return failed(router.TierSemantic, MethodSemanticAI, start, errors.New("no text-generation provider"))
	}

	maxTokens := route.Complexity.Strategy.MaxTokens
	if maxTokens <= 0 || maxTokens > SemanticMaxTokens {
		maxTokens = SemanticMaxTokens
	}

	pctx, cancel := withTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()
	completion, err := e.provider.Complete(pctx, CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: systemPromptPrefix + LightContext(route.MatchedKeywords, matches)},
			{Role: RoleUser, Content: q.Text},
		},
		MaxTokens: maxTokens,
		UserID:    q.UserID,
	})
	if err != nil {
		return failed(router.TierSemantic, MethodSemanticAI, start, fmt.Errorf("provider: %w", err))
	}

	return &ExecutionResult{
		Tier:           router.TierSemantic,
		Success:        true,
		Text:           completion.Text,
		TokensUsed:     completion.TokensUsed,
		Method:         MethodSemanticAI,
		SemanticHits:   hits,
		ProcessingTime: time.Since(start),
	}
}

func (e *SemanticExecutor) search(ctx context.Context, query string) ([]EntityMatch, error) {
	sctx, cancel := withTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()
	return e.index.Search(sctx, query, e.cfg.TopK)
}

// runSuggested returns nil when the action did not succeed, so the caller
// falls back to the provider.
func (e *SemanticExecutor) runSuggested(ctx context.Context, top EntityMatch, query string) *ExecutionResult {
	actx, cancel := withTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	res, err := e.actions.Execute(actx, top.SuggestedAction, query)
	if err != nil || res == nil || !res.Success {
		e.logger.Debug().
			Err(err).
			Str("action", top.SuggestedAction).
			Str("entity", top.Entity).
			Msg("suggested action did not succeed")
		return nil
	}
	return &ExecutionResult{
		Tier:           router.TierSemantic,
		Success:        true,
		Text:           res.Response,
		Data:           res.Data,
		TokensUsed:     res.TokensUsed + e.cfg.LookupOverhead,
		Method:         MethodSemanticDirect,
		NavigationPath: res.NavigationPath,
	}
}

// LightContext summarizes matched keywords and entities for a reduced prompt.
func LightContext(keywords []string, matches []EntityMatch) string {
	var labels []string
	seen := make(map[string]bool)
	for _, m := range matches {
		label, ok := categoryLabels[m.Category]
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}

	var parts []string
	if len(labels) > 0 {
		parts = append(parts, strings.Join(labels, "、"))
	}
	if len(keywords) > 0 {
		parts = append(parts, "关键词："+strings.Join(keywords, "、"))
	}
	if len(matches) > 0 {
		entities := make([]string, len(matches))
		for i, m := range matches {
			entities[i] = fmt.Sprintf("%s(置信度:%.1f%%)", m.Entity, m.Confidence*100)
		}
		parts = append(parts, "相关实体："+strings.Join(entities, "、"))
	}
	if len(parts) == 0 {
		return "通用咨询"
	}
	return strings.Join(parts, "。")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
