// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/tools"
	"github.com/jeranaias/kgassist/internal/util"
)

// Complex tier defaults.
const (
	DefaultHistoryLimit = 10
	DefaultMemoryLimit  = 5
)

const complexSystemPrompt = "你是幼儿园管理系统的AI助手，负责回答园所管理相关问题。请基于提供的上下文准确回答，必要时调用工具获取数据。"

// ComplexConfig tunes the COMPLEX tier.
type ComplexConfig struct {
	HistoryLimit    int
	MemoryLimit     int
	MaxTools        int
	StoreTimeout    time.Duration
	ProviderTimeout time.Duration
}

func (c *ComplexConfig) fillDefaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.MaxTools <= 0 {
		c.MaxTools = tools.DefaultMaxTools
	}
}

// ComplexExecutor runs the COMPLEX tier.
type ComplexExecutor struct {
	store    ConversationStore
	provider Provider
	selector ToolSelector
	runner   ToolRunner
	cfg      ComplexConfig
	logger   zerolog.Logger
}

// NewComplexExecutor creates the executor. store, selector and runner may be nil.
func NewComplexExecutor(store ConversationStore, provider Provider, selector ToolSelector, runner ToolRunner, cfg ComplexConfig, logger zerolog.Logger) *ComplexExecutor {
	cfg.fillDefaults()
	return &ComplexExecutor{
		store:    store,
		provider: provider,
		selector: selector,
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
	}
}

// =============================================================================
// CONTEXT ASSEMBLY
// =============================================================================

// assembled is the context window for one COMPLEX call.
type assembled struct {
	system    string
	history   []Turn
	trace     Trace
	maxTokens int
}

// fetch loads history and memory concurrently. Store failures degrade to
// empty components.
func (e *ComplexExecutor) fetch(ctx context.Context, q Query, s router.Strategy) ([]Turn, []MemorySnippet) {
	if e.store == nil {
		return nil, nil
	}

	var history []Turn
	var memory []MemorySnippet
	var g errgroup.Group

	if s.IncludeHistory {
		g.Go(func() error {
			sctx, cancel := withTimeout(ctx, e.cfg.StoreTimeout)
			defer cancel()
			h, err := e.store.History(sctx, q.ConversationID, e.cfg.HistoryLimit)
			if err != nil {
				e.logger.Warn().Err(err).Str("conversation", q.ConversationID).Msg("history unavailable")
				return nil
			}
			history = h
			return nil
		})
	}
	if s.IncludeMemory {
		g.Go(func() error {
			sctx, cancel := withTimeout(ctx, e.cfg.StoreTimeout)
			defer cancel()
			m, err := e.store.Memory(sctx, q.UserID, e.cfg.MemoryLimit)
			if err != nil {
				e.logger.Warn().Err(err).Str("user", q.UserID).Msg("memory unavailable")
				return nil
			}
			memory = m
			return nil
		})
	}
	_ = g.Wait()
	return history, memory
}

// assemble builds the context and drops components until it fits the
// strategy budget: oldest history first, then the least important memory,
// then page state. The profile line and the query itself are always kept.
func assemble(q Query, s router.Strategy, history []Turn, memory []MemorySnippet) assembled {
	budget := s.MaxTokens
	if budget <= 0 {
		budget = router.StrategyFor(router.LevelHigh).MaxTokens
	}

	profile := fmt.Sprintf("当前用户：%s（角色：%s）", q.UserID, q.Role())
	page := pageState(q.Metadata.PageContext)

	memLines := make([]string, 0, len(memory))
	for _, m := range memory {
		memLines = append(memLines, "- "+m.Content)
	}

	fixed := util.EstimateTokens(complexSystemPrompt) + util.EstimateTokens(profile) + util.EstimateTokens(q.Text)
	pageTokens := util.EstimateTokens(page)
	memTokens := make([]int, len(memLines))
	for i, l := range memLines {
		memTokens[i] = util.EstimateTokens(l)
	}
	histTokens := make([]int, len(history))
	for i, t := range history {
		histTokens[i] = util.EstimateTokens(t.Content)
	}

	total := fixed + pageTokens + sum(memTokens) + sum(histTokens)
	truncated := false
	for total > budget && len(history) > 0 {
		total -= histTokens[0]
		history, histTokens = history[1:], histTokens[1:]
		truncated = true
	}
	for total > budget && len(memLines) > 0 {
		last := len(memLines) - 1
		total -= memTokens[last]
		memLines, memTokens = memLines[:last], memTokens[:last]
		truncated = true
	}
	if total > budget && page != "" {
		total -= pageTokens
		page = ""
		truncated = true
	}

	var b strings.Builder
	b.WriteString(complexSystemPrompt)
	b.WriteString("\n")
	b.WriteString(profile)
	components := 1 + len(history)
	if page != "" {
		b.WriteString("\n")
		b.WriteString(page)
		components++
	}
	if len(memLines) > 0 {
		b.WriteString("\n用户记忆：\n")
		b.WriteString(strings.Join(memLines, "\n"))
		components++
	}

	return assembled{
		system:    b.String(),
		history:   history,
		maxTokens: budget,
		trace: Trace{
			TotalTokens:    total,
			ComponentCount: components,
			Truncated:      truncated,
			HistoryTurns:   len(history),
			MemorySnippets: len(memLines),
		},
	}
}

func pageState(pc map[string]any) string {
	if len(pc) == 0 {
		return ""
	}
	keys := make([]string, 0, len(pc))
	for k := range pc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, pc[k]))
	}
	return "当前页面：" + strings.Join(parts, "，")
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

// =============================================================================
// EXECUTION
// =============================================================================

// Execute builds the full context, selects tools and calls the provider.
// Only a provider failure fails the tier.
func (e *ComplexExecutor) Execute(ctx context.Context, route router.RouteResult, q Query) *ExecutionResult {
	start := time.Now()
	if e.provider == nil {
		return failed(router.TierComplex, MethodComplexAI, start, errors.New("no text-generation provider"))
	}

	strategy := route.Complexity.Strategy
	history, memory := e.fetch(ctx, q, strategy)
	win := assemble(q, strategy, history, memory)

	var selected []tools.Tool
	if e.selector != nil {
		selected = e.selector.Select(tools.SelectionContext{
			Query:           q.Text,
			Role:            q.Role(),
			UserID:          q.UserID,
			ConversationID:  q.ConversationID,
			MaxTools:        e.cfg.MaxTools,
			EnableTools:     q.Metadata.EnableTools,
			EnableWebSearch: q.Metadata.EnableWebSearch,
		})
	}
	win.trace.ToolCount = len(selected)

	messages := make([]Message, 0, len(win.history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: win.system})
	for _, t := range win.history {
		messages = append(messages, Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: q.Text})

	completion, err := e.complete(ctx, CompletionRequest{
		Messages:  messages,
		MaxTokens: win.maxTokens,
		Tools:     selected,
		UserID:    q.UserID,
	})
	if err != nil {
		return e.fail(start, err, win.trace)
	}
	tokens := completion.TokensUsed

	// One tool round: run the requested calls, then ask for the final answer.
	if len(completion.ToolCalls) > 0 && e.runner != nil {
		messages = append(messages, Message{Role: RoleAssistant, Content: completion.Text, ToolCalls: completion.ToolCalls})
		for _, call := range completion.ToolCalls {
			res := e.runner.Run(ctx, call)
			content := res.Output
			if !res.Success {
				content = "工具调用失败：" + res.Error
			}
			messages = append(messages, Message{Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content})
			e.logger.Debug().Str("tool", call.Name).Bool("success", res.Success).Msg("tool call")
		}
		win.trace.ToolCalls = len(completion.ToolCalls)

		completion, err = e.complete(ctx, CompletionRequest{
			Messages:  messages,
			MaxTokens: win.maxTokens,
			UserID:    q.UserID,
		})
		if err != nil {
			return e.fail(start, err, win.trace)
		}
		tokens += completion.TokensUsed
	}

	if tokens == 0 {
		tokens = route.EstimatedTokens
	}

	trace := win.trace
	e.logger.Debug().
		Int("context_tokens", trace.TotalTokens).
		Int("components", trace.ComponentCount).
		Bool("truncated", trace.Truncated).
		Int("tools", trace.ToolCount).
		Int("tokens", tokens).
		Msg("complex context")

	return &ExecutionResult{
		Tier:           router.TierComplex,
		Success:        true,
		Text:           completion.Text,
		TokensUsed:     tokens,
		Method:         MethodComplexAI,
		Trace:          &trace,
		ProcessingTime: time.Since(start),
	}
}

func (e *ComplexExecutor) complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	pctx, cancel := withTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()
	c, err := e.provider.Complete(pctx, req)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("provider returned no completion")
	}
	return c, nil
}

func (e *ComplexExecutor) fail(start time.Time, err error, trace Trace) *ExecutionResult {
	res := failed(router.TierComplex, MethodComplexAI, start, fmt.Errorf("provider: %w", err))
	res.Trace = &trace
	return res
}
