// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/tools"
)

type staticInferer map[string]string

func (s staticInferer) InferAction(id string) (string, bool) {
	a, ok := s[id]
	return a, ok
}

// =============================================================================
// DIRECT
// =============================================================================

func TestDirectExecutor(t *testing.T) {
	actions := &fakeActions{results: map[string]*ActionResult{
		"count_students": {Success: true, Response: "共 120 人", TokensUsed: 10, NavigationPath: "/students"},
	}}
	infer := staticInferer{"正在查询学生总数...": "count_students"}
	e := NewDirectExecutor(actions, infer, time.Second, zerolog.Nop())
	ctx := context.Background()

	t.Run("named action", func(t *testing.T) {
		res := e.Execute(ctx, router.RouteResult{Action: "count_students"}, "q")
		assert.True(t, res.Success)
		assert.Equal(t, MethodDirectAction, res.Method)
		assert.Equal(t, 10, res.TokensUsed)
		assert.Equal(t, "/students", res.NavigationPath)
	})

	t.Run("inferred action", func(t *testing.T) {
		res := e.Execute(ctx, router.RouteResult{Response: "正在查询学生总数...", ResponseID: "正在查询学生总数..."}, "q")
		assert.Equal(t, MethodDirectAction, res.Method)
		assert.Equal(t, "共 120 人", res.Text)
	})

	t.Run("canned response", func(t *testing.T) {
		res := e.Execute(ctx, router.RouteResult{Response: "你好", ResponseID: "你好", EstimatedTokens: 5}, "q")
		assert.True(t, res.Success)
		assert.Equal(t, MethodDirectResponse, res.Method)
		assert.Equal(t, "你好", res.Text)
		assert.Equal(t, 5, res.TokensUsed)
	})

	t.Run("action failure is a failed result", func(t *testing.T) {
		res := e.Execute(ctx, router.RouteResult{Action: "missing"}, "q")
		require.NotNil(t, res)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "missing")
	})

	t.Run("no runner falls back to canned", func(t *testing.T) {
		bare := NewDirectExecutor(nil, nil, 0, zerolog.Nop())
		res := bare.Execute(ctx, router.RouteResult{Action: "count_students", Response: "稍等"}, "q")
		assert.Equal(t, MethodDirectResponse, res.Method)
	})
}

// =============================================================================
// SEMANTIC
// =============================================================================

func semanticRoute() router.RouteResult {
	return router.RouteResult{
		Tier:            router.TierSemantic,
		MatchedKeywords: []string{"学生", "安排"},
		Complexity:      router.ComplexityEvaluation{Strategy: router.StrategyFor(router.LevelMedium)},
	}
}

func TestSemanticExecutor_DirectHit(t *testing.T) {
	actions := &fakeActions{results: map[string]*ActionResult{
		"get_student_stats": {Success: true, Response: "学生统计", TokensUsed: 20},
	}}
	index := &fakeIndex{matches: []EntityMatch{
		{Entity: "学生", Category: "student", Confidence: 0.92, SuggestedAction: "get_student_stats"},
		{Entity: "班级", Category: "class", Confidence: 0.7},
		{Entity: "教师", Category: "teacher", Confidence: 0.5},
	}}
	provider := &fakeProvider{text: "unused", tokens: 100}
	e := NewSemanticExecutor(index, actions, provider, SemanticConfig{}, zerolog.Nop())

	res := e.Execute(context.Background(), semanticRoute(), query("学生情况"))
	assert.True(t, res.Success)
	assert.Equal(t, MethodSemanticDirect, res.Method)
	assert.Equal(t, 70, res.TokensUsed)
	assert.Len(t, res.SemanticHits, 2)
	assert.Zero(t, provider.calls.Load())
}

func TestSemanticExecutor_LookupOverheadDefault(t *testing.T) {
	tests := []struct {
		name     string
		overhead int
		want     int
	}{
		{"unset uses default", 0, DefaultSemanticLookupOverhead},
		{"negative uses default", -5, DefaultSemanticLookupOverhead},
		{"explicit", 30, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := &fakeActions{results: map[string]*ActionResult{
				"get_student_stats": {Success: true, Response: "📊 当前共有 120 名在校学生，其中男生 62 名"},
			}}
			index := &fakeIndex{matches: []EntityMatch{
				{Entity: "学生", Category: "student", Confidence: 0.95, SuggestedAction: "get_student_stats"},
			}}
			e := NewSemanticExecutor(index, actions, &fakeProvider{text: "unused"}, SemanticConfig{LookupOverhead: tt.overhead}, zerolog.Nop())

			res := e.Execute(context.Background(), semanticRoute(), query("学生情况"))
			require.True(t, res.Success)
			assert.Equal(t, MethodSemanticDirect, res.Method)
			assert.Equal(t, tt.want, res.TokensUsed)
			assert.NoError(t, NewValidator().Validate(res), "a zero-token action must not fail validation")
		})
	}
}

func TestSemanticExecutor_ReducedContext(t *testing.T) {
	index := &fakeIndex{matches: []EntityMatch{
		{Entity: "学生", Category: "student", Confidence: 0.8, SuggestedAction: "get_student_stats"},
	}}
	provider := &fakeProvider{text: "回答", tokens: 120}
	e := NewSemanticExecutor(index, &fakeActions{}, provider, SemanticConfig{}, zerolog.Nop())

	res := e.Execute(context.Background(), semanticRoute(), query("学生安排"))
	assert.True(t, res.Success)
	assert.Equal(t, MethodSemanticAI, res.Method, "0.8 is not above the threshold")
	assert.Equal(t, 120, res.TokensUsed)

	req := provider.last()
	assert.Equal(t, SemanticMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "你是幼儿园管理系统的AI助手。当前上下文："))
	assert.Contains(t, req.Messages[0].Content, "学生(置信度:80.0%)")
	assert.Contains(t, req.Messages[0].Content, "学生信息")
	assert.Empty(t, req.Tools)
}

func TestSemanticExecutor_FailedSuggestedActionFallsBack(t *testing.T) {
	index := &fakeIndex{matches: []EntityMatch{{Entity: "费用", Category: "fee", Confidence: 0.95, SuggestedAction: "get_fee_stats"}}}
	provider := &fakeProvider{text: "回答", tokens: 90}
	e := NewSemanticExecutor(index, &fakeActions{err: errors.New("db down")}, provider, SemanticConfig{}, zerolog.Nop())

	res := e.Execute(context.Background(), semanticRoute(), query("费用"))
	assert.Equal(t, MethodSemanticAI, res.Method)
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestSemanticExecutor_Failures(t *testing.T) {
	ctx := context.Background()

	e := NewSemanticExecutor(&fakeIndex{err: errors.New("index down")}, nil, &fakeProvider{}, SemanticConfig{}, zerolog.Nop())
	res := e.Execute(ctx, semanticRoute(), query("x"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "index down")

	e = NewSemanticExecutor(nil, nil, &fakeProvider{block: true}, SemanticConfig{ProviderTimeout: 20 * time.Millisecond}, zerolog.Nop())
	res = e.Execute(ctx, semanticRoute(), query("x"))
	assert.False(t, res.Success, "a provider timeout is a tier failure")
	assert.Equal(t, MethodSemanticAI, res.Method)
}

func TestLightContext(t *testing.T) {
	assert.Equal(t, "通用咨询", LightContext(nil, nil))
	got := LightContext([]string{"考勤"}, []EntityMatch{
		{Entity: "考勤", Category: "attendance", Confidence: 0.9},
		{Entity: "出勤", Category: "attendance", Confidence: 0.75},
	})
	assert.Equal(t, "考勤信息。关键词：考勤。相关实体：考勤(置信度:90.0%)、出勤(置信度:75.0%)", got)
}

// =============================================================================
// COMPLEX
// =============================================================================

func complexRoute() router.RouteResult {
	return router.RouteResult{
		Tier:            router.TierComplex,
		EstimatedTokens: 900,
		Complexity:      router.ComplexityEvaluation{Strategy: router.StrategyFor(router.LevelHigh)},
	}
}

func TestComplexExecutor_Context(t *testing.T) {
	store := &fakeStore{
		history: []Turn{
			{Role: RoleUser, Content: "上周的考勤怎么样"},
			{Role: RoleAssistant, Content: "上周出勤率 95%"},
		},
		memory: []MemorySnippet{{Content: "负责大一班"}},
	}
	provider := &fakeProvider{text: "分析结果", tokens: 700}
	e := NewComplexExecutor(store, provider, tools.NewSelector(tools.NewRegistry(), 3), nil, ComplexConfig{}, zerolog.Nop())

	q := query("分析本学期出勤趋势")
	q.Metadata.PageContext = map[string]any{"page": "attendance"}
	res := e.Execute(context.Background(), complexRoute(), q)

	require.True(t, res.Success)
	assert.Equal(t, MethodComplexAI, res.Method)
	assert.Equal(t, 700, res.TokensUsed)
	require.NotNil(t, res.Trace)
	assert.False(t, res.Trace.Truncated)
	assert.Equal(t, 2, res.Trace.HistoryTurns)
	assert.Equal(t, 1, res.Trace.MemorySnippets)
	assert.Equal(t, 5, res.Trace.ComponentCount)
	assert.Zero(t, res.Trace.ToolCount, "tools flag is off")

	req := provider.last()
	assert.Equal(t, 2000, req.MaxTokens)
	require.Len(t, req.Messages, 4)
	assert.Contains(t, req.Messages[0].Content, "负责大一班")
	assert.Contains(t, req.Messages[0].Content, "page=attendance")
	assert.Contains(t, req.Messages[0].Content, "角色：admin")
	assert.Equal(t, "分析本学期出勤趋势", req.Messages[3].Content)
}

func TestComplexExecutor_TruncatesOldestHistoryFirst(t *testing.T) {
	var history []Turn
	for i := 0; i < 10; i++ {
		history = append(history, Turn{Role: RoleUser, Content: strings.Repeat("历", 100)})
	}
	store := &fakeStore{history: history}
	provider := &fakeProvider{text: "ok", tokens: 10}
	e := NewComplexExecutor(store, provider, nil, nil, ComplexConfig{}, zerolog.Nop())

	route := complexRoute()
	route.Complexity.Strategy = router.StrategyFor(router.LevelMedium)
	res := e.Execute(context.Background(), route, query("为什么"))

	require.NotNil(t, res.Trace)
	assert.True(t, res.Trace.Truncated)
	assert.Less(t, res.Trace.HistoryTurns, 10)
	assert.LessOrEqual(t, res.Trace.TotalTokens, 1000)
}

func TestComplexExecutor_StoreFailureDegrades(t *testing.T) {
	store := &fakeStore{histErr: errors.New("db locked")}
	provider := &fakeProvider{text: "ok", tokens: 10}
	e := NewComplexExecutor(store, provider, nil, nil, ComplexConfig{}, zerolog.Nop())

	res := e.Execute(context.Background(), complexRoute(), query("为什么"))
	assert.True(t, res.Success)
	assert.Zero(t, res.Trace.HistoryTurns)
}

func TestComplexExecutor_ToolRound(t *testing.T) {
	provider := &fakeProvider{
		text:     "目前在校学生 120 人。",
		tokens:   300,
		toolCall: &tools.ToolCall{ID: "call_1", Name: "query_students", Params: map[string]interface{}{"query": "在校"}},
	}
	runner := &fakeToolRunner{}
	e := NewComplexExecutor(nil, provider, tools.NewSelector(tools.NewRegistry(), 3), runner, ComplexConfig{}, zerolog.Nop())

	q := query("学生情况")
	q.Metadata.EnableTools = true
	res := e.Execute(context.Background(), complexRoute(), q)

	require.True(t, res.Success)
	assert.Equal(t, "目前在校学生 120 人。", res.Text)
	assert.Equal(t, 340, res.TokensUsed)
	assert.Equal(t, 1, res.Trace.ToolCalls)
	assert.Greater(t, res.Trace.ToolCount, 0)
	require.Len(t, runner.calls, 1)

	final := provider.last()
	assert.Empty(t, final.Tools, "the follow-up call offers no tools")
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
}

func TestComplexExecutor_ZeroTokensUseEstimate(t *testing.T) {
	e := NewComplexExecutor(nil, &fakeProvider{text: "ok"}, nil, nil, ComplexConfig{}, zerolog.Nop())
	res := e.Execute(context.Background(), complexRoute(), query("为什么"))
	assert.Equal(t, 900, res.TokensUsed)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidator(t *testing.T) {
	v := NewValidator("系统繁忙", " ")

	tests := []struct {
		name   string
		result *ExecutionResult
		reason string
	}{
		{"nil", nil, ReasonNoResult},
		{"failed", &ExecutionResult{Success: false, Text: "x", TokensUsed: 1}, ReasonFailed},
		{"empty", &ExecutionResult{Success: true, TokensUsed: 5}, ReasonEmpty},
		{"whitespace", &ExecutionResult{Success: true, Text: "  \n ", TokensUsed: 5}, ReasonBlank},
		{"default phrase", &ExecutionResult{Success: true, Text: "抱歉，未找到相关信息", TokensUsed: 5}, ReasonInvalidPhrase},
		{"configured phrase", &ExecutionResult{Success: true, Text: "系统繁忙", TokensUsed: 5}, ReasonInvalidPhrase},
		{"zero tokens long text", &ExecutionResult{Success: true, Text: "这是一个超过十个字符的回答内容"}, ReasonZeroTokens},
		{"zero tokens short text", &ExecutionResult{Success: true, Text: "好的"}, ""},
		{"data only", &ExecutionResult{Success: true, Data: map[string]int{"n": 1}}, ""},
		{"valid", &ExecutionResult{Success: true, Text: "共有 120 名学生在校", TokensUsed: 10}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.result)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.reason, ve.Reason)
		})
	}
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, query("学生总数").Validate())
	assert.ErrorIs(t, Query{Text: "x", ConversationID: "c"}.Validate(), ErrInvalidRequest)
	assert.Equal(t, tools.RoleAdmin, query("x").Role())
}
