// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/storage"
	"github.com/jeranaias/kgassist/internal/telemetry"
	"github.com/jeranaias/kgassist/internal/tools"
)

var testNow = time.Date(2025, 3, 18, 9, 30, 0, 0, time.Local)

func newTestRegistry(t *testing.T) (*Registry, *telemetry.Aggregator) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "kgassist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Seed(context.Background(), testNow)
	require.NoError(t, err)

	agg := telemetry.NewAggregator(3000)
	return New(Options{
		Directory: db,
		Stats:     agg,
		Now:       func() time.Time { return testNow },
		Logger:    zerolog.Nop(),
	}), agg
}

func TestRegistry_BuiltinActions(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		action   string
		contains string
		tokens   int
	}{
		{CountStudents, "**120** 名在校学生", 10},
		{CountTeachers, "**12** 名在职教师", 10},
		{CountClasses, "**6** 个活跃班级", 10},
		{CountParents, "**120** 名注册家长", 10},
		{CountUsers, "**3** 名活跃用户", 10},
		{GetStudentStats, "大班: **40** 人", 20},
		{GetActiveStudentCount, "**120** 人", 10},
		{GetTodayActivities, "今日活动安排 (2项)", 25},
		{GetActivityList, "活动列表 (共6个)", 15},
		{GetActivityStats, "总活动数: **6** 个", 20},
		{GetAttendanceStats, "出勤率: **90.0%**", 20},
		{GetFeeStats, "总费用: **¥216000.00**", 20},
		{GetEnrollmentStats, "转化率: **40.0%**", 20},
		{GetCustomerStats, "客户总数: **15** 个", 15},
		{GetSystemStatus, "数据库: **正常**", 15},
		{GetPerformanceStats, "总查询数: **0**", 15},
		{DescribeAssistant, "AI助手", 10},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			res, err := r.Execute(ctx, tt.action, "")
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Contains(t, res.Response, tt.contains)
			assert.Equal(t, tt.tokens, res.TokensUsed)
		})
	}
}

func TestRegistry_CoversRouterActions(t *testing.T) {
	r, _ := newTestRegistry(t)

	for _, name := range router.DefaultDictionary().ActionNames() {
		assert.True(t, r.Has(name), "router references unregistered action %q", name)
	}
	for _, tool := range tools.BuiltinTools() {
		assert.True(t, r.Has(tool.Action), "tool %s references unregistered action %q", tool.Name, tool.Action)
	}
}

func TestRegistry_UnknownAction(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Execute(context.Background(), "drop_everything", "")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestRegistry_Stats(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	r.Register(Action{Name: "broken", Handler: func(context.Context, string) (*dispatch.ActionResult, error) {
		return nil, errors.New("boom")
	}})

	for i := 0; i < 3; i++ {
		_, err := r.Execute(ctx, CountStudents, "")
		require.NoError(t, err)
	}
	_, err := r.Execute(ctx, "broken", "")
	assert.Error(t, err)

	stats := r.Stats()
	assert.Equal(t, int64(3), stats[CountStudents].Calls)
	assert.Zero(t, stats[CountStudents].Failures)
	assert.Equal(t, int64(1), stats["broken"].Failures)
	assert.NotContains(t, stats, CountTeachers, "actions that never ran are omitted")
}

func TestRegistry_WithoutDirectory(t *testing.T) {
	r := New(Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	_, err := r.Execute(ctx, CountStudents, "")
	assert.ErrorIs(t, err, ErrNoDirectory)

	res, err := r.Execute(ctx, GetSystemStatus, "")
	require.NoError(t, err)
	assert.Contains(t, res.Response, "未配置")

	res, err = r.Execute(ctx, GetPerformanceStats, "")
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = r.StatusReport(ctx)
	assert.ErrorIs(t, err, ErrNoDirectory)
}

func TestRegistry_PerformanceStatsReflectsAggregator(t *testing.T) {
	r, agg := newTestRegistry(t)
	agg.Record(telemetry.Outcome{Tier: router.TierDirect, TokensUsed: 10, Latency: 5 * time.Millisecond})

	res, err := r.Execute(context.Background(), GetPerformanceStats, "")
	require.NoError(t, err)
	assert.Contains(t, res.Response, "总查询数: **1**")
	assert.Contains(t, res.Response, "直接响应率: **100.0%**")
}

func TestRegistry_StatusReport(t *testing.T) {
	r, _ := newTestRegistry(t)

	rep, err := r.StatusReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &dispatch.StatusReport{
		TotalClasses:        6,
		TotalStudents:       120,
		TotalTeachers:       12,
		EnrollmentRate:      80.0,
		ActiveStudents:      120,
		TeacherStudentRatio: "10.0",
		CapacityUtilization: 80.0,
	}, rep)
}

func TestRegistry_ToolFunc(t *testing.T) {
	r, _ := newTestRegistry(t)
	runner := tools.NewRunner(tools.NewRegistry(), r.ToolFunc(), time.Second)

	res := runner.Run(context.Background(), tools.ToolCall{ID: "call-1", Name: "query_attendance"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "出勤: **108** 人")

	r.Register(Action{Name: GetFeeStats, Handler: func(context.Context, string) (*dispatch.ActionResult, error) {
		return &dispatch.ActionResult{Success: false, Response: "费用系统维护中"}, nil
	}})
	res = runner.Run(context.Background(), tools.ToolCall{ID: "call-2", Name: "query_fees"})
	assert.False(t, res.Success)
	assert.Equal(t, "费用系统维护中", res.Error)
}
