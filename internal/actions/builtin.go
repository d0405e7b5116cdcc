// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actions

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/storage"
)

// Directory is the read side of the kindergarten database.
// *storage.DB implements it.
type Directory interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context, e storage.Entity) (int, error)
	StudentStats(ctx context.Context) (*storage.StudentStats, error)
	ActivitiesOn(ctx context.Context, day time.Time) ([]storage.Activity, error)
	Activities(ctx context.Context, limit int) ([]storage.Activity, error)
	ActivityStats(ctx context.Context) (*storage.ActivityStats, error)
	AttendanceOn(ctx context.Context, day time.Time) (*storage.AttendanceStats, error)
	FeesForMonth(ctx context.Context, month time.Time) (*storage.FeeStats, error)
	EnrollmentStats(ctx context.Context, now time.Time) (*storage.EnrollmentStats, error)
}

var _ Directory = (*storage.DB)(nil)

// Action names.
const (
	CountStudents         = "count_students"
	CountTeachers         = "count_teachers"
	CountClasses          = "count_classes"
	CountParents          = "count_parents"
	CountUsers            = "count_users"
	GetStudentStats       = "get_student_stats"
	GetActiveStudentCount = "get_active_student_count"
	GetTodayActivities    = "get_today_activities"
	GetActivityList       = "get_activity_list"
	GetActivityStats      = "get_activity_stats"
	GetAttendanceStats    = "get_attendance_stats"
	GetFeeStats           = "get_fee_stats"
	GetEnrollmentStats    = "get_enrollment_stats"
	GetCustomerStats      = "get_customer_stats"
	GetSystemStatus       = "get_system_status"
	GetPerformanceStats   = "get_performance_stats"
	DescribeAssistant     = "describe_assistant"
)

func (r *Registry) registerBuiltins() {
	count := func(e storage.Entity, format string) Handler {
		return func(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
			dir, err := r.directory()
			if err != nil {
				return nil, err
			}
			n, err := dir.Count(ctx, e)
			if err != nil {
				return nil, err
			}
			return success(fmt.Sprintf(format, n), map[string]int{"count": n}, 10), nil
		}
	}

	for _, a := range []Action{
		{CountStudents, "Count active students", count(storage.EntityStudents, "📊 当前共有 **%d** 名在校学生")},
		{CountTeachers, "Count active teachers", count(storage.EntityTeachers, "👩‍🏫 当前共有 **%d** 名在职教师")},
		{CountClasses, "Count classes", count(storage.EntityClasses, "🏫 当前共有 **%d** 个活跃班级")},
		{CountParents, "Count registered parents", count(storage.EntityParents, "👨‍👩‍👧‍👦 当前共有 **%d** 名注册家长")},
		{CountUsers, "Count system users", count(storage.EntityUsers, "👤 当前共有 **%d** 名活跃用户")},
		{GetStudentStats, "Student totals by grade and gender", r.studentStats},
		{GetActiveStudentCount, "Count active students", count(storage.EntityStudents, "📊 当前在读学生 **%d** 人")},
		{GetTodayActivities, "List today's activities", r.todayActivities},
		{GetActivityList, "List recent activities", r.activityList},
		{GetActivityStats, "Activity totals by status", r.activityStats},
		{GetAttendanceStats, "Today's attendance", r.attendanceStats},
		{GetFeeStats, "This month's fee collection", r.feeStats},
		{GetEnrollmentStats, "Enrollment applications and conversion", r.enrollmentStats},
		{GetCustomerStats, "Prospective families from enrollment applications", r.customerStats},
		{GetSystemStatus, "Database, memory and uptime", r.systemStatus},
		{GetPerformanceStats, "Assistant tier distribution and token savings", r.performanceStats},
		{DescribeAssistant, "What the assistant can do", describeAssistant},
	} {
		r.Register(a)
	}
}

// =============================================================================
// DIRECTORY ACTIONS
// =============================================================================

func (r *Registry) studentStats(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	s, err := dir.StudentStats(ctx)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 学生人数统计:\n\n• 总人数: **%d** 人\n• 在读: **%d** 人", s.Total, s.Active)
	for _, grade := range []string{"小班", "中班", "大班"} {
		if n, ok := s.ByGrade[grade]; ok {
			fmt.Fprintf(&b, "\n• %s: **%d** 人", grade, n)
		}
	}
	return success(b.String(), s, 20), nil
}

func (r *Registry) todayActivities(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	acts, err := dir.ActivitiesOn(ctx, r.now())
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return success("📅 今日暂无安排的活动", []storage.Activity{}, 15), nil
	}
	return success(fmt.Sprintf("📅 今日活动安排 (%d项):\n\n%s", len(acts), formatActivities(acts)), acts, 15+len(acts)*5), nil
}

func (r *Registry) activityList(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	acts, err := dir.Activities(ctx, 10)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return success("📅 暂无活动安排", []storage.Activity{}, 15), nil
	}
	return success(fmt.Sprintf("📅 活动列表 (共%d个):\n\n%s", len(acts), formatActivities(acts)), acts, 15), nil
}

func (r *Registry) activityStats(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	s, err := dir.ActivityStats(ctx)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("🎯 活动统计:\n\n• 总活动数: **%d** 个\n• 已完成: **%d** 个\n• 计划中: **%d** 个\n• 平均参与人数: **%.1f** 人",
		s.Total, s.ByStatus["completed"], s.ByStatus["planned"], s.AvgParticipants)
	return success(text, s, 20), nil
}

func (r *Registry) attendanceStats(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	s, err := dir.AttendanceOn(ctx, r.now())
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("📊 今日考勤统计:\n\n• 出勤: **%d** 人\n• 缺勤: **%d** 人\n• 出勤率: **%.1f%%**",
		s.Present, s.Absent, s.Rate)
	return success(text, s, 20), nil
}

func (r *Registry) feeStats(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	s, err := dir.FeesForMonth(ctx, r.now())
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("💰 本月费用统计:\n\n• 总费用: **¥%s**\n• 已收费用: **¥%s**\n• 未收费用: **¥%s**\n• 收费率: **%.1f%%**",
		yuan(s.TotalCents), yuan(s.PaidCents), yuan(s.UnpaidCents), s.CollectionRate)
	return success(text, s, 20), nil
}

func (r *Registry) enrollmentStats(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	s, err := dir.EnrollmentStats(ctx, r.now())
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("📊 招生数据:\n\n• 总申请数: **%d** 个\n• 已通过: **%d** 个\n• 待审核: **%d** 个\n• 已拒绝: **%d** 个\n• 转化率: **%.1f%%**",
		s.Total, s.Accepted, s.Pending, s.Rejected, s.ConversionRate)
	return success(text, s, 20), nil
}

// customerStats treats enrollment applicants as prospective customers.
func (r *Registry) customerStats(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	s, err := dir.EnrollmentStats(ctx, r.now())
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("📊 客户统计:\n\n• 客户总数: **%d** 个\n• 本月新增: **%d** 个", s.Total, s.ThisMonth)
	return success(text, map[string]int{"totalCustomers": s.Total, "newCustomersThisMonth": s.ThisMonth}, 15), nil
}

// =============================================================================
// SYSTEM ACTIONS
// =============================================================================

// SystemStatus is the data of get_system_status.
type SystemStatus struct {
	Database   string `json:"database"`
	Server     string `json:"server"`
	MemoryMB   uint64 `json:"memoryMb"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
}

func (r *Registry) systemStatus(ctx context.Context, _ string) (*dispatch.ActionResult, error) {
	st := SystemStatus{Database: "未配置", Server: "正常", Goroutines: runtime.NumGoroutine()}
	if r.dir != nil {
		st.Database = "正常"
		if err := r.dir.Ping(ctx); err != nil {
			st.Database = "异常"
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.MemoryMB = ms.Alloc / 1024 / 1024

	up := r.now().Sub(r.started)
	hours := int(up.Hours())
	minutes := int(up.Minutes()) % 60
	st.Uptime = fmt.Sprintf("%d小时%d分钟", hours, minutes)

	text := fmt.Sprintf("🖥️ 系统状态:\n\n• 数据库: **%s**\n• 服务器: **%s**\n• 内存: **%dMB**\n• 运行时间: **%s**",
		st.Database, st.Server, st.MemoryMB, st.Uptime)
	return success(text, st, 15), nil
}

func (r *Registry) performanceStats(_ context.Context, _ string) (*dispatch.ActionResult, error) {
	if r.perf == nil {
		return &dispatch.ActionResult{Success: false, Response: "暂无性能统计数据", TokensUsed: 5}, nil
	}
	s := r.perf.Snapshot()
	text := fmt.Sprintf("📈 AI助手性能统计:\n\n• 总查询数: **%d**\n• 直接响应率: **%.1f%%**\n• 语义检索率: **%.1f%%**\n• 复杂推理率: **%.1f%%**\n• Token节省率: **%.1f%%**\n• 平均响应时间: **%.0fms**",
		s.TotalQueries, s.DirectQueryRate, s.SemanticQueryRate, s.ComplexQueryRate, s.TokenSavingRate, s.AverageLatencyMs)
	return success(text, s, 15), nil
}

const assistantDescription = `🤖 我是幼儿园管理系统的AI助手，可以帮您：

• 查询学生、教师、班级、家长等基础数据
• 查看今日活动、考勤和费用统计
• 了解招生进展和机构现状
• 分析数据趋势并给出管理建议`

func describeAssistant(context.Context, string) (*dispatch.ActionResult, error) {
	return success(assistantDescription, nil, 10), nil
}

// =============================================================================
// STATUS REPORT
// =============================================================================

// StatusReport builds the institution overview from the directory.
func (r *Registry) StatusReport(ctx context.Context) (*dispatch.StatusReport, error) {
	dir, err := r.directory()
	if err != nil {
		return nil, err
	}
	classes, err := dir.Count(ctx, storage.EntityClasses)
	if err != nil {
		return nil, err
	}
	teachers, err := dir.Count(ctx, storage.EntityTeachers)
	if err != nil {
		return nil, err
	}
	s, err := dir.StudentStats(ctx)
	if err != nil {
		return nil, err
	}

	rep := &dispatch.StatusReport{
		TotalClasses:        classes,
		TotalStudents:       s.Active,
		TotalTeachers:       teachers,
		ActiveStudents:      s.Active,
		TeacherStudentRatio: "0",
	}
	if teachers > 0 {
		rep.TeacherStudentRatio = fmt.Sprintf("%.1f", float64(s.Active)/float64(teachers))
	}
	if s.Capacity > 0 {
		rate := float64(int64(float64(s.Active)/float64(s.Capacity)*1000+0.5)) / 10
		rep.EnrollmentRate = rate
		rep.CapacityUtilization = rate
	}
	return rep, nil
}

// =============================================================================
// FORMATTING
// =============================================================================

var activityStatusLabels = map[string]string{
	"planned":   "计划中",
	"ongoing":   "进行中",
	"completed": "已完成",
	"cancelled": "已取消",
}

func formatActivities(acts []storage.Activity) string {
	lines := make([]string, len(acts))
	for i, a := range acts {
		status := activityStatusLabels[a.Status]
		if status == "" {
			status = a.Status
		}
		line := fmt.Sprintf("%d. **%s** (%s)", i+1, a.Title, a.Date)
		if a.Location != "" {
			line += " @" + a.Location
		}
		lines[i] = line + " - " + status
	}
	return strings.Join(lines, "\n")
}

func yuan(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
