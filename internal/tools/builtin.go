// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

// =============================================================================
// BUILT-IN TOOL DEFINITIONS
// =============================================================================

// queryParam is the free-text parameter shared by the directory tools.
var queryParam = Parameter{
	Name:        "query",
	Type:        "string",
	Required:    false,
	Description: "Optional filter in natural language, e.g. a class name or a date range.",
}

// BuiltinTools returns the directory tools. Each call returns fresh
// descriptors so callers may not mutate shared state.
func BuiltinTools() []*Tool {
	return []*Tool{
		{
			Name:             "query_students",
			ShortDescription: "Look up student counts and enrollment status.",
			Description: `Look up student counts and enrollment status.
Returns totals, active students and per-class distribution.`,
			Schema:    Schema{Parameters: []Parameter{queryParam}},
			RiskLevel: RiskLow,
			MinRole:   RoleTeacher,
			Keywords:  []string{"学生", "幼儿", "孩子", "小朋友", "student", "child"},
			Action:    "get_student_stats",
		},
		{
			Name:             "query_teachers",
			ShortDescription: "Look up teacher counts and the teacher/student ratio.",
			Description:      "Look up teacher counts and the teacher/student ratio.",
			Schema:           Schema{Parameters: []Parameter{queryParam}},
			RiskLevel:        RiskLow,
			MinRole:          RolePrincipal,
			Keywords:         []string{"教师", "老师", "员工", "teacher", "staff"},
			Action:           "count_teachers",
		},
		{
			Name:             "query_classes",
			ShortDescription: "Look up classes, capacities and utilization.",
			Description:      "Look up classes, capacities and utilization.",
			Schema:           Schema{Parameters: []Parameter{queryParam}},
			RiskLevel:        RiskLow,
			MinRole:          RoleTeacher,
			Keywords:         []string{"班级", "小班", "中班", "大班", "class"},
			Action:           "count_classes",
		},
		{
			Name:             "query_attendance",
			ShortDescription: "Look up attendance statistics for today or a period.",
			Description: `Look up attendance statistics.
Returns present, absent and leave counts with the attendance rate.`,
			Schema: Schema{Parameters: []Parameter{
				queryParam,
				{
					Name:        "period",
					Type:        "string",
					Description: "Reporting period.",
					Default:     "today",
					Enum:        []string{"today", "week", "month"},
				},
			}},
			RiskLevel: RiskLow,
			MinRole:   RoleTeacher,
			Keywords:  []string{"考勤", "出勤", "签到", "缺勤", "attendance"},
			Action:    "get_attendance_stats",
		},
		{
			Name:             "query_activities",
			ShortDescription: "List scheduled activities and participation.",
			Description:      "List scheduled activities and participation.",
			Schema:           Schema{Parameters: []Parameter{queryParam}},
			RiskLevel:        RiskLow,
			MinRole:          RoleParent,
			Keywords:         []string{"活动", "课程", "安排", "activity", "event"},
			Action:           "get_activity_list",
		},
		{
			Name:             "query_fees",
			ShortDescription: "Look up fee collection totals and outstanding balances.",
			Description:      "Look up fee collection totals and outstanding balances.",
			Schema:           Schema{Parameters: []Parameter{queryParam}},
			RiskLevel:        RiskLow,
			MinRole:          RolePrincipal,
			Keywords:         []string{"费用", "学费", "收费", "缴费", "fee", "tuition"},
			Action:           "get_fee_stats",
		},
		{
			Name:             "query_enrollment",
			ShortDescription: "Look up enrollment applications and conversion.",
			Description:      "Look up enrollment applications and conversion.",
			Schema:           Schema{Parameters: []Parameter{queryParam}},
			RiskLevel:        RiskLow,
			MinRole:          RolePrincipal,
			Keywords:         []string{"招生", "报名", "入学", "enrol", "admission"},
			Action:           "get_enrollment_stats",
		},
		{
			Name:             "system_status",
			ShortDescription: "Report system health and assistant performance.",
			Description:      "Report system health and assistant performance.",
			RiskLevel:        RiskLow,
			MinRole:          RoleAdmin,
			Keywords:         []string{"系统", "状态", "性能", "system", "status"},
			Action:           "get_system_status",
		},
	}
}
