// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

// Built-in vocabulary and keyword table. External dictionary files are merged
// on top of these; see LoadDictionaryDir.

func defaultActions() Vocabulary {
	return Vocabulary{
		{Name: "create", Keywords: []string{"添加", "新增", "创建", "新建", "录入", "注册", "create", "add"}},
		{Name: "read", Keywords: []string{"查询", "查看", "显示", "列表", "查找", "搜索", "获取", "show", "list", "find"}},
		{Name: "update", Keywords: []string{"修改", "更新", "编辑", "变更", "调整", "update", "edit"}},
		{Name: "delete", Keywords: []string{"删除", "移除", "清除", "取消", "delete", "remove"}},
		{Name: "count", Keywords: []string{"统计", "总数", "数量", "多少", "计算", "汇总", "how many", "count", "number of", "total"}},
		{Name: "analyze", Keywords: []string{"分析", "评估", "报告", "趋势", "预测", "analyze", "analyse", "evaluate", "forecast"}},
		{Name: "navigate", Keywords: []string{"跳转", "打开", "进入", "访问", "导航", "open", "go to"}},
	}
}

func defaultEntities() Vocabulary {
	return Vocabulary{
		{Name: "student", Keywords: []string{"学生", "小朋友", "孩子", "幼儿", "儿童", "student", "child", "kid"}},
		{Name: "teacher", Keywords: []string{"教师", "老师", "班主任", "教职工", "员工", "teacher", "staff"}},
		{Name: "class", Keywords: []string{"班级", "小班", "中班", "大班", "年级", "class", "grade"}},
		{Name: "activity", Keywords: []string{"活动", "课程", "游戏", "项目", "课堂", "activit", "event", "course"}},
		{Name: "parent", Keywords: []string{"家长", "父母", "监护人", "parent", "guardian"}},
		{Name: "attendance", Keywords: []string{"考勤", "出勤", "签到", "到校", "attendance", "check-in"}},
		{Name: "fee", Keywords: []string{"费用", "学费", "收费", "缴费", "账单", "fee", "tuition", "bill"}},
		{Name: "schedule", Keywords: []string{"课表", "时间表", "安排", "计划", "schedule", "timetable"}},
		{Name: "health", Keywords: []string{"健康", "体检", "疫苗", "身高", "体重", "health", "vaccin"}},
		{Name: "enrollment", Keywords: []string{"招生", "报名", "入学", "enrol", "admission"}},
	}
}

func defaultModifiers() Vocabulary {
	return Vocabulary{
		{Name: "time", Keywords: []string{"今天", "昨天", "明天", "本周", "本月", "今年", "today", "yesterday", "tomorrow", "this week", "this month", "this year"}},
		{Name: "status", Keywords: []string{"已完成", "进行中", "未开始", "已取消", "completed", "ongoing", "pending", "cancelled"}},
		{Name: "age", Keywords: []string{"3岁", "4岁", "5岁", "6岁", "years old"}},
		{Name: "gender", Keywords: []string{"男孩", "女孩", "男", "女", "boy", "girl"}},
	}
}

// Canned responses shared by several phrases.
const (
	respCountStudents   = "正在查询学生总数..."
	respCountTeachers   = "正在查询教师总数..."
	respCountClasses    = "正在查询班级总数..."
	respCountParents    = "正在查询家长总数..."
	respCountUsers      = "正在查询用户总数..."
	respTodayActivities = "正在查询今日活动安排..."
	respActivityList    = "正在查询活动列表..."
	respAttendance      = "正在查询考勤统计数据..."
	respFees            = "正在查询费用统计数据..."
	respEnrollment      = "正在查询招生统计数据..."
	respSystemStatus    = "正在查询系统状态..."
	respPerformance     = "正在查询绩效统计..."
	respDescribe        = "我是幼儿园管理系统的AI助手，可以帮您查询学生、教师、班级、活动、考勤和费用等信息。"
)

func defaultMatches() []DirectMatch {
	return []DirectMatch{
		{Phrase: "学生总数", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "多少学生", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "学生数量", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "当前学生", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "今天有多少学生", Response: "正在查询今日在校学生数...", Action: "get_attendance_stats", Tokens: 15},
		{Phrase: "在校学生", Response: "正在查询在校学生数...", Action: "count_students", Tokens: 10},
		{Phrase: "教师总数", Response: respCountTeachers, Action: "count_teachers", Tokens: 10},
		{Phrase: "今日活动", Response: respTodayActivities, Action: "get_today_activities", Tokens: 15},
		{Phrase: "考勤统计", Response: respAttendance, Action: "get_attendance_stats", Tokens: 20},
		{Phrase: "费用统计", Response: respFees, Action: "get_fee_stats", Tokens: 20},
		{Phrase: "活动列表", Response: respActivityList, Action: "get_activity_list", Tokens: 15},
		{Phrase: "家长总数", Response: respCountParents, Action: "count_parents", Tokens: 10},
		{Phrase: "班级总数", Response: respCountClasses, Action: "count_classes", Tokens: 10},
		{Phrase: "招生统计", Response: respEnrollment, Action: "get_enrollment_stats", Tokens: 20},
		{Phrase: "用户总数", Response: respCountUsers, Action: "count_users", Tokens: 10},
		{Phrase: "系统状态", Response: respSystemStatus, Action: "get_system_status", Tokens: 15},
		{Phrase: "绩效统计", Response: respPerformance, Action: "get_performance_stats", Tokens: 15},
		{Phrase: "你是谁", Response: respDescribe, Action: "describe_assistant", Tokens: 10},
		{Phrase: "你能做什么", Response: respDescribe, Action: "describe_assistant", Tokens: 10},

		{Phrase: "how many students", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "number of students", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "student count", Response: respCountStudents, Action: "count_students", Tokens: 10},
		{Phrase: "how many teachers", Response: respCountTeachers, Action: "count_teachers", Tokens: 10},
		{Phrase: "how many classes", Response: respCountClasses, Action: "count_classes", Tokens: 10},
		{Phrase: "how many parents", Response: respCountParents, Action: "count_parents", Tokens: 10},
		{Phrase: "today's activities", Response: respTodayActivities, Action: "get_today_activities", Tokens: 15},
		{Phrase: "attendance stats", Response: respAttendance, Action: "get_attendance_stats", Tokens: 20},
		{Phrase: "fee stats", Response: respFees, Action: "get_fee_stats", Tokens: 20},
		{Phrase: "system status", Response: respSystemStatus, Action: "get_system_status", Tokens: 15},
	}
}

// defaultResponseActions backs action inference for entries that carry a
// canned response but no action (typically from external dictionaries).
func defaultResponseActions() []ResponseAction {
	return []ResponseAction{
		{Response: respCountStudents, Action: "count_students"},
		{Response: "正在查询在校学生数...", Action: "count_students"},
		{Response: respCountTeachers, Action: "count_teachers"},
		{Response: respCountClasses, Action: "count_classes"},
		{Response: respCountParents, Action: "count_parents"},
		{Response: respCountUsers, Action: "count_users"},
		{Response: respTodayActivities, Action: "get_today_activities"},
		{Response: respActivityList, Action: "get_activity_list"},
		{Response: respAttendance, Action: "get_attendance_stats"},
		{Response: respFees, Action: "get_fee_stats"},
		{Response: respEnrollment, Action: "get_enrollment_stats"},
		{Response: "正在查询客户统计数据...", Action: "get_customer_stats"},
		{Response: respSystemStatus, Action: "get_system_status"},
		{Response: respPerformance, Action: "get_performance_stats"},
	}
}

// DefaultDictionary returns the built-in dictionary.
func DefaultDictionary() *Dictionary {
	return &Dictionary{
		Actions:         defaultActions(),
		Entities:        defaultEntities(),
		Modifiers:       defaultModifiers(),
		Matches:         defaultMatches(),
		ResponseActions: defaultResponseActions(),
	}
}
