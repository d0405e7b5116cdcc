// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTable() *KeywordTable {
	return NewKeywordTable(defaultMatches(), true)
}

func TestKeywordTable_Match(t *testing.T) {
	table := defaultTable()

	tests := []struct {
		name   string
		query  string
		match  bool
		action string
	}{
		{"exact", "学生总数", true, "count_students"},
		{"containment", "请告诉我学生总数", true, "count_students"},
		{"reverse containment", "学生", true, "count_students"},
		{"english phrase", "How many students are enrolled?", true, "count_students"},
		{"full width", "ＨＯＷ ＭＡＮＹ ＴＥＡＣＨＥＲＳ", true, "count_teachers"},
		{"exact beats inquiry guard", "考勤统计", true, "get_attendance_stats"},
		{"self question", "你能做什么", true, "describe_assistant"},
		{"ui render declines", "用表格显示学生总数", false, ""},
		{"inquiry plus entity declines", "查询学生总数", false, ""},
		{"single rune", "学", false, ""},
		{"no match", "明天天气怎么样", false, ""},
		{"blank", "   ", false, ""},
		{"smart enrollment", "招生人数", true, "get_enrollment_stats"},
		{"smart activity", "活动情况", true, "get_activity_stats"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := table.Match(tt.query)
			require.Equal(t, tt.match, ok)
			assert.Equal(t, tt.action, m.Action)
			if ok {
				assert.Greater(t, m.Tokens, 0)
				assert.NotEmpty(t, m.Response)
			}
		})
	}
}

func TestKeywordTable_SmartMatchDisabled(t *testing.T) {
	table := NewKeywordTable(defaultMatches(), false)
	_, ok := table.Match("招生人数")
	assert.False(t, ok)
}

func TestKeywordTable_FirstEntryWins(t *testing.T) {
	table := NewKeywordTable([]DirectMatch{
		{Phrase: "班级", Response: "first", Action: "a"},
		{Phrase: "班级", Response: "duplicate", Action: "b"},
		{Phrase: "小班级", Response: "second", Action: "c"},
	}, false)

	require.Equal(t, 2, table.Len())

	m, ok := table.Match("小班级")
	require.True(t, ok)
	assert.Equal(t, "c", m.Action, "exact match is checked before containment")

	m, ok = table.Match("我的小班级里")
	require.True(t, ok)
	assert.Equal(t, "a", m.Action, "earlier entry wins containment")
}

func TestKeywordTable_EntriesIsCopy(t *testing.T) {
	table := defaultTable()
	entries := table.Entries()
	entries[0].Action = "mutated"

	m, ok := table.Match("学生总数")
	require.True(t, ok)
	assert.Equal(t, "count_students", m.Action)
}

func TestActionTable_Lookup(t *testing.T) {
	table := NewActionTable(defaultResponseActions(), []ResponseAction{
		{Response: respCountStudents, Action: "count_students_v2"},
		{Response: "", Action: "ignored"},
	})

	a, ok := table.Lookup(respCountTeachers)
	require.True(t, ok)
	assert.Equal(t, "count_teachers", a)

	a, ok = table.Lookup(respCountStudents)
	require.True(t, ok)
	assert.Equal(t, "count_students_v2", a, "later lists override")

	_, ok = table.Lookup("正在查询学生总数...并附加说明")
	assert.False(t, ok, "lookup is by identifier, never by substring")

	_, ok = table.Lookup("")
	assert.False(t, ok)

	var nilTable *ActionTable
	_, ok = nilTable.Lookup(respCountStudents)
	assert.False(t, ok)
	assert.Zero(t, nilTable.Len())
}

func TestDirectMatch_Identifier(t *testing.T) {
	assert.Equal(t, "resp", DirectMatch{Response: "resp"}.Identifier())
	assert.Equal(t, "id-1", DirectMatch{Response: "resp", ResponseID: "id-1"}.Identifier())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "abc 123", Normalize("  ＡＢＣ　１２３ "))
	assert.Equal(t, "学生总数", Normalize("学生总数"))
}
