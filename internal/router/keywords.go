// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ============================================================================
// NORMALIZATION
// ============================================================================

// Normalize folds a query for matching: NFKC (full-width to half-width),
// trimmed, lower-cased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// containsAny reports whether s contains any of the keywords.
func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ============================================================================
// DIRECT MATCH
// ============================================================================

// DirectMatch is one keyword table entry.
type DirectMatch struct {
	// Phrase is the key the query is matched against.
	Phrase string `json:"-"`
	// Response is the canned response text.
	Response string `json:"response"`
	// ResponseID identifies the canned response in the ActionTable.
	// Falls back to Response when empty.
	ResponseID string `json:"responseId,omitempty"`
	// Action is the named action to execute, if any.
	Action string `json:"action,omitempty"`
	// Tokens is the estimated token cost (near zero).
	Tokens int `json:"tokens"`
	// Description is informational only.
	Description string `json:"description,omitempty"`
}

// Identifier returns the canned-response identifier used for action inference.
func (m DirectMatch) Identifier() string {
	if m.ResponseID != "" {
		return m.ResponseID
	}
	return m.Response
}

// ============================================================================
// KEYWORD TABLE
// ============================================================================

// Keyword sets used by the match guards.
var (
	// uiRenderKeywords mark queries that want a rendered component; those need tools.
	uiRenderKeywords = []string{"用表格", "用图表", "用柱状图", "用折线图", "用饼图", "用卡片", "表格显示", "图表显示", "卡片显示"}

	// inquiryKeywords combined with dataEntityKeywords mark ad hoc data queries.
	inquiryKeywords    = []string{"查询", "查看", "获取", "统计", "分析"}
	dataEntityKeywords = []string{"班级", "学生", "教师", "家长", "活动", "招生", "考勤", "费用"}
)

// smartRule is a composite domain match: a subject word plus a statistic word.
type smartRule struct {
	subject []string
	stats   []string
	match   DirectMatch
}

var smartRules = []smartRule{
	{
		subject: []string{"招生"},
		stats:   []string{"查询", "查看", "统计", "数据", "情况", "人数", "多少"},
		match:   DirectMatch{Phrase: "招生*", Response: "正在查询招生统计数据...", Action: "get_enrollment_stats", Tokens: 20},
	},
	{
		subject: []string{"学生"},
		stats:   []string{"查询", "查看", "统计", "数据", "情况", "人数", "多少", "总数"},
		match:   DirectMatch{Phrase: "学生*", Response: "正在查询学生总数...", Action: "get_student_stats", Tokens: 20},
	},
	{
		subject: []string{"活动"},
		stats:   []string{"查询", "查看", "统计", "数据", "情况", "列表"},
		match:   DirectMatch{Phrase: "活动*", Response: "正在查询活动统计数据...", Action: "get_activity_stats", Tokens: 20},
	},
}

// KeywordTable is the static phrase -> canned response/action registry.
// It is immutable after construction; reloads build a new table.
type KeywordTable struct {
	entries []DirectMatch
	// normalized holds the folded phrase for each entry, same index.
	normalized []string
	exact      map[string]int
	smart      bool
}

// NewKeywordTable builds a table. Order matters: the first containment match wins.
func NewKeywordTable(entries []DirectMatch, smart bool) *KeywordTable {
	t := &KeywordTable{
		entries:    make([]DirectMatch, 0, len(entries)),
		normalized: make([]string, 0, len(entries)),
		exact:      make(map[string]int, len(entries)),
		smart:      smart,
	}
	for _, e := range entries {
		key := Normalize(e.Phrase)
		if key == "" {
			continue
		}
		if _, dup := t.exact[key]; dup {
			continue
		}
		t.exact[key] = len(t.entries)
		t.entries = append(t.entries, e)
		t.normalized = append(t.normalized, key)
	}
	return t
}

// Len returns the number of phrase entries.
func (t *KeywordTable) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table entries in match order.
func (t *KeywordTable) Entries() []DirectMatch {
	out := make([]DirectMatch, len(t.entries))
	copy(out, t.entries)
	return out
}

// Match looks the query up in the table.
//
// Order:
//  1. exact phrase
//  2. UI-render phrases decline (the tool tier renders components)
//  3. inquiry verb + data entity declines (ad hoc data question)
//  4. containment either way, first entry wins
//  5. composite domain rules (if enabled)
func (t *KeywordTable) Match(query string) (DirectMatch, bool) {
	q := Normalize(query)
	if q == "" {
		return DirectMatch{}, false
	}

	if i, ok := t.exact[q]; ok {
		return t.entries[i], true
	}

	if containsAny(q, uiRenderKeywords) {
		return DirectMatch{}, false
	}
	if containsAny(q, inquiryKeywords) && containsAny(q, dataEntityKeywords) {
		return DirectMatch{}, false
	}

	// Reverse containment needs at least two runes, otherwise a single
	// character would match half the table.
	reverse := utf8.RuneCountInString(q) >= 2
	for i, key := range t.normalized {
		if strings.Contains(q, key) || (reverse && strings.Contains(key, q)) {
			return t.entries[i], true
		}
	}

	if t.smart {
		for _, rule := range smartRules {
			if containsAny(q, rule.subject) && containsAny(q, rule.stats) {
				return rule.match, true
			}
		}
	}

	return DirectMatch{}, false
}

// ============================================================================
// RESPONSE -> ACTION TABLE
// ============================================================================

// ResponseAction maps a canned-response identifier to an action name.
type ResponseAction struct {
	Response string `toml:"response" json:"response"`
	Action   string `toml:"action" json:"action"`
}

// ActionTable infers an action from a canned-response identifier.
// Lookups are by identifier equality, never by substring.
type ActionTable struct {
	actions map[string]string
}

// NewActionTable builds a table; later entries override earlier ones.
func NewActionTable(entries ...[]ResponseAction) *ActionTable {
	t := &ActionTable{actions: make(map[string]string)}
	for _, list := range entries {
		for _, e := range list {
			if e.Response == "" || e.Action == "" {
				continue
			}
			t.actions[e.Response] = e.Action
		}
	}
	return t
}

// Lookup returns the action for a canned-response identifier.
func (t *ActionTable) Lookup(identifier string) (string, bool) {
	if t == nil || identifier == "" {
		return "", false
	}
	a, ok := t.actions[identifier]
	return a, ok
}

// Len returns the number of mappings.
func (t *ActionTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.actions)
}
