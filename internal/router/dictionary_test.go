// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDictionary = `{
  "// note": "comment keys are skipped",
  "directMatches": {
    "// section": "ignored",
    "晨检记录": {"response": "正在查询晨检记录...", "action": "get_health_checks", "tokens": 15},
    "学生总数": {"response": "正在统计在册学生..."},
    "午睡安排": {"response": "正在查询午睡安排..."}
  },
  "queryTemplates": {
    "本月新生": {"response": "正在查询本月新生...", "description": "new enrollments"}
  },
  "responseActions": {
    "正在查询午睡安排...": "get_nap_schedule"
  },
  "entities": {
    "student": ["宝宝", "ＢＡＢＹ"],
    "meal": ["午餐", "食谱"]
  }
}`

func writeDictionary(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDictionary(t *testing.T) {
	d, err := ParseDictionary([]byte(sampleDictionary))
	require.NoError(t, err)

	require.Len(t, d.Matches, 4)
	phrases := []string{d.Matches[0].Phrase, d.Matches[1].Phrase, d.Matches[2].Phrase, d.Matches[3].Phrase}
	assert.Equal(t, []string{"晨检记录", "学生总数", "午睡安排", "本月新生"}, phrases, "document order is kept")

	assert.Equal(t, "get_health_checks", d.Matches[0].Action)
	assert.Equal(t, 15, d.Matches[0].Tokens)
	assert.Equal(t, defaultEntryTokens, d.Matches[1].Tokens)
	assert.Empty(t, d.Matches[1].Action)
	assert.Equal(t, TemplateAction, d.Matches[3].Action)

	require.Len(t, d.ResponseActions, 1)
	assert.Equal(t, "get_nap_schedule", d.ResponseActions[0].Action)

	assert.Equal(t, []string{"宝宝", "baby"}, d.Entities.Keywords("student"))
	assert.Equal(t, []string{"午餐", "食谱"}, d.Entities.Keywords("meal"))
}

func TestParseDictionary_Invalid(t *testing.T) {
	for name, data := range map[string]string{
		"not json":      "{",
		"array root":    "[]",
		"bad entry":     `{"directMatches": {"x": "not an object"}}`,
		"bad category":  `{"entities": {"student": "学生"}}`,
		"bad action":    `{"responseActions": {"x": 1}}`,
		"trailing junk": `{"directMatches": {}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDictionary([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadDictionaryDir(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "10-kindergarten.json", sampleDictionary)
	writeDictionary(t, dir, "20-extra.json", `{"directMatches": {"晨检记录": {"response": "shadowed"}}}`)
	writeDictionary(t, dir, "notes.txt", "not a dictionary")

	d, err := LoadDictionaryDir(dir)
	require.NoError(t, err)

	table := NewKeywordTable(d.Matches, true)

	m, ok := table.Match("晨检记录")
	require.True(t, ok)
	assert.Equal(t, "get_health_checks", m.Action, "earlier file wins")

	m, ok = table.Match("学生总数")
	require.True(t, ok)
	assert.Equal(t, "正在统计在册学生...", m.Response, "files win over built-ins")

	m, ok = table.Match("教师总数")
	require.True(t, ok, "built-ins are still present")
	assert.Equal(t, "count_teachers", m.Action)

	student := d.Entities.Keywords("student")
	assert.Contains(t, student, "学生")
	assert.Contains(t, student, "宝宝")

	actions := NewActionTable(d.ResponseActions)
	a, ok := actions.Lookup("正在查询午睡安排...")
	require.True(t, ok)
	assert.Equal(t, "get_nap_schedule", a)
	a, ok = actions.Lookup(respCountStudents)
	require.True(t, ok)
	assert.Equal(t, "count_students", a)
}

func TestLoadDictionaryDir_Missing(t *testing.T) {
	d, err := LoadDictionaryDir(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Len(t, d.Matches, len(defaultMatches()))

	d, err = LoadDictionaryDir("")
	require.NoError(t, err)
	assert.Len(t, d.Matches, len(defaultMatches()))
}

func TestLoadDictionaryDir_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeDictionary(t, dir, "broken.json", "{")

	_, err := LoadDictionaryDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestDictionaryWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	r := New(nil, DefaultOptions(), zerolog.Nop())

	w, err := NewDictionaryWatcher(dir, r, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	writeDictionary(t, dir, "live.json", sampleDictionary)

	require.Eventually(t, func() bool {
		res, err := r.Route(context.Background(), "晨检记录")
		return err == nil && res.Tier == TierDirect
	}, 5*time.Second, 20*time.Millisecond)

	// A broken file keeps the last good tables.
	writeDictionary(t, dir, "live.json", "{")
	time.Sleep(200 * time.Millisecond)

	res, err := r.Route(context.Background(), "晨检记录")
	require.NoError(t, err)
	assert.Equal(t, TierDirect, res.Tier)
}
