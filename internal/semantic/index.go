// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package semantic

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/router"
)

// Confidence weights. A single entity keyword alone scores 0.7; with an
// action verb it crosses the default direct-action threshold of 0.8.
const (
	baseConfidence    = 0.5
	perKeywordBonus   = 0.2
	maxKeywordBonuses = 2
	intentBonus       = 0.15
	maxConfidence     = 0.99
)

// suggestions maps entity -> action verb -> directory action. The "*" verb
// applies when no listed verb matched but some verb did.
var suggestions = map[string]map[string]string{
	"student": {
		"count": "count_students",
		"read":  "get_student_stats",
		"*":     "get_student_stats",
	},
	"teacher": {"count": "count_teachers", "*": "count_teachers"},
	"class":   {"count": "count_classes", "*": "count_classes"},
	"parent":  {"count": "count_parents", "*": "count_parents"},
	"activity": {
		"count": "get_activity_stats",
		"read":  "get_activity_list",
		"*":     "get_activity_list",
	},
	"attendance": {"*": "get_attendance_stats"},
	"fee":        {"*": "get_fee_stats"},
	"enrollment": {"*": "get_enrollment_stats"},
}

// actionVerbs are the verb categories that make an intent concrete enough
// for a direct action. Mutating and navigation verbs never do.
var actionVerbs = map[string]bool{"count": true, "read": true, "analyze": true}

type vocab struct {
	entities router.Vocabulary
	actions  router.Vocabulary
	keywords int
}

// Index is a vocabulary-based dispatch.SemanticIndex built from the router
// dictionary. It does no embedding; confidence comes from keyword coverage.
type Index struct {
	current  atomic.Pointer[vocab]
	searches atomic.Int64
	logger   zerolog.Logger
}

var _ dispatch.SemanticIndex = (*Index)(nil)

// NewIndex builds an index. A nil dictionary means the built-in one.
func NewIndex(d *router.Dictionary, logger zerolog.Logger) *Index {
	idx := &Index{logger: logger.With().Str("component", "semantic").Logger()}
	idx.current.Store(buildVocab(d))
	return idx
}

func buildVocab(d *router.Dictionary) *vocab {
	if d == nil {
		d = router.DefaultDictionary()
	}
	v := &vocab{entities: d.Entities, actions: d.Actions}
	for _, c := range d.Entities {
		v.keywords += len(c.Keywords)
	}
	return v
}

// Reload swaps in a new dictionary. It satisfies router.Reloader.
func (i *Index) Reload(d *router.Dictionary) {
	v := buildVocab(d)
	i.current.Store(v)
	i.logger.Info().Int("entities", len(v.entities)).Int("keywords", v.keywords).Msg("SEMANTIC_RELOAD")
}

// Search returns up to topK entity matches, most confident first.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]dispatch.EntityMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.searches.Add(1)
	if topK <= 0 {
		return nil, nil
	}

	v := i.current.Load()
	q := router.Normalize(query)

	verbs, _ := v.actions.Match(q)
	intent := ""
	for _, verb := range verbs {
		if actionVerbs[verb] {
			intent = verb
			break
		}
	}

	var out []dispatch.EntityMatch
	for _, c := range v.entities {
		_, hits := router.Vocabulary{c}.Match(q)
		if len(hits) == 0 {
			continue
		}
		conf := baseConfidence + perKeywordBonus*float64(min(len(hits), maxKeywordBonuses))
		if intent != "" {
			conf += intentBonus
		}
		if conf > maxConfidence {
			conf = maxConfidence
		}
		m := dispatch.EntityMatch{
			Entity:     hits[0],
			Category:   c.Name,
			Confidence: conf,
			Keywords:   hits,
		}
		if intent != "" {
			m.SuggestedAction = suggest(c.Name, intent)
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Confidence > out[b].Confidence })
	if len(out) > topK {
		out = out[:topK]
	}

	i.logger.Debug().
		Str("query", query).
		Int("matches", len(out)).
		Str("intent", intent).
		Msg("SEMANTIC_SEARCH")
	return out, nil
}

func suggest(entity, verb string) string {
	byVerb, ok := suggestions[entity]
	if !ok {
		return ""
	}
	if a, ok := byVerb[verb]; ok {
		return a
	}
	return byVerb["*"]
}

// IndexStats is the semantic section of the stats endpoint.
type IndexStats struct {
	Entities    int   `json:"entities"`
	Keywords    int   `json:"keywords"`
	Searches    int64 `json:"searches"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// Stats returns index counters.
func (i *Index) Stats() IndexStats {
	v := i.current.Load()
	return IndexStats{Entities: len(v.entities), Keywords: v.keywords, Searches: i.searches.Load()}
}
