// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TemplateAction is the action assigned to queryTemplates entries that do not
// name one. No built-in action serves it, so such matches escalate.
const TemplateAction = "execute_sql_query"

// defaultEntryTokens is charged for dictionary entries with no token estimate.
const defaultEntryTokens = 10

// ============================================================================
// VOCABULARY
// ============================================================================

// Category is a named group of keywords (e.g. "student": 学生, 小朋友, ...).
type Category struct {
	Name     string
	Keywords []string
}

// Vocabulary is an ordered list of categories.
type Vocabulary []Category

// Match returns the names of the categories with at least one keyword in the
// normalized query, and the keywords that hit.
func (v Vocabulary) Match(normalized string) (categories, keywords []string) {
	for _, c := range v {
		hit := false
		for _, k := range c.Keywords {
			if containsTerm(normalized, k) {
				keywords = append(keywords, k)
				hit = true
			}
		}
		if hit {
			categories = append(categories, c.Name)
		}
	}
	return categories, keywords
}

// Keywords returns every keyword of the named category.
func (v Vocabulary) Keywords(name string) []string {
	for _, c := range v {
		if c.Name == name {
			return c.Keywords
		}
	}
	return nil
}

// merge adds other's keywords. Categories with the same name are combined.
func (v Vocabulary) merge(other Vocabulary) Vocabulary {
	out := make(Vocabulary, len(v))
	for i, c := range v {
		out[i] = Category{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)}
	}
	for _, oc := range other {
		idx := -1
		for i := range out {
			if out[i].Name == oc.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, Category{Name: oc.Name})
			idx = len(out) - 1
		}
		seen := make(map[string]bool, len(out[idx].Keywords))
		for _, k := range out[idx].Keywords {
			seen[k] = true
		}
		for _, k := range oc.Keywords {
			if !seen[k] {
				out[idx].Keywords = append(out[idx].Keywords, k)
				seen[k] = true
			}
		}
	}
	return out
}

// ============================================================================
// DICTIONARY
// ============================================================================

// Dictionary is everything the router reads from data: the keyword table
// entries, the response -> action mappings and the evaluator vocabularies.
type Dictionary struct {
	Actions         Vocabulary
	Entities        Vocabulary
	Modifiers       Vocabulary
	Matches         []DirectMatch
	ResponseActions []ResponseAction
}

// Merge folds other into d. Entries already in d keep precedence: matches
// from other are appended and the keyword table keeps the first duplicate.
// Response mappings from other never override d's.
func (d *Dictionary) Merge(other *Dictionary) {
	if other == nil {
		return
	}
	d.Actions = d.Actions.merge(other.Actions)
	d.Entities = d.Entities.merge(other.Entities)
	d.Modifiers = d.Modifiers.merge(other.Modifiers)
	d.Matches = append(d.Matches, other.Matches...)

	known := make(map[string]bool, len(d.ResponseActions))
	for _, ra := range d.ResponseActions {
		known[ra.Response] = true
	}
	for _, ra := range other.ResponseActions {
		if !known[ra.Response] {
			d.ResponseActions = append(d.ResponseActions, ra)
			known[ra.Response] = true
		}
	}
}

// ActionNames lists every action the dictionary references, sorted.
func (d *Dictionary) ActionNames() []string {
	seen := make(map[string]bool)
	for _, m := range d.Matches {
		if m.Action != "" {
			seen[m.Action] = true
		}
	}
	for _, ra := range d.ResponseActions {
		if ra.Action != "" {
			seen[ra.Action] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadDictionaryDir reads every *.json file in dir (sorted by name) and merges
// the built-in dictionary underneath. Earlier files take precedence over later
// ones and all files take precedence over the built-ins. A missing directory
// yields the built-in dictionary.
func LoadDictionaryDir(dir string) (*Dictionary, error) {
	d := &Dictionary{}
	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("list dictionaries: %w", err)
		}
		sort.Strings(files)
		for _, f := range files {
			fd, err := LoadDictionaryFile(f)
			if err != nil {
				return nil, err
			}
			d.Merge(fd)
		}
	}
	d.Merge(DefaultDictionary())
	return d, nil
}

// LoadDictionaryFile parses one dictionary file.
//
// Recognized top-level objects: directMatches, queryTemplates, responseActions,
// actions, entities, modifiers. Unknown keys and keys starting with "//" are
// ignored. Object order is preserved, so the file order is the match order.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	d, err := ParseDictionary(data)
	if err != nil {
		return nil, fmt.Errorf("parse dictionary %s: %w", path, err)
	}
	return d, nil
}

// ParseDictionary parses dictionary JSON.
func ParseDictionary(data []byte) (*Dictionary, error) {
	d := &Dictionary{}
	err := decodeOrdered(data, func(section string, raw json.RawMessage) error {
		switch section {
		case "directMatches":
			return decodeMatches(raw, "", &d.Matches)
		case "queryTemplates":
			return decodeMatches(raw, TemplateAction, &d.Matches)
		case "responseActions":
			return decodeOrdered(raw, func(resp string, v json.RawMessage) error {
				var action string
				if err := json.Unmarshal(v, &action); err != nil {
					return fmt.Errorf("responseActions[%q]: %w", resp, err)
				}
				d.ResponseActions = append(d.ResponseActions, ResponseAction{Response: resp, Action: action})
				return nil
			})
		case "actions":
			return decodeVocabulary(raw, &d.Actions)
		case "entities":
			return decodeVocabulary(raw, &d.Entities)
		case "modifiers":
			return decodeVocabulary(raw, &d.Modifiers)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func decodeMatches(raw json.RawMessage, defaultAction string, out *[]DirectMatch) error {
	return decodeOrdered(raw, func(phrase string, v json.RawMessage) error {
		var m DirectMatch
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("entry %q: %w", phrase, err)
		}
		m.Phrase = phrase
		if m.Action == "" {
			m.Action = defaultAction
		}
		if m.Tokens <= 0 {
			m.Tokens = defaultEntryTokens
		}
		*out = append(*out, m)
		return nil
	})
}

func decodeVocabulary(raw json.RawMessage, out *Vocabulary) error {
	return decodeOrdered(raw, func(name string, v json.RawMessage) error {
		var words []string
		if err := json.Unmarshal(v, &words); err != nil {
			return fmt.Errorf("category %q: %w", name, err)
		}
		c := Category{Name: name}
		for _, w := range words {
			if n := Normalize(w); n != "" {
				c.Keywords = append(c.Keywords, n)
			}
		}
		*out = append(*out, c)
		return nil
	})
}

// decodeOrdered walks a JSON object in document order, calling fn for each
// member. Comment keys ("//...") are skipped.
func decodeOrdered(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("value of %q: %w", key, err)
		}
		if strings.HasPrefix(key, "//") {
			continue
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
