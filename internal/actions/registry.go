// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/telemetry"
	"github.com/jeranaias/kgassist/internal/tools"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownAction is returned for names that are not registered.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNoDirectory is returned by directory actions when no database is wired.
	ErrNoDirectory = errors.New("directory database not configured")
)

// =============================================================================
// TYPES
// =============================================================================

// Handler runs one action. query is the user's original text.
type Handler func(ctx context.Context, query string) (*dispatch.ActionResult, error)

// Action is a named, cheap operation answered without the provider.
type Action struct {
	Name        string
	Description string
	Handler     Handler
}

// Stats are per-action execution counters.
type Stats struct {
	Calls       int64         `json:"calls"`
	Failures    int64         `json:"failures"`
	TotalTime   time.Duration `json:"totalTime"`
	AverageTime time.Duration `json:"averageTime"`
}

// StatsSource exposes assistant-wide query statistics.
type StatsSource interface {
	Snapshot() telemetry.Snapshot
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps action names to handlers. It implements
// dispatch.ActionRunner and dispatch.StatusReporter.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	stats   map[string]*Stats

	dir     Directory
	perf    StatsSource
	logger  zerolog.Logger
	now     func() time.Time
	started time.Time
}

// Options configures a Registry.
type Options struct {
	// Directory backs the count and stats actions. May be nil.
	Directory Directory
	// Stats backs get_performance_stats. May be nil.
	Stats StatsSource
	// Now overrides the clock (tests).
	Now    func() time.Time
	Logger zerolog.Logger
}

// New creates a registry with every built-in action registered.
func New(opts Options) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		actions: make(map[string]Action),
		stats:   make(map[string]*Stats),
		dir:     opts.Directory,
		perf:    opts.Stats,
		logger:  opts.Logger,
		now:     now,
		started: now(),
	}
	r.registerBuiltins()
	return r
}

var (
	_ dispatch.ActionRunner   = (*Registry)(nil)
	_ dispatch.StatusReporter = (*Registry)(nil)
)

// Register adds or replaces an action.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
	if _, ok := r.stats[a.Name]; !ok {
		r.stats[a.Name] = &Stats{}
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Names lists registered actions in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named action. A handler error or an unsuccessful result
// counts as a failure.
func (r *Registry) Execute(ctx context.Context, action, query string) (*dispatch.ActionResult, error) {
	r.mu.RLock()
	a, ok := r.actions[action]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	start := time.Now()
	res, err := a.Handler(ctx, query)
	elapsed := time.Since(start)

	failed := err != nil || res == nil || !res.Success
	r.record(action, elapsed, failed)

	if err != nil {
		r.logger.Warn().Str("action", action).Err(err).Dur("duration", elapsed).Msg("ACTION_FAILED")
		return nil, fmt.Errorf("action %s: %w", action, err)
	}
	if res == nil {
		return nil, fmt.Errorf("action %s: no result", action)
	}
	res.ProcessingTime = elapsed
	r.logger.Debug().Str("action", action).Bool("success", res.Success).Dur("duration", elapsed).Msg("ACTION_EXECUTED")
	return res, nil
}

func (r *Registry) record(action string, d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[action]
	if s == nil {
		return
	}
	s.Calls++
	s.TotalTime += d
	if failed {
		s.Failures++
	}
}

// Stats returns a copy of the per-action counters for actions that ran.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats)
	for name, s := range r.stats {
		if s.Calls == 0 {
			continue
		}
		cp := *s
		cp.AverageTime = s.TotalTime / time.Duration(s.Calls)
		out[name] = cp
	}
	return out
}

// ToolFunc adapts the registry to tools.Runner. Unsuccessful results become
// errors so the provider sees them as failed tool calls.
func (r *Registry) ToolFunc() tools.ActionFunc {
	return func(ctx context.Context, action, query string) (string, error) {
		res, err := r.Execute(ctx, action, query)
		if err != nil {
			return "", err
		}
		if !res.Success {
			return "", errors.New(res.Response)
		}
		return res.Response, nil
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func success(text string, data any, tokens int) *dispatch.ActionResult {
	return &dispatch.ActionResult{Success: true, Response: text, Data: data, TokensUsed: tokens}
}

func (r *Registry) directory() (Directory, error) {
	if r.dir == nil {
		return nil, ErrNoDirectory
	}
	return r.dir, nil
}
