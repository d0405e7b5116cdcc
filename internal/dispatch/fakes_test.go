// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jeranaias/kgassist/internal/tools"
)

type fakeActions struct {
	mu      sync.Mutex
	results map[string]*ActionResult
	err     error
	calls   []string
}

func (f *fakeActions) Execute(_ context.Context, action, _ string) (*ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[action]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, errors.New("unknown action " + action)
}

type fakeProvider struct {
	mu       sync.Mutex
	text     string
	tokens   int
	err      error
	toolCall *tools.ToolCall
	requests []CompletionRequest
	calls    atomic.Int64
	block    bool
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.toolCall != nil && n == 1 {
		return &Completion{ToolCalls: []tools.ToolCall{*f.toolCall}, TokensUsed: 40}, nil
	}
	return &Completion{Text: f.text, TokensUsed: f.tokens}, nil
}

func (f *fakeProvider) last() CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeIndex struct {
	matches []EntityMatch
	err     error
}

func (f *fakeIndex) Search(_ context.Context, _ string, topK int) ([]EntityMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

type fakeStore struct {
	mu        sync.Mutex
	history   []Turn
	memory    []MemorySnippet
	histErr   error
	appendErr error
	appended  []Turn
}

func (f *fakeStore) History(_ context.Context, _ string, limit int) ([]Turn, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	h := f.history
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h, nil
}

func (f *fakeStore) Memory(_ context.Context, _ string, limit int) ([]MemorySnippet, error) {
	m := f.memory
	if len(m) > limit {
		m = m[:limit]
	}
	return m, nil
}

func (f *fakeStore) Append(_ context.Context, turns ...Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, turns...)
	return nil
}

type fakeStatus struct {
	report *StatusReport
	err    error
}

func (f *fakeStatus) StatusReport(context.Context) (*StatusReport, error) {
	return f.report, f.err
}

type fakeToolRunner struct {
	calls []tools.ToolCall
}

func (f *fakeToolRunner) Run(_ context.Context, call tools.ToolCall) tools.Result {
	f.calls = append(f.calls, call)
	return tools.Result{Success: true, Output: "在校学生 120 人"}
}
