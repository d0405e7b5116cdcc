// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/router"
)

// ActionInferer maps a canned-response identifier to an action name.
// *router.Router implements it.
type ActionInferer interface {
	InferAction(identifier string) (string, bool)
}

// DirectExecutor runs the DIRECT tier.
type DirectExecutor struct {
	actions ActionRunner
	infer   ActionInferer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDirectExecutor creates the executor. Both collaborators may be nil.
func NewDirectExecutor(actions ActionRunner, infer ActionInferer, timeout time.Duration, logger zerolog.Logger) *DirectExecutor {
	return &DirectExecutor{actions: actions, infer: infer, timeout: timeout, logger: logger}
}

// Execute tries the named action, then an inferred action, then the canned
// response. An action failure is a failed result, never an error.
func (e *DirectExecutor) Execute(ctx context.Context, route router.RouteResult, query string) *ExecutionResult {
	start := time.Now()

	action, source := route.Action, "route"
	if action == "" && e.infer != nil && route.ResponseID != "" {
		if inferred, ok := e.infer.InferAction(route.ResponseID); ok {
			action, source = inferred, "inferred"
		}
	}

	if action != "" && e.actions != nil {
		e.logger.Debug().Str("action", action).Str("source", source).Msg("direct action")
		return e.runAction(ctx, action, query, start)
	}

	return &ExecutionResult{
		Tier:           router.TierDirect,
		Success:        true,
		Text:           route.Response,
		TokensUsed:     route.EstimatedTokens,
		Method:         MethodDirectResponse,
		ProcessingTime: time.Since(start),
	}
}

func (e *DirectExecutor) runAction(ctx context.Context, action, query string, start time.Time) *ExecutionResult {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.actions.Execute(ctx, action, query)
	if err != nil {
		return failed(router.TierDirect, MethodDirectAction, start, fmt.Errorf("action %s: %w", action, err))
	}
	if res == nil {
		return failed(router.TierDirect, MethodDirectAction, start, errors.New("action returned no result"))
	}
	return &ExecutionResult{
		Tier:           router.TierDirect,
		Success:        res.Success,
		Text:           res.Response,
		Data:           res.Data,
		TokensUsed:     res.TokensUsed,
		Method:         MethodDirectAction,
		NavigationPath: res.NavigationPath,
		ProcessingTime: time.Since(start),
	}
}
