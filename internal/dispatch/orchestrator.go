// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/telemetry"
)

// Status report presentation.
const (
	statusReportText  = "为您展示机构现状报表，包含班级、学生、教师等关键指标数据："
	statusReportTitle = "机构现状报表"
)

// maxEscalations bounds retries per request.
const maxEscalations = 1

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes the dispatcher.
type Config struct {
	// ReferenceBudget is the baseline tokens-saved is measured against.
	ReferenceBudget int
	// InvalidPhrases extends DefaultInvalidPhrases.
	InvalidPhrases []string
	// ActionTimeout bounds one action execution.
	ActionTimeout time.Duration
	Semantic      SemanticConfig
	Complex       ComplexConfig
	// RecordConversation appends successful exchanges to the store.
	RecordConversation bool
}

// Deps are the dispatcher's collaborators. Router and Provider are required.
type Deps struct {
	Router     *router.Router
	Actions    ActionRunner
	Index      SemanticIndex
	Provider   Provider
	Store      ConversationStore
	Tools      ToolSelector
	ToolRunner ToolRunner
	Status     StatusReporter
	Aggregator *telemetry.Aggregator
	Metrics    *telemetry.Metrics
	Logger     zerolog.Logger
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher is the single entry point for assistant queries. It is safe for
// concurrent use; the aggregator is the only shared mutable state.
type Dispatcher struct {
	cfg       Config
	router    *router.Router
	status    StatusReporter
	store     ConversationStore
	agg       *telemetry.Aggregator
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	validator *Validator

	direct   *DirectExecutor
	semantic *SemanticExecutor
	complex  *ComplexExecutor
}

// New wires a dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Router == nil {
		return nil, errors.New("dispatch: router is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("dispatch: provider is required")
	}
	agg := deps.Aggregator
	if agg == nil {
		agg = telemetry.NewAggregator(cfg.ReferenceBudget)
	}
	logger := deps.Logger.With().Str("component", "dispatch").Logger()

	return &Dispatcher{
		cfg:       cfg,
		router:    deps.Router,
		status:    deps.Status,
		store:     deps.Store,
		agg:       agg,
		metrics:   deps.Metrics,
		logger:    logger,
		validator: NewValidator(cfg.InvalidPhrases...),
		direct:    NewDirectExecutor(deps.Actions, deps.Router, cfg.ActionTimeout, logger),
		semantic:  NewSemanticExecutor(deps.Index, deps.Actions, deps.Provider, withActionTimeout(cfg.Semantic, cfg.ActionTimeout), logger),
		complex:   NewComplexExecutor(deps.Store, deps.Provider, deps.Tools, deps.ToolRunner, cfg.Complex, logger),
	}, nil
}

func withActionTimeout(c SemanticConfig, d time.Duration) SemanticConfig {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d
	}
	return c
}

// Aggregator returns the performance aggregator.
func (d *Dispatcher) Aggregator() *telemetry.Aggregator {
	return d.agg
}

// Router returns the query router.
func (d *Dispatcher) Router() *router.Router {
	return d.router
}

// state is a step of the escalation state machine.
type state int

const (
	stateRouted state = iota
	stateTierExecuted
	stateValidated
	stateEscalated
	stateDone
)

// Handle answers one query. Errors are returned only for invalid requests,
// cancellation and broken wiring; tier failures are absorbed by escalation.
func (d *Dispatcher) Handle(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	if q.RequestID == "" {
		q.RequestID = uuid.NewString()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	route, err := d.router.Route(ctx, q.Text)
	if err != nil {
		if errors.Is(err, router.ErrEmptyQuery) || errors.Is(err, router.ErrQueryTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, err
	}

	if route.SpecialCase == router.SpecialStatusReport && d.status != nil {
		if resp, ok := d.statusReport(ctx, q, route, start); ok {
			return resp, nil
		}
	}

	var (
		st        = stateRouted
		tier      = route.Tier
		result    *ExecutionResult
		verr      error
		attempts  []router.Tier
		escalated int
		tokens    int
		reason    string
	)

	for st != stateDone {
		switch st {
		case stateRouted, stateEscalated:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result = d.execute(ctx, tier, route, q)
			attempts = append(attempts, tier)
			if result != nil {
				tokens += result.TokensUsed
			}
			st = stateTierExecuted

		case stateTierExecuted:
			verr = d.validator.Validate(result)
			st = stateValidated

		case stateValidated:
			if verr == nil {
				st = stateDone
				continue
			}
			var ve *ValidationError
			if errors.As(verr, &ve) {
				d.metrics.TierFailed(tier.String(), ve.Reason)
			}
			next := tier.Escalate()
			if next == nil || escalated >= maxEscalations {
				d.logger.Warn().
					Str("request_id", q.RequestID).
					Stringer("tier", tier).
					Err(verr).
					Msg("final tier result invalid, returning as-is")
				st = stateDone
				continue
			}
			if ve != nil && reason == "" {
				reason = ve.Reason
			}
			d.logger.Info().
				Str("request_id", q.RequestID).
				Stringer("from", tier).
				Stringer("to", *next).
				Err(verr).
				Msg("ESCALATE")
			tier = *next
			escalated++
			st = stateEscalated
		}
	}

	// A cancelled request records nothing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	saved := telemetry.TokensSaved(d.agg.ReferenceBudget(), tokens)
	outcome := telemetry.Outcome{
		Tier:          tier,
		RoutedTier:    route.Tier,
		TokensUsed:    tokens,
		Latency:       elapsed,
		Escalated:     escalated > 0,
		InvalidReason: reason,
	}
	d.agg.Record(outcome)
	d.metrics.Record(outcome, d.agg.ReferenceBudget())

	resp := &Response{
		Success:   true,
		RequestID: q.RequestID,
		Trace:     result.Trace,
		Attempts:  attempts,
		Data: ResponseData{
			Response:        responseBody(result),
			Level:           tier,
			InitialLevel:    route.Tier,
			Confidence:      route.Confidence,
			TokensUsed:      tokens,
			EstimatedTokens: route.EstimatedTokens,
			TokensSaved:     saved,
			ProcessingTime:  elapsed.Milliseconds(),
			Method:          result.Method,
			Escalated:       escalated > 0,
			NavigationPath:  result.NavigationPath,
			AdditionalData:  additionalData(result),
		},
	}

	d.logger.Info().
		Str("request_id", q.RequestID).
		Stringer("routed", route.Tier).
		Stringer("final", tier).
		Str("method", string(result.Method)).
		Bool("escalated", escalated > 0).
		Int("tokens", tokens).
		Int("saved", saved).
		Dur("elapsed", elapsed).
		Msg("REQUEST_COMPLETE")

	if verr == nil {
		d.recordConversation(ctx, q, result)
	}
	return resp, nil
}

// execute is the single tier dispatch site.
func (d *Dispatcher) execute(ctx context.Context, tier router.Tier, route router.RouteResult, q Query) *ExecutionResult {
	var res *ExecutionResult
	switch tier {
	case router.TierDirect:
		res = d.direct.Execute(ctx, route, q.Text)
	case router.TierSemantic:
		res = d.semantic.Execute(ctx, route, q)
	case router.TierComplex:
		res = d.complex.Execute(ctx, route, q)
	}
	if res == nil {
		// Only reachable through an out-of-range Tier value.
		return &ExecutionResult{Tier: tier, Success: false, Error: fmt.Sprintf("no executor for tier %s", tier)}
	}
	d.logger.Debug().
		Str("request_id", q.RequestID).
		Stringer("tier", tier).
		Str("method", string(res.Method)).
		Bool("success", res.Success).
		Int("tokens", res.TokensUsed).
		Str("error", res.Error).
		Msg("TIER_EXECUTED")
	return res
}

func responseBody(r *ExecutionResult) any {
	if r.Text != "" || r.Data == nil {
		return r.Text
	}
	return r.Data
}

func additionalData(r *ExecutionResult) any {
	switch {
	case r.Text != "" && r.Data != nil:
		return r.Data
	case len(r.SemanticHits) > 0:
		return map[string]any{"semanticMatches": r.SemanticHits}
	case r.Trace != nil:
		return map[string]any{"contextInfo": r.Trace}
	}
	return nil
}

// =============================================================================
// SPECIAL CASES
// =============================================================================

// statusReport answers the composite status-report intent. ok is false when
// the reporter failed and routing must continue normally.
func (d *Dispatcher) statusReport(ctx context.Context, q Query, route router.RouteResult, start time.Time) (*Response, bool) {
	report, err := d.status.StatusReport(ctx)
	if err != nil || report == nil {
		d.logger.Warn().
			Str("request_id", q.RequestID).
			Err(err).
			Msg("status report failed, falling back to normal routing")
		return nil, false
	}

	elapsed := time.Since(start)
	outcome := telemetry.Outcome{
		Tier:        router.TierDirect,
		RoutedTier:  router.TierDirect,
		Latency:     elapsed,
		SpecialCase: true,
	}
	d.agg.Record(outcome)
	d.metrics.Record(outcome, d.agg.ReferenceBudget())

	d.logger.Info().
		Str("request_id", q.RequestID).
		Stringer("special", route.SpecialCase).
		Dur("elapsed", elapsed).
		Msg("REQUEST_COMPLETE")

	return &Response{
		Success:   true,
		RequestID: q.RequestID,
		Attempts:  []router.Tier{router.TierDirect},
		Data: ResponseData{
			Response:        statusReportText,
			Level:           router.TierDirect,
			InitialLevel:    router.TierDirect,
			Confidence:      1.0,
			TokensUsed:      0,
			EstimatedTokens: 0,
			TokensSaved:     d.agg.ReferenceBudget(),
			ProcessingTime:  elapsed.Milliseconds(),
			Method:          MethodStatusReport,
			UIInstruction: &UIInstruction{
				Type: "render_component",
				Component: UIComponent{
					Type:  "stat-card",
					Title: statusReportTitle,
					Data:  report,
				},
			},
			AdditionalData: report,
		},
	}, true
}

// recordConversation stores the exchange. Failures are logged only.
func (d *Dispatcher) recordConversation(ctx context.Context, q Query, r *ExecutionResult) {
	if !d.cfg.RecordConversation || d.store == nil || r.Text == "" {
		return
	}
	now := time.Now()
	err := d.store.Append(ctx,
		Turn{
			ID:             uuid.NewString(),
			ConversationID: q.ConversationID,
			UserID:         q.UserID,
			Role:           RoleUser,
			Content:        q.Text,
			CreatedAt:      now,
		},
		Turn{
			ID:             uuid.NewString(),
			ConversationID: q.ConversationID,
			UserID:         q.UserID,
			Role:           RoleAssistant,
			Content:        r.Text,
			Tokens:         r.TokensUsed,
			CreatedAt:      now,
		},
	)
	if err != nil {
		d.logger.Warn().Err(err).Str("conversation", q.ConversationID).Msg("conversation not recorded")
	}
}
