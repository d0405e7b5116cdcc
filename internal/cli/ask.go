// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/router"
)

// =============================================================================
// ASK
// =============================================================================

// askOptions are the flags of the ask command.
type askOptions struct {
	user         string
	role         string
	conversation string
	tools        bool
	webSearch    bool
}

func newAskCmd(g *globalOptions) *cobra.Command {
	o := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one query locally",
		Long: `Answer one query through the full dispatcher, without the HTTP server.

Examples:
  kgassist ask "有多少学生"
  kgassist ask --role principal --tools "分析本月出勤率下降的原因"
  kgassist ask --json "本月收费情况"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger := g.logger(cmd, cfg)

			app, err := newApp(cmd.Context(), cfg, logger, appOptions{Registerer: prometheus.NewRegistry()})
			if err != nil {
				return NewCommandError("ask", "startup", err)
			}
			defer app.Close()

			return runAsk(cmd.Context(), cmd.OutOrStdout(), g.jsonOutput, app.Dispatcher, o, strings.Join(args, " "), cfg.Timeouts.Request())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.user, "user", "cli", "user id")
	f.StringVar(&o.role, "role", "admin", "user role (user, teacher, principal, admin)")
	f.StringVar(&o.conversation, "conversation", "", "conversation id (default: a new one)")
	f.BoolVar(&o.tools, "tools", false, "offer function tools to the COMPLEX tier")
	f.BoolVar(&o.webSearch, "web-search", false, "offer web search to the COMPLEX tier")
	return cmd
}

// queryHandler is the dispatcher as seen by ask.
type queryHandler interface {
	Handle(ctx context.Context, q dispatch.Query) (*dispatch.Response, error)
}

func runAsk(ctx context.Context, w io.Writer, jsonMode bool, h queryHandler, o *askOptions, text string, timeout time.Duration) error {
	conv := o.conversation
	if conv == "" {
		conv = "cli-" + uuid.NewString()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q := dispatch.Query{
		Text:           text,
		ConversationID: conv,
		UserID:         o.user,
		RequestID:      uuid.NewString(),
		Metadata: dispatch.Metadata{
			EnableTools:     o.tools,
			EnableWebSearch: o.webSearch,
			UserRole:        o.role,
		},
	}
	return OutputJSON(w, jsonMode, "ask",
		func() (interface{}, error) { return h.Handle(ctx, q) },
		func(data interface{}) { printAnswer(w, data.(*dispatch.Response)) })
}

func printAnswer(w io.Writer, resp *dispatch.Response) {
	d := resp.Data
	switch v := d.Response.(type) {
	case string:
		fmt.Fprintln(w, v)
	default:
		out, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(out))
	}
	tier := d.Level.String()
	if d.Escalated {
		tier = d.InitialLevel.String() + " -> " + tier
	}
	fmt.Fprintf(w, "\n[%s via %s | tokens %d (saved %d) | %dms]\n",
		tier, d.Method, d.TokensUsed, d.TokensSaved, d.ProcessingTime)
}

// =============================================================================
// ROUTE
// =============================================================================

func newRouteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "route <query>",
		Short: "Show the routing decision for a query without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			rt, _, err := buildRouter(cfg, g.logger(cmd, cfg))
			if err != nil {
				return &ConfigError{Path: cfg.Routing.DictionaryDir, Err: err}
			}
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "route",
				func() (interface{}, error) {
					return rt.Route(cmd.Context(), strings.Join(args, " "))
				},
				func(data interface{}) { printRoute(w, data.(router.RouteResult)) })
		},
	}
}

func printRoute(w io.Writer, r router.RouteResult) {
	fmt.Fprintf(w, "Tier:        %s\n", r.Tier)
	fmt.Fprintf(w, "Confidence:  %.2f\n", r.Confidence)
	fmt.Fprintf(w, "Est. tokens: %d\n", r.EstimatedTokens)
	if r.Action != "" {
		fmt.Fprintf(w, "Action:      %s\n", r.Action)
	}
	if len(r.MatchedKeywords) > 0 {
		fmt.Fprintf(w, "Keywords:    %s\n", strings.Join(r.MatchedKeywords, ", "))
	}
	fmt.Fprintf(w, "Complexity:  %.2f (%s)\n", r.Complexity.Score, r.Complexity.Level)
}
