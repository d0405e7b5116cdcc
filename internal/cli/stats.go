// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/server"
)

// statsTimeout bounds the stats HTTP call.
const statsTimeout = 10 * time.Second

func newStatsCmd(g *globalOptions) *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Fetch performance statistics from a running server",
		Long: `Fetch GET /api/ai/stats from a running server.

The token defaults to $KGASSIST_TOKEN, then to the first configured token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if token == "" {
				token = os.Getenv("KGASSIST_TOKEN")
			}
			if token == "" && len(cfg.Server.Tokens) > 0 {
				token = cfg.Server.Tokens[0].Token
			}

			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "stats",
				func() (interface{}, error) {
					return fetchStats(cmd.Context(), http.DefaultClient, baseURL(addr), token)
				},
				func(data interface{}) { printStats(w, data.(*server.StatsResponse)) })
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server address (default server.addr)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

// baseURL turns a listen address into a client URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// fetchStats calls the stats endpoint and unwraps the {success, data} envelope.
func fetchStats(ctx context.Context, client *http.Client, base, token string) (*server.StatsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	endpoint := base + "/api/ai/stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool                 `json:"success"`
		Data    server.StatsResponse `json:"data"`
		Error   string               `json:"error"`
		Message string               `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode stats (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		return nil, fmt.Errorf("stats request failed: HTTP %d %s %s", resp.StatusCode, envelope.Error, envelope.Message)
	}
	return &envelope.Data, nil
}

func printStats(w io.Writer, s *server.StatsResponse) {
	p := s.Performance
	fmt.Fprintf(w, "Queries:        %d (uptime %s)\n", p.TotalQueries, p.Uptime)
	fmt.Fprintf(w, "  direct:       %d (%.1f%%)\n", p.DirectQueries, p.DirectQueryRate)
	fmt.Fprintf(w, "  semantic:     %d (%.1f%%)\n", p.SemanticQueries, p.SemanticQueryRate)
	fmt.Fprintf(w, "  complex:      %d (%.1f%%)\n", p.ComplexQueries, p.ComplexQueryRate)
	fmt.Fprintf(w, "  fallback:     %d (%.1f%%)\n", p.FallbackQueries, p.FallbackRate)
	fmt.Fprintf(w, "Tokens used:    %d\n", p.TotalTokensUsed)
	fmt.Fprintf(w, "Tokens saved:   %d (%.1f%% of %d/query)\n", p.TotalTokensSaved, p.TokenSavingRate, p.ReferenceBudget)
	fmt.Fprintf(w, "Avg latency:    %.0fms\n", p.AverageLatencyMs)

	if s.Actions != nil && len(s.Actions.PerAction) > 0 {
		fmt.Fprintf(w, "\nActions (%d executions, %d failures):\n", s.Actions.Executions, s.Actions.Failures)
		names := make([]string, 0, len(s.Actions.PerAction))
		for name := range s.Actions.PerAction {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := s.Actions.PerAction[name]
			if st.Calls == 0 {
				continue
			}
			fmt.Fprintf(w, "  %-28s %6d calls %4d failed\n", name, st.Calls, st.Failures)
		}
	}
	if s.Semantic != nil {
		fmt.Fprintf(w, "\nSemantic index: %d entities, %d searches, cache %d/%d hit/miss\n",
			s.Semantic.Entities, s.Semantic.Searches, s.Semantic.CacheHits, s.Semantic.CacheMisses)
	}
}
