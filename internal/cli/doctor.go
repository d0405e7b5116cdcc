// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation for kgassist.
//
// Command: doctor
// Short:   Run installation health checks
//
// Health Checks Performed:
//   1. Database      - Opens the database and checks it has data
//   2. Dictionaries  - Parses the dictionary directory and its actions
//   3. Provider Key  - Checks an API key is configured
//   4. Provider      - Calls GET /models on the provider
//   5. Search Cache  - Pings Redis when the cache is configured
//   6. Tokens        - Checks the HTTP API has bearer tokens
//
// Exit Codes:
//   0   No check failed (warnings allowed)
//   1   One or more checks failed

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/actions"
	"github.com/jeranaias/kgassist/internal/config"
	"github.com/jeranaias/kgassist/internal/storage"
)

// checkTimeout bounds each network check.
const checkTimeout = 5 * time.Second

// errChecksFailed is returned when at least one check failed.
var errChecksFailed = errors.New("health checks failed")

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Symbol returns the bracketed marker printed before a check.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return "[OK]"
	case CheckWarn:
		return "[!!]"
	default:
		return "[FAIL]"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	// Fix is a suggested command or instruction.
	Fix string `json:"fix,omitempty"`
}

// DoctorReport is the doctor command result.
type DoctorReport struct {
	Checks []HealthCheck `json:"checks"`
	Passed int           `json:"passed"`
	Warned int           `json:"warned"`
	Failed int           `json:"failed"`
}

func newReport(checks []HealthCheck) *DoctorReport {
	r := &DoctorReport{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			r.Passed++
		case CheckWarn:
			r.Warned++
		default:
			r.Failed++
		}
	}
	return r
}

// =============================================================================
// COMMAND
// =============================================================================

func newDoctorCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run installation health checks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			report := newReport(runChecks(cmd.Context(), cfg, &http.Client{Timeout: checkTimeout}))
			err = OutputJSON(w, g.jsonOutput, "doctor",
				func() (interface{}, error) { return report, nil },
				func(data interface{}) { printDoctor(w, data.(*DoctorReport)) })
			if err != nil || report.Failed == 0 {
				return err
			}
			err = fmt.Errorf("%w: %d of %d", errChecksFailed, report.Failed, len(report.Checks))
			if g.jsonOutput {
				return errPrinted{err}
			}
			return err
		},
	}
}

func printDoctor(w io.Writer, r *DoctorReport) {
	fmt.Fprintln(w, "kgassist doctor")
	fmt.Fprintln(w, strings.Repeat("=", 41))
	for _, c := range r.Checks {
		fmt.Fprintf(w, "%-6s %-13s %s\n", c.Status.Symbol(), c.Name, c.Message)
		if c.Status != CheckPass && c.Fix != "" {
			fmt.Fprintf(w, "       -> %s\n", c.Fix)
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", 41))
	fmt.Fprintf(w, "%d passed, %d warning, %d failed\n", r.Passed, r.Warned, r.Failed)
}

// =============================================================================
// CHECKS
// =============================================================================

func runChecks(ctx context.Context, cfg *config.Config, client *http.Client) []HealthCheck {
	return []HealthCheck{
		checkDatabase(ctx, cfg),
		checkDictionaryDir(cfg),
		checkProviderKey(cfg),
		checkProvider(ctx, cfg, client),
		checkSearchCache(ctx, cfg),
		checkTokens(cfg),
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Database"}
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		c.Fix = "Check storage.path is writable"
		return c
	}
	defer db.Close()

	n, err := db.Count(ctx, storage.EntityStudents)
	switch {
	case err != nil:
		c.Status, c.Message = CheckFail, err.Error()
	case n == 0:
		c.Status, c.Message = CheckWarn, fmt.Sprintf("%s has no students", cfg.Storage.Path)
		c.Fix = "Run: kgassist db seed"
	default:
		c.Status, c.Message = CheckPass, fmt.Sprintf("%s (%d students)", cfg.Storage.Path, n)
	}
	return c
}

func checkDictionaryDir(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Dictionaries"}
	dir := cfg.Routing.DictionaryDir
	if dir == "" {
		c.Status, c.Message = CheckPass, "built-in dictionary only"
		return c
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		c.Status, c.Message = CheckWarn, fmt.Sprintf("%s does not exist, using the built-in dictionary", dir)
		c.Fix = "Create the directory or set routing.dictionary_dir"
		return c
	}
	report, err := checkDictionaries(dir, actions.New(actions.Options{}))
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		c.Fix = "Run: kgassist dict check " + dir
		return c
	}
	c.Status = CheckPass
	c.Message = fmt.Sprintf("%s (%d direct matches)", dir, report.DirectMatches)
	return c
}

func checkProviderKey(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Provider Key"}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		c.Status, c.Message = CheckWarn, "no API key; only DIRECT queries will be answered"
		c.Fix = "Set KGASSIST_API_KEY or provider.api_key"
		return c
	}
	c.Status, c.Message = CheckPass, "configured"
	return c
}

func checkProvider(ctx context.Context, cfg *config.Config, client *http.Client) HealthCheck {
	c := HealthCheck{Name: "Provider"}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		c.Status, c.Message = CheckWarn, "skipped without an API key"
		return c
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	endpoint := strings.TrimSuffix(cfg.Provider.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		return c
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Provider.APIKey)
	resp, err := client.Do(req)
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		c.Fix = "Check provider.base_url and network access"
		return c
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		c.Status, c.Message = CheckPass, fmt.Sprintf("%s reachable, model %s", cfg.Provider.BaseURL, cfg.Provider.Model)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.Status, c.Message = CheckFail, fmt.Sprintf("API key rejected (HTTP %d)", resp.StatusCode)
		c.Fix = "Check the API key"
	default:
		c.Status, c.Message = CheckWarn, fmt.Sprintf("unexpected HTTP %d from %s", resp.StatusCode, endpoint)
	}
	return c
}

func checkSearchCache(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Search Cache"}
	if cfg.Semantic.RedisAddr == "" {
		c.Status, c.Message = CheckPass, "disabled"
		return c
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Semantic.RedisAddr,
		Password: cfg.Semantic.RedisPassword,
		DB:       cfg.Semantic.RedisDB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.Status, c.Message = CheckWarn, fmt.Sprintf("%s unreachable: %v", cfg.Semantic.RedisAddr, err)
		c.Fix = "Searches still work uncached; start Redis or clear semantic.redis_addr"
		return c
	}
	c.Status, c.Message = CheckPass, cfg.Semantic.RedisAddr
	return c
}

func checkTokens(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Tokens"}
	if len(cfg.Server.Tokens) == 0 {
		c.Status, c.Message = CheckWarn, "no bearer tokens; the API rejects every query unless run with --anonymous"
		c.Fix = "Add [[server.tokens]] entries to the config file"
		return c
	}
	c.Status, c.Message = CheckPass, fmt.Sprintf("%d configured", len(cfg.Server.Tokens))
	return c
}
