// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kgassist/internal/config"
	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/server"
	"github.com/jeranaias/kgassist/internal/telemetry"
)

// =============================================================================
// HELPERS
// =============================================================================

// isolateEnv clears the environment overrides so the host cannot leak into
// a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "KGASSIST_API_KEY", "KGASSIST_BASE_URL", "KGASSIST_MODEL",
		"KGASSIST_DB", "KGASSIST_ADDR", "KGASSIST_REDIS_ADDR", "KGASSIST_DICTIONARY_DIR",
		"KGASSIST_LOG_LEVEL", "KGASSIST_LOG_FORMAT", "KGASSIST_TOKEN",
	} {
		t.Setenv(k, "")
	}
	t.Cleanup(config.ResetGlobalForTesting)
}

// writeConfig saves a config whose database and dictionaries live in a
// temporary directory.
func writeConfig(t *testing.T, mutate func(*config.Config)) (path string, cfg *config.Config) {
	t.Helper()
	isolateEnv(t)
	dir := t.TempDir()
	cfg = config.Default()
	cfg.Storage.Path = filepath.Join(dir, "kgassist.db")
	cfg.Routing.DictionaryDir = filepath.Join(dir, "dictionaries")
	cfg.Telemetry.SnapshotSchedule = "@every 1h"
	if mutate != nil {
		mutate(cfg)
	}
	path = filepath.Join(dir, "config.toml")
	require.NoError(t, config.SaveTOML(cfg, path))
	return path, cfg
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, _ := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeEnvelope(t *testing.T, out string) (JSONResponse, map[string]interface{}) {
	t.Helper()
	var raw struct {
		JSONResponse
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	return raw.JSONResponse, raw.Data
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kgassist "+Version)

	out, err = runCLI(t, "version", "--json")
	require.NoError(t, err)
	resp, data := decodeEnvelope(t, out)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "version", resp.Command)
	assert.Equal(t, Version, data["version"])
}

func TestConfigCommands(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	_, err := runCLI(t, "--config", path, "config", "init")
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = runCLI(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.ErrorIs(t, err, errConfigExists)
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	_, err = runCLI(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", path, "config", "get", "semantic.top_k")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	_, err = runCLI(t, "--config", path, "config", "set", "semantic.top_k", "5")
	require.NoError(t, err)
	out, err = runCLI(t, "--config", path, "config", "get", "semantic.top_k")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	_, err = runCLI(t, "--config", path, "config", "set", "semantic.direct_threshold", "7")
	require.Error(t, err, "invalid values are not saved")
	out, err = runCLI(t, "--config", path, "config", "get", "semantic.direct_threshold")
	require.NoError(t, err)
	assert.Equal(t, "0.8\n", out)

	_, err = runCLI(t, "--config", path, "config", "set", "no.such_key", "1")
	require.Error(t, err)
}

func TestConfigSet_DoesNotPersistEnvironment(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	_, err := runCLI(t, "--config", path, "config", "init")
	require.NoError(t, err)

	t.Setenv("KGASSIST_API_KEY", "sk-from-env")
	_, err = runCLI(t, "--config", path, "config", "set", "provider.model", "gpt-4o")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-from-env")
	assert.Contains(t, string(data), "gpt-4o")
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Provider.APIKey = "sk-secret-value"
		c.Server.Tokens = []config.TokenConfig{{Token: "tok-secret", UserID: "u1", Role: "admin"}}
	})

	for _, args := range [][]string{
		{"--config", path, "config", "show"},
		{"--config", path, "--json", "config", "show"},
	} {
		out, err := runCLI(t, args...)
		require.NoError(t, err)
		assert.NotContains(t, out, "sk-secret-value")
		assert.NotContains(t, out, "tok-secret")
		assert.Contains(t, out, "gpt-4o-mini")
	}
}

func TestConfig_InvalidFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[semantic]\ntop_k = -1\n"), 0o600))

	_, err := runCLI(t, "--config", path, "route", "学生总数")
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestRouteCommand(t *testing.T) {
	path, _ := writeConfig(t, nil)

	out, err := runCLI(t, "--config", path, "--json", "route", "学生总数")
	require.NoError(t, err)
	resp, data := decodeEnvelope(t, out)
	require.True(t, resp.Success)
	assert.Equal(t, "direct", data["level"])
	assert.Equal(t, "count_students", data["action"])
	assert.Equal(t, 1.0, data["confidence"])

	out, err = runCLI(t, "--config", path, "route", "分析本学期各班级学生出勤趋势并给出建议")
	require.NoError(t, err)
	assert.Contains(t, out, "Tier:        complex")
}

func TestDBAndAskCommands(t *testing.T) {
	path, cfg := writeConfig(t, nil)

	out, err := runCLI(t, "--config", path, "db", "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfg.Storage.Path)

	out, err = runCLI(t, "--config", path, "--json", "db", "seed")
	require.NoError(t, err)
	resp, data := decodeEnvelope(t, out)
	require.True(t, resp.Success)
	assert.Greater(t, data["Students"], 0.0)

	_, err = runCLI(t, "--config", path, "db", "seed")
	require.Error(t, err, "seeding twice is refused")

	out, err = runCLI(t, "--config", path, "--json", "ask", "学生总数")
	require.NoError(t, err)
	resp, data = decodeEnvelope(t, out)
	require.True(t, resp.Success, out)
	assert.Equal(t, true, data["success"])
	inner := data["data"].(map[string]interface{})
	assert.Equal(t, "direct", inner["level"])
	assert.Greater(t, inner["tokensSaved"], 0.0)

	out, err = runCLI(t, "--config", path, "ask", "学生总数")
	require.NoError(t, err)
	assert.Contains(t, out, "[direct via")
}

func TestAsk_EmptyQueryIsUsageError(t *testing.T) {
	path, _ := writeConfig(t, nil)

	_, err := runCLI(t, "--config", path, "ask", "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrInvalidRequest)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestDictCheck(t *testing.T) {
	isolateEnv(t)

	good := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(good, "extra.json"), []byte(`{
  "directMatches": {
    "今日出勤": {"response": "正在查询今日出勤...", "action": "get_attendance_stats"}
  }
}`), 0o644))

	out, err := runCLI(t, "--json", "dict", "check", good)
	require.NoError(t, err)
	resp, data := decodeEnvelope(t, out)
	require.True(t, resp.Success)
	assert.Contains(t, data["actions"], "get_attendance_stats")
	assert.Nil(t, data["missing_actions"])

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, "extra.json"), []byte(`{
  "directMatches": {
    "午睡安排": {"response": "正在查询午睡安排...", "action": "get_nap_schedule"}
  }
}`), 0o644))
	_, err = runCLI(t, "dict", "check", bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errMissingActions)
	assert.Contains(t, err.Error(), "get_nap_schedule")

	_, err = runCLI(t, "dict", "check", filepath.Join(bad, "missing"))
	require.Error(t, err)
}

// =============================================================================
// STATS CLIENT
// =============================================================================

func TestFetchStats(t *testing.T) {
	agg := telemetry.NewAggregator(3000)
	agg.Record(telemetry.Outcome{Tier: router.TierDirect, RoutedTier: router.TierDirect, Latency: 3 * time.Millisecond})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/stats", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "unauthorized", "message": "missing token"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    server.StatsResponse{Performance: agg.Snapshot()},
		})
	}))
	defer ts.Close()

	stats, err := fetchStats(context.Background(), ts.Client(), ts.URL, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Performance.TotalQueries)
	assert.Equal(t, int64(1), stats.Performance.DirectQueries)

	var buf bytes.Buffer
	printStats(&buf, stats)
	assert.Contains(t, buf.String(), "Queries:        1")

	_, err = fetchStats(context.Background(), ts.Client(), ts.URL, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = fetchStats(context.Background(), ts.Client(), "http://127.0.0.1:1", "tok")
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://127.0.0.1:8080"},
		{"localhost:9000", "http://localhost:9000"},
		{"https://kg.example.com/", "https://kg.example.com"},
		{"http://10.0.0.2:8080", "http://10.0.0.2:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, baseURL(tt.addr), tt.addr)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config", &ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"network", &NetworkError{Endpoint: "x", Err: errors.New("refused")}, ExitNetworkError},
		{"timeout", fmt.Errorf("ask: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"invalid request", fmt.Errorf("%w: empty query", dispatch.ErrInvalidRequest), ExitUsageError},
		{"command", NewCommandError("db", "seed", errors.New("locked")), ExitGeneralError},
		{"printed json", errPrinted{&ConfigError{Err: errors.New("bad")}}, ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, NewCommandError("db", "seed", errors.New("locked")), false)
	assert.Equal(t, "[ERROR] db seed failed: locked\n", buf.String())

	buf.Reset()
	err := &ConfigError{Path: "c.toml", Err: config.ValidateErrors{{Field: "semantic.top_k", Message: "must be positive"}}}
	DisplayError(&buf, err, true)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "config_error", out["error_type"])
	assert.Equal(t, []interface{}{"semantic.top_k"}, out["fields"])
}

func TestOutputJSON_ErrorIsPrintedOnce(t *testing.T) {
	var buf bytes.Buffer
	err := OutputJSON(&buf, true, "ask", func() (interface{}, error) {
		return nil, errors.New("boom")
	}, nil)
	require.Error(t, err)
	var printed errPrinted
	assert.True(t, errors.As(err, &printed))

	resp, _ := decodeEnvelope(t, buf.String())
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", *resp.Error)
}

// =============================================================================
// APP WIRING
// =============================================================================

func TestNewApp_Wiring(t *testing.T) {
	_, cfg := writeConfig(t, func(c *config.Config) {
		c.Tools.Enabled = true
		c.Routing.Watch = true
	})
	require.NoError(t, os.MkdirAll(cfg.Routing.DictionaryDir, 0o755))

	reg := prometheus.NewRegistry()
	app, err := newApp(context.Background(), cfg, zerolog.Nop(), appOptions{Registerer: reg})
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Dispatcher)
	assert.NotNil(t, app.Metrics)
	assert.False(t, app.Provider.IsConfigured())
	assert.Equal(t, "gpt-4o-mini", app.Provider.Model())
	assert.Contains(t, app.Actions.Names(), "count_students")

	require.NoError(t, app.WatchDictionaries())
	assert.NotNil(t, app.watcher)

	reporter, closeSinks, err := app.NewReporter(context.Background())
	require.NoError(t, err)
	require.NotNil(t, reporter)
	defer closeSinks()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Equal(t, 0, reporter.Flush(ctx), "log and sqlite sinks accept snapshots")
}

func TestNewApp_DictionaryReloadUpdatesRouter(t *testing.T) {
	_, cfg := writeConfig(t, func(c *config.Config) { c.Routing.Watch = true })
	require.NoError(t, os.MkdirAll(cfg.Routing.DictionaryDir, 0o755))

	app, err := newApp(context.Background(), cfg, zerolog.Nop(), appOptions{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer app.Close()
	require.NoError(t, app.WatchDictionaries())

	before := app.Router.Stats().Reloads
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Routing.DictionaryDir, "extra.json"), []byte(`{
  "directMatches": {"今日晨检": {"response": "正在查询今日出勤...", "action": "get_attendance_stats"}}
}`), 0o644))

	require.Eventually(t, func() bool {
		return app.Router.Stats().Reloads > before
	}, 5*time.Second, 50*time.Millisecond)

	res, err := app.Router.Route(context.Background(), "今日晨检")
	require.NoError(t, err)
	assert.Equal(t, "get_attendance_stats", res.Action)
}

func TestNewApp_SnapshotsDisabled(t *testing.T) {
	_, cfg := writeConfig(t, func(c *config.Config) { c.Telemetry.SnapshotSchedule = "" })

	app, err := newApp(context.Background(), cfg, zerolog.Nop(), appOptions{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer app.Close()

	reporter, closeSinks, err := app.NewReporter(context.Background())
	require.NoError(t, err)
	assert.Nil(t, reporter)
	assert.NoError(t, closeSinks())
}

func TestDispatchConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Timeouts.SemanticMs = 1500
	cfg.Tools.MaxTools = 2

	dc := dispatchConfig(cfg)
	assert.Equal(t, cfg.Routing.ReferenceBudget, dc.ReferenceBudget)
	assert.Equal(t, 1500*time.Millisecond, dc.Semantic.SearchTimeout)
	assert.Equal(t, cfg.Timeouts.Action(), dc.Semantic.ActionTimeout)
	assert.Equal(t, 2, dc.Complex.MaxTools)
	assert.Equal(t, cfg.Routing.RecordConversations, dc.RecordConversation)
	assert.True(t, strings.HasPrefix(cfg.Provider.BaseURL, "https://"))
}

// =============================================================================
// DOCTOR
// =============================================================================

func TestRunChecks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	_, cfg := writeConfig(t, func(c *config.Config) {
		c.Provider.BaseURL = ts.URL
		c.Provider.APIKey = "sk-good"
		c.Server.Tokens = []config.TokenConfig{{Token: "t", UserID: "u", Role: "admin"}}
	})

	byName := func(checks []HealthCheck) map[string]HealthCheck {
		m := make(map[string]HealthCheck)
		for _, c := range checks {
			m[c.Name] = c
		}
		return m
	}

	checks := byName(runChecks(context.Background(), cfg, ts.Client()))
	assert.Equal(t, CheckWarn, checks["Database"].Status, "empty database")
	assert.Equal(t, "Run: kgassist db seed", checks["Database"].Fix)
	assert.Equal(t, CheckWarn, checks["Dictionaries"].Status, "missing directory")
	assert.Equal(t, CheckPass, checks["Provider Key"].Status)
	assert.Equal(t, CheckPass, checks["Provider"].Status)
	assert.Equal(t, CheckPass, checks["Search Cache"].Status)
	assert.Equal(t, CheckPass, checks["Tokens"].Status)

	cfg.Provider.APIKey = "sk-bad"
	report := newReport(runChecks(context.Background(), cfg, ts.Client()))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, CheckFail, byName(report.Checks)["Provider"].Status)
}

func TestDoctorCommand_FailureExitCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	path, _ := writeConfig(t, func(c *config.Config) {
		c.Provider.BaseURL = ts.URL
		c.Provider.APIKey = "sk-revoked"
	})

	out, err := runCLI(t, "--config", path, "--json", "doctor")
	require.Error(t, err)
	assert.ErrorIs(t, err, errChecksFailed)
	var printed errPrinted
	assert.True(t, errors.As(err, &printed), "report already printed")

	resp, data := decodeEnvelope(t, out)
	assert.True(t, resp.Success, "the report itself is delivered")
	assert.Equal(t, 1.0, data["failed"])
}
