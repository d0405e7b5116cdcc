// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/kgassist/internal/router"
)

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// called concurrently. Run with -race.
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	t.Setenv("HOME", t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Provider.Model = "test-model"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	ResetGlobalForTesting()
	c := Default()
	c.Server.Addr = ":9999"
	SetGlobal(c)

	if got := Global().Server.Addr; got != ":9999" {
		t.Errorf("Global().Server.Addr = %q, want :9999", got)
	}
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() is not valid: %v", err)
	}
	if cfg.Routing.ReferenceBudget != 3000 {
		t.Errorf("reference budget = %d, want 3000", cfg.Routing.ReferenceBudget)
	}
	if !cfg.Routing.SmartMatch || !cfg.Routing.StatusReport {
		t.Error("smart match and status report should be on by default")
	}
	if cfg.Timeouts.Provider() != 30*time.Second {
		t.Errorf("provider timeout = %v, want 30s", cfg.Timeouts.Provider())
	}
	if cfg.Storage.Path == "" {
		t.Error("default config should have a database path")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid default config", func(c *Config) {}, ""},
		{"zero budget", func(c *Config) { c.Routing.ReferenceBudget = 0 }, "routing.reference_budget"},
		{"threshold too high", func(c *Config) { c.Routing.ComplexityThreshold = 1 }, "routing.complexity_threshold"},
		{"incomplete response action", func(c *Config) {
			c.Routing.ResponseActions = []router.ResponseAction{{Response: "student_count"}}
		}, "routing.response_actions[0]"},
		{"negative timeout", func(c *Config) { c.Timeouts.ActionMs = -1 }, "timeouts.action_ms"},
		{"top_k out of range", func(c *Config) { c.Semantic.TopK = 50 }, "semantic.top_k"},
		{"direct threshold above one", func(c *Config) { c.Semantic.DirectThreshold = 1.5 }, "semantic.direct_threshold"},
		{"too many tools", func(c *Config) { c.Tools.MaxTools = 100 }, "tools.max_tools"},
		{"bad base url", func(c *Config) { c.Provider.BaseURL = "ftp://example.com" }, "provider.base_url"},
		{"duplicate token", func(c *Config) {
			c.Server.Tokens = []TokenConfig{
				{Token: "t1", UserID: "u1"},
				{Token: "t1", UserID: "u2"},
			}
		}, "server.tokens[1]"},
		{"token without user", func(c *Config) { c.Server.Tokens = []TokenConfig{{Token: "t1"}} }, "server.tokens[0]"},
		{"bad cron", func(c *Config) { c.Telemetry.SnapshotSchedule = "every so often" }, "telemetry.snapshot_schedule"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", err, tt.wantField)
			}
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	c := Default()
	c.Semantic.TopK = 0
	c.Logging.Format = "xml"

	var verrs ValidateErrors
	if !errors.As(c.Validate(), &verrs) {
		t.Fatal("expected ValidateErrors")
	}
	if len(verrs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(verrs), verrs)
	}
	if !strings.Contains(verrs.Error(), "; ") {
		t.Errorf("errors should be joined, got %q", verrs.Error())
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	t.Setenv("KGASSIST_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[routing]
complexity_threshold = 0.7
smart_match = false
invalid_phrases = ["系统繁忙"]

[[routing.response_actions]]
response = "meal_today"
action = "get_today_meals"

[timeouts]
provider_ms = 1500

[provider]
api_key = "sk-file"

[[server.tokens]]
token = "secret"
user_id = "u-1"
role = "principal"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Routing.ComplexityThreshold != 0.7 {
		t.Errorf("complexity_threshold = %g, want 0.7", cfg.Routing.ComplexityThreshold)
	}
	if cfg.Routing.SmartMatch {
		t.Error("smart_match = false in the file should win over the default")
	}
	if !cfg.Routing.StatusReport {
		t.Error("keys absent from the file keep their defaults")
	}
	if len(cfg.Routing.ResponseActions) != 1 || cfg.Routing.ResponseActions[0].Action != "get_today_meals" {
		t.Errorf("response_actions = %+v", cfg.Routing.ResponseActions)
	}
	if cfg.Timeouts.Provider() != 1500*time.Millisecond {
		t.Errorf("provider timeout = %v", cfg.Timeouts.Provider())
	}
	if cfg.Timeouts.ActionMs != 5000 {
		t.Errorf("action_ms = %d, want default 5000", cfg.Timeouts.ActionMs)
	}
	if cfg.Provider.APIKey != "sk-file" {
		t.Errorf("api_key = %q", cfg.Provider.APIKey)
	}
	if len(cfg.Server.Tokens) != 1 || cfg.Server.Tokens[0].Role != "principal" {
		t.Errorf("tokens = %+v", cfg.Server.Tokens)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if runtimeSupportsChmod() && info.Mode().Perm() != 0600 {
		t.Errorf("config permissions = %o, want 0600", info.Mode().Perm())
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[semantic]\ntop_k = 99\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFromPath(path)
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("LoadFromPath() error = %v, want ValidateErrors", err)
	}

	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KGASSIST_MODEL", "qwen2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.Model != "qwen2.5" {
		t.Errorf("model = %q, want env override", cfg.Provider.Model)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("KGASSIST_API_KEY", "")
	t.Setenv("KGASSIST_REDIS_ADDR", "localhost:6379")
	t.Setenv("KGASSIST_DB", "/tmp/kg.db")
	t.Setenv("KGASSIST_LOG_FORMAT", "console")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Provider.APIKey != "sk-openai" {
		t.Errorf("api key = %q, want OPENAI_API_KEY fallback", cfg.Provider.APIKey)
	}
	if cfg.Semantic.RedisAddr != "localhost:6379" || cfg.Telemetry.RedisAddr != "localhost:6379" {
		t.Error("redis address should apply to both cache and telemetry")
	}
	if cfg.Storage.Path != "/tmp/kg.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("log format = %q", cfg.Logging.Format)
	}

	t.Setenv("KGASSIST_API_KEY", "sk-kg")
	cfg.ApplyEnvOverrides()
	if cfg.Provider.APIKey != "sk-kg" {
		t.Errorf("KGASSIST_API_KEY should win, got %q", cfg.Provider.APIKey)
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("semantic.top_k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != 3 {
		t.Errorf("Get('semantic.top_k') = %v, want 3", val)
	}

	if err := cfg.Set("timeouts.provider_ms", "2500"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Timeouts.ProviderMs != 2500 {
		t.Errorf("provider_ms = %d after Set", cfg.Timeouts.ProviderMs)
	}

	if err := cfg.Set("server.cors_origins", "https://a.example, https://b.example"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}

	if err := cfg.Set("provider.base_url", "http://localhost:11434/v1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Provider.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("base_url = %q", cfg.Provider.BaseURL)
	}

	if _, err := cfg.Get("invalid.key"); err == nil {
		t.Error("Get() with invalid key should return error")
	}
	if err := cfg.Set("semantic.top_k.deeper", "1"); err == nil {
		t.Error("Set() through a non-struct should fail")
	}
}

func TestConfig_CloneAndRedact(t *testing.T) {
	original := Default()
	original.Provider.APIKey = "sk-secret"
	original.Server.Tokens = []TokenConfig{{Token: "bearer-secret", UserID: "u"}}

	clone := original.Clone()
	clone.Server.Tokens[0].UserID = "changed"
	if original.Server.Tokens[0].UserID != "u" {
		t.Error("Clone should not share token slices")
	}

	s := original.String()
	if strings.Contains(s, "sk-secret") || strings.Contains(s, "bearer-secret") {
		t.Errorf("String() leaks secrets: %s", s)
	}
	if original.Provider.APIKey != "sk-secret" {
		t.Error("String() must not modify the original")
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	t.Setenv("KGASSIST_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Semantic.TopK = 5
	cfg.Server.CORSOrigins = []string{"https://kg.example"}
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Semantic.TopK != 5 {
		t.Errorf("top_k = %d after round trip", loaded.Semantic.TopK)
	}
	if len(loaded.Server.CORSOrigins) != 1 {
		t.Errorf("cors_origins = %v after round trip", loaded.Server.CORSOrigins)
	}
}

func runtimeSupportsChmod() bool {
	return os.PathSeparator == '/'
}
