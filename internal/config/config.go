// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete kgassist configuration.
type Config struct {
	Routing   RoutingConfig   `toml:"routing" json:"routing"`
	Timeouts  TimeoutsConfig  `toml:"timeouts" json:"timeouts"`
	Semantic  SemanticConfig  `toml:"semantic" json:"semantic"`
	Tools     ToolsConfig     `toml:"tools" json:"tools"`
	Provider  ProviderConfig  `toml:"provider" json:"provider"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Server    ServerConfig    `toml:"server" json:"server"`
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
}

// RoutingConfig controls tier selection.
type RoutingConfig struct {
	// ReferenceBudget is the per-query token baseline savings are measured against.
	ReferenceBudget int `toml:"reference_budget" json:"reference_budget"`
	// ComplexityThreshold is the SEMANTIC/COMPLEX score boundary.
	ComplexityThreshold float64 `toml:"complexity_threshold" json:"complexity_threshold"`
	// InvalidPhrases extend the built-in list of non-answers.
	InvalidPhrases []string `toml:"invalid_phrases" json:"invalid_phrases"`
	// ResponseActions override the dictionary's response -> action mappings.
	ResponseActions []router.ResponseAction `toml:"response_actions" json:"response_actions"`
	// SmartMatch enables the composite keyword rules.
	SmartMatch bool `toml:"smart_match" json:"smart_match"`
	// DictionaryDir holds *.json dictionaries layered over the built-in one.
	DictionaryDir string `toml:"dictionary_dir" json:"dictionary_dir"`
	// Watch reloads dictionaries when files in DictionaryDir change.
	Watch bool `toml:"watch" json:"watch"`
	// StatusReport enables the institution status report special case.
	StatusReport bool `toml:"status_report" json:"status_report"`
	// RecordConversations appends successful exchanges to the store.
	RecordConversations bool `toml:"record_conversations" json:"record_conversations"`
}

// TimeoutsConfig bounds each external call, in milliseconds.
type TimeoutsConfig struct {
	SemanticMs int `toml:"semantic_ms" json:"semantic_ms"`
	ProviderMs int `toml:"provider_ms" json:"provider_ms"`
	ActionMs   int `toml:"action_ms" json:"action_ms"`
	StoreMs    int `toml:"store_ms" json:"store_ms"`
	RequestMs  int `toml:"request_ms" json:"request_ms"`
}

// Semantic returns the semantic search timeout.
func (t TimeoutsConfig) Semantic() time.Duration { return ms(t.SemanticMs) }

// Provider returns the provider call timeout.
func (t TimeoutsConfig) Provider() time.Duration { return ms(t.ProviderMs) }

// Action returns the action execution timeout.
func (t TimeoutsConfig) Action() time.Duration { return ms(t.ActionMs) }

// Store returns the conversation store timeout.
func (t TimeoutsConfig) Store() time.Duration { return ms(t.StoreMs) }

// Request returns the overall per-request timeout.
func (t TimeoutsConfig) Request() time.Duration { return ms(t.RequestMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// SemanticConfig tunes the SEMANTIC tier and its cache.
type SemanticConfig struct {
	TopK            int     `toml:"top_k" json:"top_k"`
	DirectThreshold float64 `toml:"direct_threshold" json:"direct_threshold"`
	LookupOverhead  int     `toml:"lookup_overhead" json:"lookup_overhead"`
	// RedisAddr enables the search cache when set.
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
	CacheTTLSecs  int    `toml:"cache_ttl_secs" json:"cache_ttl_secs"`
}

// ToolsConfig controls function tools offered to the COMPLEX tier.
type ToolsConfig struct {
	Enabled  bool `toml:"enabled" json:"enabled"`
	MaxTools int  `toml:"max_tools" json:"max_tools"`
}

// ProviderConfig configures the OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	BaseURL           string  `toml:"base_url" json:"base_url"`
	APIKey            string  `toml:"api_key" json:"api_key"`
	Model             string  `toml:"model" json:"model"`
	Temperature       float64 `toml:"temperature" json:"temperature"`
	MaxRetries        int     `toml:"max_retries" json:"max_retries"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Path string `toml:"path" json:"path"`
}

// TokenConfig maps a bearer token to a user.
type TokenConfig struct {
	Token  string `toml:"token" json:"token"`
	UserID string `toml:"user_id" json:"user_id"`
	Role   string `toml:"role" json:"role"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string        `toml:"addr" json:"addr"`
	Tokens      []TokenConfig `toml:"tokens" json:"tokens"`
	RateLimit   float64       `toml:"rate_limit" json:"rate_limit"`
	RateBurst   int           `toml:"rate_burst" json:"rate_burst"`
	CORSOrigins []string      `toml:"cors_origins" json:"cors_origins"`
}

// TelemetryConfig configures snapshots and metrics.
type TelemetryConfig struct {
	// SnapshotSchedule is a cron spec; empty disables snapshots.
	SnapshotSchedule string `toml:"snapshot_schedule" json:"snapshot_schedule"`
	// SnapshotKeep is how many snapshots sqlite retains.
	SnapshotKeep int    `toml:"snapshot_keep" json:"snapshot_keep"`
	RedisAddr    string `toml:"redis_addr" json:"redis_addr"`
	RedisStream  string `toml:"redis_stream" json:"redis_stream"`
	Metrics      bool   `toml:"metrics" json:"metrics"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			ReferenceBudget:     3000,
			ComplexityThreshold: router.DefaultComplexityThreshold,
			SmartMatch:          true,
			DictionaryDir:       filepath.Join("config", "ai-dictionaries"),
			Watch:               true,
			StatusReport:        true,
			RecordConversations: true,
		},
		Timeouts: TimeoutsConfig{
			SemanticMs: 2000,
			ProviderMs: 30000,
			ActionMs:   5000,
			StoreMs:    2000,
			RequestMs:  60000,
		},
		Semantic: SemanticConfig{
			TopK:            3,
			DirectThreshold: 0.8,
			LookupOverhead:  50,
			CacheTTLSecs:    600,
		},
		Tools: ToolsConfig{
			Enabled:  true,
			MaxTools: 3,
		},
		Provider: ProviderConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxRetries:        3,
			RequestsPerSecond: 5,
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 10,
			RateBurst: 20,
		},
		Telemetry: TelemetryConfig{
			SnapshotSchedule: "@every 5m",
			SnapshotKeep:     2016,
			RedisStream:      "kgassist:stats",
			Metrics:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultDBPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "kgassist.db"
	}
	return filepath.Join(dir, "kgassist.db")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the kgassist configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".kgassist"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys
// and bearer tokens.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.kgassist/config.toml when it exists and falls back to
// defaults otherwise. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. A .json suffix
// selects JSON; anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without environment overrides or
// validation. Use it to edit a file without persisting the environment.
func ReadFile(path string) (*Config, error) {
	cfg := Default()

	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config from %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config from %s: %w", path, err)
		}
	} else {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
		}
	}

	fillDefaults(cfg)
	return cfg, nil
}

// fillDefaults replaces zero values a file may have set explicitly.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Routing.ReferenceBudget == 0 {
		cfg.Routing.ReferenceBudget = defaults.Routing.ReferenceBudget
	}
	if cfg.Routing.ComplexityThreshold == 0 {
		cfg.Routing.ComplexityThreshold = defaults.Routing.ComplexityThreshold
	}

	if cfg.Timeouts.SemanticMs == 0 {
		cfg.Timeouts.SemanticMs = defaults.Timeouts.SemanticMs
	}
	if cfg.Timeouts.ProviderMs == 0 {
		cfg.Timeouts.ProviderMs = defaults.Timeouts.ProviderMs
	}
	if cfg.Timeouts.ActionMs == 0 {
		cfg.Timeouts.ActionMs = defaults.Timeouts.ActionMs
	}
	if cfg.Timeouts.StoreMs == 0 {
		cfg.Timeouts.StoreMs = defaults.Timeouts.StoreMs
	}
	if cfg.Timeouts.RequestMs == 0 {
		cfg.Timeouts.RequestMs = defaults.Timeouts.RequestMs
	}

	if cfg.Semantic.TopK == 0 {
		cfg.Semantic.TopK = defaults.Semantic.TopK
	}
	if cfg.Semantic.DirectThreshold == 0 {
		cfg.Semantic.DirectThreshold = defaults.Semantic.DirectThreshold
	}
	if cfg.Semantic.CacheTTLSecs == 0 {
		cfg.Semantic.CacheTTLSecs = defaults.Semantic.CacheTTLSecs
	}

	if cfg.Tools.MaxTools == 0 {
		cfg.Tools.MaxTools = defaults.Tools.MaxTools
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = defaults.Provider.BaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = defaults.Provider.Model
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}

	if cfg.Telemetry.SnapshotKeep == 0 {
		cfg.Telemetry.SnapshotKeep = defaults.Telemetry.SnapshotKeep
	}
	if cfg.Telemetry.RedisStream == "" {
		cfg.Telemetry.RedisStream = defaults.Telemetry.RedisStream
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	var buf strings.Builder
	buf.WriteString("# kgassist configuration file\n")
	buf.WriteString("# Generated by kgassist config init - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks ranges and formats. All problems are reported together.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Routing
	if c.Routing.ReferenceBudget <= 0 {
		add("routing.reference_budget", "must be positive, got %d", c.Routing.ReferenceBudget)
	}
	if c.Routing.ComplexityThreshold <= 0 || c.Routing.ComplexityThreshold >= 1 {
		add("routing.complexity_threshold", "must be in (0, 1), got %g", c.Routing.ComplexityThreshold)
	}
	for i, ra := range c.Routing.ResponseActions {
		if ra.Response == "" || ra.Action == "" {
			add(fmt.Sprintf("routing.response_actions[%d]", i), "response and action are required")
		}
	}

	// Timeouts
	for field, v := range map[string]int{
		"timeouts.semantic_ms": c.Timeouts.SemanticMs,
		"timeouts.provider_ms": c.Timeouts.ProviderMs,
		"timeouts.action_ms":   c.Timeouts.ActionMs,
		"timeouts.store_ms":    c.Timeouts.StoreMs,
		"timeouts.request_ms":  c.Timeouts.RequestMs,
	} {
		if v < 0 {
			add(field, "must not be negative, got %d", v)
		}
	}

	// Semantic
	if c.Semantic.TopK < 1 || c.Semantic.TopK > 20 {
		add("semantic.top_k", "must be between 1 and 20, got %d", c.Semantic.TopK)
	}
	if c.Semantic.DirectThreshold <= 0 || c.Semantic.DirectThreshold > 1 {
		add("semantic.direct_threshold", "must be in (0, 1], got %g", c.Semantic.DirectThreshold)
	}
	if c.Semantic.LookupOverhead < 0 {
		add("semantic.lookup_overhead", "must not be negative, got %d", c.Semantic.LookupOverhead)
	}

	// Tools
	if c.Tools.MaxTools < 1 || c.Tools.MaxTools > 16 {
		add("tools.max_tools", "must be between 1 and 16, got %d", c.Tools.MaxTools)
	}

	// Provider
	if u, err := url.Parse(c.Provider.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("provider.base_url", "must be an http(s) URL, got %q", c.Provider.BaseURL)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		add("provider.temperature", "must be between 0 and 2, got %g", c.Provider.Temperature)
	}
	if c.Provider.MaxRetries < 0 || c.Provider.MaxRetries > 10 {
		add("provider.max_retries", "must be between 0 and 10, got %d", c.Provider.MaxRetries)
	}

	// Server
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative, got %g", c.Server.RateLimit)
	}
	seen := make(map[string]bool, len(c.Server.Tokens))
	for i, tok := range c.Server.Tokens {
		field := fmt.Sprintf("server.tokens[%d]", i)
		if tok.Token == "" || tok.UserID == "" {
			add(field, "token and user_id are required")
		}
		if seen[tok.Token] {
			add(field, "duplicate token")
		}
		seen[tok.Token] = true
	}

	// Telemetry
	if c.Telemetry.SnapshotSchedule != "" {
		if _, err := cron.ParseStandard(c.Telemetry.SnapshotSchedule); err != nil {
			add("telemetry.snapshot_schedule", "invalid cron spec %q: %v", c.Telemetry.SnapshotSchedule, err)
		}
	}

	// Logging
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		add("logging.level", "invalid level %q", c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "console" {
		add("logging.format", "must be json or console, got %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - KGASSIST_API_KEY (or OPENAI_API_KEY): provider.api_key
//   - KGASSIST_BASE_URL: provider.base_url
//   - KGASSIST_MODEL: provider.model
//   - KGASSIST_DB: storage.path
//   - KGASSIST_ADDR: server.addr
//   - KGASSIST_REDIS_ADDR: semantic.redis_addr and telemetry.redis_addr
//   - KGASSIST_DICTIONARY_DIR: routing.dictionary_dir
//   - KGASSIST_LOG_LEVEL: logging.level
//   - KGASSIST_LOG_FORMAT: logging.format
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = key
	}
	if key := os.Getenv("KGASSIST_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if u := os.Getenv("KGASSIST_BASE_URL"); u != "" {
		c.Provider.BaseURL = u
	}
	if model := os.Getenv("KGASSIST_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if db := os.Getenv("KGASSIST_DB"); db != "" {
		c.Storage.Path = db
	}
	if addr := os.Getenv("KGASSIST_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if addr := os.Getenv("KGASSIST_REDIS_ADDR"); addr != "" {
		c.Semantic.RedisAddr = addr
		c.Telemetry.RedisAddr = addr
	}
	if dir := os.Getenv("KGASSIST_DICTIONARY_DIR"); dir != "" {
		c.Routing.DictionaryDir = dir
	}
	if level := os.Getenv("KGASSIST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("KGASSIST_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "semantic.top_k").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to the Go field name.
// Trailing "_ms"/"_secs" are kept, so "semantic_ms" finds SemanticMs.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			s := strings.ToLower(strVal)
			field.SetBool(s == "1" || s == "true" || s == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Routing.InvalidPhrases = append([]string(nil), c.Routing.InvalidPhrases...)
	clone.Routing.ResponseActions = append([]router.ResponseAction(nil), c.Routing.ResponseActions...)
	clone.Server.Tokens = append([]TokenConfig(nil), c.Server.Tokens...)
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return &clone
}

// Redacted returns a copy with secrets replaced, for display.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}
	if safe.Semantic.RedisPassword != "" {
		safe.Semantic.RedisPassword = "[REDACTED]"
	}
	for i := range safe.Server.Tokens {
		safe.Server.Tokens[i].Token = "[REDACTED]"
	}
	return safe
}

// String returns the redacted configuration as JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the process-wide configuration. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
