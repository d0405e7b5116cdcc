// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads kgassist configuration from TOML (or JSON), with
// defaults, environment overrides and validation.
//
// # Configuration Precedence
//
//   - Environment variables (KGASSIST_*)
//   - The file passed with --config, or ~/.kgassist/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.Timeouts.Provider()
//
// Validate reports every problem at once as ValidateErrors.
package config
