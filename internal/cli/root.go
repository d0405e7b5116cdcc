// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/config"
	"github.com/jeranaias/kgassist/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
}

// loadConfig reads --config (or the default location) and applies the log
// flags on top.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFromPath(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Path: g.configPath, Err: err}
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// logger builds the command logger. Logs always go to stderr so stdout stays
// parseable.
func (g *globalOptions) logger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logging.NewWithWriter(cfg.Logging, cmd.ErrOrStderr()).
		With().Str("cmd", cmd.Name()).Logger()
}

// configTarget is where config init/set write: --config or the default path.
func (g *globalOptions) configTarget() (string, error) {
	if g.configPath != "" {
		return g.configPath, nil
	}
	return config.ConfigPathTOML()
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCmd builds the kgassist command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "kgassist",
		Short: "Tiered AI assistant for kindergarten management",
		Long: `kgassist answers management questions about a kindergarten (students,
classes, teachers, attendance, fees, activities) at the lowest sufficient cost.

Each query is routed to one of three tiers:
  DIRECT    keyword match answered by a built-in action, no model call
  SEMANTIC  entity lookup plus a small model prompt
  COMPLEX   full model prompt with history, memory and tools

Run "kgassist serve" for the HTTP API, or "kgassist ask" for a one-off query.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file (default ~/.kgassist/config.toml)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "", "log format override (json, console)")
	pf.BoolVar(&g.jsonOutput, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newServeCmd(g),
		newAskCmd(g),
		newRouteCmd(g),
		newStatsCmd(g),
		newDBCmd(g),
		newDictCmd(g),
		newConfigCmd(g),
		newDoctorCmd(g),
		newVersionCmd(g),
	)
	return root, g
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root, g := newRootCmd()
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	var printed errPrinted
	if !errors.As(err, &printed) {
		w := os.Stderr
		if g.jsonOutput {
			w = os.Stdout
		}
		DisplayError(w, err, g.jsonOutput)
	}
	return GetExitCode(err)
}

// =============================================================================
// VERSION
// =============================================================================

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func newVersionCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := VersionInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}
			return OutputJSON(cmd.OutOrStdout(), g.jsonOutput, "version",
				func() (interface{}, error) { return info, nil },
				func(interface{}) {
					fmt.Fprintf(cmd.OutOrStdout(), "kgassist %s (commit %s, built %s)\n", info.Version, info.GitCommit, info.BuildDate)
				})
		},
	}
}
