// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for kgassist.
//
// Command: config [subcommand]
//
// Subcommands:
//   init [--force]      Write a default config file
//   show                Display the effective configuration (secrets redacted)
//   get <key>           Print one value
//   set <key> <value>   Change one value in the config file
//   path                Show the config file location
//
// Examples:
//   kgassist config init
//   kgassist config show --json
//   kgassist config get semantic.top_k
//   kgassist config set provider.model gpt-4o
//   kgassist config set routing.invalid_phrases "无法回答,不清楚"

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/config"
)

// errConfigExists stops config init from overwriting a file.
var errConfigExists = errors.New("config file already exists (use --force to overwrite)")

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}
	cmd.AddCommand(
		newConfigInitCmd(g),
		newConfigShowCmd(g),
		newConfigGetCmd(g),
		newConfigSetCmd(g),
		newConfigPathCmd(g),
	)
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "config init",
				func() (interface{}, error) {
					path, err := g.configTarget()
					if err != nil {
						return nil, err
					}
					if _, err := os.Stat(path); err == nil && !force {
						return nil, &ConfigError{Path: path, Err: errConfigExists}
					}
					if err := config.SaveTOML(config.Default(), path); err != nil {
						return nil, &ConfigError{Path: path, Err: err}
					}
					return map[string]string{"path": path}, nil
				},
				func(data interface{}) {
					fmt.Fprintf(w, "Wrote %s\n", data.(map[string]string)["path"])
				})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "config show",
				func() (interface{}, error) { return cfg.Redacted(), nil },
				func(data interface{}) { writeTOML(w, data) })
		},
	}
}

func newConfigGetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "config get",
				func() (interface{}, error) { return cfg.Redacted().Get(args[0]) },
				func(data interface{}) { fmt.Fprintln(w, data) })
		},
	}
}

func newConfigSetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one value in the config file",
		Long: `Change one value in the config file. The result must validate; list
values are given comma separated.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "config set",
				func() (interface{}, error) {
					path, err := g.configTarget()
					if err != nil {
						return nil, err
					}
					cfg, err := config.ReadFile(path)
					if errors.Is(err, fs.ErrNotExist) {
						cfg, err = config.Default(), nil
					}
					if err != nil {
						return nil, &ConfigError{Path: path, Err: err}
					}
					if err := cfg.Set(args[0], args[1]); err != nil {
						return nil, &ConfigError{Path: path, Err: err}
					}
					if err := cfg.Validate(); err != nil {
						return nil, &ConfigError{Path: path, Err: err}
					}
					if err := config.SaveTOML(cfg, path); err != nil {
						return nil, &ConfigError{Path: path, Err: err}
					}
					return map[string]string{"key": args[0], "value": args[1], "path": path}, nil
				},
				func(data interface{}) {
					m := data.(map[string]string)
					fmt.Fprintf(w, "Set %s = %s in %s\n", m["key"], m["value"], m["path"])
				})
		},
	}
}

func newConfigPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "config path",
				func() (interface{}, error) { return g.configTarget() },
				func(data interface{}) { fmt.Fprintln(w, data) })
		},
	}
}

func writeTOML(w io.Writer, v interface{}) {
	if err := toml.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, "# encode failed: %v\n", err)
	}
}
