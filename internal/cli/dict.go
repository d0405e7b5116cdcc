// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/actions"
	"github.com/jeranaias/kgassist/internal/router"
)

// DictReport summarizes a dictionary directory.
type DictReport struct {
	Dir             string   `json:"dir"`
	DirectMatches   int      `json:"direct_matches"`
	ResponseActions int      `json:"response_actions"`
	Entities        int      `json:"entities"`
	Actions         []string `json:"actions"`
	// MissingActions are referenced by the dictionary but not registered.
	MissingActions []string `json:"missing_actions,omitempty"`
}

// errMissingActions fails dict check when an action cannot be executed.
var errMissingActions = errors.New("dictionary references unknown actions")

func newDictCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Inspect routing dictionaries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [dir]",
		Short: "Parse a dictionary directory and verify its actions exist",
		Long: `Parse every *.json dictionary in dir (default routing.dictionary_dir),
merge it over the built-in dictionary and report any referenced action that
is not registered.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Routing.DictionaryDir
			}
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "dict check",
				func() (interface{}, error) { return checkDictionaries(dir, actions.New(actions.Options{})) },
				func(data interface{}) { printDictReport(w, data.(*DictReport)) })
		},
	})
	return cmd
}

// actionSet reports which actions are registered.
type actionSet interface {
	Has(name string) bool
}

func checkDictionaries(dir string, registry actionSet) (*DictReport, error) {
	if dir == "" {
		return nil, errors.New("no dictionary directory given")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	d, err := router.LoadDictionaryDir(dir)
	if err != nil {
		return nil, err
	}
	report := &DictReport{
		Dir:             dir,
		DirectMatches:   len(d.Matches),
		ResponseActions: len(d.ResponseActions),
		Entities:        len(d.Entities),
		Actions:         d.ActionNames(),
	}
	for _, name := range report.Actions {
		if !registry.Has(name) {
			report.MissingActions = append(report.MissingActions, name)
		}
	}
	if len(report.MissingActions) > 0 {
		return report, fmt.Errorf("%w: %s", errMissingActions, strings.Join(report.MissingActions, ", "))
	}
	return report, nil
}

func printDictReport(w io.Writer, r *DictReport) {
	fmt.Fprintf(w, "Dictionary %s OK\n", r.Dir)
	fmt.Fprintf(w, "  direct matches:   %d\n", r.DirectMatches)
	fmt.Fprintf(w, "  response actions: %d\n", r.ResponseActions)
	fmt.Fprintf(w, "  entities:         %d\n", r.Entities)
	fmt.Fprintf(w, "  actions:          %s\n", strings.Join(r.Actions, ", "))
}
