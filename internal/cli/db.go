// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/storage"
)

// DBInfo is printed by db init.
type DBInfo struct {
	Path          string `json:"path"`
	SchemaVersion string `json:"schema_version"`
}

func newDBCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the directory database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the database and apply the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "db init",
				func() (interface{}, error) {
					db, err := storage.Open(cfg.Storage.Path)
					if err != nil {
						return nil, NewCommandError("db", "init", err)
					}
					defer db.Close()
					version, err := db.Metadata(cmd.Context(), "schema_version")
					if err != nil {
						return nil, NewCommandError("db", "init", err)
					}
					return DBInfo{Path: db.Path(), SchemaVersion: version}, nil
				},
				func(data interface{}) {
					info := data.(DBInfo)
					fmt.Fprintf(w, "Database ready at %s (schema %s)\n", info.Path, info.SchemaVersion)
				})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Fill an empty database with sample kindergarten data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return OutputJSON(w, g.jsonOutput, "db seed",
				func() (interface{}, error) {
					db, err := storage.Open(cfg.Storage.Path)
					if err != nil {
						return nil, NewCommandError("db", "seed", err)
					}
					defer db.Close()
					sum, err := db.Seed(cmd.Context(), time.Now())
					if err != nil {
						return nil, NewCommandError("db", "seed", err)
					}
					return sum, nil
				},
				func(data interface{}) {
					s := data.(*storage.SeedSummary)
					fmt.Fprintf(w, "Seeded %d classes, %d students, %d teachers, %d parents, %d users, %d activities, %d applications\n",
						s.Classes, s.Students, s.Teachers, s.Parents, s.Users, s.Activities, s.Applications)
				})
		},
	})
	return cmd
}
