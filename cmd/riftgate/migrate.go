// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package main

import (
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/riftgate/riftgate/internal/account/postgres"
	"github.com/riftgate/riftgate/internal/config"
)

// NewMigrateCmd creates the migrate subcommand and its actions.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres account schema",
		Long:  `Apply, roll back, or inspect the schema migrations of the postgres account backend.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *postgres.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *postgres.Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("migrations rolled back")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *postgres.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version: %d dirty: %t\n", version, dirty)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("CONFIG_INVALID").
					With("version", args[0]).
					Errorf("version must be an integer")
			}
			return withMigrator(func(m *postgres.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("schema version forced to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator resolves the database URL, runs fn, and closes the migrator.
func withMigrator(fn func(*postgres.Migrator) error) error {
	url := os.Getenv("DATABASE_URL")
	if url == "" && configFile != "" {
		cfg, err := config.Load(configFile, nil, nil)
		if err != nil {
			return err
		}
		url = cfg.Store.DatabaseURL
	}
	if url == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("set DATABASE_URL or store.database_url in the config file")
	}

	m, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close() //nolint:errcheck // best-effort teardown
	}()
	return fn(m)
}
