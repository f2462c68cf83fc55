// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the RiftGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "riftgate",
		Short: "RiftGate - cluster identity and session coordination",
		Long: `RiftGate is the authentication tier of a game-server cluster.
It verifies client credentials, hands authenticated sessions to realm
servers through one-shot tokens, and keeps the cluster-wide view of who
is online where.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
