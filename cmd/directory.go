// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/ctl"
	"github.com/featurebasedb/shardkit/sqldb"
)

var Directory *ctl.DirectoryCommand

func newDirectoryCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Directory = ctl.NewDirectoryCommand(stdin, stdout, stderr)
	directoryCmd := &cobra.Command{
		Use:   "directory",
		Short: "Inspect or edit the routing directory.",
		Long: `
Reads and writes the directory table that maps routing keys to shards.
With no key it lists every mapping. Writes go straight to the database;
follow them with 'shardkit invalidate' so running instances drop their
cached entry immediately instead of at the next refresh.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Directory.Run(context.Background())
		},
	}
	flags := directoryCmd.Flags()

	flags.StringVarP(&Directory.Driver, "driver", "", shardkit.DriverPostgres, "Directory database driver: postgres, mysql, or sqlserver.")
	flags.StringVarP(&Directory.DSN, "dsn", "", "", "Directory database connection string.")
	flags.StringVarP(&Directory.Table, "table", "", sqldb.DefaultTable, "Directory table name.")
	flags.StringVarP(&Directory.Key, "key", "k", "", "Routing key to read, write, or remove.")
	flags.StringVarP(&Directory.ShardID, "shard", "s", "", "Shard ID to map the key to.")
	flags.BoolVarP(&Directory.Remove, "remove", "", false, "Remove the mapping for the key.")
	flags.BoolVarP(&Directory.CreateTable, "create-table", "", false, "Create the directory table if it does not exist.")

	return directoryCmd
}
