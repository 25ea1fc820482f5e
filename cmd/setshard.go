// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/ctl"
)

var SetShard *ctl.SetShardCommand

func newSetShardCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	SetShard = ctl.NewSetShardCommand(stdin, stdout, stderr)
	setShardCmd := &cobra.Command{
		Use:   "set-shard",
		Short: "Register or update a shard.",
		Long: `
Writes a shard record into the etcd registry. Writing an existing ID
replaces the record, so the same command marks a shard inactive before
maintenance:

	shardkit set-shard --id s3 --location postgres://shard3 --inactive

Running instances pick the change up through their registry watch.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return SetShard.Run(context.Background())
		},
	}
	flags := setShardCmd.Flags()

	flags.StringSliceVarP(&SetShard.Endpoints, "endpoints", "e", nil, "Comma-separated etcd endpoints.")
	flags.StringVarP(&SetShard.Prefix, "prefix", "", shardkit.DefaultEtcdPrefix, "Etcd key prefix.")
	flags.StringVarP(&SetShard.ID, "id", "", "", "ID of the shard to register.")
	flags.StringVarP(&SetShard.Location, "location", "", "", "Connection string for the shard.")
	flags.BoolVarP(&SetShard.Inactive, "inactive", "", false, "Register the shard as inactive.")

	return setShardCmd
}
