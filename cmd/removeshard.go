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

var RemoveShard *ctl.RemoveShardCommand

func newRemoveShardCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	RemoveShard = ctl.NewRemoveShardCommand(stdin, stdout, stderr)
	removeShardCmd := &cobra.Command{
		Use:   "remove-shard",
		Short: "Delete a shard record.",
		Long: `
Deletes a shard record from the etcd registry. Directory mappings that
still point at the shard are left in place; reassign those first.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RemoveShard.Run(context.Background())
		},
	}
	flags := removeShardCmd.Flags()

	flags.StringSliceVarP(&RemoveShard.Endpoints, "endpoints", "e", nil, "Comma-separated etcd endpoints.")
	flags.StringVarP(&RemoveShard.Prefix, "prefix", "", shardkit.DefaultEtcdPrefix, "Etcd key prefix.")
	flags.StringVarP(&RemoveShard.ID, "id", "", "", "ID of the shard to delete.")

	return removeShardCmd
}
