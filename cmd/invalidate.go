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

var Invalidate *ctl.InvalidateCommand

func newInvalidateCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Invalidate = ctl.NewInvalidateCommand(stdin, stdout, stderr)
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish a directory invalidation.",
		Long: `
Publishes an invalidation for a routing key on the pub/sub channel that
running instances subscribe to. Use it after editing the directory table
so every instance drops or updates its cached entry. With --shard the
instances update their cache in place; with --removal they drop the key;
with neither they just evict it.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Invalidate.Run(context.Background())
		},
	}
	flags := invalidateCmd.Flags()

	flags.StringSliceVarP(&Invalidate.Endpoints, "endpoints", "e", nil, "Comma-separated etcd endpoints.")
	flags.StringVarP(&Invalidate.Prefix, "prefix", "", shardkit.DefaultEtcdPrefix, "Etcd key prefix.")
	flags.StringVarP(&Invalidate.Channel, "channel", "", shardkit.DefaultInvalidationChannel, "Pub/sub channel to publish on.")
	flags.StringVarP(&Invalidate.Key, "key", "k", "", "Routing key to invalidate.")
	flags.StringVarP(&Invalidate.ShardID, "shard", "s", "", "New shard ID for the key, if it moved.")
	flags.BoolVarP(&Invalidate.Removal, "removal", "", false, "The key was removed from the directory.")

	return invalidateCmd
}
