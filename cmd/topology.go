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

var Topology *ctl.TopologyCommand

func newTopologyCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Topology = ctl.NewTopologyCommand(stdin, stdout, stderr)
	topologyCmd := &cobra.Command{
		Use:   "topology",
		Short: "List the registered shards.",
		Long: `
Lists every shard record in the etcd registry, one line per shard with
its ID, active flag, and location.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Topology.Run(context.Background())
		},
	}
	flags := topologyCmd.Flags()

	flags.StringSliceVarP(&Topology.Endpoints, "endpoints", "e", nil, "Comma-separated etcd endpoints.")
	flags.StringVarP(&Topology.Prefix, "prefix", "", shardkit.DefaultEtcdPrefix, "Etcd key prefix.")

	return topologyCmd
}
