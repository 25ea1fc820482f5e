// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"sort"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/etcd"
	"github.com/pkg/errors"
)

// TopologyCommand represents a command for listing the shard records held
// in the etcd registry.
type TopologyCommand struct {
	// Etcd endpoints and key prefix of the registry to read.
	Endpoints []string
	Prefix    string

	// Standard input/output
	*shardkit.CmdIO
}

// NewTopologyCommand returns a new instance of TopologyCommand.
func NewTopologyCommand(stdin io.Reader, stdout, stderr io.Writer) *TopologyCommand {
	return &TopologyCommand{
		CmdIO: shardkit.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run prints one line per registered shard.
func (cmd *TopologyCommand) Run(ctx context.Context) error {
	if len(cmd.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one etcd endpoint is required", UsageError)
	}

	e, err := openEtcd(cmd.Endpoints, cmd.Prefix, cmd.Logger())
	if err != nil {
		return errors.Wrap(err, "connecting to etcd")
	}
	defer e.Close()

	shards, err := etcd.NewShardRegistry(e).LoadShards(ctx)
	if err != nil {
		return errors.Wrap(err, "loading shards")
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].ID < shards[j].ID })

	// Write header.
	fmt.Fprint(cmd.Stdout, "ID                   ")
	fmt.Fprint(cmd.Stdout, "ACTIVE ")
	fmt.Fprintln(cmd.Stdout, "LOCATION")
	fmt.Fprint(cmd.Stdout, "==================== ")
	fmt.Fprint(cmd.Stdout, "====== ")
	fmt.Fprintln(cmd.Stdout, "====================")

	// Print one line for each shard.
	for _, info := range shards {
		fmt.Fprintf(cmd.Stdout, "%-20s %-6t %s\n", info.ID, info.Active, info.Location)
	}
	return nil
}
