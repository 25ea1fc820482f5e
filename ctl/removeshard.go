// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/etcd"
	"github.com/pkg/errors"
)

// RemoveShardCommand represents a command for deleting a shard record from
// the etcd registry. It does not touch directory mappings that still point
// at the shard; reassign those first.
type RemoveShardCommand struct {
	// Etcd endpoints and key prefix of the registry to write.
	Endpoints []string
	Prefix    string

	// ID of the shard record to delete.
	ID string

	// Standard input/output
	*shardkit.CmdIO
}

// NewRemoveShardCommand returns a new instance of RemoveShardCommand.
func NewRemoveShardCommand(stdin io.Reader, stdout, stderr io.Writer) *RemoveShardCommand {
	return &RemoveShardCommand{
		CmdIO: shardkit.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run deletes the shard record.
func (cmd *RemoveShardCommand) Run(ctx context.Context) error {
	// Validate arguments.
	if cmd.ID == "" {
		return fmt.Errorf("%w: --id flag required", UsageError)
	}
	if len(cmd.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one etcd endpoint is required", UsageError)
	}

	e, err := openEtcd(cmd.Endpoints, cmd.Prefix, cmd.Logger())
	if err != nil {
		return errors.Wrap(err, "connecting to etcd")
	}
	defer e.Close()

	found, err := etcd.NewShardRegistry(e).DeleteShard(ctx, cmd.ID)
	if err != nil {
		return errors.Wrap(err, "deleting shard record")
	}
	if !found {
		fmt.Fprintf(cmd.Stdout, "shard %s not found\n", cmd.ID)
		return nil
	}

	fmt.Fprintf(cmd.Stdout, "removed shard %s\n", cmd.ID)
	return nil
}
