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

// SetShardCommand represents a command for writing a shard record into the
// etcd registry. Writing an existing ID replaces the record, so the same
// command marks a shard inactive before maintenance.
type SetShardCommand struct {
	// Etcd endpoints and key prefix of the registry to write.
	Endpoints []string
	Prefix    string

	// Shard record to write.
	ID       string
	Location string
	Inactive bool

	// Standard input/output
	*shardkit.CmdIO
}

// NewSetShardCommand returns a new instance of SetShardCommand.
func NewSetShardCommand(stdin io.Reader, stdout, stderr io.Writer) *SetShardCommand {
	return &SetShardCommand{
		CmdIO: shardkit.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run writes the shard record.
func (cmd *SetShardCommand) Run(ctx context.Context) error {
	// Validate arguments.
	if cmd.ID == "" {
		return fmt.Errorf("%w: --id flag required", UsageError)
	} else if cmd.Location == "" {
		return fmt.Errorf("%w: --location flag required", UsageError)
	}
	if len(cmd.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one etcd endpoint is required", UsageError)
	}

	e, err := openEtcd(cmd.Endpoints, cmd.Prefix, cmd.Logger())
	if err != nil {
		return errors.Wrap(err, "connecting to etcd")
	}
	defer e.Close()

	info := shardkit.ShardInfo{
		ID:       cmd.ID,
		Location: cmd.Location,
		Active:   !cmd.Inactive,
	}
	if err := etcd.NewShardRegistry(e).PutShard(ctx, info); err != nil {
		return errors.Wrap(err, "writing shard record")
	}

	fmt.Fprintf(cmd.Stdout, "registered shard %s at %s (active=%t)\n", info.ID, info.Location, info.Active)
	return nil
}
