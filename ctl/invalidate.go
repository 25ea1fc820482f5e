// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/etcd"
	"github.com/pkg/errors"
)

// InvalidateCommand represents a command for publishing a directory
// invalidation to every running instance, for example after editing the
// directory table directly. The message carries no origin, so no instance
// skips it.
type InvalidateCommand struct {
	// Etcd endpoints, key prefix, and pub/sub channel to publish on.
	Endpoints []string
	Prefix    string
	Channel   string

	// Invalidation to publish.
	Key     string
	ShardID string
	Removal bool

	// Standard input/output
	*shardkit.CmdIO
}

// NewInvalidateCommand returns a new instance of InvalidateCommand.
func NewInvalidateCommand(stdin io.Reader, stdout, stderr io.Writer) *InvalidateCommand {
	return &InvalidateCommand{
		CmdIO:   shardkit.NewCmdIO(stdin, stdout, stderr),
		Channel: shardkit.DefaultInvalidationChannel,
	}
}

// Run publishes the invalidation.
func (cmd *InvalidateCommand) Run(ctx context.Context) error {
	// Validate arguments.
	if cmd.Key == "" {
		return fmt.Errorf("%w: --key flag required", UsageError)
	}
	if cmd.Removal && cmd.ShardID != "" {
		return fmt.Errorf("%w: --removal and --shard cannot be combined", UsageError)
	}
	if len(cmd.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one etcd endpoint is required", UsageError)
	}

	e, err := openEtcd(cmd.Endpoints, cmd.Prefix, cmd.Logger())
	if err != nil {
		return errors.Wrap(err, "connecting to etcd")
	}
	defer e.Close()

	payload, err := json.Marshal(shardkit.InvalidationMessage{
		Key:     cmd.Key,
		ShardID: cmd.ShardID,
		Removal: cmd.Removal,
	})
	if err != nil {
		return errors.Wrap(err, "encoding invalidation")
	}
	if err := etcd.NewPubSub(e).Publish(ctx, cmd.Channel, payload); err != nil {
		return errors.Wrap(err, "publishing invalidation")
	}

	fmt.Fprintf(cmd.Stdout, "published invalidation for key %q\n", cmd.Key)
	return nil
}
