// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"sort"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/sqldb"
	"github.com/pkg/errors"
)

// DirectoryCommand represents a command for inspecting and editing the
// directory table that backs key-to-shard routing. With no key it lists
// every mapping; writes here bypass the cached directory, so running
// instances converge on the next refresh or invalidation.
type DirectoryCommand struct {
	// Directory database settings.
	Driver string
	DSN    string
	Table  string

	// Key selects a single mapping. With ShardID set the mapping is
	// written; with Remove set it is deleted; otherwise it is printed.
	Key     string
	ShardID string
	Remove  bool

	// CreateTable creates the directory table before any other work.
	CreateTable bool

	// Standard input/output
	*shardkit.CmdIO
}

// NewDirectoryCommand returns a new instance of DirectoryCommand.
func NewDirectoryCommand(stdin io.Reader, stdout, stderr io.Writer) *DirectoryCommand {
	return &DirectoryCommand{
		CmdIO: shardkit.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run executes the directory operation.
func (cmd *DirectoryCommand) Run(ctx context.Context) error {
	// Validate arguments.
	if cmd.DSN == "" {
		return fmt.Errorf("%w: --dsn flag required", UsageError)
	}
	if cmd.Remove && cmd.ShardID != "" {
		return fmt.Errorf("%w: --remove and --shard cannot be combined", UsageError)
	}
	if (cmd.Remove || cmd.ShardID != "") && cmd.Key == "" {
		return fmt.Errorf("%w: --key flag required", UsageError)
	}

	store, err := sqldb.NewStore(cmd.Driver, cmd.DSN, cmd.Table)
	if err != nil {
		return errors.Wrap(err, "opening directory store")
	}
	defer store.Close()

	if cmd.CreateTable {
		if err := store.CreateTable(ctx); err != nil {
			return errors.Wrap(err, "creating directory table")
		}
		fmt.Fprintf(cmd.Stdout, "created directory table %s\n", store.Table())
	}

	switch {
	case cmd.Remove:
		found, err := store.RemoveMapping(ctx, cmd.Key)
		if err != nil {
			return errors.Wrap(err, "removing mapping")
		}
		if !found {
			fmt.Fprintf(cmd.Stdout, "no mapping for key %q\n", cmd.Key)
			return nil
		}
		fmt.Fprintf(cmd.Stdout, "removed mapping for key %q\n", cmd.Key)

	case cmd.ShardID != "":
		if err := store.AddMapping(ctx, cmd.Key, cmd.ShardID); err != nil {
			return errors.Wrap(err, "writing mapping")
		}
		fmt.Fprintf(cmd.Stdout, "mapped key %q to shard %s\n", cmd.Key, cmd.ShardID)

	case cmd.Key != "":
		shardID, found, err := store.GetMapping(ctx, cmd.Key)
		if err != nil {
			return errors.Wrap(err, "reading mapping")
		}
		if !found {
			fmt.Fprintf(cmd.Stdout, "no mapping for key %q\n", cmd.Key)
			return nil
		}
		fmt.Fprintln(cmd.Stdout, shardID)

	case !cmd.CreateTable:
		mappings, err := store.GetAllMappings(ctx)
		if err != nil {
			return errors.Wrap(err, "listing mappings")
		}
		keys := make([]string, 0, len(mappings))
		for key := range mappings {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		// Write header.
		fmt.Fprint(cmd.Stdout, "KEY                            ")
		fmt.Fprintln(cmd.Stdout, "SHARD")
		fmt.Fprint(cmd.Stdout, "============================== ")
		fmt.Fprintln(cmd.Stdout, "====================")

		// Print one line for each mapping.
		for _, key := range keys {
			fmt.Fprintf(cmd.Stdout, "%-30s %s\n", key, mappings[key])
		}
	}
	return nil
}
