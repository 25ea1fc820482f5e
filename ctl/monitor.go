// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/client9/reopen"
	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/etcd"
	"github.com/featurebasedb/shardkit/logger"
	"github.com/pkg/errors"
)

// monitorPollInterval is how often the monitor compares the provider's
// snapshot against the last one it printed.
const monitorPollInterval = time.Second

// MonitorCommand follows the control plane live: it keeps a topology
// provider subscribed to the shard registry and prints every membership
// change, and tails the invalidation channel, printing every message as
// peers publish it. It runs until interrupted.
type MonitorCommand struct {
	// Endpoints and Prefix locate the etcd cluster holding the registry
	// and the invalidation traffic.
	Endpoints []string
	Prefix    string

	// Channel is the invalidation channel to follow.
	Channel string

	// RefreshInterval is the topology provider's background refresh
	// period. Registry watches trigger refreshes in between ticks either
	// way.
	RefreshInterval time.Duration

	// LogPath redirects diagnostics to a file; empty logs to stderr.
	LogPath string

	// Verbose includes debug-level diagnostics.
	Verbose bool

	// MetricService is where the provider's stats go: one of nop, expvar,
	// statsd, prometheus. MetricHost is the statsd address.
	MetricService string
	MetricHost    string

	*shardkit.CmdIO
}

// NewMonitorCommand returns a new instance of MonitorCommand.
func NewMonitorCommand(stdin io.Reader, stdout, stderr io.Writer) *MonitorCommand {
	return &MonitorCommand{
		Channel:         shardkit.DefaultInvalidationChannel,
		RefreshInterval: shardkit.DefaultTopologyRefreshInterval,
		MetricService:   shardkit.DefaultMetrics,
		MetricHost:      shardkit.DefaultStatsdHost,
		CmdIO:           shardkit.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run watches the registry and the invalidation channel until ctx is
// canceled.
func (cmd *MonitorCommand) Run(ctx context.Context) error {
	if len(cmd.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one etcd endpoint (--endpoints) is required", UsageError)
	}

	log, logCloser, err := cmd.setupLogger()
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	stats, err := NewStatsClient(cmd.MetricService, cmd.MetricHost, log)
	if err != nil {
		return err
	}
	stats.Open()
	defer stats.Close()

	e, err := openEtcd(cmd.Endpoints, cmd.Prefix, log)
	if err != nil {
		return err
	}
	defer e.Close()

	registry := etcd.NewShardRegistry(e)
	provider := shardkit.NewTopologyProvider(registry)
	provider.RefreshInterval = cmd.RefreshInterval
	provider.Notifier = registry
	provider.Logger = log
	provider.Stats = stats
	if err := provider.Open(); err != nil {
		return errors.Wrap(err, "opening topology provider")
	}
	defer provider.Close()

	// Funnel invalidations into the print loop so topology and
	// invalidation output never interleave mid-line.
	invalidations := make(chan shardkit.InvalidationMessage, 16)
	sub, err := etcd.NewPubSub(e).Subscribe(ctx, cmd.Channel, func(payload []byte) {
		var msg shardkit.InvalidationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warnf("undecodable invalidation on channel %s: %v", cmd.Channel, err)
			return
		}
		select {
		case invalidations <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return errors.Wrapf(err, "subscribing to channel %s", cmd.Channel)
	}
	defer sub.Close()

	fmt.Fprintf(cmd.Stdout, "monitoring shard registry under %s, invalidation channel %q\n", cmd.Prefix, cmd.Channel)
	last := cmd.printTopology(provider.GetTopology())

	ticker := time.NewTicker(monitorPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-invalidations:
			origin := msg.Origin
			if origin == "" {
				origin = "unknown"
			}
			if msg.Removal {
				fmt.Fprintf(cmd.Stdout, "invalidation: key %q removed (origin %s)\n", msg.Key, origin)
			} else {
				fmt.Fprintf(cmd.Stdout, "invalidation: key %q -> shard %s (origin %s)\n", msg.Key, msg.ShardID, origin)
			}

		case <-ticker.C:
			topo := provider.GetTopology()
			if topologySignature(topo) == last {
				continue
			}
			fmt.Fprintln(cmd.Stdout, "topology changed:")
			last = cmd.printTopology(topo)
		}
	}
}

// printTopology prints the snapshot and returns its signature.
func (cmd *MonitorCommand) printTopology(topo *shardkit.Topology) string {
	fmt.Fprintf(cmd.Stdout, "topology: %d shards, %d active\n", topo.NumShards(), topo.NumActive())
	for _, info := range topo.Shards() {
		fmt.Fprintf(cmd.Stdout, "  %-20s %-6t %s\n", info.ID, info.Active, info.Location)
	}
	return topologySignature(topo)
}

// setupLogger builds the diagnostics logger from LogPath and Verbose. The
// returned closer owns the log file and is nil when logging to stderr.
func (cmd *MonitorCommand) setupLogger() (logger.Logger, io.Closer, error) {
	var w io.Writer = cmd.Stderr
	var f *reopen.FileWriter
	var closer io.Closer
	if cmd.LogPath != "" {
		var err error
		f, err = reopen.NewFileWriter(cmd.LogPath)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening log file %s", cmd.LogPath)
		}
		w, closer = f, f
	}

	var log logger.Logger
	if cmd.Verbose {
		log = logger.NewVerboseLogger(w)
	} else {
		log = logger.NewStandardLogger(w)
	}

	if f != nil {
		// reopen log file on SIGHUP
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		go func() {
			for range sighup {
				if err := f.Reopen(); err != nil {
					log.Infof("reopen: %s", err)
				}
			}
		}()
	}
	return log, closer, nil
}

// topologySignature renders the snapshot into a stable string so the poll
// loop can detect change. Shards() orders by ID, so equal snapshots render
// equally.
func topologySignature(topo *shardkit.Topology) string {
	var b strings.Builder
	for _, info := range topo.Shards() {
		fmt.Fprintf(&b, "%s|%t|%s;", info.ID, info.Active, info.Location)
	}
	return b.String()
}
