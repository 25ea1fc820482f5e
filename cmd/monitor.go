// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/ctl"
)

var Monitor *ctl.MonitorCommand

func newMonitorCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Monitor = ctl.NewMonitorCommand(stdin, stdout, stderr)
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch topology changes and invalidation traffic live.",
		Long: `
Follows the control plane until interrupted: prints the shard topology
whenever the registry changes, and prints every invalidation message
published on the channel.

	shardkit monitor -e localhost:2379 --verbose
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// First signal shuts the monitor down gracefully. A second
			// signal causes a hard shutdown.
			c := make(chan os.Signal, 2)
			signal.Notify(c, os.Interrupt)
			defer signal.Stop(c)
			go func() {
				sig := <-c
				fmt.Fprintf(Monitor.Stderr, "Received %s; shutting down...\n", sig.String())
				cancel()
				<-c
				os.Exit(1)
			}()

			return Monitor.Run(ctx)
		},
	}
	flags := monitorCmd.Flags()

	flags.StringSliceVarP(&Monitor.Endpoints, "endpoints", "e", nil, "Comma-separated etcd endpoints.")
	flags.StringVarP(&Monitor.Prefix, "prefix", "", shardkit.DefaultEtcdPrefix, "Etcd key prefix.")
	flags.StringVarP(&Monitor.Channel, "channel", "", shardkit.DefaultInvalidationChannel, "Invalidation channel to follow.")
	flags.DurationVarP(&Monitor.RefreshInterval, "refresh-interval", "", shardkit.DefaultTopologyRefreshInterval, "Topology refresh period.")
	flags.StringVarP(&Monitor.LogPath, "log-path", "", "", "Log path. Empty means stderr.")
	flags.BoolVarP(&Monitor.Verbose, "verbose", "", false, "Enable verbose logging.")
	flags.StringVarP(&Monitor.MetricService, "metric.service", "", shardkit.DefaultMetrics, "Where to send stats: can be expvar, prometheus, statsd or nop.")
	flags.StringVarP(&Monitor.MetricHost, "metric.host", "", shardkit.DefaultStatsdHost, "URI to send metrics when metric.service is statsd.")

	return monitorCmd
}
