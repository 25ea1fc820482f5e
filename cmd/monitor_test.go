// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"strings"
	"testing"
	"time"

	"github.com/featurebasedb/shardkit/cmd"
)

func TestMonitorHelp(t *testing.T) {
	output := ExecNewRootCommand(t, "monitor", "--help")
	if !strings.Contains(output, "Usage:") ||
		!strings.Contains(output, "Flags:") ||
		!strings.Contains(output, "shardkit monitor") {
		t.Fatalf("Command 'monitor --help' not working, output: '%s'", output)
	}
}

func TestMonitorConfig(t *testing.T) {
	tests := []commandTest{
		{
			args: []string{"monitor", "--verbose", "--log-path", "/tmp/shardkit-monitor.log"},
			env:  map[string]string{"SHARDKIT_ENDPOINTS": "localhost:2379"},
			validation: func() error {
				v := validator{}
				v.Check(cmd.Monitor.Endpoints, []string{"localhost:2379"})
				v.Check(cmd.Monitor.Verbose, true)
				v.Check(cmd.Monitor.LogPath, "/tmp/shardkit-monitor.log")
				v.Check(cmd.Monitor.MetricService, "nop")
				return v.Error()
			},
		},
		{
			args: []string{"monitor"},
			env:  map[string]string{"SHARDKIT_METRIC_SERVICE": "expvar"},
			cfgFileContent: `
endpoints = ["etcd1:2379"]
channel = "custom-invalidation"
refresh-interval = "45s"

[metric]
  host = "127.0.0.1:9125"
`,
			validation: func() error {
				v := validator{}
				v.Check(cmd.Monitor.Endpoints, []string{"etcd1:2379"})
				v.Check(cmd.Monitor.Channel, "custom-invalidation")
				v.Check(cmd.Monitor.RefreshInterval, 45*time.Second)
				v.Check(cmd.Monitor.MetricService, "expvar")
				v.Check(cmd.Monitor.MetricHost, "127.0.0.1:9125")
				return v.Error()
			},
		},
	}
	executeDry(t, tests)
}
