// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"strings"
	"testing"

	"github.com/featurebasedb/shardkit/cmd"
)

func TestTopologyHelp(t *testing.T) {
	output := ExecNewRootCommand(t, "topology", "--help")
	if !strings.Contains(output, "Usage:") ||
		!strings.Contains(output, "Flags:") ||
		!strings.Contains(output, "shardkit topology") {
		t.Fatalf("Command 'topology --help' not working, output: '%s'", output)
	}
}

func TestTopologyConfig(t *testing.T) {
	tests := []commandTest{
		{
			args: []string{"topology", "--prefix", "/custom"},
			env:  map[string]string{"SHARDKIT_ENDPOINTS": "localhost:2379,localhost:22379"},
			validation: func() error {
				v := validator{}
				v.Check(cmd.Topology.Endpoints, []string{"localhost:2379", "localhost:22379"})
				v.Check(cmd.Topology.Prefix, "/custom")
				return v.Error()
			},
		},
		{
			args: []string{"topology"},
			cfgFileContent: `
endpoints = ["etcd1:2379", "etcd2:2379"]
`,
			validation: func() error {
				v := validator{}
				v.Check(cmd.Topology.Endpoints, []string{"etcd1:2379", "etcd2:2379"})
				v.Check(cmd.Topology.Prefix, "/shardkit")
				return v.Error()
			},
		},
	}
	executeDry(t, tests)
}
