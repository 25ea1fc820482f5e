// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
)

func TestNewConfig_Defaults(t *testing.T) {
	c := shardkit.NewConfig()

	if c.RoutingMode != string(shardkit.RouteDirectoryThenHash) {
		t.Fatalf("RoutingMode = %s", c.RoutingMode)
	}
	if got := time.Duration(c.Topology.RefreshInterval); got != shardkit.DefaultTopologyRefreshInterval {
		t.Fatalf("Topology.RefreshInterval = %s", got)
	}
	if c.Directory.InvalidationStrategy != string(shardkit.InvalidateImmediate) {
		t.Fatalf("Directory.InvalidationStrategy = %s", c.Directory.InvalidationStrategy)
	}
	if c.Directory.InvalidationChannel != shardkit.DefaultInvalidationChannel {
		t.Fatalf("Directory.InvalidationChannel = %s", c.Directory.InvalidationChannel)
	}
	if c.Fanout.FailFast {
		t.Fatal("Fanout.FailFast should default to best-effort")
	}
	if got := time.Duration(c.Fanout.Timeout); got != shardkit.DefaultFanoutTimeout {
		t.Fatalf("Fanout.Timeout = %s", got)
	}
	if c.SQL.Driver != shardkit.DriverPostgres || c.SQL.Table != "shard_directory" {
		t.Fatalf("SQL defaults = %s/%s", c.SQL.Driver, c.SQL.Table)
	}
	if c.Metric.Service != shardkit.StatsNop {
		t.Fatalf("Metric.Service = %s", c.Metric.Service)
	}
	if c.Etcd.Prefix != shardkit.DefaultEtcdPrefix {
		t.Fatalf("Etcd.Prefix = %s", c.Etcd.Prefix)
	}

	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigFromFile(t *testing.T) {
	src := `
routing-mode = "hash"

[topology]
refresh-interval = "10s"

[directory]
invalidation-strategy = "lazy"
distributed-invalidation = true
l2-ttl = "1h"

[fanout]
fail-fast = true
min-success = 2
timeout = "5s"

[etcd]
endpoints = ["localhost:2379"]
prefix = "/edge"

[sql]
driver = "mysql"
dsn = "root@tcp(localhost:3306)/shards"

[metric]
service = "statsd"
host = "10.0.0.1:8125"
`
	path := filepath.Join(t.TempDir(), "shardkit.toml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := shardkit.ConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if c.RoutingMode != "hash" {
		t.Fatalf("RoutingMode = %s", c.RoutingMode)
	}
	if got := time.Duration(c.Topology.RefreshInterval); got != 10*time.Second {
		t.Fatalf("Topology.RefreshInterval = %s", got)
	}
	if c.Directory.InvalidationStrategy != "lazy" || !c.Directory.DistributedInvalidation {
		t.Fatalf("Directory = %+v", c.Directory)
	}
	if got := time.Duration(c.Directory.L2TTL); got != time.Hour {
		t.Fatalf("Directory.L2TTL = %s", got)
	}
	if !c.Fanout.FailFast || c.Fanout.MinSuccess != 2 {
		t.Fatalf("Fanout = %+v", c.Fanout)
	}
	if len(c.Etcd.Endpoints) != 1 || c.Etcd.Endpoints[0] != "localhost:2379" {
		t.Fatalf("Etcd.Endpoints = %v", c.Etcd.Endpoints)
	}
	if c.SQL.Driver != "mysql" || c.SQL.DSN == "" {
		t.Fatalf("SQL = %+v", c.SQL)
	}
	if c.Metric.Service != "statsd" || c.Metric.Host != "10.0.0.1:8125" {
		t.Fatalf("Metric = %+v", c.Metric)
	}

	// Values the file doesn't set keep their defaults.
	if c.Directory.InvalidationChannel != shardkit.DefaultInvalidationChannel {
		t.Fatalf("InvalidationChannel lost its default: %s", c.Directory.InvalidationChannel)
	}
	if c.SQL.Table != "shard_directory" {
		t.Fatalf("SQL.Table lost its default: %s", c.SQL.Table)
	}

	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigFromFile_Missing(t *testing.T) {
	if _, err := shardkit.ConfigFromFile(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*shardkit.Config)
	}{
		{"BadRoutingMode", func(c *shardkit.Config) { c.RoutingMode = "random" }},
		{"BadInvalidationStrategy", func(c *shardkit.Config) { c.Directory.InvalidationStrategy = "eventually" }},
		{"NegativeMinSuccess", func(c *shardkit.Config) { c.Fanout.MinSuccess = -1 }},
		{"BadDriver", func(c *shardkit.Config) { c.SQL.Driver = "oracle" }},
		{"BadMetricService", func(c *shardkit.Config) { c.Metric.Service = "graphite" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := shardkit.NewConfig()
			test.mutate(c)
			if err := c.Validate(); !errors.Is(err, shardkit.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfig_FanoutPolicy(t *testing.T) {
	c := shardkit.NewConfig()
	c.Fanout.FailFast = true
	c.Fanout.MinSuccess = 3

	p := c.FanoutPolicy()
	if !p.FailFast || p.MinSuccess != 3 {
		t.Fatalf("FanoutPolicy = %+v", p)
	}
}

func TestDuration(t *testing.T) {
	var d shardkit.Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Fatalf("UnmarshalText = %s", d)
	}

	text, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "1m30s" {
		t.Fatalf("MarshalText = %s", text)
	}

	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatal("expected a parse error")
	}
}
