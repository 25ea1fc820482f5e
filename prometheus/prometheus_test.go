// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package prometheus_test

import (
	"testing"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/logger"
	promstats "github.com/featurebasedb/shardkit/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestPrometheusClient_Methods(t *testing.T) {
	c := promstats.NewClient(logger.NopLogger)
	defer c.Close()

	c.Count(shardkit.MetricTopologyRefresh, 1, 1.0)
	c.Count(shardkit.MetricTopologyRefresh, 2, 1.0)
	c.Gauge(shardkit.MetricFanoutShards, 3, 1.0)
	c.Timing(shardkit.MetricFanoutDuration, 120*time.Millisecond, 1.0)
	c.WithTags("shard:s1").Count(shardkit.MetricFanoutShardFailure, 1, 1.0)

	metricFams, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, metricName := range []string{
		"shardkit_topology_refresh_total",
		"shardkit_fanout_shards",
		"shardkit_fanout_duration_seconds",
		"shardkit_fanout_shard_failure_total",
	} {
		if metricExists(metricName, metricFams) {
			continue
		}
		t.Fatalf("metric does not exist: %s", metricName)
	}

	// Counts accumulate.
	fam := metricFamily("shardkit_topology_refresh_total", metricFams)
	if got := fam.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("counter value = %v, want 3", got)
	}

	// Tags surface as labels.
	fam = metricFamily("shardkit_fanout_shard_failure_total", metricFams)
	labels := fam.GetMetric()[0].GetLabel()
	if len(labels) != 1 || labels[0].GetName() != "shard" || labels[0].GetValue() != "s1" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestPrometheusClient_Tags(t *testing.T) {
	c := promstats.NewClient(logger.NopLogger)

	c1 := c.WithTags("foo:1", "bar:2")
	want := []string{"bar:2", "foo:1"}
	got := c1.Tags()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("tags = %v, want %v", got, want)
	}
}

func metricExists(metricName string, metricFams []*io_prometheus_client.MetricFamily) bool {
	return metricFamily(metricName, metricFams) != nil
}

func metricFamily(metricName string, metricFams []*io_prometheus_client.MetricFamily) *io_prometheus_client.MetricFamily {
	for _, metricFam := range metricFams {
		if metricFam.GetName() == metricName {
			return metricFam
		}
	}
	return nil
}
