// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ctl contains all the commands for the shardkit binary. Each
// command is a plain struct whose exported fields are its configuration;
// the cmd package binds those fields to flags.
package ctl

import (
	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/etcd"
	"github.com/featurebasedb/shardkit/logger"
	"github.com/featurebasedb/shardkit/prometheus"
	"github.com/featurebasedb/shardkit/statsd"
	"github.com/pkg/errors"
)

// UsageError marks validation failures caused by how the command was
// invoked, so callers can print usage instead of reporting an internal
// error. Wrap it with fmt.Errorf and %w.
var UsageError = errors.New("usage error")

// openEtcd dials the etcd cluster a command points at. Dial timeout and
// prefix defaults are applied by etcd.NewEtcd.
func openEtcd(endpoints []string, prefix string, log logger.Logger) (*etcd.Etcd, error) {
	return etcd.NewEtcd(etcd.Options{
		Endpoints: endpoints,
		Prefix:    prefix,
		Logger:    log,
	})
}

// NewStatsClient creates a stats client from the metric service name.
// Backends that can fail to emit report those failures through log.
func NewStatsClient(name string, host string, log logger.Logger) (shardkit.StatsClient, error) {
	switch name {
	case shardkit.StatsExpvar:
		return shardkit.NewExpvarStatsClient(), nil
	case shardkit.StatsStatsd:
		return statsd.NewStatsClient(host, "", log)
	case shardkit.StatsPrometheus:
		return prometheus.NewClient(log), nil
	case shardkit.StatsNop, "":
		return shardkit.NopStatsClient, nil
	default:
		return nil, errors.Errorf("'%v' not a valid stats client, choose from [expvar, statsd, prometheus, nop]", name)
	}
}
