// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"os"
	"time"

	"github.com/featurebasedb/shardkit/errors"
	"github.com/pelletier/go-toml"
)

// Stats backend names.
const (
	StatsNop        = "nop"
	StatsExpvar     = "expvar"
	StatsStatsd     = "statsd"
	StatsPrometheus = "prometheus"
)

// StatsBackends is the set of recognized metric service names.
var StatsBackends = []string{StatsNop, StatsExpvar, StatsStatsd, StatsPrometheus}

// SQL driver names understood by the sqldb package.
const (
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// SQLDrivers is the set of recognized directory-store drivers.
var SQLDrivers = []string{DriverPostgres, DriverMySQL, DriverSQLServer}

const (
	// DefaultRoutingMode prefers directory mappings and hash-places
	// unmapped keys.
	DefaultRoutingMode = RouteDirectoryThenHash

	// DefaultInvalidationStrategy evicts written keys from L1.
	DefaultInvalidationStrategy = InvalidateImmediate

	// DefaultTopologyRefreshInterval is the period of the topology
	// provider's background refresh.
	DefaultTopologyRefreshInterval = 30 * time.Second

	// DefaultDirectoryRefreshInterval is the period of the directory L1
	// full rebuild; it bounds cache staleness when invalidation messages
	// are lost.
	DefaultDirectoryRefreshInterval = 5 * time.Minute

	// DefaultInvalidationChannel is the pub/sub channel invalidation
	// messages travel on.
	DefaultInvalidationChannel = "directory-invalidation"

	// DefaultL2SnapshotKey is the L2 cache key holding the latest
	// directory snapshot.
	DefaultL2SnapshotKey = "directory-snapshot"

	// DefaultL2TTL is how long an L2 snapshot stays usable for bootstrap.
	DefaultL2TTL = 15 * time.Minute

	// DefaultFanoutTimeout bounds a whole scatter-gather call at the
	// facade level.
	DefaultFanoutTimeout = 30 * time.Second

	// DefaultMetrics sets the internal metrics to no-op.
	DefaultMetrics = StatsNop

	// DefaultStatsdHost is where the statsd backend sends metrics.
	DefaultStatsdHost = "127.0.0.1:8125"

	// DefaultEtcdDialTimeout bounds the initial etcd connection.
	DefaultEtcdDialTimeout = 5 * time.Second

	// DefaultEtcdPrefix namespaces every key the etcd package touches.
	DefaultEtcdPrefix = "/shardkit"
)

// Config represents the configuration for a shardkit deployment: the
// routing mode, cache behavior, fan-out policy, and the backends the ctl
// commands wire up.
type Config struct {
	// RoutingMode is one of directory, hash, directory-then-hash.
	RoutingMode string `toml:"routing-mode"`

	Topology struct {
		// RefreshInterval is the period of the background topology
		// refresh. Zero disables it.
		RefreshInterval Duration `toml:"refresh-interval"`
	} `toml:"topology"`

	Directory struct {
		// InvalidationStrategy is one of immediate, write-through, lazy.
		InvalidationStrategy string `toml:"invalidation-strategy"`
		// RefreshInterval is the period of the L1 full rebuild. Zero
		// disables it.
		RefreshInterval Duration `toml:"refresh-interval"`
		// DistributedInvalidation toggles pub/sub invalidation between
		// instances.
		DistributedInvalidation bool   `toml:"distributed-invalidation"`
		InvalidationChannel     string `toml:"invalidation-channel"`
		// L2SnapshotKey and L2TTL configure the shared snapshot used to
		// warm cold instances.
		L2SnapshotKey string   `toml:"l2-snapshot-key"`
		L2TTL         Duration `toml:"l2-ttl"`
	} `toml:"directory"`

	Fanout struct {
		FailFast   bool     `toml:"fail-fast"`
		MinSuccess int      `toml:"min-success"`
		Timeout    Duration `toml:"timeout"`
	} `toml:"fanout"`

	Etcd struct {
		Endpoints   []string `toml:"endpoints"`
		DialTimeout Duration `toml:"dial-timeout"`
		Prefix      string   `toml:"prefix"`
	} `toml:"etcd"`

	SQL struct {
		// Driver is one of postgres, mysql, sqlserver.
		Driver string `toml:"driver"`
		// DSN is the driver-specific connection string for the directory
		// store.
		DSN string `toml:"dsn"`
		// Table is the directory table name.
		Table string `toml:"table"`
	} `toml:"sql"`

	Metric struct {
		// Service is one of nop, expvar, statsd, prometheus.
		Service string `toml:"service"`
		// Host is the statsd address when Service is statsd.
		Host string `toml:"host"`
	} `toml:"metric"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		RoutingMode: string(DefaultRoutingMode),
	}
	c.Topology.RefreshInterval = Duration(DefaultTopologyRefreshInterval)
	c.Directory.InvalidationStrategy = string(DefaultInvalidationStrategy)
	c.Directory.RefreshInterval = Duration(DefaultDirectoryRefreshInterval)
	c.Directory.InvalidationChannel = DefaultInvalidationChannel
	c.Directory.L2SnapshotKey = DefaultL2SnapshotKey
	c.Directory.L2TTL = Duration(DefaultL2TTL)
	c.Fanout.Timeout = Duration(DefaultFanoutTimeout)
	c.Etcd.Endpoints = []string{}
	c.Etcd.DialTimeout = Duration(DefaultEtcdDialTimeout)
	c.Etcd.Prefix = DefaultEtcdPrefix
	c.SQL.Driver = DriverPostgres
	c.SQL.Table = "shard_directory"
	c.Metric.Service = DefaultMetrics
	c.Metric.Host = DefaultStatsdHost
	return c
}

// ConfigFromFile loads a Config from a TOML file, applying defaults for
// anything the file leaves unset.
func ConfigFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	c := NewConfig()
	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", path)
	}
	return c, nil
}

// Validate that all configuration permutations are compatible with each other.
func (c *Config) Validate() error {
	if _, err := ParseRoutingMode(c.RoutingMode); err != nil {
		return err
	}
	if _, err := ParseInvalidationStrategy(c.Directory.InvalidationStrategy); err != nil {
		return err
	}
	if c.Fanout.MinSuccess < 0 {
		return errors.Newf(ErrInvalidConfig, "fanout min-success must be >= 0, got %d", c.Fanout.MinSuccess)
	}
	if !stringInSlice(c.SQL.Driver, SQLDrivers) {
		return errors.Newf(ErrInvalidConfig, "unknown sql driver '%s'", c.SQL.Driver)
	}
	if !stringInSlice(c.Metric.Service, StatsBackends) {
		return errors.Newf(ErrInvalidConfig, "unknown metric service '%s'", c.Metric.Service)
	}
	return nil
}

// FanoutPolicy returns the executor policy the config describes.
func (c *Config) FanoutPolicy() Policy {
	return Policy{
		FailFast:   c.Fanout.FailFast,
		MinSuccess: c.Fanout.MinSuccess,
	}
}

func stringInSlice(s string, list []string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

// MarshalText writes duration value in text format.
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// MarshalTOML write duration into valid TOML.
func (d Duration) MarshalTOML() ([]byte, error) {
	return []byte(d.String()), nil
}
