// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package etcd

import (
	"testing"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
)

func TestNewEtcd_RequiresEndpoints(t *testing.T) {
	_, err := NewEtcd(Options{})
	if !errors.Is(err, shardkit.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewEtcd_Defaults(t *testing.T) {
	// The client dials lazily, so constructing one does not require a
	// reachable cluster.
	e, err := NewEtcd(Options{Endpoints: []string{"localhost:2379"}})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if e.options.DialTimeout != shardkit.DefaultEtcdDialTimeout {
		t.Fatalf("DialTimeout = %s", e.options.DialTimeout)
	}
	if e.options.Prefix != shardkit.DefaultEtcdPrefix {
		t.Fatalf("Prefix = %s", e.options.Prefix)
	}
}

func TestKeyPrefixing(t *testing.T) {
	e := &Etcd{options: Options{Prefix: "/edge"}}

	if got := e.key("pubsub", "directory-invalidation"); got != "/edge/pubsub/directory-invalidation" {
		t.Fatalf("key = %s", got)
	}
	if got := e.key("cache", "directory-snapshot"); got != "/edge/cache/directory-snapshot" {
		t.Fatalf("key = %s", got)
	}

	r := &ShardRegistry{e: e}
	if got := r.prefix(); got != "/edge/shards/" {
		t.Fatalf("registry prefix = %s", got)
	}
}

func TestTTLSeconds(t *testing.T) {
	if got := ttlSeconds(15 * time.Minute); got != 900 {
		t.Fatalf("ttlSeconds(15m) = %d", got)
	}
	// etcd leases have one-second granularity; round sub-second TTLs up.
	if got := ttlSeconds(100 * time.Millisecond); got != 1 {
		t.Fatalf("ttlSeconds(100ms) = %d", got)
	}
}
