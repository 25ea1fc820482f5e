// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package shardkit partitions a logical dataset across independently
// addressable storage shards. It routes a routing key to its owning shard,
// fans queries out across many shards in parallel with per-shard failure
// reporting, combines per-shard partial aggregates into mathematically
// correct global aggregates, and keeps shard-routing metadata (the topology
// and the key→shard directory) cached coherently across running instances.
//
// The package deliberately stops at the shard boundary: executing SQL
// against a single, already-resolved shard is the caller's job, supplied as
// a query function or a ShardRepository implementation.
package shardkit

import (
	"hash/fnv"
	"sort"
	"strings"
)

// ShardInfo describes a single shard: its identifier, an opaque location
// (typically a DSN understood by the connection factory), and whether the
// shard currently accepts new key placements. Values are immutable once
// constructed.
type ShardInfo struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Active   bool   `json:"active"`
}

// Topology is an immutable snapshot of the shard set. A new Topology is
// built wholesale on every refresh and swapped in with a single atomic
// store; it is never modified in place, so a reader always observes either
// the fully-old or the fully-new shard set, never a mix.
type Topology struct {
	shards map[string]ShardInfo
	active []string // sorted IDs of shards with Active set
}

// NewTopology returns a Topology holding the given shards. Later duplicates
// of a shard ID win.
func NewTopology(shards []ShardInfo) *Topology {
	t := &Topology{
		shards: make(map[string]ShardInfo, len(shards)),
	}
	for _, si := range shards {
		t.shards[si.ID] = si
	}
	for id, si := range t.shards {
		if si.Active {
			t.active = append(t.active, id)
		}
	}
	sort.Strings(t.active)
	return t
}

// Shard returns the ShardInfo for id and whether the snapshot contains it.
func (t *Topology) Shard(id string) (ShardInfo, bool) {
	si, ok := t.shards[id]
	return si, ok
}

// Shards returns every shard in the snapshot, ordered by ID.
func (t *Topology) Shards() []ShardInfo {
	ids := make([]string, 0, len(t.shards))
	for id := range t.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ShardInfo, len(ids))
	for i, id := range ids {
		out[i] = t.shards[id]
	}
	return out
}

// ActiveShardIDs returns the IDs of the active shards, sorted. The returned
// slice is a copy; callers may keep or modify it.
func (t *Topology) ActiveShardIDs() []string {
	out := make([]string, len(t.active))
	copy(out, t.active)
	return out
}

// NumShards returns the total number of shards in the snapshot.
func (t *Topology) NumShards() int { return len(t.shards) }

// NumActive returns the number of active shards in the snapshot.
func (t *Topology) NumActive() int { return len(t.active) }

// Hasher represents an interface to hash integers into buckets.
type Hasher interface {
	// Hashes the key into a number between [0,N).
	Hash(key uint64, n int) int
}

// NewHasher returns a new instance of the default hasher.
func NewHasher() Hasher { return &jmphasher{} }

// jmphasher represents an implementation of jmphash. Implements Hasher.
type jmphasher struct{}

// Hash returns the integer hash for the given key.
func (h *jmphasher) Hash(key uint64, n int) int {
	b, j := int64(-1), int64(0)
	for j < int64(n) {
		b = j
		key = key*uint64(2862933555777941757) + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(b)
}

// foldKey normalizes a routing key. Routing keys are case-insensitive
// everywhere: the directory, the router, and invalidation messages all
// operate on the folded form.
func foldKey(key string) string { return strings.ToLower(key) }

// hashKey returns the 64-bit hash of a folded routing key, the input to
// hash-based shard placement.
func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
