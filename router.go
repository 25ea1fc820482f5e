// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"context"

	"github.com/featurebasedb/shardkit/errors"
	"github.com/featurebasedb/shardkit/logger"
)

// RoutingMode selects how a Router resolves a routing key to a shard.
type RoutingMode string

const (
	// RouteByDirectory resolves keys through the directory only; a key
	// with no mapping is an error.
	RouteByDirectory RoutingMode = "directory"
	// RouteByHash places keys deterministically over the active shards
	// with no directory involvement.
	RouteByHash RoutingMode = "hash"
	// RouteDirectoryThenHash prefers the directory mapping and falls back
	// to hash placement for unmapped keys.
	RouteDirectoryThenHash RoutingMode = "directory-then-hash"
)

// RoutingModes is the set of recognized mode names.
var RoutingModes = []RoutingMode{RouteByDirectory, RouteByHash, RouteDirectoryThenHash}

// ParseRoutingMode maps a config string to a routing mode.
func ParseRoutingMode(s string) (RoutingMode, error) {
	for _, m := range RoutingModes {
		if s == string(m) {
			return m, nil
		}
	}
	return "", errors.Newf(ErrInvalidConfig, "unknown routing mode '%s'", s)
}

// RoutingKeyer is implemented by entities that can name their own routing
// key.
type RoutingKeyer interface {
	RoutingKey() string
}

// Router resolves routing keys (and entities carrying them) to shards. All
// resolution is against the provider's current topology snapshot, so a
// Router is safe for concurrent use and never blocks on I/O except for
// directory lookups.
type Router struct {
	provider  *TopologyProvider
	directory DirectoryStore

	// Mode selects the resolution strategy. Directory modes require a
	// non-nil directory.
	Mode RoutingMode

	// Hasher places keys over the active shard list when hashing is in
	// play. Defaults to the jump hasher.
	Hasher Hasher

	// KeyFunc extracts a routing key from entities that do not implement
	// RoutingKeyer. Optional.
	KeyFunc func(v interface{}) (string, error)

	Logger logger.Logger
}

// NewRouter returns a router over provider. directory may be nil when mode
// is RouteByHash.
func NewRouter(provider *TopologyProvider, directory DirectoryStore, mode RoutingMode) *Router {
	return &Router{
		provider:  provider,
		directory: directory,
		Mode:      mode,
		Hasher:    NewHasher(),
		Logger:    logger.NopLogger,
	}
}

// GetShardID resolves key to the ID of the shard responsible for it.
// Whatever the mode, only shards present and active in the current topology
// are ever returned.
func (r *Router) GetShardID(ctx context.Context, key string) (string, error) {
	key = foldKey(key)
	if key == "" {
		return "", NewErrRoutingKeyUnresolvable(key)
	}

	topo := r.provider.GetTopology()

	switch r.Mode {
	case RouteByHash:
		return r.placeByHash(topo, key)
	case RouteByDirectory:
		return r.lookupDirectory(ctx, topo, key)
	default: // RouteDirectoryThenHash
		shardID, err := r.lookupDirectory(ctx, topo, key)
		if err == nil {
			return shardID, nil
		} else if !errors.Is(err, ErrShardNotFound) {
			return "", err
		}
		return r.placeByHash(topo, key)
	}
}

// KeyForEntity extracts an entity's routing key, either through the
// RoutingKeyer interface or the configured KeyFunc.
func (r *Router) KeyForEntity(v interface{}) (string, error) {
	if v == nil {
		return "", NewErrRoutingKeyUnresolvable(v)
	}
	if keyer, ok := v.(RoutingKeyer); ok {
		return keyer.RoutingKey(), nil
	}
	if r.KeyFunc != nil {
		key, err := r.KeyFunc(v)
		if err != nil {
			return "", errors.Wrap(NewErrRoutingKeyUnresolvable(v), err.Error())
		}
		return key, nil
	}
	return "", NewErrRoutingKeyUnresolvable(v)
}

// GetShardIDForEntity resolves an entity to a shard by extracting its
// routing key.
func (r *Router) GetShardIDForEntity(ctx context.Context, v interface{}) (string, error) {
	key, err := r.KeyForEntity(v)
	if err != nil {
		return "", err
	}
	return r.GetShardID(ctx, key)
}

// AssignShard resolves key's shard for a new entity, recording the
// placement in the directory when directory routing is in play. An existing
// mapping always wins, so repeated assignment of the same key is stable.
func (r *Router) AssignShard(ctx context.Context, key string) (string, error) {
	key = foldKey(key)
	if key == "" {
		return "", NewErrRoutingKeyUnresolvable(key)
	}

	topo := r.provider.GetTopology()

	if r.Mode == RouteByHash || r.directory == nil {
		return r.placeByHash(topo, key)
	}

	shardID, ok, err := r.directory.GetMapping(ctx, key)
	if err != nil {
		return "", errors.Wrap(err, "reading directory")
	}
	if ok {
		return r.validate(topo, shardID)
	}

	if shardID, err = r.placeByHash(topo, key); err != nil {
		return "", err
	}
	if err := r.directory.AddMapping(ctx, key, shardID); err != nil {
		return "", errors.Wrap(err, "recording shard assignment")
	}
	r.Logger.Debugf("assigned key %q to shard %s", key, shardID)
	return shardID, nil
}

// lookupDirectory resolves key through the directory and validates the
// mapped shard against the topology.
func (r *Router) lookupDirectory(ctx context.Context, topo *Topology, key string) (string, error) {
	if r.directory == nil {
		return "", errors.New(ErrInvalidConfig, "directory routing configured without a directory store")
	}
	shardID, ok, err := r.directory.GetMapping(ctx, key)
	if err != nil {
		return "", errors.Wrap(err, "reading directory")
	}
	if !ok {
		return "", NewErrNoMappingForKey(key)
	}
	return r.validate(topo, shardID)
}

// placeByHash places key over the sorted active shard list with the jump
// hasher. Placement is deterministic for a given key and active set.
func (r *Router) placeByHash(topo *Topology, key string) (string, error) {
	active := topo.ActiveShardIDs()
	if len(active) == 0 {
		return "", errors.New(ErrShardNotFound, "no active shards in topology")
	}
	return active[r.Hasher.Hash(hashKey(key), len(active))], nil
}

// validate confirms shardID names an active shard in topo.
func (r *Router) validate(topo *Topology, shardID string) (string, error) {
	shard, ok := topo.Shard(shardID)
	if !ok || !shard.Active {
		return "", NewErrShardNotFound(shardID)
	}
	return shardID, nil
}
