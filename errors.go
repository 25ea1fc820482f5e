// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"fmt"

	"github.com/featurebasedb/shardkit/errors"
)

// Error codes for the failure modes routing and fan-out can hit. All of
// them are recoverable conditions reported to the caller; none are used for
// programming errors.
const (
	// ErrShardNotFound means no shard could be determined for a routing
	// key: the directory has no mapping, or hash placement found no active
	// shards.
	ErrShardNotFound errors.Code = "ShardNotFound"

	// ErrRoutingKeyUnresolvable means an entity yielded no routing key.
	ErrRoutingKeyUnresolvable errors.Code = "RoutingKeyUnresolvable"

	// ErrShardConnectionFailed means the connection factory could not
	// produce a usable connection for a shard. During fan-out it is
	// captured per shard rather than failing the whole call.
	ErrShardConnectionFailed errors.Code = "ShardConnectionFailed"

	// ErrTooFewShards means fewer shards succeeded than the fan-out
	// policy's MinSuccess requires.
	ErrTooFewShards errors.Code = "TooFewShards"

	// ErrSumOverflow means combining per-shard sums overflowed the value
	// type.
	ErrSumOverflow errors.Code = "SumOverflow"

	// ErrNoTopology means a fan-out across "all shards" found no active
	// shards in the current topology snapshot.
	ErrNoTopology errors.Code = "NoTopology"

	// ErrInvalidConfig means the configuration failed validation.
	ErrInvalidConfig errors.Code = "InvalidConfig"
)

// The following are helper functions for constructing coded errors
// containing relevant information about the specific error.

func NewErrShardNotFound(shardID string) error {
	return errors.New(
		ErrShardNotFound,
		fmt.Sprintf("shard '%s' not found", shardID),
	)
}

func NewErrNoMappingForKey(key string) error {
	return errors.New(
		ErrShardNotFound,
		fmt.Sprintf("no shard mapping for routing key '%s'", key),
	)
}

func NewErrRoutingKeyUnresolvable(v interface{}) error {
	return errors.New(
		ErrRoutingKeyUnresolvable,
		fmt.Sprintf("no routing key resolvable from value of type %T", v),
	)
}

func NewErrShardConnectionFailed(shardID string, cause error) error {
	return errors.New(
		ErrShardConnectionFailed,
		fmt.Sprintf("connecting to shard '%s': %v", shardID, cause),
	)
}

func NewErrTooFewShards(got, want, targeted int) error {
	return errors.New(
		ErrTooFewShards,
		fmt.Sprintf("%d of %d targeted shards succeeded, policy requires %d", got, targeted, want),
	)
}

func NewErrSumOverflow(shardID string) error {
	return errors.New(
		ErrSumOverflow,
		fmt.Sprintf("combined sum overflowed adding shard '%s'", shardID),
	)
}
