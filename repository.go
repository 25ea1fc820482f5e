// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"context"
	"database/sql"
	"time"

	"github.com/featurebasedb/shardkit/logger"
)

// ConnectionFactory hands out a ready-to-use database handle for a shard.
// The sqldb package provides one keyed off the topology's shard locations.
type ConnectionFactory interface {
	GetConnection(ctx context.Context, shardID string) (*sql.DB, error)
}

// ShardRepository is the caller-supplied single-shard persistence layer.
// The facade routes, acquires the shard's connection, and delegates here;
// implementations run exactly one shard's query and never see other shards.
type ShardRepository[T any] interface {
	Get(ctx context.Context, conn *sql.DB, id string) (T, error)
	Add(ctx context.Context, conn *sql.DB, entity T) error
	Update(ctx context.Context, conn *sql.DB, entity T) error
	Delete(ctx context.Context, conn *sql.DB, id string) error
}

// ShardQuery runs a caller-defined query against one shard's connection.
type ShardQuery[T any] func(ctx context.Context, conn *sql.DB, shardID string) ([]T, error)

// PartialQuery computes one shard's aggregation partial against its
// connection.
type PartialQuery[V Number] func(ctx context.Context, conn *sql.DB, shardID string) (Partial[V], error)

// Repository is the consumer-facing facade over routing, fan-out, and
// aggregation. Single-entity operations route to one shard and delegate to
// the ShardRepository; multi-shard operations fan out through the executor.
type Repository[T any] struct {
	router      *Router
	executor    *Executor
	connections ConnectionFactory
	delegate    ShardRepository[T]

	// Timeout bounds each operation. Zero leaves the caller's context
	// alone.
	Timeout time.Duration
	Logger  logger.Logger
}

// NewRepository returns a facade wiring router, executor, and connection
// factory around the caller's single-shard repository.
func NewRepository[T any](router *Router, executor *Executor, connections ConnectionFactory, delegate ShardRepository[T]) *Repository[T] {
	return &Repository[T]{
		router:      router,
		executor:    executor,
		connections: connections,
		delegate:    delegate,
		Timeout:     DefaultFanoutTimeout,
		Logger:      logger.NopLogger,
	}
}

// GetByID routes id to its shard and reads the entity there.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	shardID, err := r.router.GetShardID(ctx, id)
	if err != nil {
		return zero, err
	}
	conn, err := r.connections.GetConnection(ctx, shardID)
	if err != nil {
		return zero, NewErrShardConnectionFailed(shardID, err)
	}
	return r.delegate.Get(ctx, conn, id)
}

// Add places the entity on a shard, recording the placement in the
// directory when directory routing is in play, and writes it there.
func (r *Repository[T]) Add(ctx context.Context, entity T) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	key, err := r.router.KeyForEntity(entity)
	if err != nil {
		return err
	}
	shardID, err := r.router.AssignShard(ctx, key)
	if err != nil {
		return err
	}
	conn, err := r.connections.GetConnection(ctx, shardID)
	if err != nil {
		return NewErrShardConnectionFailed(shardID, err)
	}
	return r.delegate.Add(ctx, conn, entity)
}

// Update routes the entity to its shard and writes it there.
func (r *Repository[T]) Update(ctx context.Context, entity T) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	shardID, err := r.router.GetShardIDForEntity(ctx, entity)
	if err != nil {
		return err
	}
	conn, err := r.connections.GetConnection(ctx, shardID)
	if err != nil {
		return NewErrShardConnectionFailed(shardID, err)
	}
	return r.delegate.Update(ctx, conn, entity)
}

// Delete routes id to its shard and deletes the entity there. The directory
// mapping is left in place; a routing key may cover more rows than the one
// removed.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	shardID, err := r.router.GetShardID(ctx, id)
	if err != nil {
		return err
	}
	conn, err := r.connections.GetConnection(ctx, shardID)
	if err != nil {
		return NewErrShardConnectionFailed(shardID, err)
	}
	return r.delegate.Delete(ctx, conn, id)
}

// QueryAllShards fans fn out to every active shard.
func (r *Repository[T]) QueryAllShards(ctx context.Context, fn ShardQuery[T]) (*QueryResult[T], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return ExecuteAll(ctx, r.executor, connectedQueryFunc(r.connections, r.Logger, fn))
}

// QueryShards fans fn out to the named shards.
func (r *Repository[T]) QueryShards(ctx context.Context, shardIDs []string, fn ShardQuery[T]) (*QueryResult[T], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return ExecuteShards(ctx, r.executor, shardIDs, connectedQueryFunc(r.connections, r.Logger, fn))
}

// Count fans fn out to every active shard and totals the per-shard counts.
func (r *Repository[T]) Count(ctx context.Context, fn PartialQuery[int64]) (*AggregateResult[int64], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return CountAcrossShards(ctx, r.executor, connectedPartialFunc(r.connections, r.Logger, fn))
}

// Sum fans fn out to every active shard and combines the per-shard sums.
func (r *Repository[T]) Sum(ctx context.Context, fn PartialQuery[float64]) (*AggregateResult[float64], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return SumAcrossShards(ctx, r.executor, connectedPartialFunc(r.connections, r.Logger, fn))
}

// Avg fans fn out to every active shard and computes the global average
// from the combined sums and counts.
func (r *Repository[T]) Avg(ctx context.Context, fn PartialQuery[float64]) (*AggregateResult[float64], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return AvgAcrossShards(ctx, r.executor, connectedPartialFunc(r.connections, r.Logger, fn))
}

// Min fans fn out to every active shard and returns the global minimum.
func (r *Repository[T]) Min(ctx context.Context, fn PartialQuery[float64]) (*AggregateResult[float64], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return MinAcrossShards(ctx, r.executor, connectedPartialFunc(r.connections, r.Logger, fn))
}

// Max fans fn out to every active shard and returns the global maximum.
func (r *Repository[T]) Max(ctx context.Context, fn PartialQuery[float64]) (*AggregateResult[float64], error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return MaxAcrossShards(ctx, r.executor, connectedPartialFunc(r.connections, r.Logger, fn))
}

// opContext applies the facade timeout when one is configured.
func (r *Repository[T]) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// connectedQueryFunc binds a ShardQuery to the factory's per-shard
// connections. A connection failure surfaces as that shard's coded error;
// the fan-out only records it in FailedShards, so it is also logged here.
func connectedQueryFunc[T any](f ConnectionFactory, log logger.Logger, fn ShardQuery[T]) QueryFunc[T] {
	return func(ctx context.Context, shardID string) ([]T, error) {
		conn, err := f.GetConnection(ctx, shardID)
		if err != nil {
			log.Warnf("connecting to shard %s: %v", shardID, err)
			return nil, NewErrShardConnectionFailed(shardID, err)
		}
		return fn(ctx, conn, shardID)
	}
}

// connectedPartialFunc binds a PartialQuery to the factory's per-shard
// connections.
func connectedPartialFunc[V Number](f ConnectionFactory, log logger.Logger, fn PartialQuery[V]) PartialFunc[V] {
	return func(ctx context.Context, shardID string) (Partial[V], error) {
		conn, err := f.GetConnection(ctx, shardID)
		if err != nil {
			log.Warnf("connecting to shard %s: %v", shardID, err)
			return Partial[V]{}, NewErrShardConnectionFailed(shardID, err)
		}
		return fn(ctx, conn, shardID)
	}
}
