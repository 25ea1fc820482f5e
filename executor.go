// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"context"
	"time"

	"github.com/featurebasedb/shardkit/errors"
	"github.com/featurebasedb/shardkit/logger"
	"github.com/featurebasedb/shardkit/tracing"
)

// QueryFunc produces one shard's slice of results. The executor invokes it
// once per targeted shard, concurrently; it must be safe for concurrent use
// and must honor ctx cancellation.
type QueryFunc[T any] func(ctx context.Context, shardID string) ([]T, error)

// QueryResult is the gathered outcome of a fan-out. Every targeted shard
// lands in exactly one of SuccessfulShards or FailedShards. Results holds
// the successful shards' items with no defined cross-shard order.
type QueryResult[T any] struct {
	Results          []T
	SuccessfulShards []string
	FailedShards     map[string]error
}

// Policy controls how a fan-out treats per-shard failures. Callers choose
// it explicitly when constructing an Executor; there is no implicit
// default.
type Policy struct {
	// FailFast cancels outstanding shard calls on the first failure (or
	// on cancellation) and returns that failure instead of a result.
	FailFast bool

	// MinSuccess is the number of shards that must succeed for the call
	// to return a result. Zero accepts any number of successes, including
	// none.
	MinSuccess int
}

// BestEffort accepts whatever completes and enumerates the rest as failed.
var BestEffort = Policy{}

// FailFast aborts the fan-out on the first per-shard failure.
var FailFast = Policy{FailFast: true}

// Executor fans a query out to shards and gathers per-shard results as they
// complete. The generic entry points are the package-level ExecuteAll and
// ExecuteShards functions.
type Executor struct {
	provider *TopologyProvider
	policy   Policy

	Logger logger.Logger
	Stats  StatsClient
}

// NewExecutor returns an executor over provider applying policy to every
// fan-out.
func NewExecutor(provider *TopologyProvider, policy Policy) *Executor {
	return &Executor{
		provider: provider,
		policy:   policy,
		Logger:   logger.NopLogger,
		Stats:    NopStatsClient,
	}
}

// Policy reports the executor's fan-out policy.
func (e *Executor) Policy() Policy { return e.policy }

// ExecuteAll fans fn out to every active shard in the current topology.
func ExecuteAll[T any](ctx context.Context, e *Executor, fn QueryFunc[T]) (*QueryResult[T], error) {
	shardIDs := e.provider.GetTopology().ActiveShardIDs()
	if len(shardIDs) == 0 {
		return nil, errors.New(ErrNoTopology, "no active shards in topology")
	}
	return ExecuteShards(ctx, e, shardIDs, fn)
}

// ExecuteShards fans fn out to the named shards, one goroutine per shard,
// and gathers responses as they complete. A panic inside fn is recovered
// and recorded as that shard's failure. Cancelling ctx makes the call
// return promptly: shards that had not finished appear in FailedShards with
// the context's error.
func ExecuteShards[T any](ctx context.Context, e *Executor, shardIDs []string, fn QueryFunc[T]) (*QueryResult[T], error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "shardkit.ExecuteShards")
	defer span.Finish()
	span.LogKV("shards", len(shardIDs))

	e.Stats.Gauge(MetricFanoutShards, float64(len(shardIDs)), 1.0)
	t := time.Now()
	defer func() { e.Stats.Timing(MetricFanoutDuration, time.Since(t), 1.0) }()

	// Derive a cancel so a fail-fast return (or our own exit) releases the
	// shard goroutines still in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan shardResponse[T])
	for _, shardID := range shardIDs {
		go executeShard(ctx, shardID, fn, ch)
	}

	result := &QueryResult[T]{FailedShards: make(map[string]error)}
	pending := make(map[string]struct{}, len(shardIDs))
	for _, shardID := range shardIDs {
		pending[shardID] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			if e.policy.FailFast {
				return nil, errors.Wrap(ctx.Err(), "fan-out cancelled")
			}
			// Whatever is still in flight counts as failed; the shard
			// goroutines see the same cancellation and unwind on their
			// own.
			for shardID := range pending {
				result.FailedShards[shardID] = ctx.Err()
				e.Stats.WithTags("shard:"+shardID).Count(MetricFanoutShardFailure, 1, 1.0)
			}
			return finishFanout(e, result, len(shardIDs))

		case resp := <-ch:
			delete(pending, resp.shardID)
			if resp.err != nil {
				e.Stats.WithTags("shard:"+resp.shardID).Count(MetricFanoutShardFailure, 1, 1.0)
				e.Logger.Debugf("shard %s failed: %v", resp.shardID, resp.err)
				if e.policy.FailFast {
					return nil, errors.Wrapf(resp.err, "shard %s", resp.shardID)
				}
				result.FailedShards[resp.shardID] = resp.err
				continue
			}
			result.Results = append(result.Results, resp.results...)
			result.SuccessfulShards = append(result.SuccessfulShards, resp.shardID)
		}
	}

	return finishFanout(e, result, len(shardIDs))
}

type shardResponse[T any] struct {
	shardID string
	results []T
	err     error
}

// executeShard runs fn for one shard and delivers the response, unless the
// fan-out has already moved on.
func executeShard[T any](ctx context.Context, shardID string, fn QueryFunc[T], ch chan<- shardResponse[T]) {
	resp := shardResponse[T]{shardID: shardID}
	func() {
		defer func() {
			if r := recover(); r != nil {
				resp.err = errors.Errorf("query panicked: %v", r)
				resp.results = nil
			}
		}()
		resp.results, resp.err = fn(ctx, shardID)
	}()

	select {
	case <-ctx.Done():
	case ch <- resp:
	}
}

// finishFanout applies the MinSuccess threshold to a gathered result.
func finishFanout[T any](e *Executor, result *QueryResult[T], targeted int) (*QueryResult[T], error) {
	if n := len(result.SuccessfulShards); n < e.policy.MinSuccess {
		return nil, NewErrTooFewShards(n, e.policy.MinSuccess, targeted)
	}
	return result, nil
}
