// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"context"
	"math"
	"time"

	"golang.org/x/exp/constraints"
)

// Number is the constraint satisfied by the numeric types the aggregation
// combiners accept.
type Number interface {
	constraints.Integer | constraints.Float
}

// Partial is one shard's contribution to a distributed aggregate. Sum and
// Count always travel together so averages can be combined correctly; Min
// and Max are nil when the shard held no values.
type Partial[V Number] struct {
	ShardID string
	Sum     V
	Count   int64
	Min     *V
	Max     *V
}

// PartialFunc computes one shard's Partial. The across-shards runners
// invoke it through the executor, once per active shard.
type PartialFunc[V Number] func(ctx context.Context, shardID string) (Partial[V], error)

// AggregateResult carries a combined aggregate along with the fan-out
// outcome it was computed from. Count is the total number of values the
// aggregate covers; Count zero means no shard contributed data, and Value
// is then the zero value. Failed shards are excluded from the combine and
// enumerated so callers can judge whether partial coverage is acceptable.
type AggregateResult[V Number] struct {
	Value        V
	Count        int64
	TotalShards  int
	FailedShards map[string]error
	Elapsed      time.Duration
}

// CombineCount folds per-shard counts into a total.
func CombineCount[V Number](partials []Partial[V]) int64 {
	var total int64
	for _, p := range partials {
		total += p.Count
	}
	return total
}

// CombineSum folds per-shard sums into a total, rejecting integer
// wraparound and float overflow to ±Inf with ErrSumOverflow.
func CombineSum[V Number](partials []Partial[V]) (V, error) {
	var sum V
	for _, p := range partials {
		s := sum + p.Sum
		// Integer wraparound flips the comparison against the addend's
		// sign; float addition can't trip these.
		if (p.Sum > 0 && s < sum) || (p.Sum < 0 && s > sum) {
			return 0, NewErrSumOverflow(p.ShardID)
		}
		sum = s
		if math.IsInf(float64(sum), 0) {
			return 0, NewErrSumOverflow(p.ShardID)
		}
	}
	return sum, nil
}

// CombineAvg folds per-shard sums and counts into a global average:
// Σsums/Σcounts. Averaging the per-shard averages would weight a one-row
// shard the same as a million-row shard, so the per-shard averages are
// never consulted. ok is false when the total count is zero.
func CombineAvg[V Number](partials []Partial[V]) (avg float64, ok bool) {
	var sum float64
	var count int64
	for _, p := range partials {
		sum += float64(p.Sum)
		count += p.Count
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// CombineMin returns the smallest non-nil per-shard minimum, or nil when no
// shard reported one.
func CombineMin[V Number](partials []Partial[V]) *V {
	var min *V
	for _, p := range partials {
		if p.Min == nil {
			continue
		}
		if min == nil || *p.Min < *min {
			v := *p.Min
			min = &v
		}
	}
	return min
}

// CombineMax returns the largest non-nil per-shard maximum, or nil when no
// shard reported one.
func CombineMax[V Number](partials []Partial[V]) *V {
	var max *V
	for _, p := range partials {
		if p.Max == nil {
			continue
		}
		if max == nil || *p.Max > *max {
			v := *p.Max
			max = &v
		}
	}
	return max
}

// CountAcrossShards fans fn out to every active shard and totals the
// counts.
func CountAcrossShards[V Number](ctx context.Context, e *Executor, fn PartialFunc[V]) (*AggregateResult[int64], error) {
	partials, qr, elapsed, err := gatherPartials(ctx, e, fn)
	if err != nil {
		return nil, err
	}
	total := CombineCount(partials)
	return &AggregateResult[int64]{
		Value:        total,
		Count:        total,
		TotalShards:  targetedShards(qr),
		FailedShards: qr.FailedShards,
		Elapsed:      elapsed,
	}, nil
}

// SumAcrossShards fans fn out to every active shard and combines the sums,
// failing on overflow.
func SumAcrossShards[V Number](ctx context.Context, e *Executor, fn PartialFunc[V]) (*AggregateResult[V], error) {
	partials, qr, elapsed, err := gatherPartials(ctx, e, fn)
	if err != nil {
		return nil, err
	}
	sum, err := CombineSum(partials)
	if err != nil {
		return nil, err
	}
	return &AggregateResult[V]{
		Value:        sum,
		Count:        CombineCount(partials),
		TotalShards:  targetedShards(qr),
		FailedShards: qr.FailedShards,
		Elapsed:      elapsed,
	}, nil
}

// AvgAcrossShards fans fn out to every active shard and computes the global
// average from the combined sum and count. A zero total count yields a zero
// Value with Count zero.
func AvgAcrossShards[V Number](ctx context.Context, e *Executor, fn PartialFunc[V]) (*AggregateResult[float64], error) {
	partials, qr, elapsed, err := gatherPartials(ctx, e, fn)
	if err != nil {
		return nil, err
	}
	result := &AggregateResult[float64]{
		Count:        CombineCount(partials),
		TotalShards:  targetedShards(qr),
		FailedShards: qr.FailedShards,
		Elapsed:      elapsed,
	}
	if avg, ok := CombineAvg(partials); ok {
		result.Value = avg
	}
	return result, nil
}

// MinAcrossShards fans fn out to every active shard and returns the global
// minimum. Count zero means no shard held a value.
func MinAcrossShards[V Number](ctx context.Context, e *Executor, fn PartialFunc[V]) (*AggregateResult[V], error) {
	partials, qr, elapsed, err := gatherPartials(ctx, e, fn)
	if err != nil {
		return nil, err
	}
	result := &AggregateResult[V]{
		TotalShards:  targetedShards(qr),
		FailedShards: qr.FailedShards,
		Elapsed:      elapsed,
	}
	if min := CombineMin(partials); min != nil {
		result.Value = *min
		result.Count = CombineCount(partials)
	}
	return result, nil
}

// MaxAcrossShards fans fn out to every active shard and returns the global
// maximum. Count zero means no shard held a value.
func MaxAcrossShards[V Number](ctx context.Context, e *Executor, fn PartialFunc[V]) (*AggregateResult[V], error) {
	partials, qr, elapsed, err := gatherPartials(ctx, e, fn)
	if err != nil {
		return nil, err
	}
	result := &AggregateResult[V]{
		TotalShards:  targetedShards(qr),
		FailedShards: qr.FailedShards,
		Elapsed:      elapsed,
	}
	if max := CombineMax(partials); max != nil {
		result.Value = *max
		result.Count = CombineCount(partials)
	}
	return result, nil
}

// gatherPartials runs fn through the executor against every active shard
// and returns the successful partials; failed shards surface in the
// QueryResult per the executor's policy.
func gatherPartials[V Number](ctx context.Context, e *Executor, fn PartialFunc[V]) ([]Partial[V], *QueryResult[Partial[V]], time.Duration, error) {
	t := time.Now()
	qr, err := ExecuteAll(ctx, e, func(ctx context.Context, shardID string) ([]Partial[V], error) {
		p, err := fn(ctx, shardID)
		if err != nil {
			return nil, err
		}
		p.ShardID = shardID
		return []Partial[V]{p}, nil
	})
	if err != nil {
		return nil, nil, 0, err
	}
	return qr.Results, qr, time.Since(t), nil
}

func targetedShards[T any](qr *QueryResult[T]) int {
	return len(qr.SuccessfulShards) + len(qr.FailedShards)
}
