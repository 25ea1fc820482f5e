// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package etcd

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// ShardRegistry keeps the cluster's shard list in etcd, one JSON record per
// shard under <prefix>/shards/. It is both the TopologySource feeding a
// TopologyProvider and the ChangeNotifier that triggers its eager refreshes,
// so every instance watching the registry converges on membership changes
// without waiting for the next refresh tick.
type ShardRegistry struct {
	e *Etcd
}

var (
	_ shardkit.TopologySource = (*ShardRegistry)(nil)
	_ shardkit.ChangeNotifier = (*ShardRegistry)(nil)
)

// NewShardRegistry returns a registry reading and writing e's shard records.
func NewShardRegistry(e *Etcd) *ShardRegistry {
	return &ShardRegistry{e: e}
}

// LoadShards reads every shard record under the registry prefix.
func (r *ShardRegistry) LoadShards(ctx context.Context) ([]shardkit.ShardInfo, error) {
	prefix := r.prefix()
	resp, err := r.e.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "listing shard records")
	}

	shards := make([]shardkit.ShardInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info shardkit.ShardInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			return nil, errors.Wrapf(err, "decoding shard record %s", kv.Key)
		}
		if info.ID == "" {
			info.ID = strings.TrimPrefix(string(kv.Key), prefix)
		}
		shards = append(shards, info)
	}
	return shards, nil
}

// PutShard creates or replaces a shard record.
func (r *ShardRegistry) PutShard(ctx context.Context, info shardkit.ShardInfo) error {
	if info.ID == "" {
		return errors.New(errors.ErrUncoded, "shard record requires an id")
	}
	buf, err := json.Marshal(info)
	if err != nil {
		return errors.Wrapf(err, "encoding shard record %s", info.ID)
	}
	if _, err := r.e.cli.Put(ctx, r.e.key("shards", info.ID), string(buf)); err != nil {
		return errors.Wrapf(err, "writing shard record %s", info.ID)
	}
	return nil
}

// DeleteShard removes a shard record, reporting whether it existed.
func (r *ShardRegistry) DeleteShard(ctx context.Context, shardID string) (bool, error) {
	resp, err := r.e.cli.Delete(ctx, r.e.key("shards", shardID))
	if err != nil {
		return false, errors.Wrapf(err, "deleting shard record %s", shardID)
	}
	return resp.Deleted > 0, nil
}

// OnChange invokes fn after any change under the registry prefix. fn runs
// once per watch response, not per event; the provider reloads the full
// shard list either way.
func (r *ShardRegistry) OnChange(fn func()) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.e.watchRetry(ctx, r.prefix(), true, func(events []*clientv3.Event) {
			fn()
		})
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (r *ShardRegistry) prefix() string {
	return r.e.key("shards") + "/"
}
