// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package etcd

import (
	"context"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Cache implements shardkit.DistributedCache on the etcd key space. Each
// entry is attached to its own lease so expiry happens server-side; an
// expired entry simply reads back as a miss.
type Cache struct {
	e *Etcd
}

var _ shardkit.DistributedCache = (*Cache)(nil)

// NewCache returns a Cache storing entries under e's prefix.
func NewCache(e *Etcd) *Cache {
	return &Cache{e: e}
}

// Set writes value under key with a lease matching ttl. A zero or negative
// ttl writes a plain key that never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var opts []clientv3.OpOption
	if ttl > 0 {
		lease, err := c.e.cli.Grant(ctx, ttlSeconds(ttl))
		if err != nil {
			return errors.Wrap(err, "creating a lease")
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}
	if _, err := c.e.cli.Put(ctx, c.e.key("cache", key), string(value), opts...); err != nil {
		return errors.Wrapf(err, "writing cache key %s", key)
	}
	return nil
}

// Get reads key's value. A missing or expired key returns nil with no error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.e.cli.Get(ctx, c.e.key("cache", key))
	if err != nil {
		return nil, errors.Wrapf(err, "reading cache key %s", key)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// ttlSeconds converts ttl to whole lease seconds. etcd's minimum lease is
// one second, so sub-second TTLs round up.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
