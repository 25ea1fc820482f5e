// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package etcd backs shardkit's topology source, pub/sub, and distributed
// cache interfaces with an external etcd cluster. One Etcd connection is
// shared by the ShardRegistry, PubSub, and Cache types, all operating under
// a common key prefix.
package etcd

import (
	"context"
	"path"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
	"github.com/featurebasedb/shardkit/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// watchRetryDelay is how long a broken watch waits before resuming.
const watchRetryDelay = 1 * time.Second

// Options configures the etcd connection.
type Options struct {
	// Endpoints lists the cluster's client URLs.
	Endpoints []string
	// DialTimeout bounds the initial connection.
	DialTimeout time.Duration
	// Prefix namespaces every key this package touches.
	Prefix string

	Logger logger.Logger
}

// Etcd wraps a client connection to an external etcd cluster.
type Etcd struct {
	cli     *clientv3.Client
	options Options
	logger  logger.Logger
}

// NewEtcd connects to the cluster described by o. Unset options fall back
// to the shardkit defaults.
func NewEtcd(o Options) (*Etcd, error) {
	if len(o.Endpoints) == 0 {
		return nil, errors.New(shardkit.ErrInvalidConfig, "at least one etcd endpoint is required")
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = shardkit.DefaultEtcdDialTimeout
	}
	if o.Prefix == "" {
		o.Prefix = shardkit.DefaultEtcdPrefix
	}
	if o.Logger == nil {
		o.Logger = logger.NopLogger
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   o.Endpoints,
		DialTimeout: o.DialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating etcd client")
	}
	return &Etcd{cli: cli, options: o, logger: o.Logger}, nil
}

// Close tears down the client connection.
func (e *Etcd) Close() error {
	return e.cli.Close()
}

// key builds a fully prefixed key.
func (e *Etcd) key(parts ...string) string {
	return path.Join(append([]string{e.options.Prefix}, parts...)...)
}

// watchRetry watches key until ctx is done, handing each response's events
// to onEvents. Compaction or leader loss can terminate a watch stream; we
// resume watching rather than give up, from the current revision when the
// stream died with an error.
func (e *Etcd) watchRetry(ctx context.Context, key string, withPrefix bool, onEvents func([]*clientv3.Event)) {
	var rev int64
	for ctx.Err() == nil {
		opts := make([]clientv3.OpOption, 0, 2)
		if withPrefix {
			opts = append(opts, clientv3.WithPrefix())
		}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev+1))
		}

		for resp := range e.cli.Watch(ctx, key, opts...) {
			if err := resp.Err(); err != nil {
				e.logger.Warnf("watching %q: %v", key, err)
				rev = 0
				break
			}
			if len(resp.Events) == 0 {
				continue
			}
			rev = resp.Events[len(resp.Events)-1].Kv.ModRevision
			onEvents(resp.Events)
		}

		if ctx.Err() == nil {
			// delay slightly on error so we don't go completely crazy
			time.Sleep(watchRetryDelay)
		}
	}
}
