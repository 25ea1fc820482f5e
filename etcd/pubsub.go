// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package etcd

import (
	"context"
	"io"
	"sync"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// PubSub implements shardkit.PubSub on the etcd key space. Publish puts the
// payload at the channel's key; subscribers watch that key and see each put
// as one message. etcd retains only the latest value per key, which suits
// invalidation traffic: a subscriber that falls behind is healed by the
// directory's periodic refresh rather than by replay.
type PubSub struct {
	e *Etcd
}

var _ shardkit.PubSub = (*PubSub)(nil)

// NewPubSub returns a PubSub publishing under e's prefix.
func NewPubSub(e *Etcd) *PubSub {
	return &PubSub{e: e}
}

// Publish writes payload to the channel's key.
func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := p.e.cli.Put(ctx, p.e.key("pubsub", channel), string(payload))
	return errors.Wrapf(err, "publishing to channel %s", channel)
}

// Subscribe watches the channel's key and invokes handler with every
// published payload, starting with the first publish after the subscription.
// The watch runs until ctx is canceled or the returned Closer is closed.
func (p *PubSub) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (io.Closer, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	s := &subscription{cancel: cancel}

	key := p.e.key("pubsub", channel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.e.watchRetry(watchCtx, key, false, func(events []*clientv3.Event) {
			for _, ev := range events {
				if ev.Type != mvccpb.PUT {
					continue
				}
				handler(ev.Kv.Value)
			}
		})
	}()
	return s, nil
}

type subscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Close stops the watch. Safe to call more than once.
func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	s.wg.Wait()
	return nil
}
