// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/featurebasedb/shardkit/errors"
	"github.com/featurebasedb/shardkit/logger"
)

// TopologySource supplies the authoritative shard list on demand.
type TopologySource interface {
	LoadShards(ctx context.Context) ([]ShardInfo, error)
}

// ChangeNotifier invokes a callback whenever the source's topology changes,
// letting the provider refresh eagerly instead of waiting for the next tick.
// OnChange returns a cancel function that stops the subscription.
type ChangeNotifier interface {
	OnChange(fn func()) (cancel func(), err error)
}

// StaticTopologySource is a TopologySource with a fixed shard list, for
// deployments whose topology is wired up front (and for tests).
type StaticTopologySource struct {
	shards []ShardInfo
}

// NewStaticTopologySource returns a source that always loads shards.
func NewStaticTopologySource(shards []ShardInfo) *StaticTopologySource {
	s := &StaticTopologySource{shards: make([]ShardInfo, len(shards))}
	copy(s.shards, shards)
	return s
}

// LoadShards returns a copy of the configured shard list.
func (s *StaticTopologySource) LoadShards(ctx context.Context) ([]ShardInfo, error) {
	out := make([]ShardInfo, len(s.shards))
	copy(out, s.shards)
	return out, nil
}

// TopologyProvider holds the latest Topology snapshot and keeps it fresh.
// GetTopology never blocks and never fails: it returns whatever snapshot the
// last successful refresh produced. Refreshes replace the snapshot with a
// single atomic store, so concurrent readers always see a complete topology.
//
// The exported fields configure the provider and must be set before Open.
type TopologyProvider struct {
	source TopologySource

	// RefreshInterval is the period of the background refresh loop. Zero
	// or negative disables periodic refresh; the provider then relies on
	// explicit Refresh calls and the Notifier.
	RefreshInterval time.Duration

	// Notifier, when set, triggers an out-of-band refresh on topology
	// change notifications.
	Notifier ChangeNotifier

	Logger logger.Logger
	Stats  StatsClient

	snapshot atomic.Value // *Topology

	closing      chan struct{}
	wg           sync.WaitGroup
	cancelNotify func()
}

// NewTopologyProvider returns a provider reading from source. The snapshot
// is empty until the first refresh.
func NewTopologyProvider(source TopologySource) *TopologyProvider {
	p := &TopologyProvider{
		source:          source,
		RefreshInterval: DefaultTopologyRefreshInterval,
		Logger:          logger.NopLogger,
		Stats:           NopStatsClient,
		closing:         make(chan struct{}),
	}
	p.snapshot.Store(NewTopology(nil))
	return p
}

// GetTopology returns the latest topology snapshot. Before the first
// successful refresh the snapshot is empty, never nil.
func (p *TopologyProvider) GetTopology() *Topology {
	return p.snapshot.Load().(*Topology)
}

// Refresh loads the shard list from the source, builds a brand-new Topology
// and atomically replaces the current snapshot. On source failure the
// previous snapshot stays in place and the error is returned; background
// callers log it and carry on with the stale snapshot.
func (p *TopologyProvider) Refresh(ctx context.Context) error {
	shards, err := p.source.LoadShards(ctx)
	if err != nil {
		p.Stats.Count(MetricTopologyRefreshError, 1, 1.0)
		return errors.Wrap(err, "loading shards")
	}
	topo := NewTopology(shards)
	p.snapshot.Store(topo)
	p.Stats.Count(MetricTopologyRefresh, 1, 1.0)
	p.Stats.Gauge(MetricTopologyActiveShards, float64(topo.NumActive()), 1.0)
	return nil
}

// Open performs an initial refresh and starts the background refresh loop.
// An initial refresh failure is logged, not returned: the provider comes up
// with an empty snapshot and recovers on a later refresh.
func (p *TopologyProvider) Open() error {
	if err := p.Refresh(context.Background()); err != nil {
		p.Logger.Errorf("initial topology refresh: %v", err)
	}

	if p.RefreshInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.monitorRefresh()
		}()
	}

	if p.Notifier != nil {
		cancel, err := p.Notifier.OnChange(p.refreshAsync)
		if err != nil {
			return errors.Wrap(err, "subscribing to topology changes")
		}
		p.cancelNotify = cancel
	}
	return nil
}

// Close stops the refresh loop and the change subscription.
func (p *TopologyProvider) Close() error {
	if p.cancelNotify != nil {
		p.cancelNotify()
	}
	close(p.closing)
	p.wg.Wait()
	return nil
}

// refreshAsync runs a refresh in a detached goroutine so that change
// notifications never block the notifier, whatever thread it calls from.
func (p *TopologyProvider) refreshAsync() {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Logger.Errorf("notified topology refresh panicked: %v", r)
			}
		}()
		if err := p.Refresh(context.Background()); err != nil {
			p.Logger.Errorf("notified topology refresh: %v", err)
		}
	}()
}

// monitorRefresh refreshes the snapshot every RefreshInterval until Close.
func (p *TopologyProvider) monitorRefresh() {
	ticker := time.NewTicker(p.RefreshInterval)
	defer ticker.Stop()

	for {
		// Wait for tick or a close.
		select {
		case <-p.closing:
			return
		case <-ticker.C:
		}

		if err := p.Refresh(context.Background()); err != nil {
			p.Logger.Errorf("topology refresh: %v", err)
		}
	}
}
