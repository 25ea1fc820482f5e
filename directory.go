// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/featurebasedb/shardkit/errors"
	"github.com/featurebasedb/shardkit/logger"
	"github.com/google/uuid"
)

// DirectoryStore is the persistent, authoritative routing-key→shard mapping.
// Keys are case-insensitive; implementations receive them already folded.
type DirectoryStore interface {
	GetMapping(ctx context.Context, key string) (shardID string, ok bool, err error)
	AddMapping(ctx context.Context, key, shardID string) error
	RemoveMapping(ctx context.Context, key string) (bool, error)
	GetAllMappings(ctx context.Context) (map[string]string, error)
}

// PubSub carries invalidation messages between instances. Both sides are
// best-effort: a lost message only delays convergence until the next full
// refresh.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (io.Closer, error)
}

// DistributedCache is an optional L2 used to share a directory snapshot
// between instances. It is only touched by background refresh and startup
// bootstrap, never on the synchronous read or write path.
type DistributedCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil with no error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
}

// InvalidationStrategy selects what a directory write does to this
// instance's L1 cache after the store write succeeds.
type InvalidationStrategy string

const (
	// InvalidateImmediate evicts the key so the next read refetches it.
	InvalidateImmediate InvalidationStrategy = "immediate"
	// InvalidateWriteThrough updates the key in place so subsequent reads
	// are fresh without a refetch.
	InvalidateWriteThrough InvalidationStrategy = "write-through"
	// InvalidateLazy leaves L1 untouched; the periodic full refresh
	// reconciles it.
	InvalidateLazy InvalidationStrategy = "lazy"
)

// InvalidationStrategies is the set of recognized strategy names.
var InvalidationStrategies = []InvalidationStrategy{InvalidateImmediate, InvalidateWriteThrough, InvalidateLazy}

// ParseInvalidationStrategy maps a config string to a strategy.
func ParseInvalidationStrategy(s string) (InvalidationStrategy, error) {
	for _, st := range InvalidationStrategies {
		if s == string(st) {
			return st, nil
		}
	}
	return "", errors.Newf(ErrInvalidConfig, "unknown invalidation strategy '%s'", s)
}

// InvalidationMessage is the pub/sub payload published after a directory
// write so peer instances converge their own L1 caches. Origin carries the
// publishing instance's ID so an instance can skip its own messages.
type InvalidationMessage struct {
	Key     string `json:"key"`
	ShardID string `json:"shardId,omitempty"`
	Removal bool   `json:"removal,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// MapDirectoryStore is an in-memory DirectoryStore for single-process use
// and tests. The durable implementation lives in the sqldb package.
type MapDirectoryStore struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMapDirectoryStore returns an empty in-memory store.
func NewMapDirectoryStore() *MapDirectoryStore {
	return &MapDirectoryStore{m: make(map[string]string)}
}

func (s *MapDirectoryStore) GetMapping(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shardID, ok := s.m[foldKey(key)]
	return shardID, ok, nil
}

func (s *MapDirectoryStore) AddMapping(ctx context.Context, key, shardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[foldKey(key)] = shardID
	return nil
}

func (s *MapDirectoryStore) RemoveMapping(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key = foldKey(key)
	_, ok := s.m[key]
	delete(s.m, key)
	return ok, nil
}

func (s *MapDirectoryStore) GetAllMappings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

// defaultPublishTimeout bounds the detached invalidation publish so a hung
// pub/sub provider cannot pile up goroutines forever.
const defaultPublishTimeout = 5 * time.Second

// CachedDirectory fronts a DirectoryStore with an in-process cache (L1).
// Reads hit L1 first and read through to the store on a miss. Writes always
// go through to the store synchronously, then apply the configured
// InvalidationStrategy to L1 and publish an InvalidationMessage so peer
// instances converge. A periodic job replaces the entire L1 with the
// store's contents, bounding staleness even when invalidation messages are
// lost, and pushes the snapshot into the L2 cache for peer bootstrap.
//
// CachedDirectory itself implements DirectoryStore, so callers and the
// Router are indifferent to whether a directory is cached.
//
// The exported fields configure the directory and must be set before Open.
type CachedDirectory struct {
	store DirectoryStore

	// Strategy is applied to L1 after every local write.
	Strategy InvalidationStrategy

	// RefreshInterval is the period of the full L1 rebuild. Zero or
	// negative disables the background job.
	RefreshInterval time.Duration

	// PubSub and Channel configure cross-instance invalidation. A nil
	// PubSub degrades gracefully: coherency then relies on the periodic
	// refresh alone.
	PubSub  PubSub
	Channel string

	// L2 and L2TTL configure the distributed snapshot written by the
	// refresh job and read once at Open to warm a cold instance.
	L2    DistributedCache
	L2Key string
	L2TTL time.Duration

	Logger logger.Logger
	Stats  StatsClient

	origin string // this instance's ID on published invalidations

	mu sync.RWMutex
	l1 map[string]string

	closing chan struct{}
	wg      sync.WaitGroup
	sub     io.Closer
}

// Ensure type implements interface.
var _ DirectoryStore = (*CachedDirectory)(nil)

// NewCachedDirectory returns a directory caching store.
func NewCachedDirectory(store DirectoryStore) *CachedDirectory {
	return &CachedDirectory{
		store:           store,
		Strategy:        InvalidateImmediate,
		RefreshInterval: DefaultDirectoryRefreshInterval,
		Channel:         DefaultInvalidationChannel,
		L2Key:           DefaultL2SnapshotKey,
		L2TTL:           DefaultL2TTL,
		Logger:          logger.NopLogger,
		Stats:           NopStatsClient,
		origin:          uuid.New().String(),
		l1:              make(map[string]string),
		closing:         make(chan struct{}),
	}
}

// Open subscribes to the invalidation channel when a PubSub is configured,
// warms L1 from the L2 snapshot when one is available, and starts the
// periodic full refresh.
func (d *CachedDirectory) Open() error {
	if d.PubSub != nil {
		sub, err := d.PubSub.Subscribe(context.Background(), d.Channel, d.handleInvalidation)
		if err != nil {
			return errors.Wrap(err, "subscribing to invalidation channel")
		}
		d.sub = sub
	}

	if d.L2 != nil {
		d.bootstrapFromL2()
	}

	if d.RefreshInterval > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.monitorRefresh()
		}()
	}
	return nil
}

// Close stops the refresh loop and the invalidation subscription.
func (d *CachedDirectory) Close() error {
	close(d.closing)
	d.wg.Wait()
	if d.sub != nil {
		return d.sub.Close()
	}
	return nil
}

// GetMapping resolves key to its shard ID. An L1 hit returns immediately; a
// miss reads through to the store and populates L1. Racing fills need no
// lock coordination: the stored value is deterministic for a given key, so
// last write wins with the same result.
func (d *CachedDirectory) GetMapping(ctx context.Context, key string) (string, bool, error) {
	key = foldKey(key)

	d.mu.RLock()
	shardID, ok := d.l1[key]
	d.mu.RUnlock()
	if ok {
		d.Stats.Count(MetricDirectoryCacheHit, 1, 1.0)
		return shardID, true, nil
	}
	d.Stats.Count(MetricDirectoryCacheMiss, 1, 1.0)

	shardID, ok, err := d.store.GetMapping(ctx, key)
	if err != nil {
		return "", false, errors.Wrap(err, "reading directory store")
	}
	if !ok {
		return "", false, nil
	}

	d.mu.Lock()
	d.l1[key] = shardID
	d.mu.Unlock()
	return shardID, true, nil
}

// AddMapping writes the mapping through to the store, applies the
// invalidation strategy to L1, and publishes an invalidation to peers. The
// publish is fire-and-forget; the write path never waits on it.
func (d *CachedDirectory) AddMapping(ctx context.Context, key, shardID string) error {
	key = foldKey(key)
	if err := d.store.AddMapping(ctx, key, shardID); err != nil {
		return errors.Wrap(err, "writing directory store")
	}

	switch d.Strategy {
	case InvalidateWriteThrough:
		d.mu.Lock()
		d.l1[key] = shardID
		d.mu.Unlock()
	case InvalidateLazy:
		// Leave L1 alone; the periodic refresh reconciles it.
	default: // InvalidateImmediate
		d.mu.Lock()
		delete(d.l1, key)
		d.mu.Unlock()
	}

	d.publish(InvalidationMessage{Key: key, ShardID: shardID, Origin: d.origin})
	return nil
}

// RemoveMapping deletes the mapping from the store, applies the
// invalidation strategy to L1 (removal means eviction under both immediate
// and write-through), and publishes the removal to peers.
func (d *CachedDirectory) RemoveMapping(ctx context.Context, key string) (bool, error) {
	key = foldKey(key)
	removed, err := d.store.RemoveMapping(ctx, key)
	if err != nil {
		return false, errors.Wrap(err, "deleting from directory store")
	}

	if d.Strategy != InvalidateLazy {
		d.mu.Lock()
		delete(d.l1, key)
		d.mu.Unlock()
	}

	d.publish(InvalidationMessage{Key: key, Removal: true, Origin: d.origin})
	return removed, nil
}

// GetAllMappings lists the store's mappings. It intentionally bypasses L1:
// enumerating the directory is an administrative operation that wants the
// authoritative view.
func (d *CachedDirectory) GetAllMappings(ctx context.Context) (map[string]string, error) {
	all, err := d.store.GetAllMappings(ctx)
	return all, errors.Wrap(err, "listing directory store")
}

// Refresh replaces the entire L1 with the store's current contents and,
// when an L2 cache is configured, pushes the snapshot there for peer
// bootstrap. The background job calls this on every tick; it is also safe
// to call directly.
func (d *CachedDirectory) Refresh(ctx context.Context) error {
	all, err := d.store.GetAllMappings(ctx)
	if err != nil {
		return errors.Wrap(err, "listing directory store")
	}
	fresh := make(map[string]string, len(all))
	for k, v := range all {
		fresh[foldKey(k)] = v
	}

	// Marshal before the swap; afterwards the map is shared and may be
	// written concurrently by read-through fills.
	var snapshot []byte
	if d.L2 != nil {
		if snapshot, err = json.Marshal(fresh); err != nil {
			d.Logger.Errorf("marshaling directory snapshot: %v", err)
		}
	}

	d.mu.Lock()
	d.l1 = fresh
	d.mu.Unlock()
	d.Stats.Count(MetricDirectoryRefresh, 1, 1.0)

	if snapshot != nil {
		if err := d.L2.Set(ctx, d.L2Key, snapshot, d.L2TTL); err != nil {
			d.Logger.Errorf("writing directory snapshot to L2: %v", err)
		}
	}
	return nil
}

// bootstrapFromL2 warms a cold L1 from the shared snapshot, best-effort.
// An instance that comes up between refresh ticks serves hits immediately
// instead of reading through key by key.
func (d *CachedDirectory) bootstrapFromL2() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	buf, err := d.L2.Get(ctx, d.L2Key)
	if err != nil {
		d.Logger.Warnf("reading directory snapshot from L2: %v", err)
		return
	}
	if buf == nil {
		return
	}
	snapshot := make(map[string]string)
	if err := json.Unmarshal(buf, &snapshot); err != nil {
		d.Logger.Warnf("decoding directory snapshot from L2: %v", err)
		return
	}
	d.mu.Lock()
	d.l1 = snapshot
	d.mu.Unlock()
	d.Logger.Debugf("bootstrapped %d directory mappings from L2", len(snapshot))
}

// publish sends msg to peers in a detached goroutine. Publish failures are
// logged and counted, never returned: the write already succeeded, and the
// periodic refresh bounds how stale a peer that missed the message can get.
func (d *CachedDirectory) publish(msg InvalidationMessage) {
	if d.PubSub == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.Logger.Errorf("invalidation publish panicked: %v", r)
			}
		}()

		buf, err := json.Marshal(msg)
		if err != nil {
			d.Logger.Errorf("marshaling invalidation message: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		defer cancel()
		if err := d.PubSub.Publish(ctx, d.Channel, buf); err != nil {
			d.Stats.Count(MetricInvalidationPublishError, 1, 1.0)
			d.Logger.Errorf("publishing invalidation for key %q: %v", msg.Key, err)
			return
		}
		d.Stats.Count(MetricInvalidationPublished, 1, 1.0)
	}()
}

// handleInvalidation applies a peer's invalidation message to L1. Messages
// this instance published are skipped; the local strategy already ran.
func (d *CachedDirectory) handleInvalidation(payload []byte) {
	var msg InvalidationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.Logger.Errorf("decoding invalidation message: %v", err)
		return
	}
	if msg.Origin != "" && msg.Origin == d.origin {
		return
	}

	key := foldKey(msg.Key)
	d.mu.Lock()
	if msg.Removal || msg.ShardID == "" {
		delete(d.l1, key)
	} else {
		d.l1[key] = msg.ShardID
	}
	d.mu.Unlock()
	d.Stats.Count(MetricInvalidationApplied, 1, 1.0)
}

// monitorRefresh rebuilds L1 every RefreshInterval until Close.
func (d *CachedDirectory) monitorRefresh() {
	ticker := time.NewTicker(d.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.closing:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.RefreshInterval)
		if err := d.Refresh(ctx); err != nil {
			d.Logger.Errorf("directory refresh: %v", err)
		}
		cancel()
	}
}
