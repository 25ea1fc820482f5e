// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package sqldb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
	"golang.org/x/sync/errgroup"
)

// Factory implements shardkit.ConnectionFactory with one database handle per
// shard. Each shard's DSN is its topology Location; handles are opened on
// first use and reused for the life of the factory. database/sql pools
// connections per handle, so one handle per shard is the right granularity.
type Factory struct {
	provider *shardkit.TopologyProvider
	driver   string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ shardkit.ConnectionFactory = (*Factory)(nil)

// NewFactory returns a factory resolving shard locations through provider
// and opening them with the named driver.
func NewFactory(provider *shardkit.TopologyProvider, driver string) (*Factory, error) {
	if _, err := dialectFor(driver); err != nil {
		return nil, err
	}
	return &Factory{
		provider: provider,
		driver:   driver,
		dbs:      make(map[string]*sql.DB),
	}, nil
}

// GetConnection returns the shard's handle, opening it if this is the
// shard's first use.
func (f *Factory) GetConnection(ctx context.Context, shardID string) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if db, ok := f.dbs[shardID]; ok {
		return db, nil
	}

	info, ok := f.provider.GetTopology().Shard(shardID)
	if !ok {
		return nil, shardkit.NewErrShardNotFound(shardID)
	}
	db, err := sql.Open(f.driver, info.Location)
	if err != nil {
		return nil, shardkit.NewErrShardConnectionFailed(shardID, err)
	}
	f.dbs[shardID] = db
	return db, nil
}

// Warm opens and pings every active shard's handle so the first fan-out
// doesn't pay N connection setups. The first failure cancels the rest.
func (f *Factory) Warm(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, loopID := range f.provider.GetTopology().ActiveShardIDs() {
		shardID := loopID
		eg.Go(func() error {
			db, err := f.GetConnection(ctx, shardID)
			if err != nil {
				return err
			}
			if err := db.PingContext(ctx); err != nil {
				return shardkit.NewErrShardConnectionFailed(shardID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close closes every opened handle, returning the first error.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for shardID, db := range f.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing connection for shard %s", shardID)
		}
	}
	f.dbs = make(map[string]*sql.DB)
	return firstErr
}
