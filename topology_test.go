// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
)

// flipSource alternates between two disjoint shard generations on every
// load, so readers can detect a torn snapshot.
type flipSource struct {
	mu   sync.Mutex
	gen  int
	errs error
}

func (s *flipSource) LoadShards(ctx context.Context) ([]shardkit.ShardInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs != nil {
		return nil, s.errs
	}
	s.gen++
	prefix := "a"
	if s.gen%2 == 0 {
		prefix = "b"
	}
	var shards []shardkit.ShardInfo
	for i := 1; i <= 3; i++ {
		shards = append(shards, shardkit.ShardInfo{
			ID:     fmt.Sprintf("%s%d", prefix, i),
			Active: true,
		})
	}
	return shards, nil
}

func (s *flipSource) fail(err error) {
	s.mu.Lock()
	s.errs = err
	s.mu.Unlock()
}

func (s *flipSource) loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func TestTopologyProvider_AtomicSwap(t *testing.T) {
	p := shardkit.NewTopologyProvider(&flipSource{})
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	torn := make(chan string, 1)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				ids := p.GetTopology().ActiveShardIDs()
				for _, id := range ids[1:] {
					if id[:1] != ids[0][:1] {
						select {
						case torn <- strings.Join(ids, ","):
						default:
						}
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		if err := p.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()

	select {
	case ids := <-torn:
		t.Fatalf("observed mixed-generation topology: %s", ids)
	default:
	}
}

func TestTopologyProvider_RefreshFailureKeepsSnapshot(t *testing.T) {
	src := &flipSource{}
	p := shardkit.NewTopologyProvider(src)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := p.GetTopology().ActiveShardIDs()

	src.fail(errors.New(errors.ErrUncoded, "source down"))
	if err := p.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	after := p.GetTopology().ActiveShardIDs()
	if strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("snapshot changed across failed refresh: %v -> %v", before, after)
	}
}

func TestTopologyProvider_EmptyBeforeFirstRefresh(t *testing.T) {
	p := shardkit.NewTopologyProvider(&flipSource{})
	topo := p.GetTopology()
	if topo == nil {
		t.Fatal("GetTopology returned nil")
	}
	if got := topo.NumShards(); got != 0 {
		t.Fatalf("expected empty snapshot, got %d shards", got)
	}
}

func TestTopologyProvider_OpenRecoversFromInitialFailure(t *testing.T) {
	src := &flipSource{}
	src.fail(errors.New(errors.ErrUncoded, "source down"))

	p := shardkit.NewTopologyProvider(src)
	p.RefreshInterval = 0
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if got := p.GetTopology().NumShards(); got != 0 {
		t.Fatalf("expected empty snapshot after failed initial refresh, got %d", got)
	}

	src.fail(nil)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := p.GetTopology().NumActive(); got != 3 {
		t.Fatalf("expected 3 active shards after recovery, got %d", got)
	}
}

func TestTopologyProvider_PeriodicRefresh(t *testing.T) {
	src := &flipSource{}
	p := shardkit.NewTopologyProvider(src)
	p.RefreshInterval = 5 * time.Millisecond
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return src.loads() >= 3 })

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	n := src.loads()
	time.Sleep(50 * time.Millisecond)
	if got := src.loads(); got != n {
		t.Fatalf("refresh loop survived Close: %d loads became %d", n, got)
	}
}

// fakeNotifier records the change callback so tests can fire it.
type fakeNotifier struct {
	mu        sync.Mutex
	fn        func()
	cancelled bool
}

func (n *fakeNotifier) OnChange(fn func()) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fn = fn
	return func() {
		n.mu.Lock()
		n.cancelled = true
		n.mu.Unlock()
	}, nil
}

func (n *fakeNotifier) notify() {
	n.mu.Lock()
	fn := n.fn
	n.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestTopologyProvider_NotifierTriggersRefresh(t *testing.T) {
	src := &flipSource{}
	notifier := &fakeNotifier{}

	p := shardkit.NewTopologyProvider(src)
	p.RefreshInterval = 0 // notification only
	p.Notifier = notifier
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}

	before := src.loads()
	notifier.notify()
	waitFor(t, 2*time.Second, func() bool { return src.loads() > before })

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	notifier.mu.Lock()
	cancelled := notifier.cancelled
	notifier.mu.Unlock()
	if !cancelled {
		t.Fatal("Close did not cancel the change subscription")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
