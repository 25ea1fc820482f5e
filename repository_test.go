// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/errors"
)

// stubConnector satisfies sql.OpenDB without ever connecting; the fakes
// below only compare *sql.DB identities and never touch the database.
type stubConnector struct{}

func (stubConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New(errors.ErrUncoded, "stub connector is not connectable")
}
func (stubConnector) Driver() driver.Driver { return nil }

// fakeFactory hands out one distinct *sql.DB per shard.
type fakeFactory struct {
	mu     sync.Mutex
	dbs    map[string]*sql.DB
	errFor map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{dbs: make(map[string]*sql.DB), errFor: make(map[string]error)}
}

func (f *fakeFactory) GetConnection(ctx context.Context, shardID string) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[shardID]; err != nil {
		return nil, err
	}
	db, ok := f.dbs[shardID]
	if !ok {
		db = sql.OpenDB(stubConnector{})
		f.dbs[shardID] = db
	}
	return db, nil
}

func (f *fakeFactory) dbFor(shardID string) *sql.DB {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dbs[shardID]
}

type order struct {
	ID     string
	Amount float64
}

func (o order) RoutingKey() string { return o.ID }

// fakeShardRepo records the delegate calls the facade makes.
type fakeShardRepo struct {
	mu       sync.Mutex
	ops      []string
	lastConn *sql.DB
	result   order
	err      error
}

func (r *fakeShardRepo) record(op string, conn *sql.DB) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.lastConn = conn
	r.mu.Unlock()
}

func (r *fakeShardRepo) Get(ctx context.Context, conn *sql.DB, id string) (order, error) {
	r.record("get:"+id, conn)
	return r.result, r.err
}

func (r *fakeShardRepo) Add(ctx context.Context, conn *sql.DB, e order) error {
	r.record("add:"+e.ID, conn)
	return r.err
}

func (r *fakeShardRepo) Update(ctx context.Context, conn *sql.DB, e order) error {
	r.record("update:"+e.ID, conn)
	return r.err
}

func (r *fakeShardRepo) Delete(ctx context.Context, conn *sql.DB, id string) error {
	r.record("delete:"+id, conn)
	return r.err
}

func (r *fakeShardRepo) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.ops...)
}

func newTestRepository(t *testing.T, mode shardkit.RoutingMode, dir shardkit.DirectoryStore) (*shardkit.Repository[order], *fakeFactory, *fakeShardRepo) {
	t.Helper()
	p := threeShards(t)
	router := shardkit.NewRouter(p, dir, mode)
	executor := shardkit.NewExecutor(p, shardkit.BestEffort)
	factory := newFakeFactory()
	delegate := &fakeShardRepo{}
	return shardkit.NewRepository[order](router, executor, factory, delegate), factory, delegate
}

func TestRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	dir := shardkit.NewMapDirectoryStore()
	if err := dir.AddMapping(ctx, "order1", "s2"); err != nil {
		t.Fatal(err)
	}
	repo, factory, delegate := newTestRepository(t, shardkit.RouteByDirectory, dir)
	delegate.result = order{ID: "order1", Amount: 12.5}

	got, err := repo.GetByID(ctx, "order1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Amount != 12.5 {
		t.Fatalf("GetByID = %+v", got)
	}

	// The delegate ran against s2's connection with the caller's id.
	if delegate.lastConn != factory.dbFor("s2") {
		t.Fatal("delegate saw the wrong shard's connection")
	}
	if calls := delegate.calls(); len(calls) != 1 || calls[0] != "get:order1" {
		t.Fatalf("delegate calls = %v", calls)
	}
}

func TestRepository_GetByID_UnmappedKey(t *testing.T) {
	ctx := context.Background()
	repo, _, delegate := newTestRepository(t, shardkit.RouteByDirectory, shardkit.NewMapDirectoryStore())

	_, err := repo.GetByID(ctx, "ghost")
	if !errors.Is(err, shardkit.ErrShardNotFound) {
		t.Fatalf("expected ErrShardNotFound, got %v", err)
	}
	if calls := delegate.calls(); len(calls) != 0 {
		t.Fatalf("delegate was reached despite routing failure: %v", calls)
	}
}

func TestRepository_Add_PersistsAssignment(t *testing.T) {
	ctx := context.Background()
	dir := shardkit.NewMapDirectoryStore()
	repo, factory, delegate := newTestRepository(t, shardkit.RouteDirectoryThenHash, dir)

	if err := repo.Add(ctx, order{ID: "Order9"}); err != nil {
		t.Fatal(err)
	}

	shardID, ok, err := dir.GetMapping(ctx, "order9")
	if err != nil || !ok {
		t.Fatalf("assignment not recorded: ok=%v err=%v", ok, err)
	}
	if delegate.lastConn != factory.dbFor(shardID) {
		t.Fatal("delegate saw a different shard than the directory records")
	}

	// Adding under the same key lands on the same shard.
	if err := repo.Add(ctx, order{ID: "order9"}); err != nil {
		t.Fatal(err)
	}
	again, _, err := dir.GetMapping(ctx, "order9")
	if err != nil {
		t.Fatal(err)
	}
	if again != shardID {
		t.Fatalf("second Add moved the key: %s -> %s", shardID, again)
	}
}

func TestRepository_UpdateAndDelete_Route(t *testing.T) {
	ctx := context.Background()
	dir := shardkit.NewMapDirectoryStore()
	if err := dir.AddMapping(ctx, "order1", "s3"); err != nil {
		t.Fatal(err)
	}
	repo, factory, delegate := newTestRepository(t, shardkit.RouteByDirectory, dir)

	if err := repo.Update(ctx, order{ID: "order1"}); err != nil {
		t.Fatal(err)
	}
	if delegate.lastConn != factory.dbFor("s3") {
		t.Fatal("update routed to the wrong shard")
	}

	if err := repo.Delete(ctx, "order1"); err != nil {
		t.Fatal(err)
	}
	if calls := delegate.calls(); calls[len(calls)-1] != "delete:order1" {
		t.Fatalf("delegate calls = %v", calls)
	}

	// Deleting leaves the directory mapping alone.
	if _, ok, _ := dir.GetMapping(ctx, "order1"); !ok {
		t.Fatal("Delete removed the directory mapping")
	}
}

func TestRepository_ConnectionFailure(t *testing.T) {
	ctx := context.Background()
	dir := shardkit.NewMapDirectoryStore()
	if err := dir.AddMapping(ctx, "order1", "s2"); err != nil {
		t.Fatal(err)
	}
	repo, factory, delegate := newTestRepository(t, shardkit.RouteByDirectory, dir)
	factory.errFor["s2"] = errors.New(errors.ErrUncoded, "connection refused")

	_, err := repo.GetByID(ctx, "order1")
	if !errors.Is(err, shardkit.ErrShardConnectionFailed) {
		t.Fatalf("expected ErrShardConnectionFailed, got %v", err)
	}
	if calls := delegate.calls(); len(calls) != 0 {
		t.Fatalf("delegate was reached without a connection: %v", calls)
	}
}

func TestRepository_QueryAllShards(t *testing.T) {
	ctx := context.Background()
	repo, factory, _ := newTestRepository(t, shardkit.RouteByHash, nil)

	var mu sync.Mutex
	conns := make(map[string]*sql.DB)
	qr, err := repo.QueryAllShards(ctx, func(ctx context.Context, conn *sql.DB, shardID string) ([]order, error) {
		mu.Lock()
		conns[shardID] = conn
		mu.Unlock()
		return []order{{ID: shardID + "-o1"}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(qr.Results) != 3 {
		t.Fatalf("Results = %v", qr.Results)
	}

	mu.Lock()
	defer mu.Unlock()
	for shardID, conn := range conns {
		if conn != factory.dbFor(shardID) {
			t.Fatalf("shard %s queried over the wrong connection", shardID)
		}
	}
}

func TestRepository_QueryAllShards_ConnectionFailureEnumerated(t *testing.T) {
	ctx := context.Background()
	repo, factory, _ := newTestRepository(t, shardkit.RouteByHash, nil)
	factory.errFor["s2"] = errors.New(errors.ErrUncoded, "connection refused")

	qr, err := repo.QueryAllShards(ctx, func(ctx context.Context, conn *sql.DB, shardID string) ([]order, error) {
		return []order{{ID: shardID}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(qr.FailedShards["s2"], shardkit.ErrShardConnectionFailed) {
		t.Fatalf("s2 failure = %v, want ErrShardConnectionFailed", qr.FailedShards["s2"])
	}
	sort.Strings(qr.SuccessfulShards)
	if got := strings.Join(qr.SuccessfulShards, ","); got != "s1,s3" {
		t.Fatalf("SuccessfulShards = %s", got)
	}
}

func TestRepository_QueryShards_Subset(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepository(t, shardkit.RouteByHash, nil)

	qr, err := repo.QueryShards(ctx, []string{"s1", "s3"}, func(ctx context.Context, conn *sql.DB, shardID string) ([]order, error) {
		return []order{{ID: shardID}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(qr.SuccessfulShards)
	if got := strings.Join(qr.SuccessfulShards, ","); got != "s1,s3" {
		t.Fatalf("SuccessfulShards = %s, want s1,s3", got)
	}
}

func TestRepository_Aggregates(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepository(t, shardkit.RouteByHash, nil)

	sums := map[string]float64{"s1": 100, "s2": 0, "s3": 50}
	counts := map[string]int64{"s1": 10, "s2": 90, "s3": 25}

	count, err := repo.Count(ctx, func(ctx context.Context, conn *sql.DB, shardID string) (shardkit.Partial[int64], error) {
		return shardkit.Partial[int64]{Count: counts[shardID]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count.Value != 125 {
		t.Fatalf("Count = %d, want 125", count.Value)
	}

	avg, err := repo.Avg(ctx, func(ctx context.Context, conn *sql.DB, shardID string) (shardkit.Partial[float64], error) {
		return shardkit.Partial[float64]{Sum: sums[shardID], Count: counts[shardID]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := 150.0 / 125.0; avg.Value != want {
		t.Fatalf("Avg = %v, want %v", avg.Value, want)
	}

	sum, err := repo.Sum(ctx, func(ctx context.Context, conn *sql.DB, shardID string) (shardkit.Partial[float64], error) {
		return shardkit.Partial[float64]{Sum: sums[shardID], Count: counts[shardID]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Value != 150 {
		t.Fatalf("Sum = %v, want 150", sum.Value)
	}
}
