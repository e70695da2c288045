package datacache

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
	"github.com/unkn0wn-root/datacache/table/memory"
)

type account struct {
	ID    int64  `data:"id,key"`
	Name  string `data:"name,optional"`
	Role  string `data:"role,default=member"`
	Score int64  `data:"score,optional"`
}

// countingTable records table reads.
type countingTable struct {
	table.DataTable
	finds atomic.Int64
}

func (c *countingTable) FindOne(ctx context.Context, q *query.Query) (table.Result, error) {
	c.finds.Add(1)
	return c.DataTable.FindOne(ctx, q)
}

func (c *countingTable) Find(ctx context.Context, q *query.Query, o table.FindOptions) (table.Cursor, error) {
	c.finds.Add(1)
	return c.DataTable.Find(ctx, q, o)
}

var errBackend = errors.New("backend down")

// failingTable fails every read and delete.
type failingTable struct{ table.DataTable }

func (failingTable) FindOne(context.Context, *query.Query) (table.Result, error) {
	return table.Result{}, errBackend
}

func (failingTable) Find(context.Context, *query.Query, table.FindOptions) (table.Cursor, error) {
	return nil, errBackend
}

func (failingTable) DeleteMany(context.Context, *query.Query) (int64, error) {
	return 0, errBackend
}

// gatedTable blocks reads until gate is closed.
type gatedTable struct {
	table.DataTable
	gate chan struct{}
}

func (g *gatedTable) FindOne(ctx context.Context, q *query.Query) (table.Result, error) {
	<-g.gate
	return g.DataTable.FindOne(ctx, q)
}

func newStore(t *testing.T, tbl table.DataTable) *Datastore[int64, account] {
	t.Helper()
	ds, err := New(Options[int64, account]{Table: tbl})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close(context.Background()) })
	return ds
}

func seed(t *testing.T, tbl table.DataTable, id int64, name string, score int64) {
	t.Helper()
	d := doc.New()
	_ = d.SetKey("id", id)
	d.Put("name", name)
	d.Put("role", "member")
	d.Put("score", score)
	if err := tbl.UpsertOne(context.Background(), d); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestGetOrReferenceReturnsOneItemPerKey(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))

	const n = 64
	got := make([]*Item[int64, account], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = ds.GetOrReference(7)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("caller %d observed a different item", i)
		}
	}
	if ds.Len() != 1 {
		t.Fatalf("len=%d", ds.Len())
	}
	if got[0].Loaded() {
		t.Fatalf("referenced item should be empty")
	}
}

func TestGetOrCreateSaveThenFind(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	ds := newStore(t, tbl)

	it, err := ds.GetOrCreate(42)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if v := it.Value(); v == nil || v.ID != 42 || v.Role != "member" {
		t.Fatalf("default value: %+v", v)
	}
	if ok, err := it.Save(ctx); !ok || err != nil {
		t.Fatalf("Save: %v %v", ok, err)
	}

	// A fresh datastore over the same table has to fetch.
	other := newStore(t, tbl)
	st := other.FindOne(ctx, query.ByKey(int64(42)))
	got, err := st.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if st.Result() != ResultFetched || got.Value().Role != "member" {
		t.Fatalf("result=%v value=%+v", st.Result(), got.Value())
	}
	if _, ok := got.LastPulled(); !ok {
		t.Fatalf("fetched item should record a pull")
	}

	st = other.FindOne(ctx, query.ByKey(int64(42)))
	if st.Result() != ResultCached {
		t.Fatalf("second find should be cached, got %v", st.Result())
	}
	if again, _ := st.Item(); again != got {
		t.Fatalf("cached find returned a different item")
	}
}

func TestDefaultIfAbsentKeepsValue(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))
	it := ds.GetOrReference(1)
	if err := it.Set(&account{ID: 1, Name: "ann", Role: "admin"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := it.DefaultIfAbsent(); err != nil {
		t.Fatalf("DefaultIfAbsent: %v", err)
	}
	if it.Value().Role != "admin" {
		t.Fatalf("value replaced: %+v", it.Value())
	}
	if err := it.ResetToDefaults(); err != nil {
		t.Fatalf("ResetToDefaults: %v", err)
	}
	if v := it.Value(); v.Role != "member" || v.Name != "" || v.ID != 1 {
		t.Fatalf("reset: %+v", v)
	}
}

func TestSetRejectsForeignKey(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))
	it := ds.GetOrReference(1)
	err := it.Set(&account{ID: 2})
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("want usage error, got %v", err)
	}
	if it.Loaded() {
		t.Fatalf("value should be unchanged")
	}
}

func TestFindOneAbsent(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))
	st := ds.FindOne(context.Background(), query.ByKey(int64(9)))
	it, err := st.Await()
	if err != nil || it != nil {
		t.Fatalf("absent: %v %v", it, err)
	}
	if st.Result() != ResultAbsent || st.Found() {
		t.Fatalf("result=%v", st.Result())
	}
	if _, err := st.Key(); !errors.Is(err, ErrUsage) {
		t.Fatalf("Key on absent result: %v", err)
	}
}

func TestFindOneFailed(t *testing.T) {
	ds := newStore(t, failingTable{memory.New("accounts")})
	st := ds.FindOne(context.Background(), query.New().Where("name", query.Eq("ann")))
	if _, err := st.Await(); !errors.Is(err, errBackend) {
		t.Fatalf("Await: %v", err)
	}
	if st.Result() != ResultFailed || !errors.Is(st.Err(), errBackend) {
		t.Fatalf("result=%v err=%v", st.Result(), st.Err())
	}
}

func TestFindStatusPendingIsUsageError(t *testing.T) {
	tbl := memory.New("accounts")
	seed(t, tbl, 1, "ann", 10)
	g := &gatedTable{DataTable: tbl, gate: make(chan struct{})}
	ds := newStore(t, g)

	st := ds.FindOne(context.Background(), query.ByKey(int64(1)))
	if st.Result() != ResultPending {
		t.Fatalf("result=%v", st.Result())
	}
	if _, err := st.Item(); !errors.Is(err, ErrUsage) {
		t.Fatalf("Item while pending: %v", err)
	}
	if _, err := st.AwaitTimeout(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("AwaitTimeout: %v", err)
	}
	close(g.gate)
	it, err := st.Await()
	if err != nil || it.Key() != 1 {
		t.Fatalf("Await: %v %v", it, err)
	}
	if k, err := st.Key(); err != nil || k != 1 {
		t.Fatalf("Key: %v %v", k, err)
	}
}

func TestFindOneCachedNeverReadsTable(t *testing.T) {
	tbl := &countingTable{DataTable: memory.New("accounts")}
	seed(t, tbl, 1, "ann", 10)
	ds := newStore(t, tbl)

	it, err := ds.FindOneCached(query.ByKey(int64(1)))
	if err != nil || it != nil {
		t.Fatalf("cold cache: %v %v", it, err)
	}
	ref := ds.GetOrReference(1)
	if it, _ := ds.FindOneCached(query.ByKey(int64(1))); it != nil {
		t.Fatalf("empty handle must not match")
	}
	_ = ref.Set(&account{ID: 1, Name: "ann", Score: 10})
	it, err = ds.FindOneCached(query.New().Where("score", query.Gte(5)))
	if err != nil || it != ref {
		t.Fatalf("scan: %v %v", it, err)
	}
	if n := tbl.finds.Load(); n != 0 {
		t.Fatalf("table read %d times", n)
	}
	if _, err := ds.FindOneCached(query.New().Where("nope", query.Eq(1))); !errors.Is(err, ErrUsage) {
		t.Fatalf("unknown field: %v", err)
	}
}

func TestPullMissLeavesValue(t *testing.T) {
	ctx := context.Background()
	ds := newStore(t, memory.New("accounts"))
	it := ds.GetOrReference(5)
	_ = it.Set(&account{ID: 5, Name: "local"})
	ok, err := it.PullAsync(ctx).Await()
	if err != nil || ok {
		t.Fatalf("pull miss: %v %v", ok, err)
	}
	if it.Value().Name != "local" {
		t.Fatalf("value changed: %+v", it.Value())
	}
	if _, pulled := it.LastPulled(); pulled {
		t.Fatalf("miss must not record a pull")
	}
}

func TestDisposedItem(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))
	it := ds.GetOrReference(3)
	it.Dispose()
	if ds.Len() != 0 {
		t.Fatalf("len=%d", ds.Len())
	}
	if _, err := it.Save(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Save on disposed: %v", err)
	}
	if again := ds.GetOrReference(3); again == it {
		t.Fatalf("disposed item returned again")
	}
}

func TestOffsetsSaturate(t *testing.T) {
	now := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	ds, err := New(Options[int64, account]{
		Table: memory.New("accounts"),
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ds.Close(context.Background())

	it := ds.GetOrReference(1)
	now = now.Add(90 * time.Second)
	_ = it.Value()
	if got := it.LastReferenced().Sub(it.CreatedAt()); got != 90*time.Second {
		t.Fatalf("referenced offset: %v", got)
	}

	now = now.Add(100 * 365 * 24 * time.Hour)
	_ = it.Value()
	want := time.Duration(math.MaxInt32) * time.Second
	if got := it.LastReferenced().Sub(it.CreatedAt()); got != want {
		t.Fatalf("saturated offset: %v want %v", got, want)
	}
}

func TestEvictIdle(t *testing.T) {
	now := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	ds, err := New(Options[int64, account]{
		Table: memory.New("accounts"),
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ds.Close(context.Background())

	stale := ds.GetOrReference(1)
	now = now.Add(time.Hour)
	fresh := ds.GetOrReference(2)

	if n := ds.EvictIdle(30 * time.Minute); n != 1 {
		t.Fatalf("evicted %d", n)
	}
	if !stale.Disposed() || fresh.Disposed() {
		t.Fatalf("stale=%v fresh=%v", stale.Disposed(), fresh.Disposed())
	}
}

func TestDeleteAllBothPhases(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	seed(t, tbl, 1, "ann", 10)
	seed(t, tbl, 2, "bob", 20)
	seed(t, tbl, 3, "cid", 30)
	ds := newStore(t, tbl)

	for _, k := range []int64{1, 2, 3} {
		if _, err := ds.FindOne(ctx, query.ByKey(k)).Await(); err != nil {
			t.Fatalf("load %d: %v", k, err)
		}
	}
	st := ds.DeleteAll(ctx, query.New().Where("score", query.Gte(20)))
	n, err := st.Await()
	if err != nil || n != 2 {
		t.Fatalf("DeleteAll: %d %v", n, err)
	}
	if st.Deleted() != 2 || st.Evicted() != 2 {
		t.Fatalf("deleted=%d evicted=%d", st.Deleted(), st.Evicted())
	}
	if _, ok := ds.Get(2); ok {
		t.Fatalf("key 2 still cached")
	}
	if _, ok := ds.Get(1); !ok {
		t.Fatalf("key 1 evicted")
	}
}

func TestDeleteAllByKeyEvictsEmptyHandle(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))
	ds.GetOrReference(4)
	if _, err := ds.DeleteAll(context.Background(), query.ByKey(int64(4))).Await(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if ds.Len() != 0 {
		t.Fatalf("len=%d", ds.Len())
	}
}

func TestDeleteAllPhaseErrors(t *testing.T) {
	ds := newStore(t, failingTable{memory.New("accounts")})

	_, err := ds.DeleteAll(context.Background(), query.New().Where("score", query.Gt(1))).Await()
	if !errors.Is(err, errBackend) {
		t.Fatalf("table failure: %v", err)
	}

	// unknown field fails the cache phase too
	st := ds.DeleteAll(context.Background(), query.New().Where("nope", query.Gt(1)))
	_, err = st.Await()
	var pe *PhaseError
	if !st.ErrorAs(&pe) {
		t.Fatalf("want *PhaseError, got %v", err)
	}
	if !errors.Is(pe.Table, errBackend) || pe.Cache == nil {
		t.Fatalf("phases: %+v", pe)
	}
}

func TestManagerSharesExecutor(t *testing.T) {
	type tag struct {
		Name string `data:"name,key"`
	}
	ctx := context.Background()
	m := NewManager(ManagerOptions{Workers: 2})
	accounts, err := Open(m, memory.New("accounts"), Options[int64, account]{})
	if err != nil {
		t.Fatalf("Open accounts: %v", err)
	}
	tags, err := Open(m, memory.New("tags"), Options[string, tag]{})
	if err != nil {
		t.Fatalf("Open tags: %v", err)
	}
	if accounts.Pool() != m.Pool() || tags.Pool() != m.Pool() {
		t.Fatalf("pool not shared")
	}

	it, _ := tags.GetOrCreate("go")
	if ok, err := it.SaveAsync(ctx).Await(); !ok || err != nil {
		t.Fatalf("save: %v %v", ok, err)
	}
	if err := m.AwaitAll(ctx); err != nil {
		t.Fatalf("AwaitAll: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := accounts.FindOne(ctx, query.ByKey(int64(1))); !errors.Is(st.Err(), ErrClosed) {
		t.Fatalf("closed store: %v", st.Err())
	}
}
