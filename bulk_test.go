package datacache

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
	"github.com/unkn0wn-root/datacache/table/memory"
)

func keysOf(t *testing.T, fs []*Found[int64, account]) []int64 {
	t.Helper()
	out := make([]int64, len(fs))
	for i, f := range fs {
		out[i] = f.Key()
	}
	return out
}

func sameKeys(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBulkMergeCachedWins(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	seed(t, tbl, 2, "bob-stored", 20)
	seed(t, tbl, 3, "cid", 30)
	ds := newStore(t, tbl)

	_ = ds.GetOrReference(1).Set(&account{ID: 1, Name: "ann", Score: 10})
	_ = ds.GetOrReference(2).Set(&account{ID: 2, Name: "bob-cached", Score: 20})
	ds.GetOrReference(9) // empty handles are never merged

	got, err := ds.FindAll(ctx, query.New()).IncludeCached().List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if ks := keysOf(t, got); !sameKeys(ks, []int64{1, 2, 3}) {
		t.Fatalf("keys=%v", ks)
	}
	if !got[1].Cached() || got[2].Cached() {
		t.Fatalf("cached flags: %v %v", got[1].Cached(), got[2].Cached())
	}
	name, err := Field[string](got[1], "name")
	if err != nil || name != "bob-cached" {
		t.Fatalf("duplicate resolved to %q %v", name, err)
	}
}

func TestBulkStoreOnlyPushesPage(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	for i := int64(1); i <= 5; i++ {
		seed(t, tbl, i, "n", i*10)
	}
	ds := newStore(t, tbl)

	got, err := ds.FindAll(ctx, query.New().Where("score", query.Gte(20))).
		Sort(query.Desc("score")).
		Skip(1).
		Limit(2).
		List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if ks := keysOf(t, got); !sameKeys(ks, []int64{4, 3}) {
		t.Fatalf("keys=%v", ks)
	}
	if ds.Len() != 0 {
		t.Fatalf("store results must not populate the cache, len=%d", ds.Len())
	}
}

func TestBulkSortByCoefficients(t *testing.T) {
	type point struct {
		ID int64 `data:"id,key"`
		X  int64 `data:"x"`
		Y  int64 `data:"y"`
	}
	ctx := context.Background()
	ds, err := New(Options[int64, point]{Table: memory.New("points")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ds.Close(ctx)

	_ = ds.GetOrReference(1).Set(&point{ID: 1, X: 1, Y: 5})
	_ = ds.GetOrReference(3).Set(&point{ID: 3, X: 2, Y: 0})
	save, _ := ds.GetOrCreate(2)
	_ = save.Set(&point{ID: 2, X: 1, Y: 3})
	if _, err := save.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	save.Dispose()

	got, err := ds.FindAll(ctx, nil).
		IncludeCached().
		Sort(query.Asc("x"), query.Asc("y")).
		List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []int64
	for _, f := range got {
		ids = append(ids, f.Key())
	}
	if !sameKeys(ids, []int64{2, 1, 3}) {
		t.Fatalf("order=%v", ids)
	}
	if got[0].Cached() {
		t.Fatalf("point 2 came from the table")
	}
}

func TestBulkCachedPaging(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	seed(t, tbl, 3, "c", 3)
	seed(t, tbl, 4, "d", 4)
	ds := newStore(t, tbl)
	_ = ds.GetOrReference(1).Set(&account{ID: 1})
	_ = ds.GetOrReference(2).Set(&account{ID: 2})

	got, err := ds.FindAll(ctx, nil).IncludeCached().Skip(1).Limit(2).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if ks := keysOf(t, got); !sameKeys(ks, []int64{2, 3}) {
		t.Fatalf("keys=%v", ks)
	}
}

func TestBulkProjectionIsPartial(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	seed(t, tbl, 1, "ann", 10)
	ds := newStore(t, tbl)

	f, err := ds.FindAll(ctx, nil).Project("name").First()
	if err != nil || f == nil {
		t.Fatalf("First: %v %v", f, err)
	}
	if !f.Partial() || f.Cached() {
		t.Fatalf("partial=%v cached=%v", f.Partial(), f.Cached())
	}
	if name, err := Field[string](f, "name"); err != nil || name != "ann" {
		t.Fatalf("name: %q %v", name, err)
	}
	if _, err := Field[int64](f, "score"); !errors.Is(err, ErrUsage) {
		t.Fatalf("field outside projection: %v", err)
	}
	if _, err := Field[int64](f, "nope"); !errors.Is(err, ErrUsage) {
		t.Fatalf("unknown field: %v", err)
	}

	it, err := f.Item(ctx)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if v := it.Value(); v.Score != 10 || v.Name != "ann" {
		t.Fatalf("escalated value: %+v", v)
	}
}

func TestBulkPartialItemDeleted(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	seed(t, tbl, 1, "ann", 10)
	ds := newStore(t, tbl)

	f, err := ds.FindAll(ctx, nil).Project("name").First()
	if err != nil || f == nil {
		t.Fatalf("First: %v %v", f, err)
	}
	if _, err := tbl.DeleteMany(ctx, query.ByKey(int64(1)).Qualify("id")); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if _, err := f.Item(ctx); !errors.Is(err, table.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestBulkUsagePanics(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))

	expectUsage := func(name string, fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.Is(err, ErrUsage) {
				t.Fatalf("%s: want usage panic, got %v", name, r)
			}
		}()
		fn()
	}

	b := ds.FindAll(context.Background(), nil)
	_ = b.HasNext()
	expectUsage("limit after terminal", func() { b.Limit(1) })
	expectUsage("sort after terminal", func() { b.Sort(query.Asc("name")) })

	c := ds.FindAll(context.Background(), nil).IncludeCached()
	expectUsage("filter after include", func() { c.Filter("name", query.Eq("x")) })

	if _, err := b.Next(); !errors.Is(err, ErrUsage) {
		t.Fatalf("Next past end: %v", err)
	}
}

func TestBulkStreamAndFailure(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	for i := int64(1); i <= 4; i++ {
		seed(t, tbl, i, "n", i)
	}
	ds := newStore(t, tbl)

	var seen []int64
	for f, err := range ds.FindAll(ctx, nil).Stream() {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		seen = append(seen, f.Key())
		if len(seen) == 2 {
			break
		}
	}
	if !sameKeys(seen, []int64{1, 2}) {
		t.Fatalf("seen=%v", seen)
	}

	bad := newStore(t, failingTable{memory.New("accounts")})
	st := bad.FindAll(ctx, nil).Execute()
	res, err := st.Await()
	if !errors.Is(err, errBackend) || len(res) != 0 {
		t.Fatalf("Execute: %v %v", res, err)
	}
	if !errors.Is(st.Err(), errBackend) {
		t.Fatalf("status err: %v", st.Err())
	}
}

func TestFoundItemMaterializes(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("accounts")
	seed(t, tbl, 1, "ann", 10)
	ds := newStore(t, tbl)

	res, err := ds.FindAll(ctx, nil).Execute().Await()
	if err != nil || len(res) != 1 {
		t.Fatalf("Execute: %v %v", res, err)
	}
	it, err := res[0].Item(ctx)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if cached, ok := ds.Get(1); !ok || cached != it {
		t.Fatalf("materialized item not cached")
	}
	again, _ := ds.FindAll(ctx, nil).IncludeCached().First()
	if !again.Cached() || !again.Equal(res[0]) {
		t.Fatalf("cached=%v equal=%v", again.Cached(), again.Equal(res[0]))
	}
}
