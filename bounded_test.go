package datacache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/datacache/cache"
	"github.com/unkn0wn-root/datacache/cache/ristretto"
	"github.com/unkn0wn-root/datacache/cache/sturdyc"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table/memory"
)

type ticket struct {
	ID    uuid.UUID `data:"id,key"`
	Title string    `data:"title,optional"`
}

func newTicketStore(t *testing.T, tbl *memory.Table) *Datastore[uuid.UUID, ticket] {
	t.Helper()
	ds, err := New(Options[uuid.UUID, ticket]{Table: tbl})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close(context.Background()) })
	return ds
}

// uuid keys are stored as strings; lookups on a cache miss must compare in
// that form.
func TestTextKeyReachesTableInStoredForm(t *testing.T) {
	ctx := context.Background()
	tbl := memory.New("tickets")
	id := uuid.MustParse("6f1c1f2e-3a52-4c1d-9a3e-0c5e4d2b7a11")

	w := newTicketStore(t, tbl)
	it, err := w.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := it.Set(&ticket{ID: id, Title: "first"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, err := it.Save(ctx); !ok || err != nil {
		t.Fatalf("Save: %v %v", ok, err)
	}

	r := newTicketStore(t, tbl)
	for _, q := range []*query.Query{
		query.ByKey(id),
		query.New().Where("id", query.Eq(id)),
		query.New().Where("id", query.In([]uuid.UUID{id, uuid.New()})),
	} {
		st := r.FindOne(ctx, q)
		got, err := st.Await()
		if err != nil || st.Result() != ResultFetched {
			t.Fatalf("FindOne(%v): %v %v", q, st.Result(), err)
		}
		if got.Value().Title != "first" {
			t.Fatalf("title=%q", got.Value().Title)
		}
		r.Evict(id)
	}

	fs, err := r.FindAll(ctx, query.New().Where("id", query.Ne(uuid.Nil))).List()
	if err != nil || len(fs) != 1 {
		t.Fatalf("FindAll: %d %v", len(fs), err)
	}
	if fs[0].Key() != id {
		t.Fatalf("key=%v", fs[0].Key())
	}

	st := r.DeleteAll(ctx, query.ByKey(id))
	if _, err := st.Await(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if st.Deleted() != 1 || tbl.Len() != 0 {
		t.Fatalf("deleted=%d left=%d", st.Deleted(), tbl.Len())
	}
}

func TestBoundedCachesKeepOneLiveItemPerKey(t *testing.T) {
	type itemCache = cache.Cache[int64, *Item[int64, account]]
	caches := map[string]func(t *testing.T) itemCache{
		"ristretto": func(t *testing.T) itemCache {
			c, err := ristretto.New(ristretto.Config[int64, *Item[int64, account]]{NumCounters: 100, MaxCost: 2, BufferItems: 64})
			if err != nil {
				t.Fatalf("ristretto: %v", err)
			}
			t.Cleanup(c.Close)
			return c
		},
		"sturdyc": func(t *testing.T) itemCache {
			c, err := sturdyc.New[int64, *Item[int64, account]](sturdyc.Config{Capacity: 2, NumShards: 1, TTL: time.Minute, EvictionPercentage: 50})
			if err != nil {
				t.Fatalf("sturdyc: %v", err)
			}
			return c
		},
	}
	for name, build := range caches {
		t.Run(name, func(t *testing.T) {
			ds, err := New(Options[int64, account]{Table: memory.New("accounts"), Cache: build(t)})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			t.Cleanup(func() { _ = ds.Close(context.Background()) })

			first := ds.GetOrReference(1)
			for k := int64(2); k < 50; k++ {
				ds.GetOrReference(k)
			}
			again := ds.GetOrReference(1)
			if again.Disposed() {
				t.Fatalf("fresh reference is disposed")
			}
			if again != first {
				if !first.Disposed() {
					t.Fatalf("replaced item still live")
				}
				if err := first.Set(&account{ID: 1}); !errors.Is(err, ErrDisposed) {
					t.Fatalf("Set on dropped item: %v", err)
				}
			}
			if err := again.Set(&account{ID: 1, Name: "ann"}); err != nil {
				t.Fatalf("Set: %v", err)
			}
		})
	}
}

// Dispose marks the item before unlinking it; a reference taken in between
// must not observe the disposed handle.
func TestGetOrReferenceReplacesDisposedHandle(t *testing.T) {
	ds := newStore(t, memory.New("accounts"))
	it := ds.GetOrReference(5)
	it.disposed.Store(true)

	again := ds.GetOrReference(5)
	if again == it || again.Disposed() {
		t.Fatalf("got disposed handle back")
	}
	if ds.Len() != 1 {
		t.Fatalf("len=%d", ds.Len())
	}
	if got, ok := ds.Get(5); !ok || got != again {
		t.Fatalf("Get returned %p, want %p", got, again)
	}
	if _, err := it.SaveAsync(context.Background()).Await(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("SaveAsync on disposed: %v", err)
	}
}
