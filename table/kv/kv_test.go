package kv

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/provider/bigcache"
	"github.com/unkn0wn-root/datacache/provider/memory"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

func record(id any, name string, age int64) *doc.Document {
	d := doc.New()
	_ = d.SetKey("id", id)
	d.Put("name", name)
	d.Put("age", age)
	return d
}

func seed(t *testing.T, tbl *Table) {
	t.Helper()
	for i, n := range []string{"ann", "bob", "cid"} {
		if err := tbl.UpsertOne(context.Background(), record(int64(i+1), n, int64(30+10*i))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
}

func TestMemoryProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	mp := memory.New()
	tbl, err := New("users", Options{Provider: mp})
	if err != nil {
		t.Fatal(err)
	}
	seed(t, tbl)
	if mp.Len() != 3 {
		t.Fatalf("provider len: %d", mp.Len())
	}
	if _, ok, _ := mp.Get(ctx, "users:2"); !ok {
		t.Fatalf("expected storage key users:2")
	}

	res, err := tbl.FindOne(ctx, query.ByKey(int64(2)).Qualify("id"))
	if err != nil || !res.Found {
		t.Fatalf("find: %+v %v", res, err)
	}
	if v, _ := res.Input.Raw("name"); v != "bob" {
		t.Fatalf("name: %v", v)
	}

	cur, err := tbl.Find(ctx, query.New().Where("age", query.Gt(30)).Qualify("id"),
		table.FindOptions{Sort: query.By(query.Asc("name"))})
	if err != nil {
		t.Fatal(err)
	}
	got, err := table.Collect(ctx, cur)
	if err != nil || len(got) != 2 {
		t.Fatalf("find all: %d %v", len(got), err)
	}

	n, err := tbl.DeleteMany(ctx, query.New().Where("name", query.In([]string{"ann", "cid"})).Qualify("id"))
	if err != nil || n != 2 {
		t.Fatalf("delete: %d %v", n, err)
	}
	if mp.Len() != 1 {
		t.Fatalf("provider len after delete: %d", mp.Len())
	}
}

func TestCorruptRecordIsHealed(t *testing.T) {
	ctx := context.Background()
	mp := memory.New()
	var healed []string
	tbl, _ := New("users", Options{Provider: mp, OnCorrupt: func(k string, _ error) { healed = append(healed, k) }})
	_ = mp.Set(ctx, "users:1", []byte("garbage"), 0)

	res, err := tbl.FindOne(ctx, query.ByKey(int64(1)).Qualify("id"))
	if err != nil || res.Found {
		t.Fatalf("corrupt read: %+v %v", res, err)
	}
	if len(healed) != 1 || healed[0] != "users:1" {
		t.Fatalf("healed: %v", healed)
	}
	if _, ok, _ := mp.Get(ctx, "users:1"); ok {
		t.Fatalf("corrupt record not deleted")
	}
}

func TestLongKeysAreHashed(t *testing.T) {
	ctx := context.Background()
	mp := memory.New()
	tbl, _ := New("t", Options{Provider: mp, MaxKeyLen: 32})
	long := strings.Repeat("k", 100)
	if err := tbl.UpsertOne(ctx, record(long, "x", 1)); err != nil {
		t.Fatal(err)
	}
	res, err := tbl.FindOne(ctx, query.ByKey(long).Qualify("id"))
	if err != nil || !res.Found {
		t.Fatalf("find hashed: %+v %v", res, err)
	}
	_ = mp.Scan(ctx, "t:", func(k string, _ []byte) error {
		if len(k) > 32 {
			t.Fatalf("storage key too long: %q", k)
		}
		return nil
	})
}

func TestBigcacheProvider(t *testing.T) {
	ctx := context.Background()
	bp, err := bigcache.New(bigcache.Config{LifeWindow: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	tbl, _ := New("users", Options{Provider: bp, CloseProvider: true, Serializer: doc.JSON{}})
	seed(t, tbl)

	res, err := tbl.FindOne(ctx, query.New().Where("name", query.Eq("cid")).Qualify("id"))
	if err != nil || !res.Found {
		t.Fatalf("scan find: %+v %v", res, err)
	}
	if err := tbl.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.FindOne(ctx, query.ByKey(int64(1)).Qualify("id")); !errors.Is(err, table.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
