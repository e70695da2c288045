package bigcache

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{MaxEntriesInWindow: 64, MaxEntrySize: 128})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	if _, ok, err := p.Get(ctx, "accounts:1"); ok || err != nil {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	if err := p.Set(ctx, "accounts:1", []byte("ann"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, ok, err := p.Get(ctx, "accounts:1")
	if !ok || err != nil || string(b) != "ann" {
		t.Fatalf("Get: %q %v %v", b, ok, err)
	}
	if err := p.Del(ctx, "accounts:1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := p.Del(ctx, "accounts:1"); err != nil {
		t.Fatalf("Del missing: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "accounts:1"); ok {
		t.Fatalf("still present after Del")
	}
}

func TestScanPrefix(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	for _, k := range []string{"accounts:1", "accounts:2", "orders:1"} {
		if err := p.Set(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	var keys []string
	err := p.Scan(ctx, "accounts:", func(k string, v []byte) error {
		if string(v) != k {
			t.Fatalf("value for %s = %q", k, v)
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "accounts:1" || keys[1] != "accounts:2" {
		t.Fatalf("keys=%v", keys)
	}

	stop := errors.New("stop")
	if err := p.Scan(ctx, "", func(string, []byte) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("Scan stop: %v", err)
	}
}
