package redis

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
)

func TestMatchPatternEscapesGlob(t *testing.T) {
	cases := map[string]string{
		"users:":    "users:*",
		"a*b":       `a\*b*`,
		"x?[y]":     `x\?\[y\]*`,
		`back\path`: `back\\path*`,
	}
	for in, want := range cases {
		if got := MatchPattern(in); got != want {
			t.Fatalf("MatchPattern(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNilClient(t *testing.T) {
	if _, err := New(Config{}); err != ErrNilClient {
		t.Fatalf("want ErrNilClient, got %v", err)
	}
}

func TestLiveScan(t *testing.T) {
	addr := os.Getenv("DATACACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("DATACACHE_REDIS_ADDR not set")
	}
	ctx := context.Background()
	p, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: addr}), CloseClient: true})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)
	_ = p.Set(ctx, "dctest:1", []byte("a"), 0)
	_ = p.Set(ctx, "dctest:2", []byte("b"), 0)
	defer p.Del(ctx, "dctest:1")
	defer p.Del(ctx, "dctest:2")

	seen := 0
	if err := p.Scan(ctx, "dctest:", func(string, []byte) error { seen++; return nil }); err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Fatalf("seen %d", seen)
	}
}
