package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestMissSampling(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{MissEvery: 3})
	for i := 0; i < 9; i++ {
		h.CacheMiss("accounts", "op")
	}
	if n := strings.Count(buf.String(), "datacache.cache_miss"); n != 3 {
		t.Fatalf("logged %d misses", n)
	}
}

func TestSaveFailedRedactsKey(t *testing.T) {
	var buf bytes.Buffer
	h := New(newLogger(&buf), Options{})
	h.SaveFailed("accounts", "secret-key", errors.New("boom"))
	out := buf.String()
	if strings.Contains(out, "secret-key") {
		t.Fatalf("key leaked: %s", out)
	}
	if !strings.Contains(out, "err=boom") {
		t.Fatalf("missing error: %s", out)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.DeleteAllCompleted("accounts", 1, 1, nil)
	h.ContinuationPanic("accounts", "x")
}
