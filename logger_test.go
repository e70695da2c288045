package datacache

import (
	"sync"
	"testing"
)

type captureLogger struct {
	NopLogger
	mu      sync.Mutex
	entries []Fields
}

func (c *captureLogger) Warn(_ string, f Fields) {
	c.mu.Lock()
	c.entries = append(c.entries, f)
	c.mu.Unlock()
}

func TestStoreLoggerStampsName(t *testing.T) {
	c := &captureLogger{}
	l := withStore(c, "accounts")
	in := Fields{"key": 7}
	l.Warn("save failed", in)

	if len(c.entries) != 1 {
		t.Fatalf("entries=%d", len(c.entries))
	}
	got := c.entries[0]
	if got["store"] != "accounts" || got["key"] != 7 {
		t.Fatalf("fields=%v", got)
	}
	if _, ok := in["store"]; ok {
		t.Fatalf("caller fields mutated")
	}
	if _, ok := withStore(NopLogger{}, "x").(NopLogger); !ok {
		t.Fatalf("nop logger should stay nop")
	}
}
