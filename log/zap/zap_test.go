package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/datacache"
)

func TestFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Logger{L: zap.New(core)}

	l.Error("find_one failed", datacache.Fields{"store": "accounts", "err": errors.New("boom")})
	l.Debug("no fields", nil)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["store"] != "accounts" || ctx["err"] != "boom" {
		t.Fatalf("context=%v", ctx)
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("level=%v", entries[0].Level)
	}
}
