// Package sloghooks implements datacache.Hooks on log/slog with sampling for
// high-volume events.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/datacache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	MissEvery  uint64
	EvictEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	missCtr  atomic.Uint64
	evictCtr atomic.Uint64
}

var _ datacache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheMiss(store, opID string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("datacache.cache_miss",
		"store", store,
		"op", opID)
}

func (h *Hooks) FetchFailed(store, opID string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("datacache.fetch_failed",
		"store", store,
		"op", opID,
		"err", err)
}

func (h *Hooks) SaveFailed(store, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("datacache.save_failed",
		"store", store,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) DecodeFailed(store, field string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("datacache.decode_failed",
		"store", store,
		"field", field,
		"err", err)
}

func (h *Hooks) ContinuationPanic(store string, v any) {
	if h.l == nil {
		return
	}
	h.l.Error("datacache.continuation_panic",
		"store", store,
		"panic", v)
}

func (h *Hooks) Evicted(store string, n int) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("datacache.evicted",
		"store", store,
		"count", n)
}

func (h *Hooks) DeleteAllCompleted(store string, deleted int64, evicted int, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("datacache.delete_all_failed",
			"store", store,
			"deleted", deleted,
			"evicted", evicted,
			"err", err)
		return
	}
	h.l.Info("datacache.delete_all",
		"store", store,
		"deleted", deleted,
		"evicted", evicted)
}
