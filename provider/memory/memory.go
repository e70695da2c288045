// Package memory is a map-backed provider for tests and single-process use.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/datacache/provider"
)

type entry struct {
	val []byte
	exp time.Time
}

type Provider struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{m: make(map[string]entry), now: time.Now}
}

func (p *Provider) live(e entry) bool {
	return e.exp.IsZero() || p.now().Before(e.exp)
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	e, ok := p.m[key]
	p.mu.RUnlock()
	if !ok || !p.live(e) {
		return nil, false, nil
	}
	return slices.Clone(e.val), true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{val: slices.Clone(value)}
	if ttl > 0 {
		e.exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = e
	p.mu.Unlock()
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Scan(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	p.mu.RLock()
	keys := make([]string, 0, len(p.m))
	for k, e := range p.m {
		if strings.HasPrefix(k, prefix) && p.live(e) {
			keys = append(keys, k)
		}
	}
	p.mu.RUnlock()
	slices.Sort(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok, _ := p.Get(ctx, k)
		if !ok {
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Len counts stored keys, expired ones included.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

func (p *Provider) Close(context.Context) error { return nil }
