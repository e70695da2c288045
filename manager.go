package datacache

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/executor"
	"github.com/unkn0wn-root/datacache/table"
)

// ManagerOptions configure a Manager. All fields are optional.
type ManagerOptions struct {
	Registry *codec.Registry // nil => codec.NewRegistry(nil)
	Pool     *executor.Pool  // nil => private pool sized by Workers/Queue
	Workers  int             // 0 => GOMAXPROCS
	Queue    int             // 0 => executor default
	Logger   Logger          // if nil, NopLogger is used
	Hooks    Hooks           // if nil, NopHooks is used
}

// Manager shares one codec registry, one executor, and one logger across
// datastores.
type Manager struct {
	reg     *codec.Registry
	pool    *executor.Pool
	ownPool bool
	log     Logger
	hooks   Hooks

	mu     sync.Mutex
	stores []interface{ Close(context.Context) error }
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		reg:   coalesce(opts.Registry, codec.NewRegistry(nil)),
		pool:  opts.Pool,
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
	if m.pool == nil {
		log := m.log
		m.pool = executor.New(executor.Options{
			Workers: opts.Workers,
			Queue:   opts.Queue,
			OnPanic: func(v any) { log.Error("task panicked", Fields{"panic": v}) },
		})
		m.ownPool = true
	}
	return m
}

func (m *Manager) Registry() *codec.Registry { return m.reg }
func (m *Manager) Pool() *executor.Pool      { return m.pool }

// Open creates a datastore over tbl sharing m's registry, executor, logger,
// and hooks. Fields of opts left unset are taken from m.
func Open[K comparable, T any](m *Manager, tbl table.DataTable, opts Options[K, T]) (*Datastore[K, T], error) {
	opts.Table = tbl
	opts.Registry = coalesce(opts.Registry, m.reg)
	opts.Pool = coalesce(opts.Pool, m.pool)
	opts.Logger = coalesce[Logger](opts.Logger, m.log)
	opts.Hooks = coalesce[Hooks](opts.Hooks, m.hooks)
	ds, err := New(opts)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.stores = append(m.stores, ds)
	m.mu.Unlock()
	m.log.Debug("datastore opened", Fields{"store": ds.name, "table": tbl.Name()})
	return ds, nil
}

// AwaitAll waits until the shared executor is idle.
func (m *Manager) AwaitAll(ctx context.Context) error { return m.pool.AwaitAll(ctx) }

// Close closes every datastore opened through m, then the owned executor.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	stores := m.stores
	m.stores = nil
	m.mu.Unlock()

	var err error
	for _, ds := range stores {
		err = errors.Join(err, ds.Close(ctx))
	}
	if m.ownPool {
		m.pool.Close()
	}
	return err
}
