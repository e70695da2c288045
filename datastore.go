package datacache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/datacache/cache"
	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/executor"
	"github.com/unkn0wn-root/datacache/internal/util"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

// Options configure a Datastore. Only Table is required.
type Options[K comparable, T any] struct {
	Table table.DataTable

	Name     string                         // "" => Table.Name()
	Registry *codec.Registry                // nil => private registry with the default factory
	Codec    *codec.DataCodec[K, T]         // nil => bound through Registry and Table.Format()
	Cache    cache.Cache[K, *Item[K, T]]    // nil => cache.NewOrdered
	Pool     *executor.Pool                 // nil => private pool, closed with the datastore
	Logger   Logger                         // if nil, NopLogger is used
	Hooks    Hooks                          // if nil, NopHooks is used
	Clock    func() time.Time               // nil => time.Now
	// CloseTable closes Table when the datastore closes.
	CloseTable bool
}

// Datastore is the cache-aside access layer over one table. Every record
// read through it is held by exactly one *Item per key until evicted.
type Datastore[K comparable, T any] struct {
	*env
	name  string
	tbl   table.DataTable
	codec *codec.DataCodec[K, T]
	cache cache.Cache[K, *Item[K, T]]
	now   func() time.Time

	ownPool  bool
	ownTable bool
	closed   atomic.Bool
}

func New[K comparable, T any](opts Options[K, T]) (*Datastore[K, T], error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("datacache: table is required")
	}
	ds := &Datastore[K, T]{
		name:     coalesce(opts.Name, opts.Table.Name()),
		tbl:      opts.Table,
		codec:    opts.Codec,
		cache:    opts.Cache,
		now:      opts.Clock,
		ownTable: opts.CloseTable,
	}
	if ds.codec == nil {
		reg := coalesce(opts.Registry, codec.NewRegistry(nil))
		dc, err := codec.Bind[K, T](reg, opts.Table.Format())
		if err != nil {
			return nil, err
		}
		ds.codec = dc
	}
	if ds.cache == nil {
		ds.cache = cache.NewOrdered[K, *Item[K, T]]()
	}
	if ds.now == nil {
		ds.now = time.Now
	}

	log := withStore(coalesce[Logger](opts.Logger, NopLogger{}), ds.name)
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	pool := opts.Pool
	if pool == nil {
		pool = executor.New(executor.Options{OnPanic: func(v any) {
			log.Error("task panicked", Fields{"panic": v})
		}})
		ds.ownPool = true
	}
	ds.env = &env{pool: pool, log: log, hooks: hooks, store: ds.name}
	ds.cache.OnEvict(ds.dropped)
	return ds, nil
}

// dropped disposes an item the cache let go of on its own.
func (ds *Datastore[K, T]) dropped(key K, it *Item[K, T]) {
	if !it.disposed.CompareAndSwap(false, true) {
		return
	}
	ds.log.Debug("cache dropped item", Fields{"key": keyString(key)})
	ds.hooks.Evicted(ds.name, 1)
}

func (ds *Datastore[K, T]) Name() string                  { return ds.name }
func (ds *Datastore[K, T]) Table() table.DataTable        { return ds.tbl }
func (ds *Datastore[K, T]) Codec() *codec.DataCodec[K, T] { return ds.codec }
func (ds *Datastore[K, T]) Pool() *executor.Pool          { return ds.pool }

// Len is the number of cached items.
func (ds *Datastore[K, T]) Len() int { return ds.cache.Len() }

func keyString(k any) string { return util.KeyString(k) }

func opID() string { return uuid.NewString() }

// keyOf converts a raw query key into K.
func (ds *Datastore[K, T]) keyOf(raw any) (K, error) {
	if k, ok := raw.(K); ok {
		return k, nil
	}
	var k K
	if err := ds.codec.NewContext().DecodeValue(raw, reflect.ValueOf(&k).Elem()); err != nil {
		return k, usage("key", "query key %v: %v", raw, err)
	}
	return k, nil
}

// keyQuery is the qualified table query for one key in stored form.
func (ds *Datastore[K, T]) keyQuery(key K) (*query.Query, error) {
	return ds.codec.StoreQuery(query.ByKey(key))
}

func (ds *Datastore[K, T]) decodeFailed(err error) {
	field := ""
	var de *codec.DecodeError
	if errors.As(err, &de) {
		field = de.Field
	}
	ds.log.Warn("decode failed", Fields{"field": field, "err": err})
	ds.hooks.DecodeFailed(ds.name, field, err)
}

// GetOrReference returns the item for key, creating an empty one when the
// key is not cached. Concurrent callers observe the same item. A handle
// disposed while still indexed is unlinked and replaced.
func (ds *Datastore[K, T]) GetOrReference(key K) *Item[K, T] {
	for {
		it, _ := ds.cache.GetOrCompute(key, func(k K) *Item[K, T] { return newItem(ds, k) })
		if !it.disposed.Load() {
			it.touch()
			return it
		}
		ds.cache.RemoveValue(key, it)
	}
}

// GetOrCreate references key and installs the codec default when empty.
func (ds *Datastore[K, T]) GetOrCreate(key K) (*Item[K, T], error) {
	it := ds.GetOrReference(key)
	if err := it.DefaultIfAbsent(); err != nil {
		return nil, err
	}
	return it, nil
}

// Get returns the cached item for key without creating one.
func (ds *Datastore[K, T]) Get(key K) (*Item[K, T], bool) {
	it, ok := ds.cache.Get(key)
	if !ok || it.disposed.Load() {
		return nil, false
	}
	it.touch()
	return it, true
}

// FindOneCached answers q from loaded cached items only. It never touches
// the table and returns nil when nothing matches.
func (ds *Datastore[K, T]) FindOneCached(q *query.Query) (*Item[K, T], error) {
	if ds.closed.Load() {
		return nil, ErrClosed
	}
	pred, err := ds.codec.Compile(q)
	if err != nil {
		return nil, usage("find_one_cached", "%v", err)
	}
	if raw, ok := q.Key(); ok {
		k, err := ds.keyOf(raw)
		if err != nil {
			return nil, err
		}
		it, ok := ds.cache.Get(k)
		if !ok || !pred(it.load()) {
			return nil, nil
		}
		it.touch()
		return it, nil
	}
	for _, it := range ds.cache.All() {
		if pred(it.load()) {
			it.touch()
			return it, nil
		}
	}
	return nil, nil
}

// FindOne resolves q from the cache, falling back to an asynchronous table
// read on a miss. The returned status completes exactly once.
func (ds *Datastore[K, T]) FindOne(ctx context.Context, q *query.Query) *FindStatus[K, T] {
	st := newFindStatus[K, T](ds.env)
	if ds.closed.Load() {
		st.finish(ResultFailed, nil, ErrClosed)
		return st
	}
	it, err := ds.FindOneCached(q)
	if err != nil {
		st.finish(ResultFailed, nil, err)
		return st
	}
	if it != nil {
		st.finish(ResultCached, it, nil)
		return st
	}

	qq, err := ds.codec.StoreQuery(q)
	if err != nil {
		st.finish(ResultFailed, nil, usage("find_one", "%v", err))
		return st
	}
	id := opID()
	ds.log.Debug("find_one miss", Fields{"op": id, "query": qq.String()})
	ds.hooks.CacheMiss(ds.name, id)

	ctx = context.WithoutCancel(ctx)
	ds.submit(func() {
		it, err := ds.fetchOne(ctx, qq)
		switch {
		case err != nil:
			ds.log.Warn("find_one failed", Fields{"op": id, "err": err})
			ds.hooks.FetchFailed(ds.name, id, err)
			st.finish(ResultFailed, nil, err)
		case it == nil:
			st.finish(ResultAbsent, nil, nil)
		default:
			st.finish(ResultFetched, it, nil)
		}
	})
	return st
}

// fetchOne reads q from the table and loads the result into its item.
// A nil item with a nil error means the table had no match.
func (ds *Datastore[K, T]) fetchOne(ctx context.Context, q *query.Query) (*Item[K, T], error) {
	res, err := ds.tbl.FindOne(ctx, q)
	if err != nil || !res.Found {
		return nil, err
	}
	return ds.load(res.Input)
}

// load decodes a complete input into the item for its key.
func (ds *Datastore[K, T]) load(in codec.DecodeInput) (*Item[K, T], error) {
	key, err := ds.codec.DecodeKey(in)
	if err != nil {
		ds.decodeFailed(err)
		return nil, err
	}
	v, err := ds.codec.DecodeNew(in)
	if err != nil {
		ds.decodeFailed(err)
		return nil, err
	}
	it := ds.GetOrReference(key)
	it.loaded(v)
	return it, nil
}

// FindAll starts a bulk find over q. Configure it with the modifier methods
// before calling a terminal method.
func (ds *Datastore[K, T]) FindAll(ctx context.Context, q *query.Query) *BulkFind[K, T] {
	return newBulkFind(ctx, ds, q)
}

// DeleteAll deletes every record matching q from the table and evicts the
// matching cached items. The status completes once both phases reported.
func (ds *Datastore[K, T]) DeleteAll(ctx context.Context, q *query.Query) *DeleteAllStatus {
	st := newDeleteAllStatus(ds.env)
	if ds.closed.Load() {
		st.completeTable(0, ErrClosed)
		st.completeCache(0, ErrClosed)
		return st
	}
	qq := q.Clone().Qualify(ds.codec.KeyField())
	sq, err := ds.codec.StoreQuery(q)
	if err != nil {
		st.completeCache(0, nil)
		st.completeTable(0, usage("delete_all", "%v", err))
		return st
	}
	ctx = context.WithoutCancel(ctx)
	ds.submit(func() {
		n, err := ds.tbl.DeleteMany(ctx, sq)
		st.completeTable(n, err)
	})
	ds.submit(func() {
		n, err := ds.evictMatching(qq)
		st.completeCache(n, err)
	})
	return st
}

func (ds *Datastore[K, T]) evictMatching(q *query.Query) (int, error) {
	pred, err := ds.codec.Compile(q)
	if err != nil {
		return 0, err
	}
	if raw, ok := q.Key(); ok {
		k, err := ds.keyOf(raw)
		if err != nil {
			return 0, err
		}
		it, ok := ds.cache.Get(k)
		if !ok {
			return 0, nil
		}
		// an empty handle for a deleted key is stale too
		if v := it.load(); v != nil && !pred(v) {
			return 0, nil
		}
		it.Dispose()
		ds.hooks.Evicted(ds.name, 1)
		return 1, nil
	}
	return ds.EvictWhere(func(it *Item[K, T]) bool { return pred(it.load()) }), nil
}

// Save upserts the value of it.
func (ds *Datastore[K, T]) Save(ctx context.Context, it *Item[K, T]) (bool, error) {
	if it.ds != ds {
		return false, usage("save", "item belongs to datastore %s", it.ds.name)
	}
	return it.Save(ctx)
}

// Evict disposes the item for key and reports whether one was cached.
func (ds *Datastore[K, T]) Evict(key K) bool {
	it, ok := ds.cache.Get(key)
	if !ok {
		return false
	}
	it.Dispose()
	ds.hooks.Evicted(ds.name, 1)
	return true
}

// EvictWhere disposes every cached item matching pred.
func (ds *Datastore[K, T]) EvictWhere(pred func(*Item[K, T]) bool) int {
	n := ds.cache.RemoveAll(func(_ K, it *Item[K, T]) bool {
		if !pred(it) {
			return false
		}
		it.disposed.Store(true)
		return true
	})
	if n > 0 {
		ds.log.Debug("evicted", Fields{"count": n})
		ds.hooks.Evicted(ds.name, n)
	}
	return n
}

// EvictIdle disposes items not referenced within idle.
func (ds *Datastore[K, T]) EvictIdle(idle time.Duration) int {
	cutoff := ds.now().Add(-idle)
	return ds.EvictWhere(func(it *Item[K, T]) bool {
		return it.LastReferenced().Before(cutoff)
	})
}

// AwaitAll waits until the executor has no queued or running work. It is
// distinct from awaiting one operation's status.
func (ds *Datastore[K, T]) AwaitAll(ctx context.Context) error {
	return ds.pool.AwaitAll(ctx)
}

// Close waits for in-flight work, disposes every cached item and releases
// owned resources. In-flight operations still complete.
func (ds *Datastore[K, T]) Close(ctx context.Context) error {
	if !ds.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := ds.pool.AwaitAll(ctx)
	for _, it := range ds.cache.All() {
		it.disposed.Store(true)
	}
	ds.cache.Clear()
	if ds.ownPool {
		ds.pool.Close()
	}
	if ds.ownTable {
		err = errors.Join(err, ds.tbl.Close(ctx))
	}
	return err
}
