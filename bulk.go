package datacache

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

// BulkFind is a pending bulk query. Modifier methods configure it and panic
// with *UsageError once a terminal method (First, HasNext, Next, List,
// Stream, Execute) has been called. A BulkFind is single-pass and must not
// be consumed from more than one goroutine.
type BulkFind[K comparable, T any] struct {
	ctx context.Context
	ds  *Datastore[K, T]
	q   *query.Query

	limit, skip int
	projection  []string
	order       query.Ordering
	withCache   bool

	started bool
	src     foundIter[K, T]
	peek    *Found[K, T]
	err     error
	done    bool
}

func newBulkFind[K comparable, T any](ctx context.Context, ds *Datastore[K, T], q *query.Query) *BulkFind[K, T] {
	if q == nil {
		q = query.New()
	}
	return &BulkFind[K, T]{ctx: context.WithoutCancel(ctx), ds: ds, q: q.Clone()}
}

func (b *BulkFind[K, T]) modify(op string) {
	if b.started {
		panic(usage(op, "bulk find already executed"))
	}
}

// Limit caps the number of results. n <= 0 removes the cap.
func (b *BulkFind[K, T]) Limit(n int) *BulkFind[K, T] {
	b.modify("limit")
	b.limit = n
	return b
}

func (b *BulkFind[K, T]) Skip(n int) *BulkFind[K, T] {
	b.modify("skip")
	b.skip = n
	return b
}

// Filter adds a constraint. It is rejected once IncludeCached was called,
// since the cache scan is bound to the query as it was then.
func (b *BulkFind[K, T]) Filter(field string, c query.Constraint) *BulkFind[K, T] {
	b.modify("filter")
	if b.withCache {
		panic(usage("filter", "cannot filter after the cache sequence is attached"))
	}
	b.q.Where(field, c)
	return b
}

// Project restricts store results to fields plus the key. Projected results
// are partial.
func (b *BulkFind[K, T]) Project(fields ...string) *BulkFind[K, T] {
	b.modify("project")
	b.projection = slices.Clone(fields)
	if b.projection == nil {
		b.projection = []string{}
	}
	return b
}

func (b *BulkFind[K, T]) Sort(orders ...query.Order) *BulkFind[K, T] {
	b.modify("sort")
	b.order = query.By(orders...)
	return b
}

// IncludeCached merges loaded cached items matching the query ahead of store
// results. Cached items win over store results with the same key.
func (b *BulkFind[K, T]) IncludeCached() *BulkFind[K, T] {
	b.modify("include_cached")
	b.withCache = true
	return b
}

func (b *BulkFind[K, T]) begin() { b.started = true }

// ensure opens the pipeline on first use.
func (b *BulkFind[K, T]) ensure() {
	b.begin()
	if b.src != nil || b.done {
		return
	}
	src, err := b.open()
	if err != nil {
		b.fail(err)
		return
	}
	b.src = src
}

func (b *BulkFind[K, T]) fail(err error) {
	b.err = err
	b.done = true
	ds := b.ds
	ds.log.Warn("find_all failed", Fields{"err": err})
	ds.hooks.FetchFailed(ds.name, "", err)
}

func (b *BulkFind[K, T]) open() (foundIter[K, T], error) {
	ds := b.ds
	if ds.closed.Load() {
		return nil, ErrClosed
	}
	kf := ds.codec.KeyField()
	q := b.q.Qualify(kf)
	seen := make(map[K]struct{})

	var cached []*Found[K, T]
	if b.withCache {
		pred, err := ds.codec.Compile(q)
		if err != nil {
			return nil, usage("find_all", "%v", err)
		}
		for _, it := range ds.cache.All() {
			v := it.load()
			if pred(v) {
				it.touch()
				cached = append(cached, ds.foundCached(it, v))
				seen[it.key] = struct{}{}
			}
		}
	}

	opts := table.FindOptions{Projection: b.projection, KeyField: kf, Sort: b.order}
	if !b.withCache {
		opts.Skip, opts.Limit = b.skip, b.limit
	}
	sq, err := ds.codec.StoreQuery(q)
	if err != nil {
		return nil, usage("find_all", "%v", err)
	}
	cur, err := ds.tbl.Find(b.ctx, sq, opts)
	if err != nil {
		return nil, err
	}
	m := &mergeIter[K, T]{ctx: b.ctx, ds: ds, cached: cached, cur: cur, seen: seen, projection: b.projection}
	if !b.withCache {
		return m, nil
	}
	if len(b.order) == 0 {
		return &pageIter[K, T]{inner: m, skip: b.skip, limit: b.limit}, nil
	}
	all, err := drain[K, T](m)
	if err != nil {
		return nil, err
	}
	return &sliceIter[K, T]{items: table.Page(sortFound(all, b.order), b.skip, b.limit)}, nil
}

// HasNext reports whether Next has a result, fetching it if needed.
func (b *BulkFind[K, T]) HasNext() bool {
	b.ensure()
	if b.peek != nil {
		return true
	}
	if b.done {
		return false
	}
	f, err := b.src.next()
	if err != nil {
		b.src.close()
		b.fail(err)
		return false
	}
	if f == nil {
		b.src.close()
		b.done = true
		return false
	}
	b.peek = f
	return true
}

// Next returns the next result. After the last result it returns the
// pipeline error, or a usage error when the sequence simply ended.
func (b *BulkFind[K, T]) Next() (*Found[K, T], error) {
	if !b.HasNext() {
		if b.err != nil {
			return nil, b.err
		}
		return nil, usage("next", "no more results")
	}
	f := b.peek
	b.peek = nil
	return f, nil
}

// Err is the error that ended the sequence, if any.
func (b *BulkFind[K, T]) Err() error { return b.err }

// First returns the first result or nil when there is none, and closes the
// pipeline.
func (b *BulkFind[K, T]) First() (*Found[K, T], error) {
	if !b.HasNext() {
		return nil, b.err
	}
	f := b.peek
	b.peek = nil
	b.close()
	return f, nil
}

func (b *BulkFind[K, T]) close() {
	if b.src != nil && !b.done {
		b.src.close()
	}
	b.done = true
}

// List materializes every remaining result.
func (b *BulkFind[K, T]) List() ([]*Found[K, T], error) {
	out := []*Found[K, T]{}
	for b.HasNext() {
		f, _ := b.Next()
		out = append(out, f)
	}
	if b.err != nil {
		return []*Found[K, T]{}, b.err
	}
	return out, nil
}

// Stream yields remaining results lazily. A failure is yielded once as the
// final pair. The sequence is single-pass.
func (b *BulkFind[K, T]) Stream() iter.Seq2[*Found[K, T], error] {
	b.begin()
	return func(yield func(*Found[K, T], error) bool) {
		for b.HasNext() {
			f, _ := b.Next()
			if !yield(f, nil) {
				b.close()
				return
			}
		}
		if b.err != nil {
			yield(nil, b.err)
		}
	}
}

// Execute runs List on the executor.
func (b *BulkFind[K, T]) Execute() *BulkStatus[K, T] {
	b.begin()
	st := &BulkStatus[K, T]{fut: newFuture[[]*Found[K, T]](b.ds.env)}
	b.ds.submit(func() { st.fut.resolve(b.List()) })
	return st
}

// BulkStatus tracks an executed bulk find. A failed find completes with an
// empty result and the error.
type BulkStatus[K comparable, T any] struct {
	fut *Future[[]*Found[K, T]]
}

// Results is nil while pending.
func (s *BulkStatus[K, T]) Results() []*Found[K, T] {
	if !s.fut.Completed() {
		return nil
	}
	v, _ := s.fut.result()
	return v
}

func (s *BulkStatus[K, T]) Err() error {
	if !s.fut.Completed() {
		return nil
	}
	_, err := s.fut.result()
	return err
}

func (s *BulkStatus[K, T]) ErrorAs(target any) bool {
	err := s.Err()
	return err != nil && errors.As(err, target)
}

func (s *BulkStatus[K, T]) Future() *Future[[]*Found[K, T]] { return s.fut }
func (s *BulkStatus[K, T]) Done() <-chan struct{}            { return s.fut.Done() }
func (s *BulkStatus[K, T]) Await() ([]*Found[K, T], error)   { return s.fut.Await() }

func (s *BulkStatus[K, T]) AwaitTimeout(d time.Duration) ([]*Found[K, T], error) {
	return s.fut.AwaitTimeout(d)
}

func (s *BulkStatus[K, T]) Then(fn func([]*Found[K, T], error)) *Future[[]*Found[K, T]] {
	return s.fut.Then(fn)
}

// foundIter yields results; a nil result ends the sequence.
type foundIter[K comparable, T any] interface {
	next() (*Found[K, T], error)
	close()
}

// mergeIter yields cached results, then store results whose key was not
// already yielded.
type mergeIter[K comparable, T any] struct {
	ctx        context.Context
	ds         *Datastore[K, T]
	cached     []*Found[K, T]
	i          int
	cur        table.Cursor
	seen       map[K]struct{}
	projection []string
}

func (m *mergeIter[K, T]) next() (*Found[K, T], error) {
	if m.i < len(m.cached) {
		f := m.cached[m.i]
		m.i++
		return f, nil
	}
	for m.cur.Next(m.ctx) {
		f, err := m.ds.foundStored(m.cur.Input(), m.projection)
		if err != nil {
			return nil, err
		}
		if _, dup := m.seen[f.key]; dup {
			continue
		}
		m.seen[f.key] = struct{}{}
		return f, nil
	}
	return nil, m.cur.Err()
}

func (m *mergeIter[K, T]) close() { _ = m.cur.Close() }

type pageIter[K comparable, T any] struct {
	inner       foundIter[K, T]
	skip, limit int
	n           int
}

func (p *pageIter[K, T]) next() (*Found[K, T], error) {
	for p.skip > 0 {
		f, err := p.inner.next()
		if f == nil || err != nil {
			return nil, err
		}
		p.skip--
	}
	if p.limit > 0 && p.n >= p.limit {
		return nil, nil
	}
	f, err := p.inner.next()
	if f != nil {
		p.n++
	}
	return f, err
}

func (p *pageIter[K, T]) close() { p.inner.close() }

type sliceIter[K comparable, T any] struct {
	items []*Found[K, T]
	i     int
}

func (s *sliceIter[K, T]) next() (*Found[K, T], error) {
	if s.i >= len(s.items) {
		return nil, nil
	}
	f := s.items[s.i]
	s.i++
	return f, nil
}

func (s *sliceIter[K, T]) close() {}

func drain[K comparable, T any](it foundIter[K, T]) ([]*Found[K, T], error) {
	defer it.close()
	var out []*Found[K, T]
	for {
		f, err := it.next()
		if err != nil {
			return nil, err
		}
		if f == nil {
			return out, nil
		}
		out = append(out, f)
	}
}

// sortFound orders results by precomputed coefficient vectors. Equal
// vectors keep their merge order.
func sortFound[K comparable, T any](items []*Found[K, T], order query.Ordering) []*Found[K, T] {
	type keyed struct {
		f   *Found[K, T]
		key query.SortKey
	}
	ks := make([]keyed, len(items))
	for i, f := range items {
		ks[i] = keyed{f: f, key: order.Key(f.lookup)}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int { return order.Compare(a.key, b.key) })
	for i := range ks {
		items[i] = ks[i].f
	}
	return items
}
