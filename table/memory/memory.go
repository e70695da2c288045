// Package memory is an in-process document table.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/internal/util"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

// Table stores documents in insertion order. Reads return copies.
type Table struct {
	name string

	mu     sync.RWMutex
	docs   map[string]*doc.Document
	order  []string
	closed bool
}

var _ table.DataTable = (*Table)(nil)

func New(name string) *Table {
	return &Table{name: name, docs: make(map[string]*doc.Document)}
}

func (t *Table) Name() string         { return t.name }
func (t *Table) Format() codec.Format { return doc.Format{} }

func (t *Table) FindOne(_ context.Context, q *query.Query) (table.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return table.Result{}, table.Wrap(t.name, "find_one", table.ErrClosed)
	}
	if k, ok := q.Key(); ok {
		d, found := t.docs[util.KeyString(k)]
		if !found {
			return table.Result{}, nil
		}
		return t.hit(q, d)
	}
	for _, ks := range t.order {
		res, err := t.hit(q, t.docs[ks])
		if err != nil || res.Found {
			return res, err
		}
	}
	return table.Result{}, nil
}

func (t *Table) hit(q *query.Query, d *doc.Document) (table.Result, error) {
	ok, err := table.Match(q, d)
	if err != nil {
		return table.Result{}, table.Wrap(t.name, "find_one", err)
	}
	if !ok {
		return table.Result{}, nil
	}
	return table.Result{Found: true, Input: d.Clone()}, nil
}

func (t *Table) UpsertOne(_ context.Context, out codec.EncodeOutput) error {
	d, err := table.Document(out)
	if err != nil {
		return table.Wrap(t.name, "upsert", err)
	}
	k, _ := d.Key()
	ks := util.KeyString(k)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return table.Wrap(t.name, "upsert", table.ErrClosed)
	}
	if _, ok := t.docs[ks]; !ok {
		t.order = append(t.order, ks)
	}
	t.docs[ks] = d.Clone()
	return nil
}

func (t *Table) Find(_ context.Context, q *query.Query, opts table.FindOptions) (table.Cursor, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, table.Wrap(t.name, "find", table.ErrClosed)
	}
	all := make([]*doc.Document, 0, len(t.order))
	for _, ks := range t.order {
		all = append(all, t.docs[ks].Clone())
	}
	t.mu.RUnlock()

	res, err := table.Apply(all, q, opts)
	if err != nil {
		return nil, table.Wrap(t.name, "find", err)
	}
	return table.NewSliceCursor(res), nil
}

func (t *Table) DeleteMany(_ context.Context, q *query.Query) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, table.Wrap(t.name, "delete_many", table.ErrClosed)
	}
	var n int64
	for _, ks := range t.order {
		ok, err := table.Match(q, t.docs[ks])
		if err != nil {
			return n, table.Wrap(t.name, "delete_many", err)
		}
		if ok {
			delete(t.docs, ks)
			n++
		}
	}
	t.order = slices.DeleteFunc(t.order, func(ks string) bool {
		_, ok := t.docs[ks]
		return !ok
	})
	return n, nil
}

// Len reports the number of stored documents.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.docs)
}

func (t *Table) Close(context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
