// Package kv stores documents in a byte provider (redis, bigcache, memory).
// Each document is one framed record under "<table>:<key>".
package kv

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/internal/util"
	"github.com/unkn0wn-root/datacache/internal/wire"
	"github.com/unkn0wn-root/datacache/provider"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

const defaultMaxKeyLen = 250

type Options struct {
	Provider   provider.Provider // required
	Serializer doc.Serializer    // nil => msgpack
	TTL        time.Duration     // 0 => no expiry
	MaxKeyLen  int               // longer storage keys are hashed; 0 => 250
	// CloseProvider closes the provider on Close.
	CloseProvider bool
	// OnCorrupt is called after a record failing framing or decoding was
	// deleted.
	OnCorrupt func(storageKey string, err error)
}

type Table struct {
	name   string
	prefix string
	p      provider.Provider
	ser    doc.Serializer
	ttl    time.Duration
	maxKey int
	own    bool
	heal   func(string, error)
	rev    atomic.Uint64
	closed atomic.Bool
}

var _ table.DataTable = (*Table)(nil)

func New(name string, opts Options) (*Table, error) {
	if name == "" {
		return nil, errors.New("kv: table name is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("kv: provider is required")
	}
	t := &Table{
		name:   name,
		prefix: name + ":",
		p:      opts.Provider,
		ser:    opts.Serializer,
		ttl:    opts.TTL,
		maxKey: opts.MaxKeyLen,
		own:    opts.CloseProvider,
		heal:   opts.OnCorrupt,
	}
	if t.ser == nil {
		t.ser = doc.Msgpack{}
	}
	if t.maxKey <= 0 {
		t.maxKey = defaultMaxKeyLen
	}
	t.rev.Store(uint64(time.Now().UnixNano()))
	return t, nil
}

func (t *Table) Name() string         { return t.name }
func (t *Table) Format() codec.Format { return doc.Format{} }

func (t *Table) storageKey(ks string) string { return util.StoreKey(t.name, ks, t.maxKey) }

func (t *Table) check(op string) error {
	if t.closed.Load() {
		return table.Wrap(t.name, op, table.ErrClosed)
	}
	return nil
}

// decode unframes and parses b. Records that fail either step are deleted
// and reported as absent.
func (t *Table) decode(ctx context.Context, skey string, b []byte) (wire.Record, *doc.Document) {
	rec, err := wire.DecodeRecord(b)
	if err == nil {
		var d *doc.Document
		if d, err = t.ser.Unmarshal(rec.Payload); err == nil {
			return rec, d
		}
	}
	_ = t.p.Del(ctx, skey)
	if t.heal != nil {
		t.heal(skey, err)
	}
	return wire.Record{}, nil
}

func (t *Table) FindOne(ctx context.Context, q *query.Query) (table.Result, error) {
	if err := t.check("find_one"); err != nil {
		return table.Result{}, err
	}
	if k, ok := q.Key(); ok {
		ks := util.KeyString(k)
		skey := t.storageKey(ks)
		b, hit, err := t.p.Get(ctx, skey)
		if err != nil {
			return table.Result{}, table.Wrap(t.name, "find_one", err)
		}
		if !hit {
			return table.Result{}, nil
		}
		rec, d := t.decode(ctx, skey, b)
		// hashed key collision
		if d == nil || rec.Key != ks {
			return table.Result{}, nil
		}
		ok, err := table.Match(q, d)
		if err != nil || !ok {
			return table.Result{}, table.Wrap(t.name, "find_one", err)
		}
		return table.Result{Found: true, Input: d}, nil
	}

	var res table.Result
	errStop := errors.New("stop")
	err := t.scan(ctx, func(_ string, d *doc.Document) error {
		ok, err := table.Match(q, d)
		if err != nil {
			return err
		}
		if ok {
			res = table.Result{Found: true, Input: d}
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return table.Result{}, table.Wrap(t.name, "find_one", err)
	}
	return res, nil
}

func (t *Table) scan(ctx context.Context, fn func(skey string, d *doc.Document) error) error {
	return t.p.Scan(ctx, t.prefix, func(skey string, b []byte) error {
		_, d := t.decode(ctx, skey, b)
		if d == nil {
			return nil
		}
		return fn(skey, d)
	})
}

func (t *Table) UpsertOne(ctx context.Context, out codec.EncodeOutput) error {
	if err := t.check("upsert"); err != nil {
		return err
	}
	d, err := table.Document(out)
	if err != nil {
		return table.Wrap(t.name, "upsert", err)
	}
	k, _ := d.Key()
	ks := util.KeyString(k)
	payload, err := t.ser.Marshal(d)
	if err != nil {
		return table.Wrap(t.name, "upsert", err)
	}
	b, err := wire.EncodeRecord(wire.Record{Rev: t.rev.Add(1), Key: ks, Payload: payload})
	if err != nil {
		return table.Wrap(t.name, "upsert", err)
	}
	return table.Wrap(t.name, "upsert", t.p.Set(ctx, t.storageKey(ks), b, t.ttl))
}

func (t *Table) Find(ctx context.Context, q *query.Query, opts table.FindOptions) (table.Cursor, error) {
	if err := t.check("find"); err != nil {
		return nil, err
	}
	var docs []*doc.Document
	err := t.scan(ctx, func(_ string, d *doc.Document) error {
		docs = append(docs, d)
		return nil
	})
	if err != nil {
		return nil, table.Wrap(t.name, "find", err)
	}
	res, err := table.Apply(docs, q, opts)
	if err != nil {
		return nil, table.Wrap(t.name, "find", err)
	}
	return table.NewSliceCursor(res), nil
}

func (t *Table) DeleteMany(ctx context.Context, q *query.Query) (int64, error) {
	if err := t.check("delete_many"); err != nil {
		return 0, err
	}
	var doomed []string
	err := t.scan(ctx, func(skey string, d *doc.Document) error {
		ok, err := table.Match(q, d)
		if ok {
			doomed = append(doomed, skey)
		}
		return err
	})
	if err != nil {
		return 0, table.Wrap(t.name, "delete_many", err)
	}
	var n int64
	for _, skey := range doomed {
		if err := t.p.Del(ctx, skey); err != nil {
			return n, table.Wrap(t.name, "delete_many", err)
		}
		n++
	}
	return n, nil
}

func (t *Table) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) || !t.own {
		return nil
	}
	return t.p.Close(ctx)
}
