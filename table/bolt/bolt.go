// Package bolt stores documents in a go.etcd.io/bbolt bucket, one bucket per
// table, values serialized by a doc.Serializer.
package bolt

import (
	"context"
	"errors"
	"unsafe"

	"go.etcd.io/bbolt"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/internal/util"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

type Options struct {
	Serializer doc.Serializer // nil => msgpack
	// OwnDB closes the bbolt database on Close.
	OwnDB bool
}

type Table struct {
	bdb    *bbolt.DB
	bucket string
	ser    doc.Serializer
	own    bool
}

var _ table.DataTable = (*Table)(nil)

// Open opens (or creates) a bbolt file and binds bucket in it.
func Open(path, bucket string, opts Options) (*Table, error) {
	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	opts.OwnDB = true
	t, err := New(bdb, bucket, opts)
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return t, nil
}

// New binds bucket in an already open database.
func New(bdb *bbolt.DB, bucket string, opts Options) (*Table, error) {
	if bucket == "" {
		return nil, errors.New("bolt: bucket name is required")
	}
	ser := opts.Serializer
	if ser == nil {
		ser = doc.Msgpack{}
	}
	err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(unsafeBytesFromString(bucket))
		return err
	})
	if err != nil {
		return nil, table.Wrap(bucket, "open", err)
	}
	return &Table{bdb: bdb, bucket: bucket, ser: ser, own: opts.OwnDB}, nil
}

func (t *Table) Name() string         { return t.bucket }
func (t *Table) Format() codec.Format { return doc.Format{} }

func (t *Table) view(op string, fn func(b *bbolt.Bucket) error) error {
	err := t.bdb.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(unsafeBytesFromString(t.bucket))
		if b == nil {
			return bbolt.ErrBucketNotFound
		}
		return fn(b)
	})
	return table.Wrap(t.bucket, op, translate(err))
}

func (t *Table) update(op string, fn func(b *bbolt.Bucket) error) error {
	err := t.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(unsafeBytesFromString(t.bucket))
		if b == nil {
			return bbolt.ErrBucketNotFound
		}
		return fn(b)
	})
	return table.Wrap(t.bucket, op, translate(err))
}

func translate(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return table.ErrClosed
	}
	return err
}

func (t *Table) FindOne(_ context.Context, q *query.Query) (table.Result, error) {
	var res table.Result
	err := t.view("find_one", func(b *bbolt.Bucket) error {
		if k, ok := q.Key(); ok {
			raw := b.Get([]byte(util.KeyString(k)))
			if raw == nil {
				return nil
			}
			d, err := t.ser.Unmarshal(raw)
			if err != nil {
				return err
			}
			if ok, err := table.Match(q, d); err != nil || !ok {
				return err
			}
			res = table.Result{Found: true, Input: d}
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			d, err := t.ser.Unmarshal(v)
			if err != nil {
				return err
			}
			ok, err := table.Match(q, d)
			if err != nil {
				return err
			}
			if ok {
				res = table.Result{Found: true, Input: d}
				return nil
			}
		}
		return nil
	})
	return res, err
}

func (t *Table) UpsertOne(_ context.Context, out codec.EncodeOutput) error {
	d, err := table.Document(out)
	if err != nil {
		return table.Wrap(t.bucket, "upsert", err)
	}
	k, _ := d.Key()
	raw, err := t.ser.Marshal(d)
	if err != nil {
		return table.Wrap(t.bucket, "upsert", err)
	}
	return t.update("upsert", func(b *bbolt.Bucket) error {
		return b.Put([]byte(util.KeyString(k)), raw)
	})
}

func (t *Table) scan(op string, q *query.Query) ([]*doc.Document, error) {
	var out []*doc.Document
	err := t.view(op, func(b *bbolt.Bucket) error {
		return b.ForEach(func(_, v []byte) error {
			d, err := t.ser.Unmarshal(v)
			if err != nil {
				return err
			}
			ok, err := table.Match(q, d)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, d)
			}
			return nil
		})
	})
	return out, err
}

func (t *Table) Find(_ context.Context, q *query.Query, opts table.FindOptions) (table.Cursor, error) {
	docs, err := t.scan("find", q)
	if err != nil {
		return nil, err
	}
	// already filtered
	res, err := table.Apply(docs, nil, opts)
	if err != nil {
		return nil, table.Wrap(t.bucket, "find", err)
	}
	return table.NewSliceCursor(res), nil
}

func (t *Table) DeleteMany(_ context.Context, q *query.Query) (int64, error) {
	var n int64
	err := t.update("delete_many", func(b *bbolt.Bucket) error {
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			d, err := t.ser.Unmarshal(v)
			if err != nil {
				return err
			}
			ok, err := table.Match(q, d)
			if err != nil {
				return err
			}
			if ok {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (t *Table) Close(context.Context) error {
	if !t.own {
		return nil
	}
	return t.bdb.Close()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
