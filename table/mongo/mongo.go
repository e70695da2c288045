// Package mongo stores documents in a MongoDB collection. Constraints,
// ordering and paging are pushed down to the server.
package mongo

import (
	"context"
	"errors"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

type Table struct {
	coll   *mongo.Collection
	client *mongo.Client // set when owned
	closed atomic.Bool
}

var _ table.DataTable = (*Table)(nil)

// Connect dials uri and binds database.collection. The client is closed
// with the table.
func Connect(ctx context.Context, uri, database, collection string) (*Table, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	t := New(client.Database(database).Collection(collection))
	t.client = client
	return t, nil
}

// New binds an existing collection. The caller owns the client.
func New(coll *mongo.Collection) *Table {
	return &Table{coll: coll}
}

func (t *Table) Name() string         { return t.coll.Name() }
func (t *Table) Format() codec.Format { return doc.Format{} }

func (t *Table) wrap(op string, err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		err = table.ErrClosed
	}
	return table.Wrap(t.Name(), op, err)
}

func (t *Table) check(op string) error {
	if t.closed.Load() {
		return t.wrap(op, table.ErrClosed)
	}
	return nil
}

func (t *Table) FindOne(ctx context.Context, q *query.Query) (table.Result, error) {
	if err := t.check("find_one"); err != nil {
		return table.Result{}, err
	}
	filter, err := Filter(q)
	if err != nil {
		return table.Result{}, t.wrap("find_one", err)
	}
	var row bson.D
	err = t.coll.FindOne(ctx, filter).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return table.Result{}, nil
	}
	if err != nil {
		return table.Result{}, t.wrap("find_one", err)
	}
	return table.Result{Found: true, Input: document(row, q.KeyField())}, nil
}

func (t *Table) UpsertOne(ctx context.Context, out codec.EncodeOutput) error {
	if err := t.check("upsert"); err != nil {
		return err
	}
	d, err := table.Document(out)
	if err != nil {
		return t.wrap("upsert", err)
	}
	key, _ := d.Key()
	body := toBSON(d).(bson.D)
	_, err = t.coll.ReplaceOne(ctx,
		bson.D{{Key: d.KeyName(), Value: toBSON(key)}},
		body,
		options.Replace().SetUpsert(true))
	return t.wrap("upsert", err)
}

func (t *Table) Find(ctx context.Context, q *query.Query, opts table.FindOptions) (table.Cursor, error) {
	if err := t.check("find"); err != nil {
		return nil, err
	}
	filter, err := Filter(q)
	if err != nil {
		return nil, t.wrap("find", err)
	}
	fo := options.Find()
	if s := Sort(opts.Sort); s != nil {
		fo.SetSort(s)
	}
	if opts.Skip > 0 {
		fo.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		fo.SetLimit(int64(opts.Limit))
	}
	keyField := opts.KeyField
	if keyField == "" && q != nil {
		keyField = q.KeyField()
	}
	if opts.Projection != nil {
		fo.SetProjection(Projection(opts.Projection, keyField))
	}
	cur, err := t.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, t.wrap("find", err)
	}
	return &cursor{cur: cur, keyField: keyField, partial: opts.Projection != nil}, nil
}

func (t *Table) DeleteMany(ctx context.Context, q *query.Query) (int64, error) {
	if err := t.check("delete_many"); err != nil {
		return 0, err
	}
	filter, err := Filter(q)
	if err != nil {
		return 0, t.wrap("delete_many", err)
	}
	res, err := t.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, t.wrap("delete_many", err)
	}
	return res.DeletedCount, nil
}

func (t *Table) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) || t.client == nil {
		return nil
	}
	return t.client.Disconnect(ctx)
}

type cursor struct {
	cur      *mongo.Cursor
	keyField string
	partial  bool
	doc      *doc.Document
	err      error
}

func (c *cursor) Next(ctx context.Context) bool {
	c.doc = nil
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}
	var row bson.D
	if err := c.cur.Decode(&row); err != nil {
		c.err = err
		return false
	}
	c.doc = document(row, c.keyField)
	if c.partial {
		c.doc.MarkPartial()
	}
	return true
}

func (c *cursor) Input() codec.DecodeInput {
	if c.doc == nil {
		return nil
	}
	return c.doc
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *cursor) Close() error { return c.cur.Close(context.Background()) }
