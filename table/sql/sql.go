// Package sql stores documents in a two-column SQL table (doc_key, body)
// through uptrace/bun. sqlite3 and postgres are supported. Constraints are
// evaluated client-side over decoded bodies.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/internal/util"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

const deleteChunk = 500

type row struct {
	Key  string `bun:"doc_key,pk"`
	Body []byte `bun:"body,notnull"`
}

type Options struct {
	Serializer doc.Serializer // nil => json
	// CloseDB closes the bun database on Close.
	CloseDB bool
}

type Table struct {
	db     *bun.DB
	name   string
	ser    doc.Serializer
	own    bool
	closed atomic.Bool
}

var _ table.DataTable = (*Table)(nil)

// OpenDB opens a bun database for driver "sqlite3" or "postgres".
func OpenDB(driver, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	switch driver {
	case "sqlite3":
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case "postgres":
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
	_ = sqldb.Close()
	return nil, fmt.Errorf("sql: unsupported driver %q", driver)
}

// Open opens dsn and binds name, creating the table when missing.
func Open(ctx context.Context, driver, dsn, name string, opts Options) (*Table, error) {
	db, err := OpenDB(driver, dsn)
	if err != nil {
		return nil, err
	}
	opts.CloseDB = true
	t, err := New(ctx, db, name, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func New(ctx context.Context, db *bun.DB, name string, opts Options) (*Table, error) {
	if name == "" {
		return nil, errors.New("sql: table name is required")
	}
	ser := opts.Serializer
	if ser == nil {
		ser = doc.JSON{}
	}
	t := &Table{db: db, name: name, ser: ser, own: opts.CloseDB}
	_, err := db.NewCreateTable().
		Model((*row)(nil)).
		ModelTableExpr("?", bun.Ident(name)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, table.Wrap(name, "create", err)
	}
	return t, nil
}

func (t *Table) Name() string         { return t.name }
func (t *Table) Format() codec.Format { return doc.Format{} }

func (t *Table) wrap(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || (err != nil && err.Error() == "sql: database is closed") {
		err = table.ErrClosed
	}
	return table.Wrap(t.name, op, err)
}

func (t *Table) check(op string) error {
	if t.closed.Load() {
		return table.Wrap(t.name, op, table.ErrClosed)
	}
	return nil
}

func (t *Table) selectRows() *bun.SelectQuery {
	return t.db.NewSelect().
		TableExpr("?", bun.Ident(t.name)).
		Column("doc_key", "body")
}

func (t *Table) FindOne(ctx context.Context, q *query.Query) (table.Result, error) {
	if err := t.check("find_one"); err != nil {
		return table.Result{}, err
	}
	if k, ok := q.Key(); ok {
		var key string
		var body []byte
		err := t.selectRows().Where("doc_key = ?", util.KeyString(k)).Limit(1).Scan(ctx, &key, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return table.Result{}, nil
		}
		if err != nil {
			return table.Result{}, t.wrap("find_one", err)
		}
		d, err := t.ser.Unmarshal(body)
		if err != nil {
			return table.Result{}, t.wrap("find_one", err)
		}
		ok, err := table.Match(q, d)
		if err != nil || !ok {
			return table.Result{}, t.wrap("find_one", err)
		}
		return table.Result{Found: true, Input: d}, nil
	}
	cur, err := t.open(ctx, q)
	if err != nil {
		return table.Result{}, t.wrap("find_one", err)
	}
	defer cur.Close()
	if cur.Next(ctx) {
		return table.Result{Found: true, Input: cur.Input()}, nil
	}
	return table.Result{}, t.wrap("find_one", cur.Err())
}

func (t *Table) UpsertOne(ctx context.Context, out codec.EncodeOutput) error {
	if err := t.check("upsert"); err != nil {
		return err
	}
	d, err := table.Document(out)
	if err != nil {
		return t.wrap("upsert", err)
	}
	k, _ := d.Key()
	body, err := t.ser.Marshal(d)
	if err != nil {
		return t.wrap("upsert", err)
	}
	r := &row{Key: util.KeyString(k), Body: body}
	_, err = t.db.NewInsert().
		Model(r).
		ModelTableExpr("?", bun.Ident(t.name)).
		On("CONFLICT (doc_key) DO UPDATE").
		Set("body = EXCLUDED.body").
		Exec(ctx)
	return t.wrap("upsert", err)
}

// open streams rows matching q.
func (t *Table) open(ctx context.Context, q *query.Query) (*cursor, error) {
	rows, err := t.selectRows().OrderExpr("doc_key").Rows(ctx)
	if err != nil {
		return nil, err
	}
	return &cursor{rows: rows, ser: t.ser, q: q}, nil
}

func (t *Table) Find(ctx context.Context, q *query.Query, opts table.FindOptions) (table.Cursor, error) {
	if err := t.check("find"); err != nil {
		return nil, err
	}
	cur, err := t.open(ctx, q)
	if err != nil {
		return nil, t.wrap("find", err)
	}
	if len(opts.Sort) == 0 {
		cur.skip, cur.limit = opts.Skip, opts.Limit
		cur.projection, cur.keyField = opts.Projection, opts.KeyField
		return cur, nil
	}
	var docs []*doc.Document
	for cur.Next(ctx) {
		docs = append(docs, cur.doc)
	}
	_ = cur.Close()
	if err := cur.Err(); err != nil {
		return nil, t.wrap("find", err)
	}
	res, err := table.Apply(docs, nil, opts)
	if err != nil {
		return nil, t.wrap("find", err)
	}
	return table.NewSliceCursor(res), nil
}

func (t *Table) DeleteMany(ctx context.Context, q *query.Query) (int64, error) {
	if err := t.check("delete_many"); err != nil {
		return 0, err
	}
	cur, err := t.open(ctx, q)
	if err != nil {
		return 0, t.wrap("delete_many", err)
	}
	var keys []string
	for cur.Next(ctx) {
		keys = append(keys, cur.key)
	}
	_ = cur.Close()
	if err := cur.Err(); err != nil {
		return 0, t.wrap("delete_many", err)
	}

	var n int64
	for len(keys) > 0 {
		chunk := keys[:min(deleteChunk, len(keys))]
		keys = keys[len(chunk):]
		res, err := t.db.NewDelete().
			TableExpr("?", bun.Ident(t.name)).
			Where("doc_key IN (?)", bun.In(chunk)).
			Exec(ctx)
		if err != nil {
			return n, t.wrap("delete_many", err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, nil
}

func (t *Table) Close(context.Context) error {
	if !t.closed.CompareAndSwap(false, true) || !t.own {
		return nil
	}
	return t.db.Close()
}

type cursor struct {
	rows *sql.Rows
	ser  doc.Serializer
	q    *query.Query

	skip, limit int
	projection  []string
	keyField    string
	emitted     int

	key string
	doc *doc.Document
	err error
}

func (c *cursor) Next(ctx context.Context) bool {
	c.doc = nil
	for c.err == nil {
		if c.limit > 0 && c.emitted >= c.limit {
			return false
		}
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if !c.rows.Next() {
			c.err = c.rows.Err()
			return false
		}
		var body []byte
		if err := c.rows.Scan(&c.key, &body); err != nil {
			c.err = err
			return false
		}
		d, err := c.ser.Unmarshal(body)
		if err != nil {
			c.err = err
			return false
		}
		ok, err := table.Match(c.q, d)
		if err != nil {
			c.err = err
			return false
		}
		if !ok {
			continue
		}
		if c.skip > 0 {
			c.skip--
			continue
		}
		if c.projection != nil {
			if c.keyField != "" {
				d.SetKeyName(c.keyField)
			}
			d = d.Project(c.projection)
		}
		c.doc = d
		c.emitted++
		return true
	}
	return false
}

func (c *cursor) Input() codec.DecodeInput {
	if c.doc == nil {
		return nil
	}
	return c.doc
}

func (c *cursor) Err() error   { return c.err }
func (c *cursor) Close() error { return c.rows.Close() }
