// Package table defines the backing-table collaborator used by datastores and
// the shared helpers backends use to evaluate queries over documents.
package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
)

var (
	ErrClosed   = errors.New("table: closed")
	ErrNotFound = errors.New("table: not found")
	ErrNoKey    = errors.New("table: document has no key")
)

// StoreError wraps a backend failure with the table and operation.
type StoreError struct {
	Table string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("table %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err and a *StoreError otherwise.
func Wrap(table, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Table: table, Op: op, Err: err}
}

// Result is the outcome of FindOne. Input is nil when Found is false.
type Result struct {
	Found bool
	Input codec.DecodeInput
}

// FindOptions are the bulk-find modifiers pushed down to the backend.
type FindOptions struct {
	Projection []string // nil selects complete records
	Sort       query.Ordering
	Limit      int // 0 => unlimited
	Skip       int
	// KeyField is always kept by projections.
	KeyField string
}

// Cursor is a single-pass iterator over bulk results.
type Cursor interface {
	Next(ctx context.Context) bool
	Input() codec.DecodeInput
	Err() error
	Close() error
}

// DataTable is one logical collection in a document store. Queries are
// qualified by the caller before reaching the table. All methods are
// synchronous; datastores run them on their executor.
type DataTable interface {
	Name() string
	Format() codec.Format
	FindOne(ctx context.Context, q *query.Query) (Result, error)
	// UpsertOne writes out keyed by its registered key field and value.
	UpsertOne(ctx context.Context, out codec.EncodeOutput) error
	Find(ctx context.Context, q *query.Query, opts FindOptions) (Cursor, error)
	DeleteMany(ctx context.Context, q *query.Query) (int64, error)
	Close(ctx context.Context) error
}

// Document asserts that out was produced by the doc format.
func Document(out codec.EncodeOutput) (*doc.Document, error) {
	d, ok := out.(*doc.Document)
	if !ok {
		return nil, fmt.Errorf("table: unsupported output %T", out)
	}
	if _, ok := d.Key(); !ok {
		return nil, ErrNoKey
	}
	return d, nil
}
