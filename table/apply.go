package table

import (
	"context"
	"sort"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
)

// Match evaluates q against a document.
func Match(q *query.Query, d *doc.Document) (bool, error) {
	if q == nil {
		return true, nil
	}
	return query.Matches(q, d.Raw)
}

// Apply filters, sorts, pages and projects docs in memory, for backends
// that cannot push a query down.
func Apply(docs []*doc.Document, q *query.Query, opts FindOptions) ([]*doc.Document, error) {
	out := make([]*doc.Document, 0, len(docs))
	for _, d := range docs {
		ok, err := Match(q, d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	if len(opts.Sort) > 0 {
		keys := make(map[*doc.Document]query.SortKey, len(out))
		for _, d := range out {
			keys[d] = opts.Sort.Key(d.Raw)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return opts.Sort.Compare(keys[out[i]], keys[out[j]]) < 0
		})
	}
	out = Page(out, opts.Skip, opts.Limit)
	if opts.Projection != nil {
		for i, d := range out {
			if opts.KeyField != "" {
				d = d.Clone()
				d.SetKeyName(opts.KeyField)
			}
			out[i] = d.Project(opts.Projection)
		}
	}
	return out, nil
}

// Page applies skip and limit (0 => unlimited) to s.
func Page[E any](s []E, skip, limit int) []E {
	if skip > 0 {
		if skip >= len(s) {
			return s[:0]
		}
		s = s[skip:]
	}
	if limit > 0 && limit < len(s) {
		s = s[:limit]
	}
	return s
}

// SliceCursor iterates a materialized result.
type SliceCursor struct {
	docs []*doc.Document
	pos  int
	cur  *doc.Document
}

func NewSliceCursor(docs []*doc.Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos >= len(c.docs) {
		c.cur = nil
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Input() codec.DecodeInput {
	if c.cur == nil {
		return nil
	}
	return c.cur
}

func (c *SliceCursor) Err() error   { return nil }
func (c *SliceCursor) Close() error { return nil }

// Collect drains a cursor.
func Collect(ctx context.Context, c Cursor) ([]codec.DecodeInput, error) {
	defer c.Close()
	var out []codec.DecodeInput
	for c.Next(ctx) {
		out = append(out, c.Input())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}
