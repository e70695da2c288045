package query

import (
	"fmt"
	"strings"
)

// Term pairs a field name with its constraint.
type Term struct {
	Field      string
	Constraint Constraint
}

// Query is an ordered set of field constraints, optionally carrying a
// primary-key value.
//
// Qualify mutates cached derived state (key field, key value). A Query shared
// between goroutines must be cloned or re-qualified per use.
type Query struct {
	terms    []Term
	key      any
	hasKey   bool
	keyField string
}

func New() *Query { return &Query{} }

// ByKey returns a query matching the record whose primary key equals key.
func ByKey(key any) *Query {
	return &Query{key: key, hasKey: true}
}

// Where adds or replaces the constraint on field.
func (q *Query) Where(field string, c Constraint) *Query {
	for i := range q.terms {
		if q.terms[i].Field == field {
			q.terms[i].Constraint = c
			return q
		}
	}
	q.terms = append(q.terms, Term{Field: field, Constraint: c})
	return q
}

// Terms returns the non-key constraints in insertion order.
func (q *Query) Terms() []Term { return q.terms }

// Key returns the primary-key value carried by the query.
func (q *Query) Key() (any, bool) { return q.key, q.hasKey }

// KeyField is the key field name resolved by Qualify, "" before qualification.
func (q *Query) KeyField() string { return q.keyField }

func (q *Query) Qualified() bool { return q.keyField != "" }

func (q *Query) Empty() bool { return !q.hasKey && len(q.terms) == 0 }

// Qualify binds the query to a key field name. An equality constraint on the
// key field is promoted to the query's key value.
func (q *Query) Qualify(keyField string) *Query {
	q.keyField = keyField
	if keyField == "" {
		return q
	}
	for i, t := range q.terms {
		if t.Field != keyField || t.Constraint.Kind() != Equal {
			continue
		}
		if !q.hasKey {
			q.key, q.hasKey = t.Constraint.Operand(), true
			q.terms = append(q.terms[:i:i], q.terms[i+1:]...)
		}
		break
	}
	return q
}

// Filter returns every constraint including the key as an equality term.
// Unqualified queries carrying a key report an error.
func (q *Query) Filter() ([]Term, error) {
	if !q.hasKey {
		return q.terms, nil
	}
	if q.keyField == "" {
		return nil, fmt.Errorf("query: key constraint on unqualified query")
	}
	out := make([]Term, 0, len(q.terms)+1)
	out = append(out, Term{Field: q.keyField, Constraint: Eq(q.key)})
	return append(out, q.terms...), nil
}

// Encode returns a copy of q whose key and constraint operands are rewritten
// by fn. The key is passed under the key field name, so q should be
// qualified first.
func (q *Query) Encode(fn func(field string, v any) (any, error)) (*Query, error) {
	cp := q.Clone()
	if cp.hasKey {
		k, err := fn(cp.keyField, cp.key)
		if err != nil {
			return nil, fmt.Errorf("query: key: %w", err)
		}
		cp.key = k
	}
	for i, t := range cp.terms {
		c, err := t.Constraint.Map(func(v any) (any, error) { return fn(t.Field, v) })
		if err != nil {
			return nil, fmt.Errorf("query: %s: %w", t.Field, err)
		}
		cp.terms[i].Constraint = c
	}
	return cp, nil
}

func (q *Query) Clone() *Query {
	cp := *q
	cp.terms = append([]Term(nil), q.terms...)
	return &cp
}

func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("{")
	sep := ""
	if q.hasKey {
		name := q.keyField
		if name == "" {
			name = "<key>"
		}
		fmt.Fprintf(&b, "%s: eq %v", name, q.key)
		sep = ", "
	}
	for _, t := range q.terms {
		fmt.Fprintf(&b, "%s%s: %s", sep, t.Field, t.Constraint)
		sep = ", "
	}
	b.WriteString("}")
	return b.String()
}

// Matches evaluates q against a raw record exposed through lookup.
func Matches(q *Query, lookup func(field string) (any, bool)) (bool, error) {
	terms, err := q.Filter()
	if err != nil {
		return false, err
	}
	for _, t := range terms {
		v, ok := lookup(t.Field)
		if ok && v == nil {
			ok = false
		}
		if !t.Constraint.Test(v, ok) {
			return false, nil
		}
	}
	return true, nil
}

// Predicate is a compiled query over values of T.
type Predicate[T any] func(v *T) bool

// Accessor reads one field of T. ok is false when the field is unset.
type Accessor[T any] func(v *T) (any, bool)

type bound[T any] struct {
	get Accessor[T]
	c   Constraint
}

// Compile pre-resolves one accessor per constrained field so the predicate
// costs O(constrained fields) per evaluation. resolve reports false for
// unknown fields.
func Compile[T any](q *Query, resolve func(field string) (Accessor[T], bool)) (Predicate[T], error) {
	terms, err := q.Filter()
	if err != nil {
		return nil, err
	}
	plan := make([]bound[T], len(terms))
	for i, t := range terms {
		get, ok := resolve(t.Field)
		if !ok {
			return nil, fmt.Errorf("query: unknown field %q", t.Field)
		}
		plan[i] = bound[T]{get: get, c: t.Constraint}
	}
	return func(v *T) bool {
		if v == nil {
			return false
		}
		for _, b := range plan {
			x, ok := b.get(v)
			if !b.c.Test(x, ok) {
				return false
			}
		}
		return true
	}, nil
}
