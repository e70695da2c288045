// Package query models backend-agnostic field constraints. A Query is both a
// filter descriptor handed to storage backends and, once compiled against a
// type, a predicate evaluated directly on cached values.
package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

type Kind uint8

const (
	Equal Kind = iota
	NotEqual
	Greater
	GreaterOrEqual
	Less
	LessOrEqual
	Exists
	OneOf
	InRange
)

var kindNames = [...]string{"eq", "ne", "gt", "gte", "lt", "lte", "exists", "in", "range"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Constraint is an immutable predicate over a single field value.
type Constraint struct {
	kind    Kind
	operand any
	values  []any
	lo, hi  any
	test    func(v any, present bool) bool
}

func (c Constraint) Kind() Kind { return c.kind }

// Operand is the comparison value for Equal..LessOrEqual and the wanted
// presence (bool) for Exists.
func (c Constraint) Operand() any { return c.operand }

// Values lists the members of a OneOf set.
func (c Constraint) Values() []any { return c.values }

// Range returns the inclusive bounds of an InRange constraint.
func (c Constraint) Range() (lo, hi any) { return c.lo, c.hi }

// Test evaluates the constraint. present is false when the field is missing
// or holds a nil reference.
func (c Constraint) Test(v any, present bool) bool {
	if c.test == nil {
		return false
	}
	return c.test(v, present)
}

func (c Constraint) String() string {
	switch c.kind {
	case OneOf:
		return fmt.Sprintf("%s %v", c.kind, c.values)
	case InRange:
		return fmt.Sprintf("%s [%v, %v]", c.kind, c.lo, c.hi)
	}
	return fmt.Sprintf("%s %v", c.kind, c.operand)
}

func Eq(v any) Constraint {
	return Constraint{kind: Equal, operand: v, test: func(x any, ok bool) bool {
		return ok && equal(x, v)
	}}
}

// Ne matches values different from v, including missing fields.
func Ne(v any) Constraint {
	return Constraint{kind: NotEqual, operand: v, test: func(x any, ok bool) bool {
		return !ok || !equal(x, v)
	}}
}

func Gt(v any) Constraint  { return ordered(Greater, v, func(c int) bool { return c > 0 }) }
func Gte(v any) Constraint { return ordered(GreaterOrEqual, v, func(c int) bool { return c >= 0 }) }
func Lt(v any) Constraint  { return ordered(Less, v, func(c int) bool { return c < 0 }) }
func Lte(v any) Constraint { return ordered(LessOrEqual, v, func(c int) bool { return c <= 0 }) }

func ordered(k Kind, v any, accept func(int) bool) Constraint {
	return Constraint{kind: k, operand: v, test: func(x any, ok bool) bool {
		if !ok {
			return false
		}
		c, ok := Compare(x, v)
		return ok && accept(c)
	}}
}

// Present matches on field presence.
func Present(want bool) Constraint {
	return Constraint{kind: Exists, operand: want, test: func(_ any, ok bool) bool {
		return ok == want
	}}
}

// In matches values equal to any member of set. set may be a slice, an
// array, a map (keys are used) or a single value; it is normalized once.
func In(set any) Constraint {
	values := members(set)
	idx := make(map[any]struct{}, len(values))
	var loose []any
	for _, m := range values {
		if k, ok := normalize(m); ok {
			idx[k] = struct{}{}
		} else {
			loose = append(loose, m)
		}
	}
	return Constraint{kind: OneOf, values: values, test: func(x any, ok bool) bool {
		if !ok {
			return false
		}
		if k, hashable := normalize(x); hashable {
			if _, hit := idx[k]; hit {
				return true
			}
		}
		for _, m := range loose {
			if equal(x, m) {
				return true
			}
		}
		return false
	}}
}

// Between matches lo <= v <= hi.
func Between(lo, hi any) Constraint {
	return Constraint{kind: InRange, lo: lo, hi: hi, test: func(x any, ok bool) bool {
		if !ok {
			return false
		}
		a, ca := Compare(x, lo)
		b, cb := Compare(x, hi)
		return ca && cb && a >= 0 && b <= 0
	}}
}

// Map returns c with every operand replaced by fn. Exists constraints are
// returned unchanged.
func (c Constraint) Map(fn func(any) (any, error)) (Constraint, error) {
	switch c.kind {
	case Exists:
		return c, nil
	case OneOf:
		vals := make([]any, len(c.values))
		for i, m := range c.values {
			v, err := fn(m)
			if err != nil {
				return c, err
			}
			vals[i] = v
		}
		return In(vals), nil
	case InRange:
		lo, err := fn(c.lo)
		if err != nil {
			return c, err
		}
		hi, err := fn(c.hi)
		if err != nil {
			return c, err
		}
		return Between(lo, hi), nil
	}
	v, err := fn(c.operand)
	if err != nil {
		return c, err
	}
	switch c.kind {
	case Equal:
		return Eq(v), nil
	case NotEqual:
		return Ne(v), nil
	case Greater:
		return Gt(v), nil
	case GreaterOrEqual:
		return Gte(v), nil
	case Less:
		return Lt(v), nil
	case LessOrEqual:
		return Lte(v), nil
	}
	return c, fmt.Errorf("query: unknown constraint kind %v", c.kind)
}

func members(set any) []any {
	rv := reflect.ValueOf(set)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return []any{set}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		out := make([]any, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			out = append(out, k.Interface())
		}
		return out
	case reflect.Invalid:
		return nil
	}
	return []any{set}
}

type instant int64

// normalize maps v onto a hashable key such that equal(a, b) implies
// normalize(a) == normalize(b).
func normalize(v any) (any, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	switch x := v.(type) {
	case time.Time:
		return instant(x.UnixNano()), true
	case nil:
		return nil, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	}
	if rv.Type().Comparable() && rv.Kind() != reflect.Interface && rv.Kind() != reflect.Struct && rv.Kind() != reflect.Array {
		return v, true
	}
	return nil, false
}

func equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of compatible kinds: numbers (compared as
// float64), strings, booleans (false < true) and times. ok is false when the
// kinds are not comparable.
func Compare(a, b any) (c int, ok bool) {
	if fa, isNum := toFloat(a); isNum {
		fb, isNum := toFloat(b)
		if !isNum {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, isTime := a.(time.Time); isTime {
		tb, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case ra.Kind() == reflect.String && rb.Kind() == reflect.String:
		return strings.Compare(ra.String(), rb.String()), true
	case ra.Kind() == reflect.Bool && rb.Kind() == reflect.Bool:
		x, y := ra.Bool(), rb.Bool()
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
