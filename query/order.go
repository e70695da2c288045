package query

import (
	"reflect"
	"strings"
	"time"
)

type Direction int8

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// Order sorts by one field.
type Order struct {
	Field string
	Dir   Direction
}

func Asc(field string) Order  { return Order{Field: field, Dir: Ascending} }
func Desc(field string) Order { return Order{Field: field, Dir: Descending} }

// Ordering is a multi-field sort, most significant field first.
type Ordering []Order

func By(orders ...Order) Ordering { return Ordering(orders) }

func (o Ordering) Fields() []string {
	out := make([]string, len(o))
	for i, x := range o {
		out[i] = x.Field
	}
	return out
}

// Coefficient is the precomputed sort weight of one field value. Numbers,
// booleans and times map to a float; strings order lexicographically and
// after every number. Missing or unsupported values weigh 0.
type Coefficient struct {
	num   float64
	str   string
	isStr bool
}

func Num(f float64) Coefficient { return Coefficient{num: f} }
func Str(s string) Coefficient  { return Coefficient{str: s, isStr: true} }

func (c Coefficient) IsString() bool { return c.isStr }

// CoefficientOf computes the sort weight of v.
func CoefficientOf(v any, present bool) Coefficient {
	if !present || v == nil {
		return Coefficient{}
	}
	if f, ok := toFloat(v); ok {
		return Coefficient{num: f}
	}
	switch x := v.(type) {
	case time.Time:
		return Coefficient{num: float64(x.UnixNano())}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return Coefficient{num: 1}
		}
	case reflect.String:
		return Coefficient{str: rv.String(), isStr: true}
	}
	return Coefficient{}
}

func (c Coefficient) compare(d Coefficient) int {
	switch {
	case c.isStr && d.isStr:
		return strings.Compare(c.str, d.str)
	case c.isStr:
		return 1
	case d.isStr:
		return -1
	case c.num < d.num:
		return -1
	case c.num > d.num:
		return 1
	}
	return 0
}

// SortKey is the coefficient vector of one item under an Ordering.
type SortKey []Coefficient

// Key computes the coefficient vector of one item.
func (o Ordering) Key(lookup func(field string) (any, bool)) SortKey {
	key := make(SortKey, len(o))
	for i, x := range o {
		key[i] = CoefficientOf(lookup(x.Field))
	}
	return key
}

// Compare orders two coefficient vectors, short-circuiting on the first
// unequal coefficient. Equal vectors compare 0, preserving stable order.
func (o Ordering) Compare(a, b SortKey) int {
	for i, x := range o {
		if i >= len(a) || i >= len(b) {
			break
		}
		if c := a[i].compare(b[i]); c != 0 {
			return c * int(x.Dir)
		}
	}
	return 0
}
