package mongo

import (
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
)

// Filter translates a qualified query into a BSON filter document.
func Filter(q *query.Query) (bson.D, error) {
	if q == nil {
		return bson.D{}, nil
	}
	terms, err := q.Filter()
	if err != nil {
		return nil, err
	}
	out := make(bson.D, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	repeated := false
	for _, t := range terms {
		cond, err := condition(t.Constraint)
		if err != nil {
			return nil, fmt.Errorf("mongo: field %q: %w", t.Field, err)
		}
		repeated = repeated || seen[t.Field]
		seen[t.Field] = true
		out = append(out, bson.E{Key: t.Field, Value: cond})
	}
	if !repeated {
		return out, nil
	}
	// a field may appear once per filter document
	all := make(bson.A, len(out))
	for i, e := range out {
		all[i] = bson.D{e}
	}
	return bson.D{{Key: "$and", Value: all}}, nil
}

func condition(c query.Constraint) (bson.D, error) {
	op := func(name string, v any) bson.D { return bson.D{{Key: name, Value: toBSON(v)}} }
	switch c.Kind() {
	case query.Equal:
		return op("$eq", c.Operand()), nil
	case query.NotEqual:
		return op("$ne", c.Operand()), nil
	case query.Greater:
		return op("$gt", c.Operand()), nil
	case query.GreaterOrEqual:
		return op("$gte", c.Operand()), nil
	case query.Less:
		return op("$lt", c.Operand()), nil
	case query.LessOrEqual:
		return op("$lte", c.Operand()), nil
	case query.Exists:
		return bson.D{{Key: "$exists", Value: c.Operand()}}, nil
	case query.OneOf:
		vals := make(bson.A, len(c.Values()))
		for i, v := range c.Values() {
			vals[i] = toBSON(v)
		}
		return bson.D{{Key: "$in", Value: vals}}, nil
	case query.InRange:
		lo, hi := c.Range()
		return bson.D{{Key: "$gte", Value: toBSON(lo)}, {Key: "$lte", Value: toBSON(hi)}}, nil
	}
	return nil, fmt.Errorf("unsupported constraint %s", c.Kind())
}

// Sort translates an ordering into a BSON sort document.
func Sort(o query.Ordering) bson.D {
	if len(o) == 0 {
		return nil
	}
	out := make(bson.D, len(o))
	for i, ord := range o {
		out[i] = bson.E{Key: ord.Field, Value: int(ord.Dir)}
	}
	return out
}

// Projection selects fields plus the key. _id is always excluded.
func Projection(fields []string, keyField string) bson.D {
	out := bson.D{{Key: "_id", Value: 0}}
	seen := map[string]bool{"_id": true}
	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, bson.E{Key: f, Value: 1})
	}
	add(keyField)
	for _, f := range fields {
		add(f)
	}
	return out
}

// toBSON converts document tree values into driver-encodable values.
func toBSON(v any) any {
	switch x := v.(type) {
	case *doc.Document:
		out := make(bson.D, 0, x.Len())
		for _, f := range x.Fields() {
			raw, _ := x.Raw(f)
			out = append(out, bson.E{Key: f, Value: toBSON(raw)})
		}
		return out
	case []any:
		out := make(bson.A, len(x))
		for i, it := range x {
			out[i] = toBSON(it)
		}
		return out
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case int:
		return int64(x)
	}
	return v
}

// fromBSON converts decoded driver values into document tree values.
func fromBSON(v any) any {
	switch x := v.(type) {
	case bson.D:
		d := doc.New()
		for _, e := range x {
			d.Put(e.Key, fromBSON(e.Value))
		}
		return d
	case bson.M:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = fromBSON(val)
		}
		return doc.FromMap(m)
	case bson.A:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = fromBSON(it)
		}
		return out
	case int32:
		return int64(x)
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.Binary:
		return x.Data
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Decimal128:
		return x.String()
	case primitive.Null, primitive.Undefined:
		return nil
	}
	return doc.Normalize(v)
}

// document builds a tree document from a decoded row, dropping _id.
func document(row bson.D, keyField string) *doc.Document {
	d := doc.New()
	for _, e := range row {
		if e.Key == "_id" {
			continue
		}
		d.Put(e.Key, fromBSON(e.Value))
	}
	if keyField != "" {
		d.SetKeyName(keyField)
	}
	return d
}
