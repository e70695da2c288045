package doc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Normalize converts values produced by generic decoders (encoding/json,
// cbor, msgpack, structpb) into tree form: int64, uint64, float64, string,
// bool, []byte, time.Time, []any and *Document.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, uint64, float64, []byte, time.Time, *Document:
		return x
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return u
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		return FromMap(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprint(k)
			}
			m[ks] = val
		}
		return FromMap(m)
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = Normalize(it)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return FromMap(m)
	}
	return v
}
