package codec

import (
	"encoding/base64"
	"math"
	"reflect"
	"time"
)

var (
	timeType  = reflect.TypeFor[time.Time]()
	bytesType = reflect.TypeFor[[]byte]()
)

// kindCodec handles bool, numeric and string kinds, including named types
// such as `type Status string`.
type kindCodec struct {
	t reflect.Type
}

func (c kindCodec) Type() reflect.Type { return c.t }

func (c kindCodec) Encode(_ *Context, v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	}
	return nil, &EncodeError{Type: c.t, Err: ErrNoCodec}
}

func (c kindCodec) Decode(_ *Context, raw any, dst reflect.Value) error {
	return Assign(raw, dst)
}

// Assign stores a primitive tree value into dst. Numbers may be widened or
// narrowed across numeric kinds when the value fits; integral floats may be
// stored into integer fields. No other coercion is performed.
func Assign(raw any, dst reflect.Value) error {
	want := dst.Type()
	switch dst.Kind() {
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return mismatch(want, raw)
		}
		dst.SetBool(b)
		return nil
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return mismatch(want, raw)
		}
		dst.SetString(s)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := numberOf(raw)
		if !ok {
			return mismatch(want, raw)
		}
		i, err := n.toInt(dst.Type().Bits())
		if err != nil {
			return &DecodeError{Want: want, Got: typeName(raw), Err: err}
		}
		dst.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := numberOf(raw)
		if !ok {
			return mismatch(want, raw)
		}
		u, err := n.toUint(dst.Type().Bits())
		if err != nil {
			return &DecodeError{Want: want, Got: typeName(raw), Err: err}
		}
		dst.SetUint(u)
		return nil
	case reflect.Float32, reflect.Float64:
		n, ok := numberOf(raw)
		if !ok {
			return mismatch(want, raw)
		}
		f := n.toFloat()
		if dst.Kind() == reflect.Float32 && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return &DecodeError{Want: want, Got: typeName(raw), Err: ErrOverflow}
		}
		dst.SetFloat(f)
		return nil
	}
	return mismatch(want, raw)
}

type numKind uint8

const (
	numInt numKind = iota
	numUint
	numFloat
)

type number struct {
	kind numKind
	i    int64
	u    uint64
	f    float64
}

func numberOf(raw any) (number, bool) {
	switch x := raw.(type) {
	case int64:
		return number{kind: numInt, i: x}, true
	case uint64:
		return number{kind: numUint, u: x}, true
	case float64:
		return number{kind: numFloat, f: x}, true
	case int:
		return number{kind: numInt, i: int64(x)}, true
	case int32:
		return number{kind: numInt, i: int64(x)}, true
	case float32:
		return number{kind: numFloat, f: float64(x)}, true
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{kind: numInt, i: rv.Int()}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return number{kind: numUint, u: rv.Uint()}, true
	case reflect.Float32, reflect.Float64:
		return number{kind: numFloat, f: rv.Float()}, true
	}
	return number{}, false
}

func (n number) toInt(bits int) (int64, error) {
	lo, hi := int64(math.MinInt64)>>(64-bits), int64(math.MaxInt64)>>(64-bits)
	switch n.kind {
	case numInt:
		if n.i < lo || n.i > hi {
			return 0, ErrOverflow
		}
		return n.i, nil
	case numUint:
		if n.u > uint64(hi) {
			return 0, ErrOverflow
		}
		return int64(n.u), nil
	default:
		if n.f != math.Trunc(n.f) || math.IsInf(n.f, 0) {
			return 0, ErrTypeMismatch
		}
		if n.f < float64(lo) || n.f >= -float64(lo) {
			return 0, ErrOverflow
		}
		return int64(n.f), nil
	}
}

func (n number) toUint(bits int) (uint64, error) {
	hi := uint64(math.MaxUint64) >> (64 - bits)
	switch n.kind {
	case numInt:
		if n.i < 0 || uint64(n.i) > hi {
			return 0, ErrOverflow
		}
		return uint64(n.i), nil
	case numUint:
		if n.u > hi {
			return 0, ErrOverflow
		}
		return n.u, nil
	default:
		if n.f != math.Trunc(n.f) || math.IsInf(n.f, 0) {
			return 0, ErrTypeMismatch
		}
		if n.f < 0 || n.f >= float64(hi)+1 {
			return 0, ErrOverflow
		}
		return uint64(n.f), nil
	}
}

func (n number) toFloat() float64 {
	switch n.kind {
	case numInt:
		return float64(n.i)
	case numUint:
		return float64(n.u)
	default:
		return n.f
	}
}

type timeCodec struct{}

func (timeCodec) Type() reflect.Type { return timeType }

func (timeCodec) Encode(_ *Context, v reflect.Value) (any, error) {
	return v.Interface().(time.Time), nil
}

// Decode accepts a time value or an RFC 3339 string, the form text-based
// serializers store times in.
func (timeCodec) Decode(_ *Context, raw any, dst reflect.Value) error {
	switch x := raw.(type) {
	case time.Time:
		dst.Set(reflect.ValueOf(x))
		return nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return &DecodeError{Want: timeType, Got: "string", Err: err}
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	return mismatch(timeType, raw)
}

type bytesCodec struct {
	t reflect.Type
}

func (c bytesCodec) Type() reflect.Type { return c.t }

func (c bytesCodec) Encode(_ *Context, v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	return append([]byte(nil), v.Bytes()...), nil
}

// Decode accepts raw bytes or standard base64 text.
func (c bytesCodec) Decode(_ *Context, raw any, dst reflect.Value) error {
	switch x := raw.(type) {
	case nil:
		dst.SetZero()
		return nil
	case []byte:
		dst.SetBytes(append([]byte(nil), x...))
		return nil
	case string:
		b, err := base64.StdEncoding.DecodeString(x)
		if err != nil {
			return &DecodeError{Want: c.t, Got: "string", Err: err}
		}
		dst.SetBytes(b)
		return nil
	}
	return mismatch(c.t, raw)
}
