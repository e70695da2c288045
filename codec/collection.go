package codec

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/unkn0wn-root/datacache/query"
)

// lazy resolves and caches an element codec on first use.
type lazy struct {
	t reflect.Type
	p atomic.Pointer[ValueCodec]
}

func (l *lazy) get(ctx *Context) (ValueCodec, error) {
	if p := l.p.Load(); p != nil {
		return *p, nil
	}
	c, err := ctx.Codec(l.t)
	if err != nil {
		return nil, err
	}
	l.p.CompareAndSwap(nil, &c)
	return *l.p.Load(), nil
}

type pointerCodec struct {
	t    reflect.Type
	elem lazy
}

func newPointerCodec(t reflect.Type) *pointerCodec {
	return &pointerCodec{t: t, elem: lazy{t: t.Elem()}}
}

func (c *pointerCodec) Type() reflect.Type { return c.t }

func (c *pointerCodec) Encode(ctx *Context, v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	ec, err := c.elem.get(ctx)
	if err != nil {
		return nil, err
	}
	return ec.Encode(ctx, v.Elem())
}

func (c *pointerCodec) Decode(ctx *Context, raw any, dst reflect.Value) error {
	if raw == nil {
		dst.SetZero()
		return nil
	}
	ec, err := c.elem.get(ctx)
	if err != nil {
		return err
	}
	p := reflect.New(c.t.Elem())
	if err := ec.Decode(ctx, raw, p.Elem()); err != nil {
		return err
	}
	dst.Set(p)
	return nil
}

// sliceCodec encodes slices and arrays element-wise as []any.
type sliceCodec struct {
	t    reflect.Type
	elem lazy
}

func newSliceCodec(t reflect.Type) *sliceCodec {
	return &sliceCodec{t: t, elem: lazy{t: t.Elem()}}
}

func (c *sliceCodec) Type() reflect.Type { return c.t }

func (c *sliceCodec) Encode(ctx *Context, v reflect.Value) (any, error) {
	if v.Kind() == reflect.Slice && v.IsNil() {
		return nil, nil
	}
	ec, err := c.elem.get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, v.Len())
	for i := range out {
		if out[i], err = encodeElem(ctx, ec, v.Index(i)); err != nil {
			return nil, atField(fmt.Sprintf("[%d]", i), err)
		}
	}
	return out, nil
}

func (c *sliceCodec) Decode(ctx *Context, raw any, dst reflect.Value) error {
	if raw == nil && c.t.Kind() == reflect.Slice {
		dst.SetZero()
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return mismatch(c.t, raw)
	}
	ec, err := c.elem.get(ctx)
	if err != nil {
		return err
	}
	var out reflect.Value
	if c.t.Kind() == reflect.Array {
		if len(items) != c.t.Len() {
			return &DecodeError{Want: c.t, Got: fmt.Sprintf("[%d]any", len(items)), Err: ErrTypeMismatch}
		}
		out = reflect.New(c.t).Elem()
	} else {
		out = reflect.MakeSlice(c.t, len(items), len(items))
	}
	for i, it := range items {
		if err := ec.Decode(ctx, it, out.Index(i)); err != nil {
			return atField(fmt.Sprintf("[%d]", i), err)
		}
	}
	dst.Set(out)
	return nil
}

// encodeElem unwraps interface elements so they encode by dynamic type.
func encodeElem(ctx *Context, ec ValueCodec, v reflect.Value) (any, error) {
	if v.Kind() == reflect.Interface {
		return ctx.EncodeValue(v)
	}
	return ec.Encode(ctx, v)
}

// objectMapCodec encodes maps with string-kind keys as nested objects.
type objectMapCodec struct {
	t reflect.Type
}

func (c objectMapCodec) Type() reflect.Type { return c.t }

func (c objectMapCodec) Encode(ctx *Context, v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := ctx.Format().NewOutput()
	for _, k := range keys {
		if err := out.Set(ctx, k.String(), v.MapIndex(k)); err != nil {
			return nil, atField(k.String(), err)
		}
	}
	return out.Value(), nil
}

func (c objectMapCodec) Decode(ctx *Context, raw any, dst reflect.Value) error {
	if raw == nil {
		dst.SetZero()
		return nil
	}
	in, ok := ctx.Format().Input(raw)
	if !ok {
		return mismatch(c.t, raw)
	}
	fields := in.Fields()
	m := reflect.MakeMapWithSize(c.t, len(fields))
	for _, name := range fields {
		v, _, err := in.Read(ctx, name, c.t.Elem())
		if err != nil {
			return atField(name, err)
		}
		m.SetMapIndex(reflect.ValueOf(name).Convert(c.t.Key()), v)
	}
	dst.Set(m)
	return nil
}

// pairMapCodec encodes maps with non-string keys as a list of [key, value]
// pairs ordered by encoded key. Keys decode as t.Key() and values as t.Elem().
type pairMapCodec struct {
	t         reflect.Type
	key, elem lazy
}

func newPairMapCodec(t reflect.Type) *pairMapCodec {
	return &pairMapCodec{t: t, key: lazy{t: t.Key()}, elem: lazy{t: t.Elem()}}
}

func (c *pairMapCodec) Type() reflect.Type { return c.t }

func (c *pairMapCodec) Encode(ctx *Context, v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	kc, err := c.key.get(ctx)
	if err != nil {
		return nil, err
	}
	vc, err := c.elem.get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := encodeElem(ctx, kc, iter.Key())
		if err != nil {
			return nil, err
		}
		val, err := encodeElem(ctx, vc, iter.Value())
		if err != nil {
			return nil, atField(fmt.Sprint(k), err)
		}
		out = append(out, []any{k, val})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].([]any)[0], out[j].([]any)[0]
		if c, ok := query.Compare(a, b); ok {
			return c < 0
		}
		return fmt.Sprint(a) < fmt.Sprint(b)
	})
	return out, nil
}

func (c *pairMapCodec) Decode(ctx *Context, raw any, dst reflect.Value) error {
	if raw == nil {
		dst.SetZero()
		return nil
	}
	pairs, ok := raw.([]any)
	if !ok {
		return mismatch(c.t, raw)
	}
	kc, err := c.key.get(ctx)
	if err != nil {
		return err
	}
	vc, err := c.elem.get(ctx)
	if err != nil {
		return err
	}
	m := reflect.MakeMapWithSize(c.t, len(pairs))
	for i, p := range pairs {
		kv, ok := p.([]any)
		if !ok || len(kv) != 2 {
			return atField(fmt.Sprintf("[%d]", i), mismatch(c.t, p))
		}
		k := reflect.New(c.t.Key()).Elem()
		if err := kc.Decode(ctx, kv[0], k); err != nil {
			return atField(fmt.Sprintf("[%d]", i), err)
		}
		v := reflect.New(c.t.Elem()).Elem()
		if err := vc.Decode(ctx, kv[1], v); err != nil {
			return atField(fmt.Sprintf("[%d]", i), err)
		}
		m.SetMapIndex(k, v)
	}
	dst.Set(m)
	return nil
}

// anyCodec handles interface-typed slots. Encoding boxes by dynamic type;
// decoding yields plain Go values with nested objects as map[string]any.
type anyCodec struct {
	t reflect.Type
}

func (c anyCodec) Type() reflect.Type { return c.t }

func (c anyCodec) Encode(ctx *Context, v reflect.Value) (any, error) {
	return ctx.EncodeValue(v)
}

func (c anyCodec) Decode(ctx *Context, raw any, dst reflect.Value) error {
	if raw == nil {
		dst.SetZero()
		return nil
	}
	plain := Plain(ctx.Format(), raw)
	pv := reflect.ValueOf(plain)
	if !pv.Type().AssignableTo(c.t) {
		return mismatch(c.t, raw)
	}
	dst.Set(pv)
	return nil
}

// Plain converts a tree value into plain Go values, turning nested objects
// of format into map[string]any.
func Plain(format Format, raw any) any {
	switch x := raw.(type) {
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = Plain(format, it)
		}
		return out
	case nil, bool, int64, uint64, float64, string, []byte:
		return x
	}
	if format != nil {
		if in, ok := format.Input(raw); ok {
			out := make(map[string]any, len(in.Fields()))
			for _, name := range in.Fields() {
				v, _ := in.Raw(name)
				out[name] = Plain(format, v)
			}
			return out
		}
	}
	return raw
}

var (
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// textCodec stores types implementing encoding.TextMarshaler as strings.
type textCodec struct {
	t reflect.Type
}

func isText(t reflect.Type) bool {
	return t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerType)
}

func (c textCodec) Type() reflect.Type { return c.t }

func (c textCodec) Encode(_ *Context, v reflect.Value) (any, error) {
	b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return nil, &EncodeError{Type: c.t, Err: err}
	}
	return string(b), nil
}

func (c textCodec) Decode(_ *Context, raw any, dst reflect.Value) error {
	s, ok := raw.(string)
	if !ok {
		return mismatch(c.t, raw)
	}
	p := reflect.New(c.t)
	if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return &DecodeError{Want: c.t, Got: "string", Err: err}
	}
	dst.Set(p.Elem())
	return nil
}
