package codec

import (
	"fmt"
	"reflect"

	"github.com/unkn0wn-root/datacache/query"
)

// DataCodec is the codec of a record type T keyed by K. It adds primary-key
// access, default construction and query compilation on top of Codec[T].
type DataCodec[K comparable, T any] struct {
	Codec[T]
	obj    ObjectCodec
	reg    *Registry
	format Format
	keyGet func(reflect.Value) (any, bool)
}

// Bind resolves the object codec of T through reg and binds it to format.
func Bind[K comparable, T any](reg *Registry, format Format) (*DataCodec[K, T], error) {
	if format == nil {
		return nil, fmt.Errorf("codec: format is required")
	}
	obj, err := reg.Object(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	typed, err := Typed[T](obj)
	if err != nil {
		return nil, err
	}
	kf := obj.KeyField()
	if kf == "" {
		return nil, fmt.Errorf("codec: %v has no key field", obj.Type())
	}
	get, _ := obj.Accessor(kf)
	return &DataCodec[K, T]{Codec: typed, obj: obj, reg: reg, format: format, keyGet: get}, nil
}

func (d *DataCodec[K, T]) Object() ObjectCodec { return d.obj }
func (d *DataCodec[K, T]) Format() Format      { return d.format }
func (d *DataCodec[K, T]) KeyField() string    { return d.obj.KeyField() }
func (d *DataCodec[K, T]) Fields() []string    { return d.obj.Fields() }

// NewContext returns a fresh per-operation context.
func (d *DataCodec[K, T]) NewContext() *Context {
	return d.reg.ContextFor(d.format)
}

// Key reads the primary key of v.
func (d *DataCodec[K, T]) Key(v *T) (K, error) {
	var zero K
	if v == nil {
		return zero, fmt.Errorf("codec: key of nil %v", d.obj.Type())
	}
	raw, ok := d.keyGet(reflect.ValueOf(v).Elem())
	if !ok {
		return zero, fmt.Errorf("codec: %v.%s is unset", d.obj.Type(), d.KeyField())
	}
	return toKey[K](raw)
}

func toKey[K comparable](raw any) (K, error) {
	if k, ok := raw.(K); ok {
		return k, nil
	}
	var k K
	dst := reflect.ValueOf(&k).Elem()
	if err := Assign(raw, dst); err != nil {
		return k, err
	}
	return k, nil
}

// Default constructs a value holding key with declared defaults applied.
func (d *DataCodec[K, T]) Default(key K) (*T, error) {
	v := new(T)
	rv := reflect.ValueOf(v).Elem()
	d.obj.ApplyDefaults(rv)
	if err := d.obj.SetKey(rv, reflect.ValueOf(key)); err != nil {
		return nil, err
	}
	return v, nil
}

// SetKey forces the primary key of v.
func (d *DataCodec[K, T]) SetKey(v *T, key K) error {
	return d.obj.SetKey(reflect.ValueOf(v).Elem(), reflect.ValueOf(key))
}

// Field reads one field of v by encoded name.
func (d *DataCodec[K, T]) Field(v *T, name string) (any, bool) {
	get, ok := d.obj.Accessor(name)
	if !ok || v == nil {
		return nil, false
	}
	return get(reflect.ValueOf(v).Elem())
}

// Accessor resolves a typed field getter for query compilation.
func (d *DataCodec[K, T]) Accessor(name string) (query.Accessor[T], bool) {
	get, ok := d.obj.Accessor(name)
	if !ok {
		return nil, false
	}
	return func(v *T) (any, bool) { return get(reflect.ValueOf(v).Elem()) }, true
}

// Compile qualifies a copy of q against this codec and binds it to T.
func (d *DataCodec[K, T]) Compile(q *query.Query) (query.Predicate[T], error) {
	return query.Compile[T](q.Clone().Qualify(d.KeyField()), d.Accessor)
}

// DecodeKey reads the primary key from in.
func (d *DataCodec[K, T]) DecodeKey(in DecodeInput) (K, error) {
	var zero K
	kt := reflect.TypeFor[K]()
	if _, ok := in.Raw(d.KeyField()); !ok {
		return zero, &DecodeError{Field: d.KeyField(), Want: kt, Err: ErrMissingField}
	}
	v, err := in.ReadKey(d.KeyField(), kt)
	if err != nil {
		return zero, atField(d.KeyField(), err)
	}
	return v.Interface().(K), nil
}

// EncodeKey returns the tree form of key as stored in the key field.
func (d *DataCodec[K, T]) EncodeKey(key K) (any, error) {
	return d.NewContext().EncodeValue(reflect.ValueOf(key))
}

// StoreQuery qualifies a copy of q and rewrites its key and operands into
// the stored form the table compares against. Predicates over cached values
// compile from q itself.
func (d *DataCodec[K, T]) StoreQuery(q *query.Query) (*query.Query, error) {
	ctx := d.NewContext()
	return q.Clone().Qualify(d.KeyField()).Encode(func(_ string, v any) (any, error) {
		return ctx.EncodeValue(reflect.ValueOf(v))
	})
}

// EncodeTo writes v into a new output of the bound format.
func (d *DataCodec[K, T]) EncodeTo(v *T) (EncodeOutput, error) {
	out := d.format.NewOutput()
	if err := d.Encode(d.NewContext(), v, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeNew constructs and decodes a new T from in.
func (d *DataCodec[K, T]) DecodeNew(in DecodeInput) (*T, error) {
	return ConstructAndDecode[T](d.Codec, d.NewContext(), in)
}
