package codec

import (
	"fmt"
	"reflect"
)

// FieldDesc describes one field of T through accessor closures.
type FieldDesc[T any] struct {
	name     string
	typ      reflect.Type
	get      func(*T) reflect.Value
	set      func(*T, reflect.Value)
	optional bool
	def      func(*T)
}

// FieldOf declares a field with a typed getter and setter.
func FieldOf[T, F any](name string, get func(*T) F, set func(*T, F)) FieldDesc[T] {
	return FieldDesc[T]{
		name: name,
		typ:  reflect.TypeFor[F](),
		get: func(v *T) reflect.Value {
			f := get(v)
			return reflect.ValueOf(&f).Elem()
		},
		set: func(v *T, rv reflect.Value) { set(v, rv.Interface().(F)) },
	}
}

// Optional marks the field as allowed to be absent on decode.
func (f FieldDesc[T]) Optional() FieldDesc[T] {
	f.optional = true
	return f
}

// Default sets the value used by default construction and for absent fields.
func (f FieldDesc[T]) Default(apply func(*T)) FieldDesc[T] {
	f.def = apply
	return f
}

// Described is an ObjectCodec assembled from FieldDesc values, one accessor
// pair per field and no runtime field enumeration.
type Described[T any] struct {
	t      reflect.Type
	fields []FieldDesc[T]
	byName map[string]int
	key    int
}

// Describe builds a codec for T. key names the primary-key field.
func Describe[T any](key string, fields ...FieldDesc[T]) (*Described[T], error) {
	d := &Described[T]{t: reflect.TypeFor[T](), fields: fields, byName: make(map[string]int, len(fields)), key: -1}
	for i, f := range fields {
		if _, dup := d.byName[f.name]; dup {
			return nil, fmt.Errorf("codec: %v: duplicate field name %q", d.t, f.name)
		}
		d.byName[f.name] = i
		if f.name == key {
			d.key = i
		}
	}
	if d.key < 0 {
		return nil, fmt.Errorf("codec: %v: key field %q not described", d.t, key)
	}
	return d, nil
}

func (d *Described[T]) Type() reflect.Type { return d.t }

func (d *Described[T]) Fields() []string {
	out := make([]string, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.name
	}
	return out
}

func (d *Described[T]) KeyField() string { return d.fields[d.key].name }

func ptrOf[T any](v reflect.Value) *T {
	if v.CanAddr() {
		return v.Addr().Interface().(*T)
	}
	cp := v.Interface().(T)
	return &cp
}

func (d *Described[T]) Encode(ctx *Context, v reflect.Value) (any, error) {
	out := ctx.Format().NewOutput()
	if err := d.EncodeObject(ctx, v, out); err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func (d *Described[T]) Decode(ctx *Context, raw any, dst reflect.Value) error {
	in, ok := ctx.Format().Input(raw)
	if !ok {
		return mismatch(d.t, raw)
	}
	fresh := reflect.New(d.t).Elem()
	if err := d.DecodeObject(ctx, fresh, in); err != nil {
		return err
	}
	dst.Set(fresh)
	return nil
}

func (d *Described[T]) EncodeObject(ctx *Context, v reflect.Value, out EncodeOutput) error {
	p := ptrOf[T](v)
	for i, f := range d.fields {
		fv := f.get(p)
		if i == d.key {
			raw, err := ctx.EncodeValue(fv)
			if err != nil {
				return atField(f.name, err)
			}
			if err := out.SetKey(f.name, raw); err != nil {
				return atField(f.name, err)
			}
			continue
		}
		if err := out.Set(ctx, f.name, fv); err != nil {
			return atField(f.name, err)
		}
	}
	return nil
}

func (d *Described[T]) Construct(*Context, DecodeInput) (reflect.Value, error) {
	return reflect.ValueOf(new(T)), nil
}

func (d *Described[T]) DecodeObject(ctx *Context, dst reflect.Value, in DecodeInput) error {
	p := dst.Addr().Interface().(*T)
	for _, f := range d.fields {
		v, ok, err := in.Read(ctx, f.name, f.typ)
		if err != nil {
			return atField(f.name, err)
		}
		switch {
		case ok:
			f.set(p, v)
		case in.Partial():
		case f.def != nil:
			f.def(p)
		case f.optional || nullable(f.typ):
		default:
			return &DecodeError{Field: f.name, Want: f.typ, Err: ErrMissingField}
		}
	}
	return nil
}

func (d *Described[T]) ApplyDefaults(dst reflect.Value) {
	p := dst.Addr().Interface().(*T)
	for _, f := range d.fields {
		if f.def != nil {
			f.def(p)
		}
	}
}

func (d *Described[T]) SetKey(dst reflect.Value, key reflect.Value) error {
	f := d.fields[d.key]
	switch {
	case key.Type().AssignableTo(f.typ):
	case key.Type().ConvertibleTo(f.typ) && isPrimitive(key.Type()) && isPrimitive(f.typ):
		key = key.Convert(f.typ)
	default:
		return fmt.Errorf("codec: key %v not assignable to %v.%s (%v)", key.Type(), d.t, f.name, f.typ)
	}
	f.set(dst.Addr().Interface().(*T), key)
	return nil
}

func (d *Described[T]) Accessor(field string) (func(obj reflect.Value) (any, bool), bool) {
	i, ok := d.byName[field]
	if !ok {
		return nil, false
	}
	get := d.fields[i].get
	return func(obj reflect.Value) (any, bool) {
		return fieldValue(get(ptrOf[T](obj)))
	}, true
}
