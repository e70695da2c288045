// Package codec converts typed Go values to and from an abstract tree
// representation owned by a pluggable wire format.
//
// Tree values are nil, bool, int64, uint64, float64, string, []byte,
// time.Time, []any, or whatever a Format produces for nested objects.
// Codecs never look inside a concrete document: nested objects are written
// through Format.NewOutput and read back through Format.Input.
package codec

import (
	"fmt"
	"reflect"
)

// ValueCodec converts values of one Go type to and from the tree representation.
type ValueCodec interface {
	Type() reflect.Type
	// Encode returns the tree form of v.
	Encode(ctx *Context, v reflect.Value) (any, error)
	// Decode writes raw into dst. dst must be settable.
	Decode(ctx *Context, raw any, dst reflect.Value) error
}

// ObjectCodec is a ValueCodec for record-shaped types (structs) that can be
// written field by field into an EncodeOutput and read from a DecodeInput.
type ObjectCodec interface {
	ValueCodec

	// EncodeObject writes every serializable field of v (a struct value) into out.
	EncodeObject(ctx *Context, v reflect.Value, out EncodeOutput) error
	// Construct allocates a new, field-uninitialized instance and returns a pointer to it.
	Construct(ctx *Context, in DecodeInput) (reflect.Value, error)
	// DecodeObject populates dst (an addressable struct value) from in.
	DecodeObject(ctx *Context, dst reflect.Value, in DecodeInput) error

	// Fields lists the encoded field names in declaration order.
	Fields() []string
	// KeyField is the primary-key field name, or "" when the type has none.
	KeyField() string
	// Accessor returns a getter for the named field. The getter reports false
	// when the field holds a nil pointer, map, slice or interface.
	Accessor(field string) (func(obj reflect.Value) (any, bool), bool)
	// ApplyDefaults writes declared field defaults into dst.
	ApplyDefaults(dst reflect.Value)
	// SetKey assigns the primary-key field of dst.
	SetKey(dst reflect.Value, key reflect.Value) error
}

// Codec is the typed view over an ObjectCodec for values of type T.
type Codec[T any] interface {
	Encode(ctx *Context, v *T, out EncodeOutput) error
	Construct(ctx *Context, in DecodeInput) (*T, error)
	Decode(ctx *Context, v *T, in DecodeInput) error
}

// ConstructAndDecode allocates a new T and populates it from in.
func ConstructAndDecode[T any](c Codec[T], ctx *Context, in DecodeInput) (*T, error) {
	v, err := c.Construct(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := c.Decode(ctx, v, in); err != nil {
		return nil, err
	}
	return v, nil
}

// Typed adapts an ObjectCodec for T to the Codec[T] interface.
func Typed[T any](oc ObjectCodec) (Codec[T], error) {
	want := reflect.TypeFor[T]()
	if oc.Type() != want {
		return nil, fmt.Errorf("codec: object codec for %v used as %v", oc.Type(), want)
	}
	return typed[T]{oc: oc}, nil
}

type typed[T any] struct {
	oc ObjectCodec
}

func (c typed[T]) Encode(ctx *Context, v *T, out EncodeOutput) error {
	if v == nil {
		return &EncodeError{Type: c.oc.Type(), Err: fmt.Errorf("nil %v", c.oc.Type())}
	}
	return c.oc.EncodeObject(ctx, reflect.ValueOf(v).Elem(), out)
}

func (c typed[T]) Construct(ctx *Context, in DecodeInput) (*T, error) {
	p, err := c.oc.Construct(ctx, in)
	if err != nil {
		return nil, err
	}
	return p.Interface().(*T), nil
}

func (c typed[T]) Decode(ctx *Context, v *T, in DecodeInput) error {
	return c.oc.DecodeObject(ctx, reflect.ValueOf(v).Elem(), in)
}
