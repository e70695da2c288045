package codec

import "reflect"

// EncodeOutput receives the fields of one encoded object.
type EncodeOutput interface {
	// SetKey records the primary key under name. value is already in tree form.
	SetKey(name string, value any) error
	// Set encodes v through ctx and stores it under field.
	Set(ctx *Context, field string, v reflect.Value) error
	// Value returns the tree form of the object, suitable for nesting.
	Value() any
}

// DecodeInput exposes the fields of one encoded object.
type DecodeInput interface {
	// Read decodes field into a new value of typ. ok is false when the field is absent.
	Read(ctx *Context, field string, typ reflect.Type) (v reflect.Value, ok bool, err error)
	// ReadKey decodes a primitive key field without a codec context.
	ReadKey(field string, typ reflect.Type) (reflect.Value, error)
	// Raw returns the undecoded tree value of field.
	Raw(field string) (any, bool)
	// Fields lists the present field names.
	Fields() []string
	// Partial reports whether the input is a server-side projection
	// rather than a complete record.
	Partial() bool
}

// Format is the factory side of a wire format.
type Format interface {
	NewOutput() EncodeOutput
	// Input wraps a nested tree value produced by an EncodeOutput (or read
	// back from storage). ok is false when raw is not an object.
	Input(raw any) (DecodeInput, bool)
}
