// Package doc is the document wire format: an ordered field tree that
// implements codec.EncodeOutput and codec.DecodeInput, plus byte serializers
// used by storage backends.
package doc

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/unkn0wn-root/datacache/codec"
)

// Document is an ordered set of named tree values. Nested objects are
// *Document. Not safe for concurrent mutation.
type Document struct {
	fields  map[string]any
	order   []string
	keyName string
	partial bool
}

var keyRegistry = codec.NewRegistry(nil)

var (
	_ codec.EncodeOutput = (*Document)(nil)
	_ codec.DecodeInput  = (*Document)(nil)
)

func New() *Document {
	return &Document{fields: make(map[string]any)}
}

// FromMap builds a document from plain values, normalizing nested maps and
// numbers the way serializers produce them. Keys are inserted in sorted order.
func FromMap(m map[string]any) *Document {
	d := &Document{fields: make(map[string]any, len(m)), order: make([]string, 0, len(m))}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		d.Put(k, Normalize(m[k]))
	}
	return d
}

// Put stores an already-encoded tree value.
func (d *Document) Put(field string, raw any) {
	if _, ok := d.fields[field]; !ok {
		d.order = append(d.order, field)
	}
	d.fields[field] = raw
}

// Delete removes field.
func (d *Document) Delete(field string) {
	if _, ok := d.fields[field]; !ok {
		return
	}
	delete(d.fields, field)
	d.order = slices.DeleteFunc(d.order, func(s string) bool { return s == field })
}

func (d *Document) SetKey(name string, value any) error {
	d.keyName = name
	d.Put(name, value)
	return nil
}

func (d *Document) Set(ctx *codec.Context, field string, v reflect.Value) error {
	raw, err := ctx.EncodeValue(v)
	if err != nil {
		return err
	}
	d.Put(field, raw)
	return nil
}

func (d *Document) Value() any { return d }

// KeyName is the field registered through SetKey, "" when none.
func (d *Document) KeyName() string { return d.keyName }

// SetKeyName marks an existing field as the key without changing its value.
func (d *Document) SetKeyName(name string) { d.keyName = name }

// Key returns the value of the key field.
func (d *Document) Key() (any, bool) {
	if d.keyName == "" {
		return nil, false
	}
	return d.Raw(d.keyName)
}

func (d *Document) Raw(field string) (any, bool) {
	v, ok := d.fields[field]
	return v, ok
}

func (d *Document) Read(ctx *codec.Context, field string, typ reflect.Type) (reflect.Value, bool, error) {
	raw, ok := d.fields[field]
	if !ok {
		return reflect.Value{}, false, nil
	}
	nv := reflect.New(typ).Elem()
	if err := ctx.DecodeValue(raw, nv); err != nil {
		return reflect.Value{}, true, err
	}
	return nv, true, nil
}

func (d *Document) ReadKey(field string, typ reflect.Type) (reflect.Value, error) {
	raw, ok := d.fields[field]
	if !ok {
		return reflect.Value{}, fmt.Errorf("doc: key field %q missing", field)
	}
	nv := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if err := codec.Assign(raw, nv); err != nil {
			return reflect.Value{}, err
		}
		return nv, nil
	}
	// non-primitive keys (uuid.UUID, time.Time) need no nested format
	vc, err := codec.DefaultFactory(nil, typ)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := vc.Decode(keyRegistry.ContextFor(Format{}), raw, nv); err != nil {
		return reflect.Value{}, err
	}
	return nv, nil
}

func (d *Document) Fields() []string { return slices.Clone(d.order) }
func (d *Document) Len() int         { return len(d.order) }
func (d *Document) Partial() bool    { return d.partial }

// MarkPartial flags the document as a server-side projection.
func (d *Document) MarkPartial() *Document {
	d.partial = true
	return d
}

// Project returns a partial copy holding only fields and the key field.
func (d *Document) Project(fields []string) *Document {
	out := &Document{fields: make(map[string]any, len(fields)+1), keyName: d.keyName, partial: true}
	if d.keyName != "" {
		if v, ok := d.fields[d.keyName]; ok {
			out.Put(d.keyName, v)
		}
	}
	for _, f := range fields {
		if v, ok := d.fields[f]; ok {
			out.Put(f, v)
		}
	}
	return out
}

// Clone copies the document, sharing nested values.
func (d *Document) Clone() *Document {
	out := &Document{fields: make(map[string]any, len(d.fields)), keyName: d.keyName, partial: d.partial}
	out.order = slices.Clone(d.order)
	for k, v := range d.fields {
		out.fields[k] = v
	}
	return out
}

// Map converts the document to plain nested maps and slices.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch x := v.(type) {
	case *Document:
		return x.Map()
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = plain(it)
		}
		return out
	}
	return v
}

func (d *Document) String() string { return fmt.Sprint(d.Map()) }

// Format is the codec.Format of Document trees.
type Format struct{}

func (Format) NewOutput() codec.EncodeOutput { return New() }

func (Format) Input(raw any) (codec.DecodeInput, bool) {
	switch x := raw.(type) {
	case *Document:
		return x, true
	case map[string]any:
		return FromMap(x), true
	case map[any]any:
		if d, ok := Normalize(x).(*Document); ok {
			return d, true
		}
	}
	return nil, false
}
