package codec

import (
	"fmt"
	"reflect"
	"sync"
)

// Factory synthesizes a codec for a type the registry has not seen yet.
// It may call back into r for element types but must not assume they resolve
// eagerly: struct codecs defer child lookups to first use.
type Factory func(r *Registry, t reflect.Type) (ValueCodec, error)

// Registry memoizes one codec per runtime type. Safe for concurrent use.
//
// Registering a type after codecs that reference it have been synthesized
// does not update those codecs: child references are cached at first use.
type Registry struct {
	codecs  sync.Map // reflect.Type -> ValueCodec
	factory Factory
}

// NewRegistry returns a registry that falls back to factory for unknown types.
// A nil factory selects DefaultFactory.
func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Registry{factory: factory}
}

// Register pre-seeds or overrides the codec for c.Type().
func (r *Registry) Register(c ValueCodec) {
	r.codecs.Store(c.Type(), c)
}

// Codec returns the memoized codec for t, synthesizing it on first use.
func (r *Registry) Codec(t reflect.Type) (ValueCodec, error) {
	if t == nil {
		return nil, fmt.Errorf("codec: %w: nil type", ErrNoCodec)
	}
	if c, ok := r.codecs.Load(t); ok {
		return c.(ValueCodec), nil
	}
	c, err := r.factory(r, t)
	if err != nil {
		return nil, err
	}
	actual, _ := r.codecs.LoadOrStore(t, c)
	return actual.(ValueCodec), nil
}

// Object returns the codec for t when it is record shaped.
func (r *Registry) Object(t reflect.Type) (ObjectCodec, error) {
	c, err := r.Codec(t)
	if err != nil {
		return nil, err
	}
	oc, ok := c.(ObjectCodec)
	if !ok {
		return nil, fmt.Errorf("codec: %v is not an object type", t)
	}
	return oc, nil
}

// Reset drops every memoized and registered codec.
func (r *Registry) Reset() {
	r.codecs.Range(func(k, _ any) bool {
		r.codecs.Delete(k)
		return true
	})
}

// ContextFor builds a per-operation context bound to format.
func (r *Registry) ContextFor(format Format) *Context {
	return &Context{reg: r, format: format}
}

// Context is created per encode or decode call and never outlives it.
type Context struct {
	reg    *Registry
	format Format
}

func (c *Context) Registry() *Registry { return c.reg }
func (c *Context) Format() Format      { return c.format }

func (c *Context) Codec(t reflect.Type) (ValueCodec, error) {
	return c.reg.Codec(t)
}

// EncodeValue encodes v with the codec registered for its type. Interface
// values are encoded by their dynamic type.
func (c *Context) EncodeValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	vc, err := c.reg.Codec(v.Type())
	if err != nil {
		return nil, err
	}
	return vc.Encode(c, v)
}

// DecodeValue decodes raw into dst with the codec registered for dst's type.
func (c *Context) DecodeValue(raw any, dst reflect.Value) error {
	vc, err := c.reg.Codec(dst.Type())
	if err != nil {
		return err
	}
	return vc.Decode(c, raw, dst)
}
