package codec

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DefaultFactory synthesizes codecs by reflecting over t.
//
// Struct fields are controlled by the `data` tag:
//
//	ID    int64  `data:"id,key"`
//	Name  string `data:"name,default=anonymous"`
//	Email string `data:"email,optional"`
//	Note  string `data:"-"`
//
// The key field is the one tagged `key`, else a field named ID or Id, else the
// first encoded field. `default=` must be the last option and takes the rest
// of the tag.
func DefaultFactory(_ *Registry, t reflect.Type) (ValueCodec, error) {
	switch {
	case t == timeType:
		return timeCodec{}, nil
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return bytesCodec{t: t}, nil
	case t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && isText(t):
		return textCodec{t: t}, nil
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return kindCodec{t: t}, nil
	case reflect.Pointer:
		return newPointerCodec(t), nil
	case reflect.Slice, reflect.Array:
		return newSliceCodec(t), nil
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return objectMapCodec{t: t}, nil
		}
		return newPairMapCodec(t), nil
	case reflect.Interface:
		return anyCodec{t: t}, nil
	case reflect.Struct:
		return NewStructCodec(t)
	}
	return nil, fmt.Errorf("codec: %w: %v", ErrNoCodec, t)
}

type structField struct {
	name     string
	index    int
	typ      reflect.Type
	optional bool
	omit     bool
	def      reflect.Value // invalid when no default
}

// StructCodec is the reflective ObjectCodec for struct types.
type StructCodec struct {
	t      reflect.Type
	fields []structField
	byName map[string]int
	key    int // index into fields, -1 when the struct has no encoded fields
}

// NewStructCodec enumerates the exported fields of t once.
func NewStructCodec(t reflect.Type) (*StructCodec, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("codec: %v is not a struct", t)
	}
	sc := &StructCodec{t: t, byName: make(map[string]int), key: -1}
	tagged, named := -1, -1
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("data")
		if tag == "-" {
			continue
		}
		f := structField{name: sf.Name, index: i, typ: sf.Type}
		isKey := false
		if tag != "" {
			name, opts, _ := strings.Cut(tag, ",")
			if name != "" {
				f.name = name
			}
			for opts != "" {
				var opt string
				if strings.HasPrefix(opts, "default=") {
					opt, opts = opts, ""
				} else {
					opt, opts, _ = strings.Cut(opts, ",")
				}
				switch {
				case opt == "key":
					isKey = true
				case opt == "optional":
					f.optional = true
				case opt == "omitempty":
					f.omit = true
					f.optional = true
				case strings.HasPrefix(opt, "default="):
					dv, err := parseDefault(sf.Type, strings.TrimPrefix(opt, "default="))
					if err != nil {
						return nil, fmt.Errorf("codec: %v.%s: %w", t, sf.Name, err)
					}
					f.def = dv
				default:
					return nil, fmt.Errorf("codec: %v.%s: unknown tag option %q", t, sf.Name, opt)
				}
			}
		}
		if _, dup := sc.byName[f.name]; dup {
			return nil, fmt.Errorf("codec: %v: duplicate field name %q", t, f.name)
		}
		pos := len(sc.fields)
		sc.byName[f.name] = pos
		sc.fields = append(sc.fields, f)
		if isKey {
			if tagged >= 0 {
				return nil, fmt.Errorf("codec: %v: more than one key field", t)
			}
			tagged = pos
		}
		if named < 0 && (sf.Name == "ID" || sf.Name == "Id") {
			named = pos
		}
	}
	switch {
	case tagged >= 0:
		sc.key = tagged
	case named >= 0:
		sc.key = named
	case len(sc.fields) > 0:
		sc.key = 0
	}
	return sc, nil
}

func parseDefault(t reflect.Type, lit string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if t == reflect.TypeFor[time.Duration]() {
		d, err := time.ParseDuration(lit)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(int64(d))
		return v, nil
	}
	switch t.Kind() {
	case reflect.String:
		v.SetString(lit)
	case reflect.Bool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(lit, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(lit, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(lit, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetFloat(f)
	default:
		if !isText(t) {
			return reflect.Value{}, fmt.Errorf("default not supported for %v", t)
		}
		if err := (textCodec{t: t}).Decode(nil, lit, v); err != nil {
			return reflect.Value{}, err
		}
	}
	return v, nil
}

func (c *StructCodec) Type() reflect.Type { return c.t }

func (c *StructCodec) Fields() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.name
	}
	return out
}

func (c *StructCodec) KeyField() string {
	if c.key < 0 {
		return ""
	}
	return c.fields[c.key].name
}

func (c *StructCodec) Encode(ctx *Context, v reflect.Value) (any, error) {
	out := ctx.Format().NewOutput()
	if err := c.EncodeObject(ctx, v, out); err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func (c *StructCodec) Decode(ctx *Context, raw any, dst reflect.Value) error {
	in, ok := ctx.Format().Input(raw)
	if !ok {
		return mismatch(c.t, raw)
	}
	fresh := reflect.New(c.t).Elem()
	if err := c.DecodeObject(ctx, fresh, in); err != nil {
		return err
	}
	dst.Set(fresh)
	return nil
}

func (c *StructCodec) EncodeObject(ctx *Context, v reflect.Value, out EncodeOutput) error {
	for i, f := range c.fields {
		fv := v.Field(f.index)
		if i == c.key {
			raw, err := ctx.EncodeValue(fv)
			if err != nil {
				return atField(f.name, err)
			}
			if err := out.SetKey(f.name, raw); err != nil {
				return atField(f.name, err)
			}
			continue
		}
		if f.omit && fv.IsZero() {
			continue
		}
		if err := out.Set(ctx, f.name, fv); err != nil {
			return atField(f.name, err)
		}
	}
	return nil
}

func (c *StructCodec) Construct(_ *Context, _ DecodeInput) (reflect.Value, error) {
	return reflect.New(c.t), nil
}

func (c *StructCodec) DecodeObject(ctx *Context, dst reflect.Value, in DecodeInput) error {
	partial := in.Partial()
	for i, f := range c.fields {
		var (
			v   reflect.Value
			ok  bool
			err error
		)
		if i == c.key && isPrimitive(f.typ) {
			if _, ok = in.Raw(f.name); ok {
				v, err = in.ReadKey(f.name, f.typ)
			}
		} else {
			v, ok, err = in.Read(ctx, f.name, f.typ)
		}
		if err != nil {
			return atField(f.name, err)
		}
		if ok {
			dst.Field(f.index).Set(v)
			continue
		}
		switch {
		case partial:
		case f.def.IsValid():
			dst.Field(f.index).Set(f.def)
		case f.optional || nullable(f.typ):
		default:
			return &DecodeError{Field: f.name, Want: f.typ, Err: ErrMissingField}
		}
	}
	return nil
}

func (c *StructCodec) ApplyDefaults(dst reflect.Value) {
	for _, f := range c.fields {
		if f.def.IsValid() {
			dst.Field(f.index).Set(f.def)
		}
	}
}

func (c *StructCodec) SetKey(dst reflect.Value, key reflect.Value) error {
	if c.key < 0 {
		return fmt.Errorf("codec: %v has no key field", c.t)
	}
	f := c.fields[c.key]
	switch {
	case key.Type().AssignableTo(f.typ):
		dst.Field(f.index).Set(key)
	case key.Type().ConvertibleTo(f.typ) && isPrimitive(key.Type()) && isPrimitive(f.typ):
		dst.Field(f.index).Set(key.Convert(f.typ))
	default:
		return fmt.Errorf("codec: key %v not assignable to %v.%s (%v)", key.Type(), c.t, f.name, f.typ)
	}
	return nil
}

func (c *StructCodec) Accessor(field string) (func(obj reflect.Value) (any, bool), bool) {
	i, ok := c.byName[field]
	if !ok {
		return nil, false
	}
	idx := c.fields[i].index
	return func(obj reflect.Value) (any, bool) {
		return fieldValue(obj.Field(idx))
	}, true
}

// fieldValue dereferences pointers and reports false for nil references.
func fieldValue(fv reflect.Value) (any, bool) {
	for fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return nil, false
		}
		fv = fv.Elem()
	}
	if (fv.Kind() == reflect.Map || fv.Kind() == reflect.Slice) && fv.IsNil() {
		return nil, false
	}
	return fv.Interface(), true
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

func isPrimitive(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
