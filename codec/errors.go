package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrMissingField = errors.New("required field missing")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrOverflow     = errors.New("numeric overflow")
	ErrNoCodec      = errors.New("no codec for type")
)

// DecodeError identifies the field that failed to decode.
type DecodeError struct {
	Field string
	Want  reflect.Type
	Got   string // dynamic type of the stored value, "" when absent
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("codec: decode")
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Want != nil {
		fmt.Fprintf(&b, " (want %v", e.Want)
		if e.Got != "" {
			fmt.Fprintf(&b, ", got %s", e.Got)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a value that could not be encoded.
type EncodeError struct {
	Field string
	Type  reflect.Type
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("codec: encode %s (%v): %v", e.Field, e.Type, e.Err)
	}
	return fmt.Sprintf("codec: encode %v: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func mismatch(want reflect.Type, raw any) error {
	return &DecodeError{Want: want, Got: typeName(raw), Err: ErrTypeMismatch}
}

func typeName(raw any) string {
	if raw == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", raw)
}

// atField prefixes the field path of err with name.
func atField(name string, err error) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		cp := *de
		cp.Field = joinPath(name, de.Field)
		return &cp
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		cp := *ee
		cp.Field = joinPath(name, ee.Field)
		return &cp
	}
	return &DecodeError{Field: name, Err: err}
}

func joinPath(parent, child string) string {
	switch {
	case child == "":
		return parent
	case strings.HasPrefix(child, "["):
		return parent + child
	default:
		return parent + "." + child
	}
}
