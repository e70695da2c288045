package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Serializer converts documents to and from bytes for byte-oriented backends.
type Serializer interface {
	Name() string
	Marshal(d *Document) ([]byte, error)
	Unmarshal(b []byte) (*Document, error)
}

// JSON stores documents as JSON objects. Times become RFC 3339 strings and
// byte slices base64 text; the value codecs accept both forms back.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Marshal(d *Document) ([]byte, error) { return json.Marshal(d.Map()) }

func (JSON) Unmarshal(b []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return FromMap(m), nil
}

// Limit wraps another serializer to enforce a maximum payload size at
// Unmarshal time. MaxDecode <= 0 disables the check.
type Limit struct {
	Inner     Serializer
	MaxDecode int
}

func (l Limit) Name() string                        { return l.Inner.Name() }
func (l Limit) Marshal(d *Document) ([]byte, error) { return l.Inner.Marshal(d) }
func (l Limit) Unmarshal(b []byte) (*Document, error) {
	if l.MaxDecode > 0 && len(b) > l.MaxDecode {
		return nil, fmt.Errorf("doc: payload too large: %d > %d", len(b), l.MaxDecode)
	}
	return l.Inner.Unmarshal(b)
}

// SerializerByName resolves "json", "cbor", "msgpack" or "protobuf".
// An empty name selects msgpack.
func SerializerByName(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "msgpack":
		return Msgpack{}, nil
	case "json":
		return JSON{}, nil
	case "cbor":
		return NewCBOR(false)
	case "protobuf", "proto":
		return Protobuf{}, nil
	}
	return nil, fmt.Errorf("doc: unknown serializer %q", name)
}
