package doc

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack serializes documents using vmihailenco/msgpack/v5.
// The zero value is ready to use. Times round-trip as msgpack timestamps.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(d *Document) ([]byte, error) {
	return msgpack.Marshal(d.Map())
}

func (Msgpack) Unmarshal(b []byte) (*Document, error) {
	var m map[string]any
	if err := msgpack.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, err
	}
	return FromMap(m), nil
}
