package doc

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf stores documents as google.protobuf.Struct messages. Numbers are
// carried as doubles and times as RFC3339Nano strings.
type Protobuf struct{}

func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) Marshal(d *Document) ([]byte, error) {
	s, err := structpb.NewStruct(protoSafe(d.Map()).(map[string]any))
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (Protobuf) Unmarshal(b []byte) (*Document, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return FromMap(s.AsMap()), nil
}

// protoSafe rewrites values structpb cannot represent.
func protoSafe(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = protoSafe(val)
		}
		return x
	case []any:
		for i, it := range x {
			x[i] = protoSafe(it)
		}
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return v
}
