package dynamo

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/unkn0wn-root/datacache/doc"
)

// toAttr converts a tree value into an attribute value. Nested documents
// become maps and []any lists; leaves go through attributevalue.Marshal.
func toAttr(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case *doc.Document:
		m, err := toItem(x)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		l := make([]types.AttributeValue, len(x))
		for i, it := range x {
			av, err := toAttr(it)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	return attributevalue.Marshal(v)
}

func toItem(d *doc.Document) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, d.Len())
	for _, f := range d.Fields() {
		raw, _ := d.Raw(f)
		av, err := toAttr(raw)
		if err != nil {
			return nil, fmt.Errorf("dynamo: field %q: %w", f, err)
		}
		item[f] = av
	}
	return item, nil
}

// fromAttr converts an attribute value into tree form. Numbers become int64,
// uint64 or float64, whichever parses first.
func fromAttr(av types.AttributeValue) any {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value
	case *types.AttributeValueMemberN:
		return number(x.Value)
	case *types.AttributeValueMemberB:
		return x.Value
	case *types.AttributeValueMemberBOOL:
		return x.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberL:
		out := make([]any, len(x.Value))
		for i, it := range x.Value {
			out[i] = fromAttr(it)
		}
		return out
	case *types.AttributeValueMemberM:
		return fromItem(x.Value)
	case *types.AttributeValueMemberSS:
		out := make([]any, len(x.Value))
		for i, s := range x.Value {
			out[i] = s
		}
		return out
	case *types.AttributeValueMemberNS:
		out := make([]any, len(x.Value))
		for i, s := range x.Value {
			out[i] = number(s)
		}
		return out
	case *types.AttributeValueMemberBS:
		out := make([]any, len(x.Value))
		for i, b := range x.Value {
			out[i] = b
		}
		return out
	}
	return nil
}

func fromItem(item map[string]types.AttributeValue) *doc.Document {
	m := make(map[string]any, len(item))
	for k, av := range item {
		m[k] = fromAttr(av)
	}
	return doc.FromMap(m)
}

func number(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
