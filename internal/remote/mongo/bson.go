package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/tasksync/internal/doc"
)

// toBSON converts a document into a value the driver can marshal.
func toBSON(m doc.Map) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = valueToBSON(v)
	}
	return out
}

func valueToBSON(v doc.Value) any {
	switch val := v.(type) {
	case doc.Map:
		return toBSON(val)
	case doc.Array:
		arr := make(bson.A, len(val))
		for i, elem := range val {
			arr[i] = valueToBSON(elem)
		}
		return arr
	default:
		return doc.ToAny(v)
	}
}

// fromBSON converts a decoded BSON value back into a document value.
// BSON dates become RFC 3339 strings so the codec reads them like any
// other stored date.
func fromBSON(v any) (doc.Value, error) {
	switch val := v.(type) {
	case nil:
		return doc.Null{}, nil
	case bson.M:
		return mapFromBSON(val)
	case map[string]any:
		return mapFromBSON(val)
	case bson.D:
		m := make(doc.Map, len(val))
		for _, e := range val {
			conv, err := fromBSON(e.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Key, err)
			}
			m[e.Key] = conv
		}
		return m, nil
	case bson.A:
		return arrayFromBSON(val)
	case []any:
		return arrayFromBSON(val)
	case int32:
		return doc.Int(val), nil
	case int64:
		return doc.Int(val), nil
	case float64:
		return doc.Float(val), nil
	case string:
		return doc.String(val), nil
	case bool:
		return doc.Bool(val), nil
	case primitive.DateTime:
		return doc.String(val.Time().UTC().Format(time.RFC3339Nano)), nil
	case primitive.Null, primitive.Undefined:
		return doc.Null{}, nil
	default:
		return nil, fmt.Errorf("unsupported BSON type %T", v)
	}
}

func mapFromBSON(val map[string]any) (doc.Map, error) {
	m := make(doc.Map, len(val))
	for k, elem := range val {
		conv, err := fromBSON(elem)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		m[k] = conv
	}
	return m, nil
}

func arrayFromBSON(val []any) (doc.Array, error) {
	arr := make(doc.Array, len(val))
	for i, elem := range val {
		conv, err := fromBSON(elem)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		arr[i] = conv
	}
	return arr, nil
}
