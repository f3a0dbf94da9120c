package entity

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/nrjais/reposql/internal/apperr"
)

// Coerce converts v into the canonical Go representation for t:
// text and uuid → string, integer → int64, number → float64, bool → bool,
// timestamp → time.Time (UTC), arrays → []any of the element type. jsonb
// values pass through. nil is returned unchanged; nullability is the
// caller's concern.
func Coerce(t DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t.IsArray() {
		list, ok := AsList(v)
		if !ok {
			return nil, apperr.Validation("expected an array for %s, got %T", t, v)
		}
		out := make([]any, len(list))
		for i, item := range list {
			c, err := Coerce(t.Element(), item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}

	switch t {
	case Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case UUID:
		switch val := v.(type) {
		case string:
			id, err := uuid.Parse(val)
			if err != nil {
				return nil, apperr.Validation("invalid uuid %q", val)
			}
			return id.String(), nil
		case uuid.UUID:
			return val.String(), nil
		case [16]byte:
			return uuid.UUID(val).String(), nil
		}
	case Integer:
		if f, ok := toFloat(v); ok {
			if f != math.Trunc(f) {
				return nil, apperr.Validation("expected an integer, got %v", v)
			}
			if i, ok := toInt(v); ok {
				return i, nil
			}
			return int64(f), nil
		}
	case Number:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Timestamp:
		switch val := v.(type) {
		case time.Time:
			return val.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, val)
			if err != nil {
				return nil, apperr.Validation("invalid timestamp %q", val)
			}
			return ts.UTC(), nil
		}
	case JSONB:
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			f, _ := n.Float64()
			return f, nil
		}
		return v, nil
	}
	return nil, apperr.Validation("expected %s, got %T", t, v)
}

// AsList returns the elements of any slice or array value other than a byte slice.
func AsList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// ToFloat reports v as a float64 when it is any Go numeric type.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}
