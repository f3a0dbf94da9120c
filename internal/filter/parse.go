package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/nrjais/reposql/internal/apperr"
)

// Parse decodes a JSON filter such as
//
//	{"where": {"price": {"gt": 10}}, "order": ["price DESC"], "limit": 5,
//	 "fields": ["id", "name"], "include": [{"relation": "reviews", "scope": {"limit": 3}}]}
func Parse(data []byte) (*Filter, error) {
	raw, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.Validation("filter must be a JSON object")
	}
	return FromMap(obj)
}

// ParseWhereJSON decodes a JSON where object.
func ParseWhereJSON(data []byte) (Condition, error) {
	raw, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.Validation("where must be a JSON object")
	}
	return ParseWhere(obj)
}

// DecodeJSON decodes data keeping integers as int64 rather than float64.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.Validation("malformed JSON: %v", err)
	}
	return Normalize(raw), nil
}

// Normalize converts json.Number values produced by a UseNumber decoder into
// int64 when integral and float64 otherwise. Containers are copied; v is not
// modified.
func Normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = Normalize(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Normalize(inner)
		}
		return out
	default:
		return v
	}
}

// FromMap builds a Filter from its decoded JSON object form.
func FromMap(obj map[string]any) (*Filter, error) {
	f := &Filter{}
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		var err error
		switch key {
		case "where":
			if value == nil {
				continue
			}
			where, ok := value.(map[string]any)
			if !ok {
				return nil, apperr.Validation("where must be an object")
			}
			f.Where, err = ParseWhere(where)
		case "order":
			f.Order, err = parseOrder(value)
		case "limit":
			f.Limit, err = parseCount("limit", value)
		case "skip", "offset":
			f.Skip, err = parseCount(key, value)
		case "fields":
			f.Fields, err = parseFields(value)
		case "include":
			f.Include, err = parseIncludes(value)
		default:
			return nil, apperr.Validation("unknown filter key %q", key)
		}
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ParseWhere builds a condition tree from a decoded where object. Sibling keys
// combine with AND; "and"/"or" keys hold lists of nested where objects. A
// column mapped to an object is read as operator → operand pairs, all of
// which must hold.
func ParseWhere(obj map[string]any) (Condition, error) {
	conds := make([]Condition, 0, len(obj))
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		switch key {
		case "and", "or":
			children, err := parseBranch(key, value)
			if err != nil {
				return nil, err
			}
			if key == "and" {
				conds = append(conds, &And{Conditions: children})
			} else {
				conds = append(conds, &Or{Conditions: children})
			}
		default:
			leaves, err := parseLeaves(key, value)
			if err != nil {
				return nil, err
			}
			conds = append(conds, leaves...)
		}
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return &And{Conditions: conds}, nil
}

func parseBranch(key string, value any) ([]Condition, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, apperr.Validation("value for %q must be a list", key)
	}
	children := make([]Condition, 0, len(list))
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.Validation("element of %q must be an object", key)
		}
		child, err := ParseWhere(sub)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func parseLeaves(key string, value any) ([]Condition, error) {
	opMap, ok := value.(map[string]any)
	if !ok {
		return []Condition{Eq(key, value)}, nil
	}
	if len(opMap) == 0 {
		return nil, apperr.Validation("empty operator object for %q", key)
	}
	leaves := make([]Condition, 0, len(opMap))
	for _, name := range sortedKeys(opMap) {
		op, ok := LookupOperator(name)
		if !ok {
			return nil, apperr.Validation("unknown operator %q for %q", name, key).WithPayload("operator", name)
		}
		leaves = append(leaves, Where(key, op, opMap[name]))
	}
	return leaves, nil
}

func parseOrder(value any) ([]Order, error) {
	var items []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, apperr.Validation("order must be a string or a list of strings")
	}

	orders := make([]Order, 0, len(items))
	for _, item := range items {
		var (
			o   Order
			err error
		)
		switch v := item.(type) {
		case string:
			o, err = ParseOrder(v)
		case map[string]any:
			o, err = orderFromMap(v)
		default:
			err = apperr.Validation("order entries must be strings or objects")
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func orderFromMap(obj map[string]any) (Order, error) {
	column, ok := obj["column"].(string)
	if !ok || column == "" {
		return Order{}, apperr.Validation("order object requires a column")
	}
	o := Order{Column: column, Direction: Asc}
	if raw, present := obj["direction"]; present {
		dir, ok := raw.(string)
		if !ok {
			return Order{}, apperr.Validation("order direction must be a string")
		}
		o.Direction = Direction(strings.ToUpper(dir))
		if o.Direction != Asc && o.Direction != Desc {
			return Order{}, apperr.Validation("invalid order direction %q", dir)
		}
	}
	return o, nil
}

// ParseOrder parses "column", "column ASC" or "column DESC".
func ParseOrder(s string) (Order, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return Order{Column: parts[0], Direction: Asc}, nil
	case 2:
		dir := Direction(strings.ToUpper(parts[1]))
		if dir != Asc && dir != Desc {
			return Order{}, apperr.Validation("invalid order direction %q", parts[1])
		}
		return Order{Column: parts[0], Direction: dir}, nil
	default:
		return Order{}, apperr.Validation("invalid order %q", s)
	}
}

func parseCount(name string, value any) (*int, error) {
	var n int64
	switch v := value.(type) {
	case nil:
		return nil, nil
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			return nil, apperr.Validation("%s must be an integer", name)
		}
		n = int64(v)
	default:
		return nil, apperr.Validation("%s must be an integer", name)
	}
	if n < 0 {
		return nil, apperr.Validation("%s must be non-negative, got %d", name, n)
	}
	if n > math.MaxInt32 {
		return nil, apperr.Validation("%s is too large", name)
	}
	out := int(n)
	return &out, nil
}

func parseFields(value any) (*Fields, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.Validation("fields entries must be strings")
			}
			list = append(list, s)
		}
		return &Fields{List: list}, nil
	case map[string]any:
		m := make(map[string]bool, len(v))
		for k, item := range v {
			b, ok := item.(bool)
			if !ok {
				return nil, apperr.Validation("fields.%s must be a boolean", k)
			}
			m[k] = b
		}
		return &Fields{Map: m}, nil
	default:
		return nil, apperr.Validation("fields must be a list or an object")
	}
}

func parseIncludes(value any) ([]Include, error) {
	var items []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, map[string]any:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, apperr.Validation("include must be a list")
	}

	includes := make([]Include, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			includes = append(includes, Include{Relation: v})
		case map[string]any:
			inc, err := parseInclude(v)
			if err != nil {
				return nil, err
			}
			includes = append(includes, inc)
		default:
			return nil, apperr.Validation("include entries must be strings or objects")
		}
	}
	return includes, nil
}

func parseInclude(obj map[string]any) (Include, error) {
	name, ok := obj["relation"].(string)
	if !ok || name == "" {
		return Include{}, apperr.Validation("include object requires a relation name")
	}
	inc := Include{Relation: name}
	for key, value := range obj {
		switch key {
		case "relation":
		case "scope":
			if value == nil {
				continue
			}
			scopeObj, ok := value.(map[string]any)
			if !ok {
				return Include{}, apperr.Validation("scope of %q must be an object", name)
			}
			scope, err := FromMap(scopeObj)
			if err != nil {
				return Include{}, fmt.Errorf("scope of %q: %w", name, err)
			}
			inc.Scope = scope
		default:
			return Include{}, apperr.Validation("unknown include key %q", key)
		}
	}
	return inc, nil
}
