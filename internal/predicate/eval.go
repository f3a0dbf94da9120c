package predicate

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/jsonpath"
)

// Truth is a SQL three-valued logic result. The ordering False < Unknown < True
// makes AND a minimum and OR a maximum.
type Truth int8

const (
	False Truth = iota
	Unknown
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

func (t Truth) Not() Truth { return True - t }

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Matches reports whether p selects row; only True selects.
func Matches(p Predicate, row map[string]any) bool {
	return Eval(p, row) == True
}

// Eval evaluates p against row with SQL semantics: any comparison involving
// NULL is Unknown, NOT IN over a list holding NULL is never True, and so on.
func Eval(p Predicate, row map[string]any) Truth {
	switch node := p.(type) {
	case Const:
		return truth(bool(node))
	case *And:
		result := True
		for _, child := range node.Preds {
			if t := Eval(child, row); t < result {
				result = t
				if result == False {
					break
				}
			}
		}
		return result
	case *Or:
		result := False
		for _, child := range node.Preds {
			if t := Eval(child, row); t > result {
				result = t
				if result == True {
					break
				}
			}
		}
		return result
	case *IsNull:
		isNull := read(node.Ref, row) == nil
		return truth(isNull != node.Negate)
	case *Compare:
		return compare(read(node.Ref, row), node.Op, node.Value)
	case *In:
		return in(read(node.Ref, row), node.Values, node.Negate)
	case *Between:
		v := read(node.Ref, row)
		t := compare(v, Gte, node.Low)
		if hi := compare(v, Lte, node.High); hi < t {
			t = hi
		}
		if node.Negate {
			return t.Not()
		}
		return t
	case *Like:
		s, ok := textOf(read(node.Ref, row))
		if !ok {
			return Unknown
		}
		return truth(node.re.MatchString(s) != node.Negate)
	case *Regexp:
		s, ok := textOf(read(node.Ref, row))
		if !ok {
			return Unknown
		}
		return truth(node.re.MatchString(s))
	case *Array:
		return array(read(node.Ref, row), node.Op, node.Values)
	default:
		return Unknown
	}
}

// read fetches the value a Ref points at. JSON values are cast the way
// PostgreSQL's #>> followed by a guarded cast would: a value of the wrong
// JSON type reads as NULL.
func read(ref Ref, row map[string]any) any {
	v, ok := row[ref.Column]
	if !ok || v == nil {
		return nil
	}
	if len(ref.Path) == 0 {
		return v
	}
	v, ok = jsonpath.Get(v, ref.Path)
	if !ok || v == nil {
		return nil
	}
	switch ref.Cast {
	case CastText:
		s, _ := jsonText(v)
		return s
	case CastNumeric:
		if f, ok := entity.ToFloat(v); ok {
			return f
		}
		return nil
	case CastBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		return nil
	default:
		return v
	}
}

// jsonText renders a JSON value the way #>> does: strings unquoted, everything
// else as JSON text.
func jsonText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	}
	if f, ok := entity.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func textOf(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return jsonText(v)
}

func compare(a any, op CompareOp, b any) Truth {
	if a == nil || b == nil {
		return Unknown
	}
	if op == Eq || op == Neq {
		eq, ok := equal(a, b)
		if !ok {
			return Unknown
		}
		return truth(eq == (op == Eq))
	}
	c, ok := order(a, b)
	if !ok {
		return Unknown
	}
	switch op {
	case Gt:
		return truth(c > 0)
	case Gte:
		return truth(c >= 0)
	case Lt:
		return truth(c < 0)
	case Lte:
		return truth(c <= 0)
	default:
		return Unknown
	}
}

// equal compares two non-null values. ok is false when the values are not
// comparable, which evaluates as Unknown.
func equal(a, b any) (bool, bool) {
	if c, ok := order(a, b); ok {
		return c == 0, true
	}
	la, okA := entity.AsList(a)
	lb, okB := entity.AsList(b)
	if okA && okB {
		if len(la) != len(lb) {
			return false, true
		}
		for i := range la {
			if la[i] == nil || lb[i] == nil {
				if la[i] != lb[i] {
					return false, true
				}
				continue
			}
			eq, ok := equal(la[i], lb[i])
			if !ok || !eq {
				return false, ok
			}
		}
		return true, true
	}
	ma, okA := a.(map[string]any)
	mb, okB := b.(map[string]any)
	if okA && okB {
		return reflect.DeepEqual(normalizeJSON(ma), normalizeJSON(mb)), true
	}
	return false, false
}

func order(a, b any) (int, bool) {
	if fa, ok := entity.ToFloat(a); ok {
		fb, ok := entity.ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(va, vb), true
	case bool:
		vb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !va:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		vb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return va.Compare(vb), true
	}
	return 0, false
}

// normalizeJSON maps every number to float64 so documents decoded by
// different decoders compare equal.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeJSON(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeJSON(inner)
		}
		return out
	}
	if f, ok := entity.ToFloat(v); ok {
		return f
	}
	return v
}

func in(v any, values []any, negate bool) Truth {
	if v == nil {
		return Unknown
	}
	sawNull := false
	for _, candidate := range values {
		if candidate == nil {
			sawNull = true
			continue
		}
		if eq, ok := equal(v, candidate); ok && eq {
			return truth(!negate)
		}
	}
	if sawNull {
		return Unknown
	}
	return truth(negate)
}

func array(v any, op ArrayOp, values []any) Truth {
	if v == nil {
		return Unknown
	}
	col, ok := entity.AsList(v)
	if !ok {
		return Unknown
	}
	switch op {
	case Contains:
		return truth(subset(values, col))
	case ContainedBy:
		return truth(subset(col, values))
	case Overlaps:
		for _, x := range col {
			if member(x, values) {
				return True
			}
		}
		return False
	default:
		return Unknown
	}
}

// subset reports whether every element of small is in big. NULL elements
// never match, as in PostgreSQL array containment.
func subset(small, big []any) bool {
	for _, x := range small {
		if !member(x, big) {
			return false
		}
	}
	return true
}

func member(x any, list []any) bool {
	if x == nil {
		return false
	}
	for _, y := range list {
		if y == nil {
			continue
		}
		if eq, ok := equal(x, y); ok && eq {
			return true
		}
	}
	return false
}

// CompareValues orders two non-null values with the same rules comparisons
// use. ok is false when the values are not comparable.
func CompareValues(a, b any) (int, bool) {
	return order(a, b)
}
