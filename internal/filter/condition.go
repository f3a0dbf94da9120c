package filter

import (
	"encoding/json"
	"sort"
)

// Operator is an explicit comparison inside a where leaf, e.g. {"price": {"gt": 10}}.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNin         Operator = "nin"
	OpBetween     Operator = "between"
	OpNotBetween  Operator = "notBetween"
	OpLike        Operator = "like"
	OpNLike       Operator = "nlike"
	OpILike       Operator = "ilike"
	OpNILike      Operator = "nilike"
	OpRegexp      Operator = "regexp"
	OpIRegexp     Operator = "iregexp"
	OpIs          Operator = "is"
	OpIsn         Operator = "isn"
	OpContains    Operator = "contains"
	OpContainedBy Operator = "containedBy"
	OpOverlaps    Operator = "overlaps"
)

var operators = map[string]Operator{
	"eq":          OpEq,
	"neq":         OpNeq,
	"ne":          OpNeq,
	"gt":          OpGt,
	"gte":         OpGte,
	"lt":          OpLt,
	"lte":         OpLte,
	"in":          OpIn,
	"inq":         OpIn,
	"nin":         OpNin,
	"between":     OpBetween,
	"notBetween":  OpNotBetween,
	"like":        OpLike,
	"nlike":       OpNLike,
	"ilike":       OpILike,
	"nilike":      OpNILike,
	"regexp":      OpRegexp,
	"iregexp":     OpIRegexp,
	"is":          OpIs,
	"isn":         OpIsn,
	"contains":    OpContains,
	"containedBy": OpContainedBy,
	"overlaps":    OpOverlaps,
}

// LookupOperator resolves an operator name, including the "ne" and "inq" aliases.
func LookupOperator(name string) (Operator, bool) {
	op, ok := operators[name]
	return op, ok
}

// Condition is a node of a where tree: a *Leaf, an *And or an *Or.
type Condition interface {
	isCondition()
}

// Leaf compares one column (or JSON path inside a column) with a value.
type Leaf struct {
	Key   string
	Op    Operator
	Value any
}

// And matches when every child matches. An empty And matches everything.
type And struct {
	Conditions []Condition
}

// Or matches when any child matches. An empty Or matches nothing.
type Or struct {
	Conditions []Condition
}

func (*Leaf) isCondition() {}
func (*And) isCondition()  {}
func (*Or) isCondition()   {}

// Eq builds an implicit-equality leaf.
func Eq(key string, value any) *Leaf {
	return &Leaf{Key: key, Op: OpEq, Value: value}
}

// Where builds an explicit operator leaf.
func Where(key string, op Operator, value any) *Leaf {
	return &Leaf{Key: key, Op: op, Value: value}
}

func AndOf(conds ...Condition) *And {
	return &And{Conditions: conds}
}

func OrOf(conds ...Condition) *Or {
	return &Or{Conditions: conds}
}

func (l *Leaf) MarshalJSON() ([]byte, error) {
	if l.Op == OpEq {
		return json.Marshal(map[string]any{l.Key: l.Value})
	}
	return json.Marshal(map[string]any{l.Key: map[string]any{string(l.Op): l.Value}})
}

func (a *And) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"and": conditionsOrEmpty(a.Conditions)})
}

func (o *Or) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"or": conditionsOrEmpty(o.Conditions)})
}

func conditionsOrEmpty(conds []Condition) []Condition {
	if conds == nil {
		return []Condition{}
	}
	return conds
}

// CloneCondition deep-copies a where tree, including leaf values.
func CloneCondition(c Condition) Condition {
	switch node := c.(type) {
	case nil:
		return nil
	case *Leaf:
		return &Leaf{Key: node.Key, Op: node.Op, Value: cloneValue(node.Value)}
	case *And:
		return &And{Conditions: cloneConditions(node.Conditions)}
	case *Or:
		return &Or{Conditions: cloneConditions(node.Conditions)}
	default:
		return c
	}
}

func cloneConditions(conds []Condition) []Condition {
	if conds == nil {
		return nil
	}
	out := make([]Condition, len(conds))
	for i, c := range conds {
		out[i] = CloneCondition(c)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []int64:
		return append([]int64(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
