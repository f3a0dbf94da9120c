package predicate

import (
	"errors"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/jsonpath"
)

// Compile resolves cond against e. A nil condition matches every row.
//
// Keys are looked up in the entity's column set; anything else fails with
// an UnknownColumn error before a storage engine sees it. Hidden columns
// are valid filter targets.
func Compile(cond filter.Condition, e *entity.Entity) (Predicate, error) {
	c := compiler{entity: e}
	return c.condition(cond)
}

type compiler struct {
	entity *entity.Entity
}

func (c compiler) condition(cond filter.Condition) (Predicate, error) {
	switch node := cond.(type) {
	case nil:
		return Always, nil
	case *filter.And:
		preds, err := c.children(node.Conditions)
		if err != nil {
			return nil, err
		}
		return &And{Preds: preds}, nil
	case *filter.Or:
		preds, err := c.children(node.Conditions)
		if err != nil {
			return nil, err
		}
		return &Or{Preds: preds}, nil
	case *filter.Leaf:
		return c.leaf(node)
	default:
		return nil, apperr.Validation("unsupported condition %T", cond)
	}
}

func (c compiler) children(conds []filter.Condition) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(conds))
	for _, child := range conds {
		p, err := c.condition(child)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// target is a resolved leaf key.
type target struct {
	ref Ref
	col entity.Column
}

func (t target) isPath() bool { return len(t.ref.Path) > 0 }

func (c compiler) resolve(key string) (target, error) {
	name, path, err := jsonpath.SplitKey(key)
	if err != nil {
		return target{}, err
	}
	col, ok := c.entity.Column(name)
	if !ok {
		return target{}, apperr.UnknownColumn(c.entity.Name(), name)
	}
	if len(path) > 0 && col.Type != entity.JSONB {
		return target{}, apperr.UnknownColumn(c.entity.Name(), key).
			WithPayload("reason", "path on a non-json column")
	}
	return target{ref: Ref{Column: name, Path: path}, col: col}, nil
}

func (c compiler) leaf(leaf *filter.Leaf) (Predicate, error) {
	t, err := c.resolve(leaf.Key)
	if err != nil {
		return nil, err
	}

	switch leaf.Op {
	case filter.OpEq, filter.OpNeq:
		if leaf.Value == nil {
			return &IsNull{Ref: t.ref, Negate: leaf.Op == filter.OpNeq}, nil
		}
		op := Eq
		if leaf.Op == filter.OpNeq {
			op = Neq
		}
		return c.compare(t, op, leaf)

	case filter.OpGt:
		return c.compare(t, Gt, leaf)
	case filter.OpGte:
		return c.compare(t, Gte, leaf)
	case filter.OpLt:
		return c.compare(t, Lt, leaf)
	case filter.OpLte:
		return c.compare(t, Lte, leaf)

	case filter.OpIs:
		return &IsNull{Ref: t.ref}, nil
	case filter.OpIsn:
		return &IsNull{Ref: t.ref, Negate: true}, nil

	case filter.OpIn, filter.OpNin:
		negate := leaf.Op == filter.OpNin
		list, ok := entity.AsList(leaf.Value)
		if !ok {
			return nil, apperr.Validation("%s on %q expects an array", leaf.Op, leaf.Key)
		}
		if len(list) == 0 {
			if negate {
				return Always, nil
			}
			return Never, nil
		}
		ref, values, err := c.operands(t, list)
		if err != nil {
			return nil, err
		}
		return &In{Ref: ref, Values: values, Negate: negate}, nil

	case filter.OpBetween, filter.OpNotBetween:
		list, ok := entity.AsList(leaf.Value)
		if !ok || len(list) != 2 {
			return nil, apperr.Validation("%s on %q expects a pair of bounds", leaf.Op, leaf.Key)
		}
		ref, values, err := c.operands(t, list)
		if err != nil {
			return nil, err
		}
		return &Between{Ref: ref, Low: values[0], High: values[1], Negate: leaf.Op == filter.OpNotBetween}, nil

	case filter.OpLike, filter.OpNLike, filter.OpILike, filter.OpNILike:
		ref, pattern, err := c.pattern(t, leaf)
		if err != nil {
			return nil, err
		}
		ci := leaf.Op == filter.OpILike || leaf.Op == filter.OpNILike
		negate := leaf.Op == filter.OpNLike || leaf.Op == filter.OpNILike
		return NewLike(ref, pattern, ci, negate), nil

	case filter.OpRegexp, filter.OpIRegexp:
		ref, pattern, err := c.pattern(t, leaf)
		if err != nil {
			return nil, err
		}
		p, err := NewRegexp(ref, pattern, leaf.Op == filter.OpIRegexp)
		if err != nil {
			return nil, apperr.Validation("invalid regular expression for %q: %v", leaf.Key, err)
		}
		return p, nil

	case filter.OpContains, filter.OpContainedBy, filter.OpOverlaps:
		return c.array(t, leaf)

	default:
		return nil, apperr.Validation("unknown operator %q", leaf.Op)
	}
}

func (c compiler) compare(t target, op CompareOp, leaf *filter.Leaf) (Predicate, error) {
	if leaf.Value == nil {
		// SQL comparison with NULL is never true.
		return &Compare{Ref: t.ref, Op: op}, nil
	}
	ref, values, err := c.operands(t, []any{leaf.Value})
	if err != nil {
		return nil, err
	}
	return &Compare{Ref: ref, Op: op, Value: values[0]}, nil
}

// operands coerces values to the target column type. For a JSON path the
// first non-null operand picks the cast and the rest must agree with it.
func (c compiler) operands(t target, values []any) (Ref, []any, error) {
	ref := t.ref
	out := make([]any, len(values))
	if !t.isPath() {
		for i, v := range values {
			coerced, err := entity.Coerce(t.col.Type, v)
			if err != nil {
				return ref, nil, c.operandError(ref, err)
			}
			out[i] = coerced
		}
		return ref, out, nil
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		cast, scalar, ok := castOf(v)
		if !ok {
			return ref, nil, apperr.Validation("operand for %q must be a scalar, got %T", ref, v)
		}
		if ref.Cast == CastNone {
			ref.Cast = cast
		} else if ref.Cast != cast {
			return ref, nil, apperr.Validation("operands for %q mix %s and %s values", ref, ref.Cast, cast)
		}
		out[i] = scalar
	}
	if ref.Cast == CastNone {
		ref.Cast = CastText
	}
	return ref, out, nil
}

func (c compiler) operandError(ref Ref, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.WithPayload("column", ref.String())
	}
	return err
}

// castOf picks how a JSON scalar is compared from the operand's Go type.
func castOf(v any) (Cast, any, bool) {
	switch val := v.(type) {
	case string:
		return CastText, val, true
	case bool:
		return CastBoolean, val, true
	}
	if f, ok := entity.ToFloat(v); ok {
		return CastNumeric, f, true
	}
	return CastNone, nil, false
}

func (c compiler) pattern(t target, leaf *filter.Leaf) (Ref, string, error) {
	pattern, ok := leaf.Value.(string)
	if !ok {
		return Ref{}, "", apperr.Validation("%s on %q expects a string pattern", leaf.Op, leaf.Key)
	}
	ref := t.ref
	if t.isPath() {
		ref.Cast = CastText
		return ref, pattern, nil
	}
	if t.col.Type != entity.Text && t.col.Type != entity.UUID {
		return Ref{}, "", apperr.Validation("%s is only supported on text columns, %q is %s", leaf.Op, leaf.Key, t.col.Type)
	}
	return ref, pattern, nil
}

func (c compiler) array(t target, leaf *filter.Leaf) (Predicate, error) {
	if t.isPath() || !t.col.Type.IsArray() {
		return nil, apperr.Validation("%s is only supported on array columns, %q is %s", leaf.Op, leaf.Key, t.col.Type)
	}
	if leaf.Value == nil {
		return nil, apperr.Validation("%s on %q expects an array", leaf.Op, leaf.Key)
	}
	coerced, err := entity.Coerce(t.col.Type, leaf.Value)
	if err != nil {
		return nil, c.operandError(t.ref, err)
	}
	values := coerced.([]any)
	if len(values) == 0 {
		switch leaf.Op {
		case filter.OpContains:
			return Always, nil
		case filter.OpOverlaps:
			return Never, nil
		}
	}

	op := Contains
	switch leaf.Op {
	case filter.OpContainedBy:
		op = ContainedBy
	case filter.OpOverlaps:
		op = Overlaps
	}
	return &Array{Ref: t.ref, Op: op, Values: values}, nil
}
