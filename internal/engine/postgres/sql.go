package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/jsonpath"
	"github.com/nrjais/reposql/internal/mutation"
	"github.com/nrjais/reposql/internal/predicate"
)

// statement accumulates SQL text and its positional arguments. Caller values
// only ever enter args; identifiers come from entity descriptors and are
// quoted.
type statement struct {
	entity *entity.Entity
	sql    strings.Builder
	args   []any
}

func newStatement(e *entity.Entity) *statement {
	return &statement{entity: e}
}

func (s *statement) write(parts ...string) {
	for _, p := range parts {
		s.sql.WriteString(p)
	}
}

func (s *statement) arg(v any) string {
	s.args = append(s.args, v)
	return "$" + strconv.Itoa(len(s.args))
}

func (s *statement) String() string { return s.sql.String() }

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// SQLType is the column type used for a logical type in DDL and casts.
func SQLType(t entity.DataType) string {
	switch t {
	case entity.Text:
		return "text"
	case entity.Integer:
		return "bigint"
	case entity.Number:
		return "double precision"
	case entity.Bool:
		return "boolean"
	case entity.Timestamp:
		return "timestamptz"
	case entity.UUID:
		return "uuid"
	case entity.JSONB:
		return "jsonb"
	case entity.TextArray, entity.IntegerArray, entity.NumberArray:
		return SQLType(t.Element()) + "[]"
	default:
		return "text"
	}
}

func (s *statement) columnList() string {
	return strings.Join(lo.Map(s.entity.ColumnNames(), func(name string, _ int) string {
		return ident(name)
	}), ", ")
}

func (s *statement) table() string {
	return ident(s.entity.Table())
}

// value binds v for column and returns the placeholder expression.
func (s *statement) value(col entity.Column, v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	switch {
	case col.Type == entity.JSONB:
		doc, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", col.Name, err)
		}
		return s.arg(string(doc)) + "::jsonb", nil
	case col.Type.IsArray():
		list, err := typedArray(col.Type, v)
		if err != nil {
			return "", err
		}
		return s.arg(list) + "::" + SQLType(col.Type), nil
	case col.Type == entity.UUID:
		return s.arg(v) + "::text::uuid", nil
	default:
		return s.arg(v) + "::" + SQLType(col.Type), nil
	}
}

// typedArray converts a coerced []any into a slice pgx can encode as the
// column's array type. NULL elements are kept as nil pointers.
func typedArray(t entity.DataType, v any) (any, error) {
	list, ok := entity.AsList(v)
	if !ok {
		return nil, fmt.Errorf("expected a list for %s, got %T", t, v)
	}
	switch t {
	case entity.IntegerArray:
		return lo.Map(list, func(x any, _ int) *int64 {
			if n, ok := x.(int64); ok {
				return &n
			}
			return nil
		}), nil
	case entity.NumberArray:
		return lo.Map(list, func(x any, _ int) *float64 {
			if f, ok := entity.ToFloat(x); ok {
				return &f
			}
			return nil
		}), nil
	default:
		return lo.Map(list, func(x any, _ int) *string {
			if str, ok := x.(string); ok {
				return &str
			}
			return nil
		}), nil
	}
}

func pathArg(p jsonpath.Path) []string {
	return p.Text()
}

// ref renders a column reference. JSON paths read through #>> and a cast
// guarded by jsonb_typeof, so a value of the wrong JSON type reads as NULL
// instead of failing the statement.
func (s *statement) ref(r predicate.Ref) string {
	col := ident(r.Column)
	if len(r.Path) == 0 {
		return col
	}
	path := s.arg(pathArg(r.Path)) + "::text[]"
	switch r.Cast {
	case predicate.CastNumeric:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s #> %s) = 'number' THEN (%s #>> %s)::numeric END)", col, path, col, path)
	case predicate.CastBoolean:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s #> %s) = 'boolean' THEN (%s #>> %s)::boolean END)", col, path, col, path)
	default:
		return fmt.Sprintf("(%s #>> %s)", col, path)
	}
}

// operand binds a comparison value for ref.
func (s *statement) operand(r predicate.Ref, v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	if len(r.Path) > 0 {
		switch r.Cast {
		case predicate.CastNumeric:
			return s.arg(v) + "::numeric", nil
		case predicate.CastBoolean:
			return s.arg(v) + "::boolean", nil
		default:
			return s.arg(v) + "::text", nil
		}
	}
	col, ok := s.entity.Column(r.Column)
	if !ok {
		return "", fmt.Errorf("column %s is not defined on %s", r.Column, s.entity.Name())
	}
	return s.value(col, v)
}

// where lowers p into a boolean SQL expression.
func (s *statement) where(p predicate.Predicate) (string, error) {
	switch node := p.(type) {
	case nil:
		return "TRUE", nil
	case predicate.Const:
		if node {
			return "TRUE", nil
		}
		return "FALSE", nil
	case *predicate.And:
		return s.join(node.Preds, " AND ", "TRUE")
	case *predicate.Or:
		return s.join(node.Preds, " OR ", "FALSE")
	case *predicate.IsNull:
		if node.Negate {
			return s.ref(node.Ref) + " IS NOT NULL", nil
		}
		return s.ref(node.Ref) + " IS NULL", nil
	case *predicate.Compare:
		ref := s.ref(node.Ref)
		val, err := s.operand(node.Ref, node.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", ref, node.Op, val), nil
	case *predicate.In:
		if len(node.Values) == 0 {
			return strconv.FormatBool(node.Negate), nil
		}
		ref := s.ref(node.Ref)
		vals := make([]string, len(node.Values))
		for i, v := range node.Values {
			val, err := s.operand(node.Ref, v)
			if err != nil {
				return "", err
			}
			vals[i] = val
		}
		op := "IN"
		if node.Negate {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", ref, op, strings.Join(vals, ", ")), nil
	case *predicate.Between:
		ref := s.ref(node.Ref)
		low, err := s.operand(node.Ref, node.Low)
		if err != nil {
			return "", err
		}
		high, err := s.operand(node.Ref, node.High)
		if err != nil {
			return "", err
		}
		op := "BETWEEN"
		if node.Negate {
			op = "NOT BETWEEN"
		}
		return fmt.Sprintf("%s %s %s AND %s", ref, op, low, high), nil
	case *predicate.Like:
		op := "LIKE"
		if node.CaseInsensitive {
			op = "ILIKE"
		}
		if node.Negate {
			op = "NOT " + op
		}
		return fmt.Sprintf("%s::text %s %s", s.ref(node.Ref), op, s.arg(node.Pattern)), nil
	case *predicate.Regexp:
		op := "~"
		if node.CaseInsensitive {
			op = "~*"
		}
		return fmt.Sprintf("%s::text %s %s", s.ref(node.Ref), op, s.arg(node.Pattern)), nil
	case *predicate.Array:
		col, ok := s.entity.Column(node.Ref.Column)
		if !ok {
			return "", fmt.Errorf("column %s is not defined on %s", node.Ref.Column, s.entity.Name())
		}
		list, err := typedArray(col.Type, node.Values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s::%s", s.ref(node.Ref), node.Op, s.arg(list), SQLType(col.Type)), nil
	default:
		return "", fmt.Errorf("unsupported predicate %T", p)
	}
}

func (s *statement) join(preds []predicate.Predicate, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, len(preds))
	for i, child := range preds {
		sql, err := s.where(child)
		if err != nil {
			return "", err
		}
		parts[i] = sql
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func buildSelect(q engine.Query) (*statement, error) {
	s := newStatement(q.Entity)
	cond, err := s.where(q.Where)
	if err != nil {
		return nil, err
	}
	s.write("SELECT ", s.columnList(), " FROM ", s.table(), " WHERE ", cond)

	order := q.Order
	if len(order) == 0 {
		order = []engine.Order{{Column: q.Entity.PrimaryKey()}}
	}
	s.write(" ORDER BY ", strings.Join(lo.Map(order, func(o engine.Order, _ int) string {
		if o.Desc {
			return ident(o.Column) + " DESC"
		}
		return ident(o.Column) + " ASC"
	}), ", "))

	if q.Limit != nil {
		s.write(" LIMIT ", s.arg(int64(*q.Limit)))
	}
	if q.Skip > 0 {
		s.write(" OFFSET ", s.arg(int64(q.Skip)))
	}
	return s, nil
}

func buildCount(e *entity.Entity, where predicate.Predicate) (*statement, error) {
	s := newStatement(e)
	cond, err := s.where(where)
	if err != nil {
		return nil, err
	}
	s.write("SELECT count(*) FROM ", s.table(), " WHERE ", cond)
	return s, nil
}

// buildInsert writes one multi-row INSERT. Columns absent from a row take
// their DEFAULT, which is how generated keys are produced.
func buildInsert(e *entity.Entity, rows []engine.Row) (*statement, error) {
	s := newStatement(e)
	var cols []entity.Column
	for _, col := range e.Columns() {
		if lo.SomeBy(rows, func(r engine.Row) bool { _, ok := r[col.Name]; return ok }) {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		pk, _ := e.Column(e.PrimaryKey())
		cols = []entity.Column{pk}
	}
	for _, row := range rows {
		for k := range row {
			if !e.HasColumn(k) {
				return nil, fmt.Errorf("column %s is not defined on %s", k, e.Name())
			}
		}
	}

	s.write("INSERT INTO ", s.table(), " (", strings.Join(lo.Map(cols, func(c entity.Column, _ int) string {
		return ident(c.Name)
	}), ", "), ") VALUES ")
	for i, row := range rows {
		if i > 0 {
			s.write(", ")
		}
		vals := make([]string, len(cols))
		for j, col := range cols {
			v, ok := row[col.Name]
			if !ok {
				vals[j] = "DEFAULT"
				continue
			}
			val, err := s.value(col, v)
			if err != nil {
				return nil, err
			}
			vals[j] = val
		}
		s.write("(", strings.Join(vals, ", "), ")")
	}
	s.write(" RETURNING ", s.columnList())
	return s, nil
}

func buildUpdate(e *entity.Entity, where predicate.Predicate, changes *mutation.Changes) (*statement, error) {
	s := newStatement(e)
	var sets []string
	for _, name := range changes.Columns() {
		col, ok := e.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %s is not defined on %s", name, e.Name())
		}
		if v, ok := changes.Set[name]; ok {
			val, err := s.value(col, v)
			if err != nil {
				return nil, err
			}
			sets = append(sets, ident(name)+" = "+val)
		}
	}
	for _, p := range changes.Patches {
		expr, err := s.patch(p)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ident(p.Column)+" = "+expr)
	}

	cond, err := s.where(where)
	if err != nil {
		return nil, err
	}
	s.write("UPDATE ", s.table(), " SET ", strings.Join(sets, ", "), " WHERE ", cond, " RETURNING ", s.columnList())
	return s, nil
}

// patch renders the column's document after every write of p, applied left
// to right. Each write is a nested jsonb_set that creates missing
// containers. The previous document is bound once per write through a
// scalar subquery, so the expression grows linearly with the number of
// writes and path depth.
func (s *statement) patch(p *mutation.Patch) (string, error) {
	doc := ident(p.Column)
	for _, op := range p.Ops {
		value, err := json.Marshal(op.Value)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s.%s: %w", p.Column, op.Path, err)
		}
		inner := s.arg(string(value)) + "::jsonb"
		for i := len(op.Path) - 1; i >= 0; i-- {
			seg := s.arg(op.Path[i].String()) + "::text"
			inner = fmt.Sprintf("jsonb_set(%s, ARRAY[%s], %s, true)", s.container(op.Path[:i], op.Path[i]), seg, inner)
		}
		doc = fmt.Sprintf("(SELECT %s FROM (SELECT %s AS x) AS s)", inner, doc)
	}
	return doc, nil
}

// container is the value at prefix inside the current document x, or an
// empty container of the kind next expects when nothing usable is there.
func (s *statement) container(prefix jsonpath.Path, next jsonpath.Segment) string {
	empty := "'{}'::jsonb"
	if next.IsIndex {
		empty = "'[]'::jsonb"
	}
	at := "s.x"
	if len(prefix) > 0 {
		at = "(s.x #> " + s.arg(pathArg(prefix)) + "::text[])"
	}
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) IN ('object', 'array') THEN %s ELSE %s END)", at, at, empty)
}

func buildDelete(e *entity.Entity, where predicate.Predicate) (*statement, error) {
	s := newStatement(e)
	cond, err := s.where(where)
	if err != nil {
		return nil, err
	}
	s.write("DELETE FROM ", s.table(), " WHERE ", cond, " RETURNING ", s.columnList())
	return s, nil
}
