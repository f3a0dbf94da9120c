// Package predicate is the storage-neutral form of a compiled where clause.
// Every column reference has been resolved against an entity, every operand
// has been coerced to the column's type, and every JSON path has been
// validated. Engines lower a Predicate into their native query API; the
// in-memory engine evaluates it directly with Eval.
package predicate

import (
	"regexp"

	"github.com/nrjais/reposql/internal/jsonpath"
)

// Cast says how a JSON path value is read before it is compared.
type Cast string

const (
	CastNone    Cast = ""
	CastText    Cast = "text"
	CastNumeric Cast = "numeric"
	CastBoolean Cast = "boolean"
)

// Ref addresses a column, or a scalar inside a jsonb column when Path is set.
type Ref struct {
	Column string
	Path   jsonpath.Path
	Cast   Cast
}

func (r Ref) String() string {
	if len(r.Path) == 0 {
		return r.Column
	}
	return r.Column + "." + r.Path.String()
}

// Predicate is one of Const, *And, *Or, *Compare, *IsNull, *In, *Between,
// *Like, *Regexp or *Array.
type Predicate interface {
	isPredicate()
}

type Const bool

var (
	Always Predicate = Const(true)
	Never  Predicate = Const(false)
)

type And struct {
	Preds []Predicate
}

type Or struct {
	Preds []Predicate
}

type CompareOp string

const (
	Eq  CompareOp = "="
	Neq CompareOp = "<>"
	Gt  CompareOp = ">"
	Gte CompareOp = ">="
	Lt  CompareOp = "<"
	Lte CompareOp = "<="
)

type Compare struct {
	Ref   Ref
	Op    CompareOp
	Value any
}

type IsNull struct {
	Ref    Ref
	Negate bool
}

// In is never built with an empty list; the compiler folds those into constants.
type In struct {
	Ref    Ref
	Values []any
	Negate bool
}

type Between struct {
	Ref    Ref
	Low    any
	High   any
	Negate bool
}

type Like struct {
	Ref             Ref
	Pattern         string
	CaseInsensitive bool
	Negate          bool
	re              *regexp.Regexp
}

type Regexp struct {
	Ref             Ref
	Pattern         string
	CaseInsensitive bool
	re              *regexp.Regexp
}

type ArrayOp string

const (
	Contains    ArrayOp = "@>"
	ContainedBy ArrayOp = "<@"
	Overlaps    ArrayOp = "&&"
)

type Array struct {
	Ref    Ref
	Op     ArrayOp
	Values []any
}

func (Const) isPredicate()    {}
func (*And) isPredicate()     {}
func (*Or) isPredicate()      {}
func (*Compare) isPredicate() {}
func (*IsNull) isPredicate()  {}
func (*In) isPredicate()      {}
func (*Between) isPredicate() {}
func (*Like) isPredicate()    {}
func (*Regexp) isPredicate()  {}
func (*Array) isPredicate()   {}

// NewLike builds a LIKE predicate, translating the SQL pattern for Eval.
func NewLike(ref Ref, pattern string, caseInsensitive, negate bool) *Like {
	return &Like{
		Ref:             ref,
		Pattern:         pattern,
		CaseInsensitive: caseInsensitive,
		Negate:          negate,
		re:              likeRegexp(pattern, caseInsensitive),
	}
}

// NewRegexp compiles pattern and fails on invalid syntax.
func NewRegexp(ref Ref, pattern string, caseInsensitive bool) (*Regexp, error) {
	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Regexp{Ref: ref, Pattern: pattern, CaseInsensitive: caseInsensitive, re: re}, nil
}

// likeRegexp translates % and _ wildcards; a backslash escapes the next rune.
func likeRegexp(pattern string, caseInsensitive bool) *regexp.Regexp {
	var b []byte
	b = append(b, "(?s)"...)
	if caseInsensitive {
		b = append(b, "(?i)"...)
	}
	b = append(b, '^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			i++
			b = append(b, regexp.QuoteMeta(string(runes[i]))...)
		case r == '%':
			b = append(b, ".*"...)
		case r == '_':
			b = append(b, '.')
		default:
			b = append(b, regexp.QuoteMeta(string(r))...)
		}
	}
	b = append(b, '$')
	return regexp.MustCompile(string(b))
}
