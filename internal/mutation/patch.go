// Package mutation compiles write payloads. Plain column values are coerced
// and validated; keys that address a location inside a jsonb column
// ("meta.dimensions.width") become path writes that are folded into one
// Patch per column, so a storage engine can update the document in a single
// expression without touching sibling data.
package mutation

import (
	"strings"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/jsonpath"
)

// Op writes Value at Path. A nil Value stores JSON null.
type Op struct {
	Path  jsonpath.Path
	Value any
}

// Patch is an ordered list of writes into one jsonb column.
type Patch struct {
	Column string
	Ops    []Op
}

// BuildPatch validates column and path against e and returns a single-write
// patch. path is relative to the column, e.g. "a.b[2]" or "[0].name".
func BuildPatch(column, path string, value any, e *entity.Entity) (*Patch, error) {
	col, ok := e.Column(column)
	if !ok || col.Type != entity.JSONB {
		return nil, apperr.UnknownColumn(e.Name(), column).WithPayload("reason", "not a json column")
	}
	if path == "" {
		return nil, apperr.InvalidPath(column, "path is empty")
	}
	key := column + "." + path
	if strings.HasPrefix(path, "[") {
		key = column + path
	}
	full, err := jsonpath.Parse(key)
	if err != nil {
		return nil, err
	}
	return &Patch{Column: column, Ops: []Op{{Path: full[1:], Value: value}}}, nil
}

// Merge appends other's writes after p's. Both must target the same column.
func (p *Patch) Merge(other *Patch) {
	p.Ops = append(p.Ops, other.Ops...)
}

// Apply runs the writes left to right against doc and returns the new
// document. doc itself is not modified.
func (p *Patch) Apply(doc any) (any, error) {
	var err error
	for _, op := range p.Ops {
		doc, err = jsonpath.Set(doc, op.Path, op.Value)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}
