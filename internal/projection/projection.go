// Package projection decides which keys of a row leave the repository.
// Hidden columns are removed whatever the caller asked for; they stay
// usable in where clauses.
package projection

import (
	"github.com/samber/lo"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
)

// Projection is a resolved field selection for one entity.
type Projection struct {
	entity  *entity.Entity
	columns []string
	keep    map[string]struct{}
}

// Resolve validates fields against e. A nil selection, an empty list or a
// map without any true entry selects every visible column. Columns come
// back in declaration order, so the list and map forms of the same
// selection project identical rows.
func Resolve(fields *filter.Fields, e *entity.Entity) (*Projection, error) {
	requested, err := requestedColumns(fields, e)
	if err != nil {
		return nil, err
	}

	var columns []string
	for _, col := range e.Columns() {
		if col.Hidden {
			continue
		}
		if requested == nil || requested[col.Name] {
			columns = append(columns, col.Name)
		}
	}

	keep := make(map[string]struct{}, len(columns))
	for _, name := range columns {
		keep[name] = struct{}{}
	}
	for _, rel := range e.Relations() {
		keep[rel.Name] = struct{}{}
	}
	return &Projection{entity: e, columns: columns, keep: keep}, nil
}

// requestedColumns returns nil when everything is selected.
func requestedColumns(fields *filter.Fields, e *entity.Entity) (map[string]bool, error) {
	if fields == nil {
		return nil, nil
	}
	names := append(append([]string(nil), fields.List...), lo.Keys(fields.Map)...)
	for _, name := range names {
		if !e.HasColumn(name) {
			return nil, apperr.UnknownColumn(e.Name(), name)
		}
	}

	if fields.Map != nil {
		selected := lo.PickBy(fields.Map, func(_ string, v bool) bool { return v })
		if len(selected) == 0 {
			return nil, nil
		}
		return selected, nil
	}
	if len(fields.List) == 0 {
		return nil, nil
	}
	return lo.SliceToMap(fields.List, func(name string) (string, bool) { return name, true }), nil
}

// Columns lists the selected visible columns.
func (p *Projection) Columns() []string {
	return append([]string(nil), p.columns...)
}

// Has reports whether column is part of the output.
func (p *Projection) Has(column string) bool {
	_, ok := p.keep[column]
	return ok && p.entity.HasColumn(column)
}

// Apply returns a copy of row holding the selected columns and any attached
// relations.
func (p *Projection) Apply(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(p.keep))
	for k, v := range row {
		if _, ok := p.keep[k]; ok {
			out[k] = v
		}
	}
	return out
}

// StripHidden removes hidden columns and nothing else.
func StripHidden(row map[string]any, e *entity.Entity) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		if !e.IsHidden(k) {
			out[k] = v
		}
	}
	return out
}
