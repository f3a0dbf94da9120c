// Package filter holds the declarative query request accepted by repositories:
// a where tree, ordering, paging, field projection and relation includes.
package filter

import (
	"encoding/json"

	"github.com/nrjais/reposql/internal/apperr"
)

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type Order struct {
	Column    string
	Direction Direction
}

func (o Order) String() string {
	dir := o.Direction
	if dir == "" {
		dir = Asc
	}
	return o.Column + " " + string(dir)
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Fields selects output columns. List is the array form; Map is the object
// form where true entries form the allow-list. A Map without any true entry
// selects every column.
type Fields struct {
	List []string
	Map  map[string]bool
}

func (f *Fields) MarshalJSON() ([]byte, error) {
	if f.Map != nil {
		return json.Marshal(f.Map)
	}
	if f.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.List)
}

// Include requests a relation, optionally narrowed by a scope on the child entity.
type Include struct {
	Relation string
	Scope    *Filter
}

func (i Include) MarshalJSON() ([]byte, error) {
	if i.Scope == nil {
		return json.Marshal(i.Relation)
	}
	return json.Marshal(map[string]any{"relation": i.Relation, "scope": i.Scope})
}

// Filter is a query request. Treat it as immutable once built.
type Filter struct {
	Where   Condition
	Order   []Order
	Limit   *int
	Skip    *int
	Fields  *Fields
	Include []Include
}

func (f *Filter) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if f.Where != nil {
		out["where"] = f.Where
	}
	if len(f.Order) > 0 {
		out["order"] = f.Order
	}
	if f.Limit != nil {
		out["limit"] = *f.Limit
	}
	if f.Skip != nil {
		out["skip"] = *f.Skip
	}
	if f.Fields != nil {
		out["fields"] = f.Fields
	}
	if len(f.Include) > 0 {
		out["include"] = f.Include
	}
	return json.Marshal(out)
}

// Validate checks the shape-level rules that do not depend on an entity.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Limit != nil && *f.Limit < 0 {
		return apperr.Validation("limit must be non-negative, got %d", *f.Limit)
	}
	if f.Skip != nil && *f.Skip < 0 {
		return apperr.Validation("skip must be non-negative, got %d", *f.Skip)
	}
	for _, o := range f.Order {
		if o.Direction != "" && o.Direction != Asc && o.Direction != Desc {
			return apperr.Validation("invalid order direction %q", o.Direction)
		}
	}
	for _, inc := range f.Include {
		if err := inc.Scope.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of f.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return nil
	}
	out := &Filter{
		Where: CloneCondition(f.Where),
		Limit: cloneInt(f.Limit),
		Skip:  cloneInt(f.Skip),
	}
	if f.Order != nil {
		out.Order = append([]Order(nil), f.Order...)
	}
	if f.Fields != nil {
		out.Fields = &Fields{}
		if f.Fields.List != nil {
			out.Fields.List = append([]string(nil), f.Fields.List...)
		}
		if f.Fields.Map != nil {
			out.Fields.Map = make(map[string]bool, len(f.Fields.Map))
			for k, v := range f.Fields.Map {
				out.Fields.Map[k] = v
			}
		}
	}
	if f.Include != nil {
		out.Include = make([]Include, len(f.Include))
		for i, inc := range f.Include {
			out.Include[i] = Include{Relation: inc.Relation, Scope: inc.Scope.Clone()}
		}
	}
	return out
}

// IntPtr is a convenience for building filters in code.
func IntPtr(v int) *int {
	return &v
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
