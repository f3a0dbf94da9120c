package mutation

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/jsonpath"
)

type Mode int

const (
	Create Mode = iota
	Update
)

// Changes is a compiled payload: whole-column values plus per-column patches.
type Changes struct {
	Set     map[string]any
	Patches []*Patch
}

func (c *Changes) IsEmpty() bool {
	return len(c.Set) == 0 && len(c.Patches) == 0
}

// Columns returns every column written, sorted.
func (c *Changes) Columns() []string {
	cols := lo.Keys(c.Set)
	for _, p := range c.Patches {
		cols = append(cols, p.Column)
	}
	cols = lo.Uniq(cols)
	sort.Strings(cols)
	return cols
}

// Apply returns a copy of row with the changes applied.
func (c *Changes) Apply(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row)+len(c.Set))
	for k, v := range row {
		out[k] = v
	}
	for k, v := range c.Set {
		out[k] = v
	}
	for _, p := range c.Patches {
		doc, err := p.Apply(out[p.Column])
		if err != nil {
			return nil, err
		}
		out[p.Column] = doc
	}
	return out, nil
}

// SchemaChecked reports whether any patched column declares a JSON Schema,
// in which case the patched documents must be passed to Validate.
func (c *Changes) SchemaChecked(e *entity.Entity) bool {
	return lo.SomeBy(c.Patches, func(p *Patch) bool {
		col, ok := e.Column(p.Column)
		return ok && len(col.Schema) > 0
	})
}

// Validate checks the patched documents of row, a row c has been applied
// to, against their column schemas. Whole-column values are checked by
// Compile already.
func (c *Changes) Validate(e *entity.Entity, row map[string]any) error {
	for _, p := range c.Patches {
		col, ok := e.Column(p.Column)
		if !ok {
			continue
		}
		if err := validateSchema(e, col, row[p.Column]); err != nil {
			return err
		}
	}
	return nil
}

// Compile turns a payload into Changes for e.
//
// Keys are handled in lexicographic order, so "meta" is written before
// "meta.a" and "meta.a" before "meta.a.b". Writes to the same jsonb column
// compose into one patch. When the payload also replaces the whole column,
// or on Create where there is no stored document, the path writes are
// folded into the plain value instead.
//
// On Update the primary key is ignored. On Create every non-nullable column
// other than the primary key must be present.
func Compile(data map[string]any, e *entity.Entity, mode Mode) (*Changes, error) {
	changes := &Changes{Set: make(map[string]any, len(data))}
	patches := make(map[string]*Patch)

	for _, key := range sortedKeys(data) {
		raw := filter.Normalize(data[key])
		name, path, err := jsonpath.SplitKey(key)
		if err != nil {
			return nil, err
		}
		col, ok := e.Column(name)
		if !ok {
			return nil, apperr.UnknownColumn(e.Name(), name)
		}

		if len(path) > 0 {
			p, err := BuildPatch(col.Name, strings.TrimPrefix(key[len(name):], "."), raw, e)
			if err != nil {
				return nil, err
			}
			if existing, ok := patches[name]; ok {
				existing.Merge(p)
			} else {
				patches[name] = p
			}
			continue
		}

		if mode == Update && name == e.PrimaryKey() {
			continue
		}
		value, err := checkValue(e, col, raw)
		if err != nil {
			return nil, err
		}
		changes.Set[name] = value
	}

	for _, name := range lo.Keys(patches) {
		p := patches[name]
		base, replaced := changes.Set[name]
		if !replaced && mode == Update {
			continue
		}
		doc, err := p.Apply(base)
		if err != nil {
			return nil, err
		}
		changes.Set[name] = doc
		delete(patches, name)
	}
	for name, value := range changes.Set {
		col, _ := e.Column(name)
		if err := validateSchema(e, col, value); err != nil {
			return nil, err
		}
	}
	changes.Patches = lo.Values(patches)
	sort.Slice(changes.Patches, func(i, j int) bool {
		return changes.Patches[i].Column < changes.Patches[j].Column
	})

	if mode == Create {
		for _, col := range e.Columns() {
			if col.Nullable || col.Name == e.PrimaryKey() {
				continue
			}
			if _, ok := changes.Set[col.Name]; !ok {
				return nil, apperr.Validation("%s.%s is required", e.Name(), col.Name).WithPayload("column", col.Name)
			}
		}
	}
	return changes, nil
}

func checkValue(e *entity.Entity, col entity.Column, raw any) (any, error) {
	if raw == nil {
		if !col.Nullable {
			return nil, apperr.Validation("%s.%s cannot be null", e.Name(), col.Name).WithPayload("column", col.Name)
		}
		return nil, nil
	}
	value, err := entity.Coerce(col.Type, raw)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			appErr.Message = col.Name + ": " + appErr.Message
			return nil, appErr.WithPayload("column", col.Name)
		}
		return nil, err
	}
	return value, nil
}

type schemaKey struct {
	entity *entity.Entity
	column string
}

var schemas sync.Map

func columnSchema(e *entity.Entity, col entity.Column) (*gojsonschema.Schema, error) {
	key := schemaKey{entity: e, column: col.Name}
	if cached, ok := schemas.Load(key); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(col.Schema))
	if err != nil {
		return nil, apperr.Validation("invalid json schema on %s.%s: %v", e.Name(), col.Name, err)
	}
	schemas.Store(key, schema)
	return schema, nil
}

// validateSchema checks a whole jsonb document against the column's schema.
func validateSchema(e *entity.Entity, col entity.Column, doc any) error {
	if len(col.Schema) == 0 || doc == nil {
		return nil
	}
	schema, err := columnSchema(e, col)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return apperr.Validation("failed to validate %s.%s: %v", e.Name(), col.Name, err)
	}
	if result.Valid() {
		return nil
	}
	problems := lo.Map(result.Errors(), func(re gojsonschema.ResultError, _ int) string {
		return re.String()
	})
	return apperr.Validation("%s.%s does not match its schema: %s", e.Name(), col.Name, strings.Join(problems, "; ")).
		WithPayload("column", col.Name).
		WithPayload("errors", problems)
}

func sortedKeys(m map[string]any) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
