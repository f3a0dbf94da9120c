package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nrjais/reposql/internal/jsonpath"
)

type DataType string

const (
	Text         DataType = "text"
	Integer      DataType = "integer"
	Number       DataType = "number"
	Bool         DataType = "bool"
	Timestamp    DataType = "timestamp"
	UUID         DataType = "uuid"
	JSONB        DataType = "jsonb"
	TextArray    DataType = "text[]"
	IntegerArray DataType = "integer[]"
	NumberArray  DataType = "number[]"
)

// IsArray reports whether the column holds a set-based array value.
func (d DataType) IsArray() bool {
	return d == TextArray || d == IntegerArray || d == NumberArray
}

// Element returns the scalar type of an array column.
func (d DataType) Element() DataType {
	switch d {
	case TextArray:
		return Text
	case IntegerArray:
		return Integer
	case NumberArray:
		return Number
	default:
		return d
	}
}

type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

type Column struct {
	Name     string         `json:"name" mapstructure:"name" validate:"required,ident,max=63"`
	Type     DataType       `json:"type" mapstructure:"type" validate:"required,oneof=text integer number bool timestamp uuid jsonb text[] integer[] number[]"`
	Nullable bool           `json:"nullable" mapstructure:"nullable"`
	Hidden   bool           `json:"hidden" mapstructure:"hidden"`
	Schema   map[string]any `json:"schema,omitempty" mapstructure:"schema"`
}

// Relation joins rows of the owning entity to rows of Target where
// owner.LocalKey = target.ForeignKey.
type Relation struct {
	Name        string      `json:"name" mapstructure:"name" validate:"required,ident,max=63"`
	Target      string      `json:"target" mapstructure:"target" validate:"required,ident"`
	Cardinality Cardinality `json:"cardinality" mapstructure:"cardinality" validate:"required,oneof=one many"`
	LocalKey    string      `json:"localKey" mapstructure:"local_key" validate:"required,ident"`
	ForeignKey  string      `json:"foreignKey" mapstructure:"foreign_key" validate:"required,ident"`
}

// Definition is the declarative form of an entity, as found in configuration.
type Definition struct {
	Name       string     `json:"name" mapstructure:"name" validate:"required,ident,max=63"`
	Table      string     `json:"table" mapstructure:"table" validate:"omitempty,ident,max=63"`
	PrimaryKey string     `json:"primaryKey" mapstructure:"primary_key" validate:"required,ident"`
	Columns    []Column   `json:"columns" mapstructure:"columns" validate:"required,min=1,dive"`
	Relations  []Relation `json:"relations" mapstructure:"relations" validate:"omitempty,dive"`
}

// Entity is the immutable descriptor built from a Definition. Column and
// relation names supplied by callers are only ever resolved through its
// lookup maps.
type Entity struct {
	name       string
	table      string
	primaryKey string
	columns    []Column
	relations  []Relation
	byColumn   map[string]int
	byRelation map[string]int
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func definitionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
			return jsonpath.ValidIdentifier(fl.Field().String())
		})
	})
	return validate
}

// New validates def and builds its descriptor.
func New(def Definition) (*Entity, error) {
	if err := definitionValidator().Struct(def); err != nil {
		return nil, fmt.Errorf("invalid entity definition %q: %w", def.Name, err)
	}

	e := &Entity{
		name:       def.Name,
		table:      def.Table,
		primaryKey: def.PrimaryKey,
		columns:    append([]Column(nil), def.Columns...),
		relations:  append([]Relation(nil), def.Relations...),
		byColumn:   make(map[string]int, len(def.Columns)),
		byRelation: make(map[string]int, len(def.Relations)),
	}
	if e.table == "" {
		e.table = def.Name
	}

	for i, col := range e.columns {
		if _, exists := e.byColumn[col.Name]; exists {
			return nil, fmt.Errorf("duplicate column name defined in entity %s: %s", def.Name, col.Name)
		}
		if len(col.Schema) > 0 && col.Type != JSONB {
			return nil, fmt.Errorf("column %s.%s declares a json schema but is not jsonb", def.Name, col.Name)
		}
		e.byColumn[col.Name] = i
	}

	pk, ok := e.Column(def.PrimaryKey)
	if !ok {
		return nil, fmt.Errorf("primary key %s is not a column of %s", def.PrimaryKey, def.Name)
	}
	if pk.Hidden {
		return nil, fmt.Errorf("primary key %s of %s cannot be hidden", def.PrimaryKey, def.Name)
	}

	for i, rel := range e.relations {
		if _, exists := e.byRelation[rel.Name]; exists {
			return nil, fmt.Errorf("duplicate relation name defined in entity %s: %s", def.Name, rel.Name)
		}
		if _, exists := e.byColumn[rel.Name]; exists {
			return nil, fmt.Errorf("relation %s of %s shadows a column", rel.Name, def.Name)
		}
		if _, ok := e.byColumn[rel.LocalKey]; !ok {
			return nil, fmt.Errorf("relation %s of %s references non-existent local key: %s", rel.Name, def.Name, rel.LocalKey)
		}
		e.byRelation[rel.Name] = i
	}

	return e, nil
}

// MustNew is New for static descriptors known to be valid.
func MustNew(def Definition) *Entity {
	e, err := New(def)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Entity) Name() string       { return e.name }
func (e *Entity) Table() string      { return e.table }
func (e *Entity) PrimaryKey() string { return e.primaryKey }

// Column resolves a caller-supplied name against the declared columns.
func (e *Entity) Column(name string) (Column, bool) {
	i, ok := e.byColumn[name]
	if !ok {
		return Column{}, false
	}
	return e.columns[i], true
}

func (e *Entity) HasColumn(name string) bool {
	_, ok := e.byColumn[name]
	return ok
}

func (e *Entity) Relation(name string) (Relation, bool) {
	i, ok := e.byRelation[name]
	if !ok {
		return Relation{}, false
	}
	return e.relations[i], true
}

// Columns returns the columns in declaration order.
func (e *Entity) Columns() []Column {
	return append([]Column(nil), e.columns...)
}

func (e *Entity) Relations() []Relation {
	return append([]Relation(nil), e.relations...)
}

// ColumnNames returns every column name in declaration order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.columns))
	for i, col := range e.columns {
		names[i] = col.Name
	}
	return names
}

// VisibleColumnNames returns the names of columns that may appear in output.
func (e *Entity) VisibleColumnNames() []string {
	names := make([]string, 0, len(e.columns))
	for _, col := range e.columns {
		if !col.Hidden {
			names = append(names, col.Name)
		}
	}
	return names
}

func (e *Entity) IsHidden(name string) bool {
	col, ok := e.Column(name)
	return ok && col.Hidden
}

// Registry holds every entity known to a datasource.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register adds e. Relations are checked against already registered
// entities by Validate, so registration order does not matter.
func (r *Registry) Register(e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[e.name]; exists {
		return fmt.Errorf("entity %s already registered", e.name)
	}
	r.entities[e.name] = e
	return nil
}

func (r *Registry) Get(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every relation points at a registered entity and a
// declared foreign key column.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		for _, rel := range e.relations {
			target, ok := r.entities[rel.Target]
			if !ok {
				return fmt.Errorf("relation %s.%s targets unknown entity %s", e.name, rel.Name, rel.Target)
			}
			if !target.HasColumn(rel.ForeignKey) {
				return fmt.Errorf("relation %s.%s references non-existent foreign key %s.%s", e.name, rel.Name, rel.Target, rel.ForeignKey)
			}
		}
	}
	return nil
}

// NewRegistryFromDefinitions builds and validates a registry in one step.
func NewRegistryFromDefinitions(defs []Definition) (*Registry, error) {
	r := NewRegistry()
	for _, def := range defs {
		e, err := New(def)
		if err != nil {
			return nil, err
		}
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
