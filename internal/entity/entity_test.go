package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/entity/entitytest"
)

func TestDataType_IsArray(t *testing.T) {
	tests := []struct {
		dataType entity.DataType
		isArray  bool
		element  entity.DataType
	}{
		{entity.Text, false, entity.Text},
		{entity.JSONB, false, entity.JSONB},
		{entity.TextArray, true, entity.Text},
		{entity.IntegerArray, true, entity.Integer},
		{entity.NumberArray, true, entity.Number},
	}

	for _, tt := range tests {
		t.Run(string(tt.dataType), func(t *testing.T) {
			assert.Equal(t, tt.isArray, tt.dataType.IsArray())
			assert.Equal(t, tt.element, tt.dataType.Element())
		})
	}
}

func TestNew(t *testing.T) {
	e, err := entity.New(entitytest.ProductsDefinition())
	require.NoError(t, err)

	assert.Equal(t, "products", e.Name())
	assert.Equal(t, "products", e.Table())
	assert.Equal(t, "id", e.PrimaryKey())
	assert.True(t, e.IsHidden("secret"))
	assert.False(t, e.IsHidden("name"))
	assert.NotContains(t, e.VisibleColumnNames(), "secret")
	assert.Contains(t, e.ColumnNames(), "secret")

	col, ok := e.Column("tags")
	require.True(t, ok)
	assert.Equal(t, entity.TextArray, col.Type)

	rel, ok := e.Relation("reviews")
	require.True(t, ok)
	assert.Equal(t, entity.Many, rel.Cardinality)
}

func TestNew_LookupIsExplicit(t *testing.T) {
	e := entitytest.Products()

	for _, name := range []string{"constructor", "__proto__", "toString", "ID", "name ", ""} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, e.HasColumn(name))
			_, ok := e.Relation(name)
			assert.False(t, ok)
		})
	}
}

func TestNew_InvalidDefinitions(t *testing.T) {
	base := func() entity.Definition {
		return entity.Definition{
			Name:       "things",
			PrimaryKey: "id",
			Columns: []entity.Column{
				{Name: "id", Type: entity.Integer},
				{Name: "doc", Type: entity.JSONB, Nullable: true},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(d *entity.Definition)
	}{
		{"missing name", func(d *entity.Definition) { d.Name = "" }},
		{"bad identifier", func(d *entity.Definition) { d.Columns[1].Name = `doc"; drop` }},
		{"unknown type", func(d *entity.Definition) { d.Columns[1].Type = "blob" }},
		{"duplicate column", func(d *entity.Definition) { d.Columns[1].Name = "id" }},
		{"missing primary key", func(d *entity.Definition) { d.PrimaryKey = "uid" }},
		{"hidden primary key", func(d *entity.Definition) { d.Columns[0].Hidden = true }},
		{"schema on non json column", func(d *entity.Definition) {
			d.Columns[0].Schema = map[string]any{"type": "integer"}
		}},
		{"relation with unknown local key", func(d *entity.Definition) {
			d.Relations = []entity.Relation{{Name: "rel", Target: "other", Cardinality: entity.One, LocalKey: "nope", ForeignKey: "id"}}
		}},
		{"relation shadows column", func(d *entity.Definition) {
			d.Relations = []entity.Relation{{Name: "doc", Target: "other", Cardinality: entity.One, LocalKey: "id", ForeignKey: "id"}}
		}},
		{"bad cardinality", func(d *entity.Definition) {
			d.Relations = []entity.Relation{{Name: "rel", Target: "other", Cardinality: "some", LocalKey: "id", ForeignKey: "id"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(&def)
			_, err := entity.New(def)
			assert.Error(t, err)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := entitytest.Registry()
	assert.Equal(t, []string{"categories", "products", "reviews"}, r.Names())

	e, ok := r.Get("reviews")
	require.True(t, ok)
	assert.Equal(t, entity.UUID, mustColumn(t, e, "id").Type)

	assert.Error(t, r.Register(entitytest.Products()))
}

func TestRegistry_ValidateRelations(t *testing.T) {
	_, err := entity.NewRegistryFromDefinitions([]entity.Definition{entitytest.ProductsDefinition()})
	assert.ErrorContains(t, err, "unknown entity")

	reviews := entitytest.ReviewsDefinition()
	reviews.Columns = reviews.Columns[:1]
	reviews.Columns = append(reviews.Columns, entity.Column{Name: "rating", Type: entity.Integer})
	reviews.Relations = nil
	_, err = entity.NewRegistryFromDefinitions([]entity.Definition{
		entitytest.ProductsDefinition(),
		entitytest.CategoriesDefinition(),
		reviews,
	})
	assert.ErrorContains(t, err, "non-existent foreign key")
}

func mustColumn(t *testing.T, e *entity.Entity, name string) entity.Column {
	t.Helper()
	col, ok := e.Column(name)
	require.True(t, ok)
	return col
}
