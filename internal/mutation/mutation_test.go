package mutation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/entity/entitytest"
	"github.com/nrjais/reposql/internal/jsonpath"
)

func TestBuildPatch(t *testing.T) {
	e := entitytest.Products()

	p, err := BuildPatch("meta", "a.b[2]", "x", e)
	require.NoError(t, err)
	assert.Equal(t, "meta", p.Column)
	assert.Equal(t, []Op{{Path: jsonpath.Path{{Key: "a"}, {Key: "b"}, {Index: 2, IsIndex: true}}, Value: "x"}}, p.Ops)

	_, err = BuildPatch("name", "a", 1, e)
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)

	_, err = BuildPatch("nope", "a", 1, e)
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)

	_, err = BuildPatch("meta", "a;drop", 1, e)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	_, err = BuildPatch("meta", "", 1, e)
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	p, err = BuildPatch("meta", "[1].name", "x", e)
	require.NoError(t, err)
	assert.Equal(t, jsonpath.Path{{Index: 1, IsIndex: true}, {Key: "name"}}, p.Ops[0].Path)
}

func TestPatch_ApplyComposesLeftToRight(t *testing.T) {
	e := entitytest.Products()
	p, err := BuildPatch("meta", "a.b.c", int64(1), e)
	require.NoError(t, err)
	second, err := BuildPatch("meta", "a.b.d", nil, e)
	require.NoError(t, err)
	third, err := BuildPatch("meta", "a.b.c", int64(2), e)
	require.NoError(t, err)
	p.Merge(second)
	p.Merge(third)

	doc := map[string]any{"keep": "me", "a": map[string]any{"sibling": true}}
	before, err := json.Marshal(doc)
	require.NoError(t, err)

	out, err := p.Apply(doc)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"keep": "me",
		"a": map[string]any{
			"sibling": true,
			"b":       map[string]any{"c": int64(2), "d": nil},
		},
	}, out)

	after, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestPatch_ApplyToEmptyDocument(t *testing.T) {
	e := entitytest.Products()
	p, err := BuildPatch("meta", "a.b.c", "v", e)
	require.NoError(t, err)

	out, err := p.Apply(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": "v"}}}, out)

	out, err = p.Apply(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": "v"}}}, out)
}

func TestCompile_Update(t *testing.T) {
	e := entitytest.Products()
	data := map[string]any{
		"id":          int64(99),
		"name":        "Renamed",
		"price":       json.Number("19.5"),
		"meta.b":      "second",
		"meta.a.deep": int64(1),
		"tags":        []string{"x"},
	}

	changes, err := Compile(data, e, Update)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "Renamed", "price": 19.5, "tags": []any{"x"}}, changes.Set)
	require.Len(t, changes.Patches, 1)
	assert.Equal(t, "meta", changes.Patches[0].Column)
	assert.Equal(t, []Op{
		{Path: jsonpath.Path{{Key: "a"}, {Key: "deep"}}, Value: int64(1)},
		{Path: jsonpath.Path{{Key: "b"}}, Value: "second"},
	}, changes.Patches[0].Ops)
	assert.Equal(t, []string{"meta", "name", "price", "tags"}, changes.Columns())

	row, err := changes.Apply(map[string]any{"id": int64(1), "name": "old", "meta": map[string]any{"b": "first", "c": "kept"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":    int64(1),
		"name":  "Renamed",
		"price": 19.5,
		"tags":  []any{"x"},
		"meta":  map[string]any{"a": map[string]any{"deep": int64(1)}, "b": "second", "c": "kept"},
	}, row)
}

func TestCompile_WholeColumnAndPathFold(t *testing.T) {
	e := entitytest.Products()
	changes, err := Compile(map[string]any{
		"meta":   map[string]any{"a": int64(1)},
		"meta.b": "x",
	}, e, Update)
	require.NoError(t, err)

	assert.Empty(t, changes.Patches)
	assert.Equal(t, map[string]any{"a": int64(1), "b": "x"}, changes.Set["meta"])
}

func TestCompile_Create(t *testing.T) {
	e := entitytest.Products()
	changes, err := Compile(map[string]any{
		"name":           "New",
		"meta.size.w":    int64(3),
		"createdAt":      "2024-05-01T00:00:00Z",
		"meta.size.h":    nil,
		"secret":         "hidden values are writable",
		"categoryId":     nil,
		"modifiedBy":     "u1",
		"meta.labels":    []any{"a"},
		"meta.labels[1]": "b",
	}, e, Create)
	require.NoError(t, err)

	assert.Empty(t, changes.Patches)
	assert.Equal(t, map[string]any{
		"labels": []any{"a", "b"},
		"size":   map[string]any{"w": int64(3), "h": nil},
	}, changes.Set["meta"])
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), changes.Set["createdAt"])
	assert.Nil(t, changes.Set["categoryId"])
	assert.Contains(t, changes.Set, "categoryId")
}

func TestCompile_DoesNotMutatePayload(t *testing.T) {
	e := entitytest.Products()
	meta := map[string]any{"n": json.Number("1")}
	data := map[string]any{"name": "x", "meta": meta, "meta.k": "v"}

	_, err := Compile(data, e, Update)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": json.Number("1")}, meta)
	assert.Len(t, data, 3)
}

func TestCompile_Errors(t *testing.T) {
	e := entitytest.Products()
	tests := []struct {
		name string
		data map[string]any
		mode Mode
		kind error
	}{
		{"unknown column", map[string]any{"nope": 1}, Update, apperr.ErrUnknownColumn},
		{"relation key", map[string]any{"reviews": []any{}}, Update, apperr.ErrUnknownColumn},
		{"prototype key", map[string]any{"__proto__": map[string]any{}}, Update, apperr.ErrUnknownColumn},
		{"path on text column", map[string]any{"name.first": "x"}, Update, apperr.ErrUnknownColumn},
		{"bad path", map[string]any{"meta.a b": 1}, Update, apperr.ErrInvalidPath},
		{"null into non nullable", map[string]any{"name": nil}, Update, apperr.ErrValidation},
		{"wrong type", map[string]any{"price": "cheap"}, Update, apperr.ErrValidation},
		{"missing required on create", map[string]any{"price": 1.0}, Create, apperr.ErrValidation},
		{"key on array", map[string]any{"meta": map[string]any{"a": []any{}}, "meta.a.x": 1}, Update, apperr.ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.data, e, tt.mode)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestCompile_JSONSchema(t *testing.T) {
	e := entity.MustNew(entity.Definition{
		Name:       "devices",
		PrimaryKey: "id",
		Columns: []entity.Column{
			{Name: "id", Type: entity.Integer},
			{Name: "datasheet", Type: entity.JSONB, Nullable: true, Schema: map[string]any{
				"type":     "object",
				"required": []any{"model"},
				"properties": map[string]any{
					"model": map[string]any{"type": "string"},
					"ports": map[string]any{"type": "integer", "minimum": 0},
				},
			}},
		},
	})

	_, err := Compile(map[string]any{"datasheet": map[string]any{"model": "x", "ports": int64(2)}}, e, Create)
	assert.NoError(t, err)

	_, err = Compile(map[string]any{"datasheet.model": "x", "datasheet.ports": int64(-1)}, e, Create)
	require.ErrorIs(t, err, apperr.ErrValidation)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "datasheet", appErr.Payload["column"])

	_, err = Compile(map[string]any{"datasheet": map[string]any{"ports": int64(1)}}, e, Update)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// Path writes on update are checked against the patched document.
	changes, err := Compile(map[string]any{"datasheet.ports": int64(-1)}, e, Update)
	require.NoError(t, err)
	require.Len(t, changes.Patches, 1)
	assert.True(t, changes.SchemaChecked(e))

	stored := map[string]any{"id": int64(1), "datasheet": map[string]any{"model": "x", "ports": int64(4)}}
	patched, err := changes.Apply(stored)
	require.NoError(t, err)
	err = changes.Validate(e, patched)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "datasheet", appErr.Payload["column"])

	changes, err = Compile(map[string]any{"datasheet.ports": int64(8)}, e, Update)
	require.NoError(t, err)
	patched, err = changes.Apply(stored)
	require.NoError(t, err)
	assert.NoError(t, changes.Validate(e, patched))

	plain, err := Compile(map[string]any{"meta.a": int64(1)}, entitytest.Products(), Update)
	require.NoError(t, err)
	assert.False(t, plain.SchemaChecked(entitytest.Products()))
}
