package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity/entitytest"
	"github.com/nrjais/reposql/internal/filter"
)

func TestResolve(t *testing.T) {
	e := entitytest.Products()
	visible := e.VisibleColumnNames()

	tests := []struct {
		name   string
		fields *filter.Fields
		want   []string
	}{
		{"nil selects visible", nil, visible},
		{"empty list selects visible", &filter.Fields{List: []string{}}, visible},
		{"list keeps declaration order", &filter.Fields{List: []string{"price", "id"}}, []string{"id", "price"}},
		{"hidden requested by list", &filter.Fields{List: []string{"id", "secret"}}, []string{"id"}},
		{"map true entries", &filter.Fields{Map: map[string]bool{"price": true, "id": true, "name": false}}, []string{"id", "price"}},
		{"map without true selects visible", &filter.Fields{Map: map[string]bool{"price": false}}, visible},
		{"hidden requested by map", &filter.Fields{Map: map[string]bool{"secret": true}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(tt.fields, e)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Columns())
		})
	}
}

func TestResolve_UnknownColumn(t *testing.T) {
	e := entitytest.Products()
	_, err := Resolve(&filter.Fields{List: []string{"id", "nope"}}, e)
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)

	_, err = Resolve(&filter.Fields{Map: map[string]bool{"__proto__": false}}, e)
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
}

func TestApply_NeverOutputsHidden(t *testing.T) {
	e := entitytest.Products()
	row := entitytest.ProductRows()[0]
	row["reviews"] = []map[string]any{}

	for _, fields := range []*filter.Fields{
		nil,
		{List: []string{"secret"}},
		{List: []string{"id", "secret", "name"}},
		{Map: map[string]bool{"secret": true}},
		{Map: map[string]bool{"secret": false}},
	} {
		p, err := Resolve(fields, e)
		require.NoError(t, err)
		out := p.Apply(row)
		assert.NotContains(t, out, "secret")
		assert.Contains(t, out, "reviews")
	}
	assert.Equal(t, "s1", row["secret"])
}

func TestApply_ListAndMapFormsMatch(t *testing.T) {
	e := entitytest.Products()
	row := entitytest.ProductRows()[2]

	list, err := Resolve(&filter.Fields{List: []string{"name", "id", "tags"}}, e)
	require.NoError(t, err)
	byMap, err := Resolve(&filter.Fields{Map: map[string]bool{"tags": true, "id": true, "name": true, "price": false}}, e)
	require.NoError(t, err)

	fromList, fromMap := list.Apply(row), byMap.Apply(row)
	assert.Equal(t, fromList, fromMap)
	assert.Equal(t, map[string]any{"id": int64(3), "name": "Gaming Headset", "tags": []any{"audio", "gaming"}}, fromList)
}

func TestStripHidden(t *testing.T) {
	e := entitytest.Products()
	out := StripHidden(map[string]any{"id": int64(1), "secret": "x", "category": nil}, e)
	assert.Equal(t, map[string]any{"id": int64(1), "category": nil}, out)
	assert.Nil(t, StripHidden(nil, e))
}
