package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity/entitytest"
)

func TestParseIsolationLevel(t *testing.T) {
	tests := map[string]IsolationLevel{
		"":                DefaultIsolation,
		"read-committed":  ReadCommitted,
		"READ COMMITTED":  ReadCommitted,
		"repeatable_read": RepeatableRead,
		" Serializable ":  Serializable,
	}
	for in, want := range tests {
		got, err := ParseIsolationLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIsolationLevel("snapshot")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRow_Clone(t *testing.T) {
	row := Row{"id": int64(1), "meta": map[string]any{"a": []any{"x"}}}
	clone := row.Clone()
	clone["meta"].(map[string]any)["a"].([]any)[0] = "y"
	clone["id"] = int64(2)

	assert.Equal(t, Row{"id": int64(1), "meta": map[string]any{"a": []any{"x"}}}, row)
	assert.Nil(t, Row(nil).Clone())
}

func TestQuery_String(t *testing.T) {
	limit := 5
	q := Query{Entity: entitytest.Products(), Order: []Order{{Column: "price", Desc: true}}, Limit: &limit, Skip: 2}
	assert.Equal(t, "products order=[price DESC] limit=5 skip=2", q.String())
}
