package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/audit"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/engine/memstore"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/entity/entitytest"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/predicate"
)

// seed loads the catalogue fixtures, parents before children.
func seed(t *testing.T, x engine.Executor, registry *entity.Registry) {
	t.Helper()
	ctx := context.Background()
	fixtures := []struct {
		name string
		rows []map[string]any
	}{
		{"categories", entitytest.CategoryRows()},
		{"products", entitytest.ProductRows()},
		{"reviews", entitytest.ReviewRows()},
	}
	for _, f := range fixtures {
		e, ok := registry.Get(f.name)
		require.True(t, ok)
		batch := make([]engine.Row, len(f.rows))
		for i, row := range f.rows {
			batch[i] = row
		}
		_, err := x.Insert(ctx, e, batch)
		require.NoError(t, err)
	}
}

func newDatasource(t *testing.T, opts ...DatasourceOption) *Datasource {
	t.Helper()
	store := memstore.New()
	ds := NewDatasource(store, entitytest.Registry(), opts...)
	seed(t, store, ds.Registry())
	t.Cleanup(func() { ds.Close(context.Background()) })
	return ds
}

func mustParse(t *testing.T, js string) *filter.Filter {
	t.Helper()
	f, err := filter.Parse([]byte(js))
	require.NoError(t, err)
	return f
}

func column(rows []Row, name string) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[name]
	}
	return out
}

func TestFind_BetweenAndContainsOrderedByPrice(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")

	rows, err := products.Find(context.Background(), mustParse(t, `{
		"where": {"price": {"between": [100, 1000]}, "tags": {"contains": ["gaming"]}},
		"order": "price DESC"
	}`))
	require.NoError(t, err)
	assert.Equal(t, []any{800.0, 350.0}, column(rows, "price"))
}

func TestCount_EmptyLists(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	res, err := products.Count(ctx, filter.Where("id", filter.OpIn, []any{}))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Count)

	res, err = products.Count(ctx, filter.Where("id", filter.OpNin, []any{}))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Count)

	exists, err := products.ExistsWith(ctx, filter.Eq("name", "Office Chair"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = products.ExistsWith(ctx, filter.Eq("name", "'; DROP TABLE products; --"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFindOneAndFindByID(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	row, err := products.FindOne(ctx, mustParse(t, `{"where": {"price": {"lt": 100}}}`))
	require.NoError(t, err)
	assert.Equal(t, "Mouse Pad", row["name"])

	row, err = products.FindOne(ctx, mustParse(t, `{"where": {"price": {"gt": 5000}}}`))
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = products.FindByID(ctx, 3, mustParse(t, `{"fields": ["name"]}`))
	require.NoError(t, err)
	assert.Equal(t, Row{"name": "Gaming Headset"}, row)

	row, err = products.FindByID(ctx, "3", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), row["id"])

	row, err = products.FindByID(ctx, 42, nil)
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = products.FindByID(ctx, "abc", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHiddenColumnsNeverLeave(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	assertNoSecret := func(t *testing.T, rows ...Row) {
		t.Helper()
		for _, row := range rows {
			assert.NotContains(t, row, "secret")
		}
	}

	rows, err := products.Find(ctx, mustParse(t, `{"fields": ["name", "secret"], "where": {"secret": "s1"}}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"name": "Gaming Laptop"}, rows[0])

	rows, err = products.Find(ctx, mustParse(t, `{"fields": {"secret": true}}`))
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Empty(t, rows[0])

	one, err := products.FindOne(ctx, nil)
	require.NoError(t, err)
	byID, err := products.FindByID(ctx, 2, nil)
	require.NoError(t, err)
	created, err := products.Create(ctx, Row{"name": "Webcam", "secret": "s6"})
	require.NoError(t, err)
	updated, err := products.UpdateByID(ctx, created["id"], Row{"secret": "s7"})
	require.NoError(t, err)
	bulk, err := products.UpdateAll(ctx, filter.Eq("secret", "s7"), Row{"status": "draft"}, Returning())
	require.NoError(t, err)
	deleted, err := products.DeleteByID(ctx, created["id"])
	require.NoError(t, err)

	assertNoSecret(t, one, byID, created, updated.Data, deleted.Data)
	assertNoSecret(t, bulk.Data...)
	assert.Equal(t, int64(1), bulk.Count)

	reviews, err := ds.MustRepository("reviews").Find(ctx, mustParse(t, `{"where": {"reviewerEmail": {"like": "%@example.com"}}}`))
	require.NoError(t, err)
	require.Len(t, reviews, 4)
	for _, r := range reviews {
		assert.NotContains(t, r, "reviewerEmail")
	}
}

func TestTransaction_RollbackDiscardsCreates(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	tx, err := ds.BeginTransaction(ctx, engine.DefaultIsolation)
	require.NoError(t, err)
	_, err = products.Create(ctx, Row{"name": "Draft A"}, WithTransaction(tx))
	require.NoError(t, err)
	_, err = products.Create(ctx, Row{"name": "Draft B"}, WithTransaction(tx))
	require.NoError(t, err)

	inside, err := products.Count(ctx, nil, WithTransaction(tx))
	require.NoError(t, err)
	assert.Equal(t, int64(7), inside.Count)

	require.NoError(t, tx.Rollback(ctx))

	rows, err := products.Find(ctx, mustParse(t, `{"where": {"name": {"inq": ["Draft A", "Draft B"]}}}`), SkipDefaultFilter())
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = products.Find(ctx, nil, WithTransaction(tx))
	assert.ErrorIs(t, err, apperr.ErrInactiveTransaction)
}

func TestTransaction_SharedAcrossRepositories(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	reviews := ds.MustRepository("reviews")
	ctx := context.Background()

	tx, err := products.BeginTransaction(ctx, engine.RepeatableRead)
	require.NoError(t, err)
	product, err := products.Create(ctx, Row{"name": "Keyboard"}, WithTransaction(tx))
	require.NoError(t, err)
	review, err := reviews.Create(ctx, Row{"productId": product["id"], "rating": 5}, WithTransaction(tx))
	require.NoError(t, err)
	assert.Len(t, review["id"], 36)

	row, err := products.FindByID(ctx, product["id"], nil)
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, tx.Commit(ctx))
	row, err = products.FindByID(ctx, product["id"], mustParse(t, `{"include": ["reviews"]}`))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Len(t, row["reviews"], 1)

	_, err = products.Create(ctx, Row{"name": "Late"}, WithTransaction(tx))
	assert.ErrorIs(t, err, apperr.ErrInactiveTransaction)
}

func TestTransaction_ReadCommittedPatchesCompose(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	first, err := ds.BeginTransaction(ctx, engine.ReadCommitted)
	require.NoError(t, err)
	second, err := ds.BeginTransaction(ctx, engine.ReadCommitted)
	require.NoError(t, err)

	_, err = products.UpdateByID(ctx, 2, Row{"meta.a": "one"}, WithTransaction(first))
	require.NoError(t, err)
	_, err = products.UpdateByID(ctx, 2, Row{"meta.b": "two"}, WithTransaction(second))
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	require.NoError(t, second.Commit(ctx))

	row, err := products.FindByID(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"brand": "Pads", "a": "one", "b": "two"}, row["meta"])
}

func TestTransaction_RepeatableReadConflict(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	first, err := ds.BeginTransaction(ctx, engine.RepeatableRead)
	require.NoError(t, err)
	second, err := ds.BeginTransaction(ctx, engine.RepeatableRead)
	require.NoError(t, err)

	_, err = products.UpdateByID(ctx, 2, Row{"meta.a": "one"}, WithTransaction(first))
	require.NoError(t, err)
	_, err = products.UpdateByID(ctx, 2, Row{"meta.b": "two"}, WithTransaction(second))
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	assert.ErrorIs(t, second.Commit(ctx), apperr.ErrTransactionConflict)

	_, err = products.Count(ctx, nil, WithTransaction(second))
	assert.ErrorIs(t, err, apperr.ErrInactiveTransaction)

	row, err := products.FindByID(ctx, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"brand": "Pads", "a": "one"}, row["meta"])
}

func TestUpdateByID_ConcurrentPatchesKeepSiblings(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	const writers = 16
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			_, err := products.UpdateByID(ctx, 2, Row{fmt.Sprintf("meta.k%d", i): int64(i)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	row, err := products.FindByID(ctx, 2, nil)
	require.NoError(t, err)
	meta := row["meta"].(map[string]any)
	assert.Equal(t, "Pads", meta["brand"])
	for i := range writers {
		assert.Equal(t, int64(i), meta[fmt.Sprintf("k%d", i)])
	}
}

func TestAudit_UpdateNeverChangesCreator(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ds := newDatasource(t, WithAudit(audit.NewInjector(audit.WithClock(func() time.Time { return fixed }))))
	products := ds.MustRepository("products")

	created, err := products.Create(audit.WithIdentity(context.Background(), "alice"), Row{"name": "Lamp"})
	require.NoError(t, err)
	assert.Equal(t, "alice", created["createdBy"])
	assert.Equal(t, "alice", created["modifiedBy"])
	assert.Equal(t, fixed, created["createdAt"])

	bob := audit.WithIdentity(context.Background(), "bob")
	res, err := products.UpdateByID(bob, created["id"], Row{"createdBy": "mallory", "createdAt": "2000-01-01T00:00:00Z", "price": 40})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, "alice", res.Data["createdBy"])
	assert.Equal(t, "bob", res.Data["modifiedBy"])
	assert.Equal(t, fixed, res.Data["createdAt"])
	assert.Equal(t, 40.0, res.Data["price"])

	anonymous, err := products.Create(context.Background(), Row{"name": "Rug"})
	require.NoError(t, err)
	assert.Nil(t, anonymous["createdBy"])
	assert.Nil(t, anonymous["modifiedBy"])

	explicit, err := products.Create(bob, Row{"name": "Vase", "createdBy": "importer"})
	require.NoError(t, err)
	assert.Equal(t, "importer", explicit["createdBy"])
	assert.Equal(t, "bob", explicit["modifiedBy"])
}

func TestJSONPath_RoundTrip(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	_, err := products.UpdateByID(ctx, 1, Row{"meta.specs.ram": int64(64), "meta.specs.gpu": "rtx"})
	require.NoError(t, err)
	row, err := products.FindByID(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"brand": "Acme",
		"specs": map[string]any{"ram": int64(64), "gpu": "rtx"},
	}, row["meta"])

	_, err = products.UpdateByID(ctx, 1, Row{"meta.specs.gpu": nil})
	require.NoError(t, err)
	rows, err := products.Find(ctx, &filter.Filter{Where: filter.Where("meta.specs.gpu", filter.OpIs, nil)})
	require.NoError(t, err)
	assert.Contains(t, column(rows, "id"), int64(1))
	row, err = products.FindByID(ctx, 1, nil)
	require.NoError(t, err)
	specs := row["meta"].(map[string]any)["specs"].(map[string]any)
	assert.Contains(t, specs, "gpu")
	assert.Nil(t, specs["gpu"])
	assert.Equal(t, int64(64), specs["ram"])

	_, err = products.UpdateByID(ctx, 4, Row{"meta.brand": "Sitwell"})
	require.NoError(t, err)
	row, err = products.FindByID(ctx, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"brand": "Sitwell"}, row["meta"])

	_, err = products.UpdateByID(ctx, 1, Row{"name.first": "x"})
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
	_, err = products.UpdateByID(ctx, 1, Row{"meta..a": "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
}

func TestInclude_KeepsParentsWithoutChildren(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")

	rows, err := products.Find(context.Background(), mustParse(t, `{
		"include": ["category", {"relation": "reviews", "scope": {"where": {"rating": {"gte": 4}}}}]
	}`))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	byID := make(map[int64]Row)
	for _, row := range rows {
		byID[row["id"].(int64)] = row
	}

	assert.Equal(t, "Computers", byID[1]["category"].(Row)["name"])
	assert.Nil(t, byID[4]["category"])
	assert.Len(t, byID[1]["reviews"], 1)
	assert.Equal(t, []Row{}, byID[2]["reviews"])
	assert.Equal(t, []Row{}, byID[5]["reviews"])
	for _, review := range byID[1]["reviews"].([]Row) {
		assert.NotContains(t, review, "reviewerEmail")
	}
}

func TestInclude_ScopeLimitAppliesPerParent(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")

	rows, err := products.Find(context.Background(), mustParse(t, `{
		"where": {"id": {"inq": [1, 3, 5]}},
		"order": "id",
		"include": [{"relation": "reviews", "scope": {"order": "rating ASC", "limit": 1, "fields": ["rating"]}}]
	}`))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []Row{{"rating": int64(3)}}, rows[0]["reviews"])
	assert.Equal(t, []Row{{"rating": int64(4)}}, rows[1]["reviews"])
	assert.Equal(t, []Row{{"rating": int64(1)}}, rows[2]["reviews"])
}

func TestInclude_Nested(t *testing.T) {
	ds := newDatasource(t, WithIncludeConcurrency(2))
	categories := ds.MustRepository("categories")

	row, err := categories.FindByID(context.Background(), 1, mustParse(t, `{
		"fields": ["name"],
		"include": [
			"children",
			{"relation": "products", "scope": {"order": "price DESC", "include": ["reviews"]}}
		]
	}`))
	require.NoError(t, err)
	require.NotNil(t, row)

	assert.Equal(t, "Computers", row["name"])
	assert.NotContains(t, row, "id")
	children := row["children"].([]Row)
	require.Len(t, children, 1)
	assert.Equal(t, "Accessories", children[0]["name"])

	items := row["products"].([]Row)
	require.Len(t, items, 2)
	assert.Equal(t, []any{"Gaming Laptop", "Gaming Monitor"}, column(items, "name"))
	assert.Len(t, items[0]["reviews"], 2)
	assert.Len(t, items[1]["reviews"], 1)
}

// beginHook records the level of every Begin and runs after once the
// transaction is open.
type beginHook struct {
	engine.Engine
	levels []engine.IsolationLevel
	after  func()
}

func (h *beginHook) Begin(ctx context.Context, level engine.IsolationLevel) (engine.Tx, error) {
	tx, err := h.Engine.Begin(ctx, level)
	h.levels = append(h.levels, level)
	if err == nil && h.after != nil {
		h.after()
	}
	return tx, err
}

func TestInclude_ReadsOneSnapshot(t *testing.T) {
	store := memstore.New()
	hook := &beginHook{Engine: store}
	ds := NewDatasource(hook, entitytest.Registry())
	seed(t, store, ds.Registry())
	t.Cleanup(func() { ds.Close(context.Background()) })

	products := ds.MustRepository("products")
	reviews, _ := ds.Registry().Get("reviews")
	ctx := context.Background()

	hook.after = func() {
		_, err := store.Delete(ctx, reviews, predicate.Always)
		require.NoError(t, err)
	}
	rows, err := products.Find(ctx, mustParse(t, `{"where": {"id": 1}, "include": ["reviews"]}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0]["reviews"], 2)
	assert.Equal(t, []engine.IsolationLevel{engine.RepeatableRead}, hook.levels)

	hook.after = nil
	n, err := ds.MustRepository("reviews").Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n.Count)

	_, err = products.Find(ctx, mustParse(t, `{"where": {"id": 1}}`))
	require.NoError(t, err)
	assert.Len(t, hook.levels, 1)
}

func TestInclude_UnknownRelation(t *testing.T) {
	ds := newDatasource(t)
	_, err := ds.MustRepository("products").Find(context.Background(), mustParse(t, `{"include": ["owner"]}`))
	assert.ErrorIs(t, err, apperr.ErrUnknownRelation)

	_, err = ds.MustRepository("products").Find(context.Background(), mustParse(t, `{"include": [{"relation": "reviews", "scope": {"include": ["nope"]}}]}`))
	assert.ErrorIs(t, err, apperr.ErrUnknownRelation)
}

func TestDefaultFilter(t *testing.T) {
	ds := newDatasource(t, WithDefaultFilter("products", &filter.Filter{
		Where: filter.Where("status", filter.OpNeq, "archived"),
		Order: []filter.Order{{Column: "price", Direction: filter.Desc}},
	}))
	products := ds.MustRepository("products")
	ctx := context.Background()

	rows, err := products.Find(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1500.0, 350.0, 25.0}, column(rows, "price"))

	rows, err = products.Find(ctx, mustParse(t, `{"order": "price ASC", "where": {"tags": {"contains": ["gaming"]}}}`))
	require.NoError(t, err)
	assert.Equal(t, []any{25.0, 350.0, 1500.0}, column(rows, "price"))

	all, err := products.Count(ctx, nil, SkipDefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(5), all.Count)

	res, err := products.DeleteByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Count)
	assert.Nil(t, res.Data)

	bulk, err := products.UpdateAll(ctx, nil, Row{"status": "reviewed"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), bulk.Count)
	assert.Nil(t, bulk.Data)

	res, err = products.DeleteByID(ctx, 4, SkipDefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, "Office Chair", res.Data["name"])
	assert.Equal(t, filter.Where("status", filter.OpNeq, "archived"), ds.DefaultFilter("products").Where)
}

func TestMaxLimit(t *testing.T) {
	ds := newDatasource(t, WithMaxLimit(2))
	products := ds.MustRepository("products")
	ctx := context.Background()

	rows, err := products.Find(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = products.Find(ctx, mustParse(t, `{"limit": 10, "skip": 3}`))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(4), int64(5)}, column(rows, "id"))
}

func TestFind_RejectsUnknownNames(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	cases := map[string]string{
		"where":  `{"where": {"nope": 1}}`,
		"order":  `{"order": "nope DESC"}`,
		"fields": `{"fields": ["nope"]}`,
		"nested": `{"where": {"or": [{"name": "x"}, {"and": [{"__proto__": 1}]}]}}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := products.Find(ctx, mustParse(t, js))
			assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
		})
	}

	_, err := products.Create(ctx, Row{"name": "x", "colour": "red"})
	assert.ErrorIs(t, err, apperr.ErrUnknownColumn)
	_, err = ds.Repository("owners")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateAll(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	rows, err := products.CreateAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []Row{}, rows)

	rows, err = products.CreateAll(ctx, []Row{{"name": "Cable", "tags": []any{"usb"}}, {"name": "Hub"}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(6), int64(7)}, column(rows, "id"))

	_, err = products.CreateAll(ctx, []Row{{"name": "Fan"}, {"price": 3}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	n, err := products.Count(ctx, filter.Eq("name", "Fan"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n.Count)
}

func TestDeleteAll(t *testing.T) {
	ds := newDatasource(t)
	reviews := ds.MustRepository("reviews")
	ctx := context.Background()

	res, err := reviews.DeleteAll(ctx, filter.Eq("productId", 1), Returning())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)
	assert.Len(t, res.Data, 2)

	left, err := reviews.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left.Count)
}

func TestUpsertWith(t *testing.T) {
	ds := newDatasource(t)
	products := ds.MustRepository("products")
	ctx := context.Background()

	row, err := products.UpsertWith(ctx, Row{"name": "Mouse Pad", "price": 30}, filter.Eq("name", "Mouse Pad"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), row["id"])
	assert.Equal(t, 30.0, row["price"])

	row, err = products.UpsertWith(ctx, Row{"name": "Desk", "price": 210}, filter.Eq("name", "Desk"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), row["id"])

	total, err := products.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total.Count)

	_, err = products.UpsertWith(ctx, Row{"price": 1}, filter.Eq("name", "Stool"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
