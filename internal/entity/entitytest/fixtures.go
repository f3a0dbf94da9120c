// Package entitytest provides entity descriptors shared by tests across packages.
package entitytest

import "github.com/nrjais/reposql/internal/entity"

func ProductsDefinition() entity.Definition {
	return entity.Definition{
		Name:       "products",
		PrimaryKey: "id",
		Columns: []entity.Column{
			{Name: "id", Type: entity.Integer},
			{Name: "name", Type: entity.Text},
			{Name: "price", Type: entity.Number, Nullable: true},
			{Name: "tags", Type: entity.TextArray, Nullable: true},
			{Name: "meta", Type: entity.JSONB, Nullable: true},
			{Name: "categoryId", Type: entity.Integer, Nullable: true},
			{Name: "status", Type: entity.Text, Nullable: true},
			{Name: "secret", Type: entity.Text, Nullable: true, Hidden: true},
			{Name: "createdBy", Type: entity.Text, Nullable: true},
			{Name: "modifiedBy", Type: entity.Text, Nullable: true},
			{Name: "createdAt", Type: entity.Timestamp, Nullable: true},
			{Name: "modifiedAt", Type: entity.Timestamp, Nullable: true},
		},
		Relations: []entity.Relation{
			{Name: "category", Target: "categories", Cardinality: entity.One, LocalKey: "categoryId", ForeignKey: "id"},
			{Name: "reviews", Target: "reviews", Cardinality: entity.Many, LocalKey: "id", ForeignKey: "productId"},
		},
	}
}

func CategoriesDefinition() entity.Definition {
	return entity.Definition{
		Name:       "categories",
		PrimaryKey: "id",
		Columns: []entity.Column{
			{Name: "id", Type: entity.Integer},
			{Name: "name", Type: entity.Text},
			{Name: "parentId", Type: entity.Integer, Nullable: true},
		},
		Relations: []entity.Relation{
			{Name: "products", Target: "products", Cardinality: entity.Many, LocalKey: "id", ForeignKey: "categoryId"},
			{Name: "parent", Target: "categories", Cardinality: entity.One, LocalKey: "parentId", ForeignKey: "id"},
			{Name: "children", Target: "categories", Cardinality: entity.Many, LocalKey: "id", ForeignKey: "parentId"},
		},
	}
}

func ReviewsDefinition() entity.Definition {
	return entity.Definition{
		Name:       "reviews",
		PrimaryKey: "id",
		Columns: []entity.Column{
			{Name: "id", Type: entity.UUID},
			{Name: "productId", Type: entity.Integer},
			{Name: "rating", Type: entity.Integer},
			{Name: "body", Type: entity.Text, Nullable: true},
			{Name: "reviewerEmail", Type: entity.Text, Nullable: true, Hidden: true},
			{Name: "createdBy", Type: entity.Text, Nullable: true},
			{Name: "modifiedBy", Type: entity.Text, Nullable: true},
		},
		Relations: []entity.Relation{
			{Name: "product", Target: "products", Cardinality: entity.One, LocalKey: "productId", ForeignKey: "id"},
		},
	}
}

func Products() *entity.Entity {
	return entity.MustNew(ProductsDefinition())
}

// Registry returns a validated registry holding products, categories and reviews.
func Registry() *entity.Registry {
	r, err := entity.NewRegistryFromDefinitions([]entity.Definition{
		ProductsDefinition(),
		CategoriesDefinition(),
		ReviewsDefinition(),
	})
	if err != nil {
		panic(err)
	}
	return r
}

// ProductRows returns five catalogue rows with distinct prices and tags.
// Each call returns fresh maps.
func ProductRows() []map[string]any {
	return []map[string]any{
		{"id": int64(1), "name": "Gaming Laptop", "price": 1500.0, "tags": []any{"gaming", "laptop"}, "categoryId": int64(1), "status": "active", "secret": "s1",
			"meta": map[string]any{"brand": "Acme", "specs": map[string]any{"ram": int64(32)}}},
		{"id": int64(2), "name": "Mouse Pad", "price": 25.0, "tags": []any{"gaming"}, "categoryId": int64(2), "status": "active", "secret": "s2",
			"meta": map[string]any{"brand": "Pads"}},
		{"id": int64(3), "name": "Gaming Headset", "price": 350.0, "tags": []any{"audio", "gaming"}, "categoryId": int64(2), "status": "active", "secret": "s3",
			"meta": map[string]any{"brand": "Acme", "specs": map[string]any{"wireless": true}}},
		{"id": int64(4), "name": "Office Chair", "price": 120.0, "tags": []any{"office"}, "categoryId": nil, "status": "archived", "secret": "s4",
			"meta": nil},
		{"id": int64(5), "name": "Gaming Monitor", "price": 800.0, "tags": []any{"gaming", "display"}, "categoryId": int64(1), "status": nil, "secret": "s5",
			"meta": map[string]any{"brand": "Viewy", "specs": map[string]any{"ram": nil}}},
	}
}

func CategoryRows() []map[string]any {
	return []map[string]any{
		{"id": int64(1), "name": "Computers", "parentId": nil},
		{"id": int64(2), "name": "Accessories", "parentId": int64(1)},
		{"id": int64(3), "name": "Furniture", "parentId": nil},
	}
}

func ReviewRows() []map[string]any {
	return []map[string]any{
		{"id": "7b0c3a52-8f2e-4f39-9f3a-1b7a3c5d0001", "productId": int64(1), "rating": int64(5), "body": "fast", "reviewerEmail": "a@example.com"},
		{"id": "7b0c3a52-8f2e-4f39-9f3a-1b7a3c5d0002", "productId": int64(1), "rating": int64(3), "body": "loud", "reviewerEmail": "b@example.com"},
		{"id": "7b0c3a52-8f2e-4f39-9f3a-1b7a3c5d0003", "productId": int64(3), "rating": int64(4), "body": nil, "reviewerEmail": "c@example.com"},
		{"id": "7b0c3a52-8f2e-4f39-9f3a-1b7a3c5d0004", "productId": int64(5), "rating": int64(1), "body": "dead pixel", "reviewerEmail": "d@example.com"},
	}
}
