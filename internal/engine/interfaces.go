package engine

import (
	"context"

	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/mutation"
	"github.com/nrjais/reposql/internal/predicate"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Executor runs compiled statements. Values are always passed as data; no
// implementation formats caller input into statement text.
type Executor interface {
	Find(ctx context.Context, q Query) ([]Row, error)
	Count(ctx context.Context, e *entity.Entity, where predicate.Predicate) (int64, error)
	// Insert stores rows and returns them as stored, including generated keys.
	Insert(ctx context.Context, e *entity.Entity, rows []Row) ([]Row, error)
	// Update applies changes to every row matching where and returns the rows
	// as they are after the update. A patched document that no longer matches
	// its column schema fails the call with a validation error and leaves the
	// rows unchanged.
	Update(ctx context.Context, e *entity.Entity, where predicate.Predicate, changes *mutation.Changes) ([]Row, error)
	// Delete removes every row matching where and returns the removed rows.
	Delete(ctx context.Context, e *entity.Entity, where predicate.Predicate) ([]Row, error)
}

// Tx is an engine transaction. Commit and Rollback are called at most once.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Engine is a storage backend. Calls made directly on it run in their own
// implicit transaction.
type Engine interface {
	Executor
	Begin(ctx context.Context, level IsolationLevel) (Tx, error)
	Close()
}
