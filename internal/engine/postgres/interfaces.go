package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Querier runs a statement and streams its rows. Both the pool and an open
// transaction satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Rows represents query result rows interface
type Rows interface {
	Next() bool
	Values() ([]any, error)
	FieldDescriptions() []pgconn.FieldDescription
	Close()
	Err() error
}

// Pool represents a PostgreSQL connection pool interface
type Pool interface {
	Querier
	Begin(ctx context.Context, opts pgx.TxOptions) (TxConn, error)
	Close()
}

// TxConn is an open database transaction.
type TxConn interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
