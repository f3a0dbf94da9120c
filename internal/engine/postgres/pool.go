package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	slog.Info("Database connection established", "db", "PostgreSQL")
	return pool, nil
}

// pgxPoolWrapper wraps pgxpool.Pool to implement Pool interface
type pgxPoolWrapper struct {
	*pgxpool.Pool
}

func (p *pgxPoolWrapper) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return p.Pool.Query(ctx, sql, args...)
}

func (p *pgxPoolWrapper) Begin(ctx context.Context, opts pgx.TxOptions) (TxConn, error) {
	tx, err := p.Pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &pgxTxWrapper{Tx: tx}, nil
}

// NewPool creates a Pool wrapper from a pgxpool.Pool
func NewPool(pool *pgxpool.Pool) Pool {
	return &pgxPoolWrapper{Pool: pool}
}

type pgxTxWrapper struct {
	pgx.Tx
}

func (t *pgxTxWrapper) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.Tx.Query(ctx, sql, args...)
}
