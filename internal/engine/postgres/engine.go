// Package postgres runs compiled queries against PostgreSQL through pgx.
// Predicates are lowered to parameterized SQL; jsonb path writes become
// nested jsonb_set expressions evaluated by the server.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/mutation"
	"github.com/nrjais/reposql/internal/predicate"
)

// Engine implements engine.Engine on a connection pool.
type Engine struct {
	executor
	pool Pool
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Tx     = (*Tx)(nil)
)

func New(pool Pool) *Engine {
	e := &Engine{pool: pool}
	e.executor = executor{q: pool, scoped: e.scoped}
	return e
}

// scoped runs fn in its own transaction, rolled back when fn fails.
func (e *Engine) scoped(ctx context.Context, fn func(Querier) ([]engine.Row, error)) ([]engine.Row, error) {
	conn, err := e.pool.Begin(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapError("begin transaction", err)
	}
	rows, err := fn(conn)
	if err != nil {
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			slog.Error("Failed to roll back statement", "error", rbErr)
		}
		return nil, err
	}
	if err := conn.Commit(ctx); err != nil {
		return nil, mapError("commit transaction", err)
	}
	return rows, nil
}

func (e *Engine) Begin(ctx context.Context, level engine.IsolationLevel) (engine.Tx, error) {
	opts := pgx.TxOptions{}
	switch level {
	case engine.ReadCommitted:
		opts.IsoLevel = pgx.ReadCommitted
	case engine.RepeatableRead:
		opts.IsoLevel = pgx.RepeatableRead
	case engine.Serializable:
		opts.IsoLevel = pgx.Serializable
	}
	conn, err := e.pool.Begin(ctx, opts)
	if err != nil {
		return nil, mapError("begin transaction", err)
	}
	t := &Tx{conn: conn}
	t.executor = executor{q: conn, scoped: t.scoped}
	return t, nil
}

func (e *Engine) Close() {
	e.pool.Close()
}

type Tx struct {
	executor
	conn TxConn
}

const savepoint = "reposql_statement"

// scoped runs fn inside a savepoint so a failed statement is undone without
// ending the transaction.
func (t *Tx) scoped(ctx context.Context, fn func(Querier) ([]engine.Row, error)) ([]engine.Row, error) {
	if err := exec(ctx, t.conn, "SAVEPOINT "+savepoint); err != nil {
		return nil, mapError("create savepoint", err)
	}
	rows, err := fn(t.conn)
	if err != nil {
		if rbErr := exec(ctx, t.conn, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return nil, errors.Join(err, mapError("roll back to savepoint", rbErr))
		}
		return nil, err
	}
	if err := exec(ctx, t.conn, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return nil, mapError("release savepoint", err)
	}
	return rows, nil
}

func exec(ctx context.Context, q Querier, sql string) error {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.conn.Commit(ctx); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.conn.Rollback(ctx); err != nil {
		return mapError("rollback transaction", err)
	}
	return nil
}

type executor struct {
	q      Querier
	scoped func(context.Context, func(Querier) ([]engine.Row, error)) ([]engine.Row, error)
}

func (x executor) Find(ctx context.Context, q engine.Query) ([]engine.Row, error) {
	stmt, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	return x.rows(ctx, q.Entity, "select "+q.Entity.Name(), stmt)
}

func (x executor) Count(ctx context.Context, e *entity.Entity, where predicate.Predicate) (int64, error) {
	stmt, err := buildCount(e, where)
	if err != nil {
		return 0, err
	}
	rows, err := x.q.Query(ctx, stmt.String(), stmt.args...)
	if err != nil {
		return 0, mapError("count "+e.Name(), err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return 0, mapError("count "+e.Name(), err)
		}
		if len(vals) > 0 {
			n, _ = vals[0].(int64)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, mapError("count "+e.Name(), err)
	}
	return n, nil
}

func (x executor) Insert(ctx context.Context, e *entity.Entity, rows []engine.Row) ([]engine.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	stmt, err := buildInsert(e, rows)
	if err != nil {
		return nil, err
	}
	return x.rows(ctx, e, "insert into "+e.Name(), stmt)
}

func (x executor) Update(ctx context.Context, e *entity.Entity, where predicate.Predicate, changes *mutation.Changes) ([]engine.Row, error) {
	if changes.IsEmpty() {
		return x.Find(ctx, engine.Query{Entity: e, Where: where})
	}
	stmt, err := buildUpdate(e, where, changes)
	if err != nil {
		return nil, err
	}
	op := "update " + e.Name()
	if !changes.SchemaChecked(e) {
		return x.rows(ctx, e, op, stmt)
	}
	// jsonb_set runs server side, so patched documents are checked against
	// their schema from the returned rows and the statement undone on failure.
	return x.scoped(ctx, func(q Querier) ([]engine.Row, error) {
		rows, err := executor{q: q}.rows(ctx, e, op, stmt)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := changes.Validate(e, row); err != nil {
				return nil, err
			}
		}
		return rows, nil
	})
}

func (x executor) Delete(ctx context.Context, e *entity.Entity, where predicate.Predicate) ([]engine.Row, error) {
	stmt, err := buildDelete(e, where)
	if err != nil {
		return nil, err
	}
	return x.rows(ctx, e, "delete from "+e.Name(), stmt)
}

func (x executor) rows(ctx context.Context, e *entity.Entity, op string, stmt *statement) ([]engine.Row, error) {
	slog.Debug("Executing statement", "op", op, "sql", stmt.String(), "args", len(stmt.args))
	rows, err := x.q.Query(ctx, stmt.String(), stmt.args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []engine.Row{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, mapError(op, err)
		}
		row, err := decodeRow(e, fields, vals)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", e.Name(), err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

// decodeRow maps driver values onto the canonical Go types entity.Coerce
// produces, so rows look the same whichever engine returned them.
func decodeRow(e *entity.Entity, fields []pgconn.FieldDescription, vals []any) (engine.Row, error) {
	row := make(engine.Row, len(fields))
	for i, fd := range fields {
		if i >= len(vals) {
			break
		}
		col, ok := e.Column(fd.Name)
		if !ok {
			continue
		}
		v, err := entity.Coerce(col.Type, driverValue(vals[i]))
		if err != nil {
			return nil, err
		}
		row[fd.Name] = v
	}
	return row, nil
}

func driverValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = driverValue(inner)
		}
		return out
	default:
		return v
	}
}

// mapError translates driver errors into the repository taxonomy.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return apperr.TransactionConflict(err)
		case "23505":
			return apperr.Validation("duplicate key: %s", pgErr.Detail).
				WithPayload("constraint", pgErr.ConstraintName)
		case "23502", "23503", "23514":
			return apperr.Validation("%s", pgErr.Message).
				WithPayload("constraint", pgErr.ConstraintName).
				WithPayload("column", pgErr.ColumnName)
		case "22P02", "22023":
			return apperr.Validation("%s", pgErr.Message)
		case "25P02":
			return apperr.InactiveTransaction("", "aborted")
		}
	}
	if errors.Is(err, pgx.ErrTxClosed) {
		return apperr.InactiveTransaction("", "closed")
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
