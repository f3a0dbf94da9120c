package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/mutation"
	"github.com/nrjais/reposql/internal/predicate"
	"github.com/nrjais/reposql/internal/projection"
)

// creation stamps audit fields, fills a missing uuid primary key and
// compiles data for insertion.
func (r *Repository) creation(ctx context.Context, data Row) (engine.Row, error) {
	stamped := r.ds.audit.OnCreate(ctx, r.entity, data)
	pk, _ := r.entity.Column(r.entity.PrimaryKey())
	if pk.Type == entity.UUID && stamped[pk.Name] == nil {
		stamped[pk.Name] = uuid.NewString()
	}
	changes, err := mutation.Compile(stamped, r.entity, mutation.Create)
	if err != nil {
		return nil, err
	}
	return changes.Set, nil
}

func (r *Repository) modification(ctx context.Context, data Row) (*mutation.Changes, error) {
	return mutation.Compile(r.ds.audit.OnUpdate(ctx, r.entity, data), r.entity, mutation.Update)
}

func (r *Repository) visible(rows []engine.Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = projection.StripHidden(row, r.entity)
	}
	return out
}

func (r *Repository) first(rows []engine.Row) Row {
	if len(rows) == 0 {
		return nil
	}
	return projection.StripHidden(rows[0], r.entity)
}

// byID compiles the primary key match merged with the default filter.
func (r *Repository) byID(id any, o options) (predicate.Predicate, error) {
	cond, err := r.idCondition(id)
	if err != nil {
		return nil, err
	}
	return r.whereFor(cond, o)
}

// Create inserts one row and returns it as stored.
func (r *Repository) Create(ctx context.Context, data Row, opts ...Option) (row Row, err error) {
	start := time.Now()
	defer func() { r.observe("create", start, err) }()

	if data == nil {
		return nil, apperr.Validation("%s: create payload must be an object", r.entity.Name())
	}
	o := collect(opts)
	insert, err := r.creation(ctx, data)
	if err != nil {
		return nil, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		rows, err := x.Insert(ctx, r.entity, []engine.Row{insert})
		row = r.first(rows)
		return err
	})
	return row, err
}

// CreateAll inserts every row or none of them.
func (r *Repository) CreateAll(ctx context.Context, data []Row, opts ...Option) (rows []Row, err error) {
	start := time.Now()
	defer func() { r.observe("createAll", start, err) }()

	if len(data) == 0 {
		return []Row{}, nil
	}
	o := collect(opts)
	inserts := make([]engine.Row, len(data))
	for i, d := range data {
		if d == nil {
			return nil, apperr.Validation("%s: create payload %d must be an object", r.entity.Name(), i)
		}
		if inserts[i], err = r.creation(ctx, d); err != nil {
			return nil, err
		}
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		stored, err := x.Insert(ctx, r.entity, inserts)
		rows = r.visible(stored)
		return err
	})
	return rows, err
}

// UpdateByID applies data to the row with primary key id. A row hidden by
// the default filter is not updated and the result count is zero.
func (r *Repository) UpdateByID(ctx context.Context, id any, data Row, opts ...Option) (res ByIDResult, err error) {
	start := time.Now()
	defer func() { r.observe("updateById", start, err) }()

	o := collect(opts)
	where, err := r.byID(id, o)
	if err != nil {
		return ByIDResult{}, err
	}
	changes, err := r.modification(ctx, data)
	if err != nil {
		return ByIDResult{}, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		rows, err := x.Update(ctx, r.entity, where, changes)
		res = ByIDResult{Count: int64(len(rows)), Data: r.first(rows)}
		return err
	})
	return res, err
}

// UpdateAll applies data to every row matching where.
func (r *Repository) UpdateAll(ctx context.Context, where filter.Condition, data Row, opts ...Option) (res BulkResult, err error) {
	start := time.Now()
	defer func() { r.observe("updateAll", start, err) }()

	o := collect(opts)
	pred, err := r.whereFor(where, o)
	if err != nil {
		return BulkResult{}, err
	}
	changes, err := r.modification(ctx, data)
	if err != nil {
		return BulkResult{}, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		rows, err := x.Update(ctx, r.entity, pred, changes)
		res = r.bulk(rows, o)
		return err
	})
	return res, err
}

// DeleteByID removes the row with primary key id and returns it.
func (r *Repository) DeleteByID(ctx context.Context, id any, opts ...Option) (res ByIDResult, err error) {
	start := time.Now()
	defer func() { r.observe("deleteById", start, err) }()

	o := collect(opts)
	where, err := r.byID(id, o)
	if err != nil {
		return ByIDResult{}, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		rows, err := x.Delete(ctx, r.entity, where)
		res = ByIDResult{Count: int64(len(rows)), Data: r.first(rows)}
		return err
	})
	return res, err
}

// DeleteAll removes every row matching where.
func (r *Repository) DeleteAll(ctx context.Context, where filter.Condition, opts ...Option) (res BulkResult, err error) {
	start := time.Now()
	defer func() { r.observe("deleteAll", start, err) }()

	o := collect(opts)
	pred, err := r.whereFor(where, o)
	if err != nil {
		return BulkResult{}, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		rows, err := x.Delete(ctx, r.entity, pred)
		res = r.bulk(rows, o)
		return err
	})
	return res, err
}

func (r *Repository) bulk(rows []engine.Row, o options) BulkResult {
	res := BulkResult{Count: int64(len(rows))}
	if o.returning {
		res.Data = r.visible(rows)
	}
	return res
}

// UpsertWith updates the first row matching where, or creates one from data
// when nothing matches. Both steps run in one transaction.
func (r *Repository) UpsertWith(ctx context.Context, data Row, where filter.Condition, opts ...Option) (row Row, err error) {
	start := time.Now()
	defer func() { r.observe("upsertWith", start, err) }()

	o := collect(opts)
	pred, err := r.whereFor(where, o)
	if err != nil {
		return nil, err
	}
	changes, err := r.modification(ctx, data)
	if err != nil {
		return nil, err
	}

	err = r.atomic(ctx, o, func(x engine.Executor) error {
		found, err := x.Find(ctx, engine.Query{Entity: r.entity, Where: pred, Limit: filter.IntPtr(1)})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			insert, err := r.creation(ctx, data)
			if err != nil {
				return err
			}
			rows, err := x.Insert(ctx, r.entity, []engine.Row{insert})
			row = r.first(rows)
			return err
		}

		pk := r.entity.PrimaryKey()
		target, err := predicate.Compile(filter.Eq(pk, found[0][pk]), r.entity)
		if err != nil {
			return err
		}
		rows, err := x.Update(ctx, r.entity, target, changes)
		row = r.first(rows)
		return err
	})
	return row, err
}
