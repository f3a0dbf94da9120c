package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/predicate"
	"github.com/nrjais/reposql/internal/projection"
	"github.com/nrjais/reposql/internal/tx"
)

// Row is a record as returned to callers: visible columns plus any included
// relations.
type Row = map[string]any

type CountResult struct {
	Count int64 `json:"count"`
}

// ByIDResult reports a write addressed by primary key. Data is the row after
// an update, or the removed row after a delete; nil when nothing matched.
type ByIDResult struct {
	Count int64 `json:"count"`
	Data  Row   `json:"data"`
}

// BulkResult reports a conditional write. Data is only filled when the call
// asked for it with Returning.
type BulkResult struct {
	Count int64 `json:"count"`
	Data  []Row `json:"data,omitempty"`
}

type Repository struct {
	ds     *Datasource
	entity *entity.Entity
}

func (r *Repository) Entity() *entity.Entity { return r.entity }

// BeginTransaction opens a transaction on the repository's datasource.
func (r *Repository) BeginTransaction(ctx context.Context, level engine.IsolationLevel) (*tx.Transaction, error) {
	return r.ds.BeginTransaction(ctx, level)
}

// observe records the outcome of one operation.
func (r *Repository) observe(op string, start time.Time, err error) {
	r.ds.metrics.ObserveOperation(r.entity.Name(), op, start, err)
	if err != nil {
		slog.Debug("Repository operation failed", "entity", r.entity.Name(), "operation", op, "error", err)
		return
	}
	slog.Debug("Repository operation", "entity", r.entity.Name(), "operation", op, "duration", time.Since(start))
}

// run executes fn on the caller's transaction when one is given and on the
// engine otherwise.
func (r *Repository) run(ctx context.Context, o options, fn func(engine.Executor) error) error {
	if o.tx != nil {
		return o.tx.Use(ctx, fn)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(r.ds.engine)
}

// atomic is run for operations issuing several statements: without a
// caller transaction they get a private one.
func (r *Repository) atomic(ctx context.Context, o options, fn func(engine.Executor) error) error {
	return r.within(ctx, o, engine.DefaultIsolation, fn)
}

// read runs a compiled read. Reads that include relations issue one
// statement per relation, so without a caller transaction they run in a
// private repeatable read one to see a single snapshot.
func (r *Repository) read(ctx context.Context, o options, p *plan, fn func(engine.Executor) error) error {
	if len(p.includes) == 0 {
		return r.run(ctx, o, fn)
	}
	return r.within(ctx, o, engine.RepeatableRead, fn)
}

func (r *Repository) within(ctx context.Context, o options, level engine.IsolationLevel, fn func(engine.Executor) error) error {
	if o.tx != nil {
		return o.tx.Use(ctx, fn)
	}
	etx, err := r.ds.engine.Begin(ctx, level)
	if err != nil {
		return err
	}
	if err := fn(etx); err != nil {
		if rbErr := etx.Rollback(ctx); rbErr != nil {
			slog.Error("Failed to roll back implicit transaction", "entity", r.entity.Name(), "error", rbErr)
		}
		return err
	}
	return etx.Commit(ctx)
}

// effective merges the default filter of e into f unless the call skips it.
func (r *Repository) effective(e *entity.Entity, f *filter.Filter, o options) *filter.Filter {
	if o.skipDefault {
		if f == nil {
			return &filter.Filter{}
		}
		return f.Clone()
	}
	return filter.Merge(f, r.ds.defaults[e.Name()])
}

func (r *Repository) whereFor(where filter.Condition, o options) (predicate.Predicate, error) {
	merged := r.effective(r.entity, &filter.Filter{Where: where}, o)
	return predicate.Compile(merged.Where, r.entity)
}

// plan is a read compiled against one entity.
type plan struct {
	query      engine.Query
	projection *projection.Projection
	includes   []filter.Include
	skip       int
	limit      *int
}

func (r *Repository) compileRead(e *entity.Entity, f *filter.Filter) (*plan, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	pred, err := predicate.Compile(f.Where, e)
	if err != nil {
		return nil, err
	}
	proj, err := projection.Resolve(f.Fields, e)
	if err != nil {
		return nil, err
	}
	order := make([]engine.Order, 0, len(f.Order))
	for _, o := range f.Order {
		if !e.HasColumn(o.Column) {
			return nil, apperr.UnknownColumn(e.Name(), o.Column).WithPayload("reason", "order")
		}
		order = append(order, engine.Order{Column: o.Column, Desc: o.Direction == filter.Desc})
	}
	if err := r.checkIncludes(e, f.Include); err != nil {
		return nil, err
	}

	p := &plan{
		query:      engine.Query{Entity: e, Where: pred, Order: order},
		projection: proj,
		includes:   f.Include,
		limit:      f.Limit,
	}
	if f.Skip != nil {
		p.skip = *f.Skip
	}
	p.limit = r.ds.capLimit(p.limit)
	p.query.Limit = p.limit
	p.query.Skip = p.skip
	return p, nil
}

// checkIncludes resolves every relation name, scopes included, before any
// statement runs.
func (r *Repository) checkIncludes(e *entity.Entity, includes []filter.Include) error {
	for _, inc := range includes {
		rel, ok := e.Relation(inc.Relation)
		if !ok {
			return apperr.UnknownRelation(e.Name(), inc.Relation)
		}
		target, ok := r.ds.registry.Get(rel.Target)
		if !ok {
			return apperr.UnknownRelation(e.Name(), inc.Relation).WithPayload("target", rel.Target)
		}
		if inc.Scope != nil {
			if err := r.checkIncludes(target, inc.Scope.Include); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository) find(ctx context.Context, x engine.Executor, p *plan, o options) ([]Row, error) {
	rows, err := x.Find(ctx, p.query)
	if err != nil {
		return nil, err
	}
	if err := r.include(ctx, x, r.entity, rows, p.includes, o); err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = p.projection.Apply(row)
	}
	return out, nil
}

// Find returns the rows matching f merged with the entity's default filter.
func (r *Repository) Find(ctx context.Context, f *filter.Filter, opts ...Option) (rows []Row, err error) {
	start := time.Now()
	defer func() { r.observe("find", start, err) }()

	o := collect(opts)
	p, err := r.compileRead(r.entity, r.effective(r.entity, f, o))
	if err != nil {
		return nil, err
	}
	err = r.read(ctx, o, p, func(x engine.Executor) error {
		rows, err = r.find(ctx, x, p, o)
		return err
	})
	return rows, err
}

// FindOne returns the first matching row, or nil.
func (r *Repository) FindOne(ctx context.Context, f *filter.Filter, opts ...Option) (row Row, err error) {
	start := time.Now()
	defer func() { r.observe("findOne", start, err) }()

	o := collect(opts)
	merged := r.effective(r.entity, f, o)
	merged.Limit = filter.IntPtr(1)
	p, err := r.compileRead(r.entity, merged)
	if err != nil {
		return nil, err
	}
	err = r.read(ctx, o, p, func(x engine.Executor) error {
		rows, err := r.find(ctx, x, p, o)
		if err == nil && len(rows) > 0 {
			row = rows[0]
		}
		return err
	})
	return row, err
}

// FindByID returns the row with primary key id, or nil. f may narrow the
// match further and select fields or includes.
func (r *Repository) FindByID(ctx context.Context, id any, f *filter.Filter, opts ...Option) (row Row, err error) {
	start := time.Now()
	defer func() { r.observe("findById", start, err) }()

	o := collect(opts)
	byID, err := r.idCondition(id)
	if err != nil {
		return nil, err
	}
	merged := filter.WithWhere(r.effective(r.entity, f, o), byID)
	merged.Limit = filter.IntPtr(1)
	merged.Skip = nil
	p, err := r.compileRead(r.entity, merged)
	if err != nil {
		return nil, err
	}
	err = r.read(ctx, o, p, func(x engine.Executor) error {
		rows, err := r.find(ctx, x, p, o)
		if err == nil && len(rows) > 0 {
			row = rows[0]
		}
		return err
	})
	return row, err
}

// Count returns how many rows match where.
func (r *Repository) Count(ctx context.Context, where filter.Condition, opts ...Option) (res CountResult, err error) {
	start := time.Now()
	defer func() { r.observe("count", start, err) }()

	o := collect(opts)
	pred, err := r.whereFor(where, o)
	if err != nil {
		return CountResult{}, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		res.Count, err = x.Count(ctx, r.entity, pred)
		return err
	})
	return res, err
}

// ExistsWith reports whether any row matches where.
func (r *Repository) ExistsWith(ctx context.Context, where filter.Condition, opts ...Option) (exists bool, err error) {
	start := time.Now()
	defer func() { r.observe("existsWith", start, err) }()

	o := collect(opts)
	pred, err := r.whereFor(where, o)
	if err != nil {
		return false, err
	}
	err = r.run(ctx, o, func(x engine.Executor) error {
		rows, err := x.Find(ctx, engine.Query{Entity: r.entity, Where: pred, Limit: filter.IntPtr(1)})
		exists = len(rows) > 0
		return err
	})
	return exists, err
}

// idCondition validates id against the primary key type.
func (r *Repository) idCondition(id any) (filter.Condition, error) {
	pk, _ := r.entity.Column(r.entity.PrimaryKey())
	if id == nil {
		return nil, apperr.Validation("%s.%s must not be null", r.entity.Name(), pk.Name)
	}
	value, err := entity.Coerce(pk.Type, filter.Normalize(id))
	if err != nil {
		return nil, err
	}
	return filter.Eq(pk.Name, value), nil
}
