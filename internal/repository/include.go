package repository

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
)

// loaded holds the children of one relation grouped by foreign key value.
type loaded struct {
	relation entity.Relation
	groups   map[string][]Row
	skip     int
	limit    *int
}

// include attaches the requested relations to rows in place. Every parent is
// kept: a "many" relation without children becomes an empty list and a
// "one" relation without a match becomes nil. Scope limit and skip apply to
// each parent separately.
func (r *Repository) include(ctx context.Context, x engine.Executor, e *entity.Entity, rows []engine.Row, includes []filter.Include, o options) error {
	if len(includes) == 0 || len(rows) == 0 {
		return nil
	}

	results := make([]*loaded, len(includes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	if parallel(x) {
		g.SetLimit(r.ds.includeConcurrency)
	}
	for i, inc := range includes {
		g.Go(func() error {
			res, err := r.loadRelation(gctx, x, e, rows, inc, o)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		attach(rows, res)
	}
	return nil
}

func (r *Repository) loadRelation(ctx context.Context, x engine.Executor, e *entity.Entity, rows []engine.Row, inc filter.Include, o options) (*loaded, error) {
	rel, ok := e.Relation(inc.Relation)
	if !ok {
		return nil, apperr.UnknownRelation(e.Name(), inc.Relation)
	}
	target, _ := r.ds.registry.Get(rel.Target)

	scope := r.effective(target, inc.Scope, o)
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	res := &loaded{relation: rel, groups: make(map[string][]Row), limit: r.ds.capLimit(scope.Limit)}
	if scope.Skip != nil {
		res.skip = *scope.Skip
	}

	keys := lo.Uniq(lo.FilterMap(rows, func(row engine.Row, _ int) (any, bool) {
		v := row[rel.LocalKey]
		return v, v != nil
	}))
	if len(keys) == 0 {
		return res, nil
	}

	scope.Limit, scope.Skip = nil, nil
	p, err := r.compileRead(target, filter.WithWhere(scope, filter.Where(rel.ForeignKey, filter.OpIn, keys)))
	if err != nil {
		return nil, err
	}
	p.query.Limit, p.query.Skip = nil, 0

	children, err := x.Find(ctx, p.query)
	if err != nil {
		return nil, err
	}
	if err := r.include(ctx, x, target, children, p.includes, o); err != nil {
		return nil, err
	}
	for _, child := range children {
		key := fmt.Sprint(child[rel.ForeignKey])
		res.groups[key] = append(res.groups[key], p.projection.Apply(child))
	}
	return res, nil
}

func attach(rows []engine.Row, res *loaded) {
	rel := res.relation
	for _, row := range rows {
		var group []Row
		if v := row[rel.LocalKey]; v != nil {
			group = res.groups[fmt.Sprint(v)]
		}
		if rel.Cardinality == entity.One {
			if len(group) > 0 {
				row[rel.Name] = group[0]
			} else {
				row[rel.Name] = nil
			}
			continue
		}
		group = window(group, res.skip, res.limit)
		row[rel.Name] = append([]Row{}, group...)
	}
}

func window(rows []Row, skip int, limit *int) []Row {
	if skip >= len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit != nil && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}

// parallel reports whether statements may be issued on x from several
// goroutines. Engines hand each statement its own connection; most
// transactions hold a single one.
func parallel(x engine.Executor) bool {
	if _, ok := x.(engine.ConcurrentTx); ok {
		return true
	}
	_, isTx := x.(engine.Tx)
	return !isTx
}
