// Package repository exposes the query and write operations over registered
// entities. A Datasource binds an engine, a transaction manager and the
// per-entity default filters; Repository values are cheap views over it.
package repository

import (
	"context"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/audit"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/metrics"
	"github.com/nrjais/reposql/internal/tx"
)

const defaultIncludeConcurrency = 4

type Datasource struct {
	engine             engine.Engine
	registry           *entity.Registry
	transactions       *tx.Manager
	defaults           map[string]*filter.Filter
	maxLimit           int
	audit              *audit.Injector
	metrics            *metrics.Metrics
	includeConcurrency int
}

type DatasourceOption func(*Datasource)

// WithDefaultFilter registers f as the default filter of entity name. It is
// merged into every read and conditional write on that entity.
func WithDefaultFilter(name string, f *filter.Filter) DatasourceOption {
	return func(d *Datasource) { d.defaults[name] = f.Clone() }
}

// WithMaxLimit caps the number of rows a read returns. Zero means no cap.
func WithMaxLimit(n int) DatasourceOption {
	return func(d *Datasource) { d.maxLimit = n }
}

func WithAudit(i *audit.Injector) DatasourceOption {
	return func(d *Datasource) { d.audit = i }
}

func WithMetrics(m *metrics.Metrics) DatasourceOption {
	return func(d *Datasource) { d.metrics = m }
}

func WithTransactionManager(m *tx.Manager) DatasourceOption {
	return func(d *Datasource) { d.transactions = m }
}

// WithIncludeConcurrency bounds how many sibling relations are loaded at
// once outside a transaction.
func WithIncludeConcurrency(n int) DatasourceOption {
	return func(d *Datasource) {
		if n > 0 {
			d.includeConcurrency = n
		}
	}
}

func NewDatasource(e engine.Engine, registry *entity.Registry, opts ...DatasourceOption) *Datasource {
	d := &Datasource{
		engine:             e,
		registry:           registry,
		defaults:           make(map[string]*filter.Filter),
		audit:              audit.NewInjector(),
		includeConcurrency: defaultIncludeConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.transactions == nil {
		d.transactions = tx.NewManager(e, tx.WithMetrics(d.metrics))
	}
	return d
}

// Repository returns the repository for a registered entity.
func (d *Datasource) Repository(name string) (*Repository, error) {
	e, ok := d.registry.Get(name)
	if !ok {
		return nil, apperr.Validation("entity %q is not registered", name).WithPayload("entity", name)
	}
	return &Repository{ds: d, entity: e}, nil
}

// MustRepository is Repository for names known at compile time.
func (d *Datasource) MustRepository(name string) *Repository {
	r, err := d.Repository(name)
	if err != nil {
		panic(err)
	}
	return r
}

// BeginTransaction opens a handle that repositories of this datasource
// accept through WithTransaction.
func (d *Datasource) BeginTransaction(ctx context.Context, level engine.IsolationLevel) (*tx.Transaction, error) {
	return d.transactions.Begin(ctx, level)
}

func (d *Datasource) Transactions() *tx.Manager  { return d.transactions }
func (d *Datasource) Registry() *entity.Registry { return d.registry }

// DefaultFilter returns a copy of the default filter of entity name.
func (d *Datasource) DefaultFilter(name string) *filter.Filter {
	return d.defaults[name].Clone()
}

// Entities lists registered entity names, sorted.
func (d *Datasource) Entities() []string {
	return d.registry.Names()
}

// capLimit applies the configured maximum to a requested limit.
func (d *Datasource) capLimit(limit *int) *int {
	if d.maxLimit > 0 && (limit == nil || *limit > d.maxLimit) {
		return filter.IntPtr(d.maxLimit)
	}
	return limit
}

// Close rolls back open transactions and closes the engine.
func (d *Datasource) Close(ctx context.Context) {
	d.transactions.Close(ctx)
	d.engine.Close()
}
