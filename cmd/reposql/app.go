package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nrjais/reposql/internal/config"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/engine/memstore"
	"github.com/nrjais/reposql/internal/engine/postgres"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/metrics"
	"github.com/nrjais/reposql/internal/repository"
	"github.com/nrjais/reposql/internal/tx"
)

// App holds everything a command needs: the datasource over the configured
// engine, its transaction reaper and the metrics registry.
type App struct {
	Config     *config.Config
	Datasource *repository.Datasource
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	entities, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to build entity registry: %w", err)
	}
	filters, err := cfg.Filters()
	if err != nil {
		return nil, fmt.Errorf("failed to parse default filters: %w", err)
	}
	level, err := cfg.Transaction.Isolation()
	if err != nil {
		return nil, err
	}

	eng, err := openEngine(ctx, cfg, level)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	mt := metrics.New(cfg.Metrics.Namespace, reg)
	manager := tx.NewManager(eng,
		tx.WithIdleTimeout(cfg.Transaction.IdleTimeout()),
		tx.WithReapInterval(cfg.Transaction.ReapInterval()),
		tx.WithDefaultIsolation(level),
		tx.WithMetrics(mt),
	)

	opts := []repository.DatasourceOption{
		repository.WithTransactionManager(manager),
		repository.WithMetrics(mt),
		repository.WithMaxLimit(cfg.Query.MaxLimit),
	}
	for name, f := range filters {
		if _, ok := entities.Get(name); !ok {
			eng.Close()
			return nil, fmt.Errorf("default filter for unknown entity %q", name)
		}
		opts = append(opts, repository.WithDefaultFilter(name, f))
	}

	app := &App{
		Config:     cfg,
		Datasource: repository.NewDatasource(eng, entities, opts...),
		Metrics:    mt,
		Registry:   reg,
	}
	bgCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	manager.Start(bgCtx, &app.wg)
	return app, nil
}

func openEngine(ctx context.Context, cfg *config.Config, level engine.IsolationLevel) (engine.Engine, error) {
	switch cfg.Engine {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return postgres.New(postgres.NewPool(pool)), nil
	case "memory":
		var opts []memstore.Option
		if level != engine.DefaultIsolation {
			opts = append(opts, memstore.WithDefaultIsolation(level))
		}
		slog.Info("Using in-memory engine")
		return memstore.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

// LoadData inserts the rows of a JSON file shaped {"entity": [row, ...]}.
// Entities are loaded in name order, so children referencing parents by a
// database constraint need names that sort after them.
func (a *App) LoadData(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	decoded, err := filter.DecodeJSON(raw)
	if err != nil {
		return err
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return fmt.Errorf("data file must hold an object of entity rows")
	}

	for _, name := range a.Datasource.Entities() {
		items, ok := doc[name].([]any)
		if !ok {
			continue
		}
		rows := make([]repository.Row, 0, len(items))
		for _, item := range items {
			row, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("rows of %s must be objects", name)
			}
			rows = append(rows, row)
		}
		repo, err := a.Datasource.Repository(name)
		if err != nil {
			return err
		}
		created, err := repo.CreateAll(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		slog.Info("Loaded rows", "entity", name, "count", len(created))
	}
	for name := range doc {
		if _, ok := a.Datasource.Registry().Get(name); !ok {
			slog.Warn("Ignoring rows of unregistered entity", "entity", name)
		}
	}
	return nil
}

// Close stops the reaper, rolls back open transactions and closes the engine.
func (a *App) Close(ctx context.Context) {
	a.Datasource.Transactions().Stop()
	a.cancel()
	a.wg.Wait()
	a.Datasource.Close(ctx)
}
