package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/filter"
	"github.com/nrjais/reposql/internal/migrations"
	"github.com/nrjais/reposql/internal/repository"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorBody is how a failed command reports its error on stderr.
type errorBody struct {
	StatusCode  int            `json:"statusCode"`
	MessageCode string         `json:"messageCode,omitempty"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func writeError(w io.Writer, err error) {
	body := errorBody{StatusCode: apperr.StatusCode(err), Message: err.Error()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.MessageCode = appErr.MessageCode
		body.Payload = appErr.Payload
	}
	if encErr := writeJSON(w, body); encErr != nil {
		fmt.Fprintln(w, err)
	}
}

func callOptions(skipDefault bool) []repository.Option {
	if skipDefault {
		return []repository.Option{repository.SkipDefaultFilter()}
	}
	return nil
}

func newMigrateCmd(app func() *App) *cobra.Command {
	down := false
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app().Config
			if cfg.Engine != "postgres" {
				return fmt.Errorf("migrate requires the postgres engine, configured engine is %q", cfg.Engine)
			}
			dir := migrations.Up
			if down {
				dir = migrations.Down
			}
			return migrations.Run(cfg.PostgresURL, dir)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration instead of applying them")
	return cmd
}

func newFindCmd(app func() *App) *cobra.Command {
	var (
		rawFilter   string
		skipDefault bool
	)
	cmd := &cobra.Command{
		Use:   "find <entity>",
		Short: "Print the rows matching a JSON filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := app().Datasource.Repository(args[0])
			if err != nil {
				return err
			}
			var f *filter.Filter
			if rawFilter != "" {
				if f, err = filter.Parse([]byte(rawFilter)); err != nil {
					return err
				}
			}
			rows, err := repo.Find(cmd.Context(), f, callOptions(skipDefault)...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&rawFilter, "filter", "", `Filter as JSON, e.g. {"where": {"price": {"gt": 10}}, "order": "price DESC"}`)
	cmd.Flags().BoolVar(&skipDefault, "skip-default-filter", false, "Ignore the entity's default filter")
	return cmd
}

func newGetCmd(app func() *App) *cobra.Command {
	var (
		rawFilter   string
		skipDefault bool
	)
	cmd := &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Print the row with the given primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := app().Datasource.Repository(args[0])
			if err != nil {
				return err
			}
			var f *filter.Filter
			if rawFilter != "" {
				if f, err = filter.Parse([]byte(rawFilter)); err != nil {
					return err
				}
			}
			row, err := repo.FindByID(cmd.Context(), args[1], f, callOptions(skipDefault)...)
			if err != nil {
				return err
			}
			if row == nil {
				return apperr.NotFound(repo.Entity().Name(), args[1])
			}
			return writeJSON(cmd.OutOrStdout(), row)
		},
	}
	cmd.Flags().StringVar(&rawFilter, "filter", "", `Filter as JSON for fields and include, e.g. {"fields": ["name"]}`)
	cmd.Flags().BoolVar(&skipDefault, "skip-default-filter", false, "Ignore the entity's default filter")
	return cmd
}

func newCountCmd(app func() *App) *cobra.Command {
	var (
		rawWhere    string
		skipDefault bool
	)
	cmd := &cobra.Command{
		Use:   "count <entity>",
		Short: "Print how many rows match a JSON where clause",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := app().Datasource.Repository(args[0])
			if err != nil {
				return err
			}
			var where filter.Condition
			if rawWhere != "" {
				if where, err = filter.ParseWhereJSON([]byte(rawWhere)); err != nil {
					return err
				}
			}
			res, err := repo.Count(cmd.Context(), where, callOptions(skipDefault)...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&rawWhere, "where", "", "Where clause as JSON")
	cmd.Flags().BoolVar(&skipDefault, "skip-default-filter", false, "Ignore the entity's default filter")
	return cmd
}

type entitySummary struct {
	Name          string   `json:"name"`
	Table         string   `json:"table"`
	PrimaryKey    string   `json:"primaryKey"`
	Columns       []string `json:"columns"`
	Relations     []string `json:"relations"`
	DefaultFilter any      `json:"defaultFilter,omitempty"`
}

func newEntitiesCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List registered entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds := app().Datasource
			out := make([]entitySummary, 0)
			for _, name := range ds.Entities() {
				e, _ := ds.Registry().Get(name)
				summary := entitySummary{
					Name:       e.Name(),
					Table:      e.Table(),
					PrimaryKey: e.PrimaryKey(),
					Columns:    e.VisibleColumnNames(),
					Relations:  []string{},
				}
				for _, rel := range e.Relations() {
					summary.Relations = append(summary.Relations, rel.Name)
				}
				if f := ds.DefaultFilter(name); f != nil {
					summary.DefaultFilter = f
				}
				out = append(out, summary)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
