package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nrjais/reposql/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		writeError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(load func() *config.Config) *cobra.Command {
	var app *App
	dataFile := ""

	root := &cobra.Command{
		Use:           "reposql",
		Short:         "Query and migrate entity repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			setupLogging(cfg.LogLevel)
			var err error
			app, err = NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if dataFile != "" {
				return app.LoadData(cmd.Context(), dataFile)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app != nil {
				app.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}
	root.PersistentFlags().StringVar(&dataFile, "data", "", "JSON file of rows per entity to load before running")

	appFn := func() *App { return app }
	root.AddCommand(
		newMigrateCmd(appFn),
		newFindCmd(appFn),
		newGetCmd(appFn),
		newCountCmd(appFn),
		newEntitiesCmd(appFn),
	)
	return root
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
