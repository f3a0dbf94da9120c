// Package migrations applies the embedded PostgreSQL schema for the catalogue
// entities (categories, products, reviews).
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed postgres/*.sql
var MigrationsFS embed.FS

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// RunMigrations applies every pending up migration.
func RunMigrations(databaseURL string) error {
	return Run(databaseURL, Up)
}

// Run migrates the schema in the given direction. Having nothing to do is
// not an error.
func Run(databaseURL string, dir Direction) error {
	slog.Info("Running database migrations from embedded files", "direction", dir)

	sourceInstance, err := iofs.New(MigrationsFS, "postgres")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	migrateDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection for migration: %w", err)
	}
	defer func() {
		if cerr := migrateDB.Close(); cerr != nil {
			slog.Warn("Error closing migration db connection", "error", cerr)
		}
	}()

	if err = migrateDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database for migration: %w", err)
	}

	dbDriver, err := postgres.WithInstance(migrateDB, &postgres.Config{
		MigrationsTable: postgres.DefaultMigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("could not create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceInstance, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogAdapter{}

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		err = fmt.Errorf("unknown migration direction %q", dir)
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		slog.Warn("Error closing migration source", "error", srcErr)
	}
	if dbErr != nil {
		slog.Warn("Error closing migration database connection", "error", dbErr)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("No database schema changes to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("Database migrations completed successfully", "direction", dir)
	return nil
}

type migrateLogAdapter struct{}

func (l *migrateLogAdapter) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *migrateLogAdapter) Verbose() bool {
	return false
}
