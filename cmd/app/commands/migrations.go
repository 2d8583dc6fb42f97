package commands

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationsDirs maps a database driver to its directory under migrations/.
var migrationsDirs = map[string]string{
	"postgres": "postgresql",
	"mysql":    "mysql",
}

func migrateDriver(db *sql.DB, dbDriver string) (migratedb.Driver, error) {
	switch dbDriver {
	case "postgres":
		return postgres.WithInstance(db, &postgres.Config{})
	case "mysql":
		return mysql.WithInstance(db, &mysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbDriver)
	}
}

// RunMigrations migrates the batch tables over an open connection. steps of 0
// applies every pending migration; a positive or negative value moves that
// many versions up or down. The migrate instance is left open because closing
// it would close db.
func RunMigrations(logger *slog.Logger, db *sql.DB, dbDriver string, steps int) error {
	dir, ok := migrationsDirs[dbDriver]
	if !ok {
		return fmt.Errorf("unsupported database driver: %s", dbDriver)
	}

	driver, err := migrateDriver(db, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations/"+dir, dbDriver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger.Info("running database migrations", slog.String("driver", dbDriver), slog.Int("steps", steps))

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("migrations completed",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}
