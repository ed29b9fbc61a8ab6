package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"

	// File source driver for reading migration files from disk.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirtySchema means an earlier migration stopped halfway. The portal
// refuses to serve grants against a half-built schema.
var ErrDirtySchema = errors.New("schema is dirty")

// RunMigrations brings the portal schema up to date and returns the
// resulting version. A shutdown signal stops between migrations.
func RunMigrations(ctx context.Context, db *sql.DB, migrationsPath string) (uint, error) {
	if _, err := os.Stat(migrationsPath); err != nil {
		return 0, fmt.Errorf("migrations directory (MIGRATIONS_PATH): %w", err)
	}

	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return 0, fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "mysql", driver)
	if err != nil {
		return 0, fmt.Errorf("creating migrator: %w", err)
	}

	if version, dirty, err := m.Version(); err == nil && dirty {
		return version, fmt.Errorf("migration %d: %w; repair it and force the version", version, ErrDirtySchema)
	}

	stop := context.AfterFunc(ctx, func() { m.GracefulStop <- true })
	defer stop()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("running migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	slog.Info("portal schema ready", slog.Uint64("version", uint64(version)))
	return version, nil
}
