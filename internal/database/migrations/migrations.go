package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"ms-seating/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Runner applies the SQL files under a migrations directory to postgres.
type Runner struct {
	db       *sql.DB
	dir      string
	log      *logger.Logger
	migrator *migrate.Migrate
}

// NewRunner creates a new migration runner. The runner borrows db and does
// not close it.
func NewRunner(db *sql.DB, dir string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewConsoleLogger(nil)
	}
	return &Runner{db: db, dir: dir, log: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.dir)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance("file://"+r.dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = migrator
	return nil
}

// Up applies every pending migration. A dirty schema is reported, never forced.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	if _, dirty, err := r.migrator.Version(); err == nil && dirty {
		return fmt.Errorf("schema is dirty; fix it and run `seatctl migrate force`")
	}

	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	r.logVersion()
	return nil
}

// Down rolls back the given number of migrations; steps <= 0 rolls back all.
func (r *Runner) Down(steps int) error {
	if err := r.init(); err != nil {
		return err
	}

	var err error
	if steps > 0 {
		err = r.migrator.Steps(-steps)
	} else {
		err = r.migrator.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	r.logVersion()
	return nil
}

// Force marks the schema as being at version without running anything.
func (r *Runner) Force(version int) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Force(version); err != nil {
		return fmt.Errorf("force version %d failed: %w", version, err)
	}
	return nil
}

// Version returns the current schema version; zero when nothing was applied.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (r *Runner) logVersion() {
	version, dirty, err := r.Version()
	if err != nil {
		r.log.Warn("MIGRATE", err.Error())
		return
	}
	r.log.Info("MIGRATE", fmt.Sprintf("Current schema version: %d (dirty=%t)", version, dirty))
}

// Close releases the migration source and the driver's connection. db itself
// stays open.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
