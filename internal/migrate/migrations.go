package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Status describes the schema version of a database.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
	Pending bool
}

func migrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "sqlite", driver)
}

// Migrate applies embedded migrations in order. The migrator is not closed
// since that would close db.
func Migrate(db *sql.DB) error {
	m, err := migrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Version reports the applied and latest available schema versions.
func Version(db *sql.DB) (Status, error) {
	m, err := migrator(db)
	if err != nil {
		return Status{}, err
	}
	cur, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, err
	}
	source, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		return Status{}, err
	}
	var latest uint
	if v, err := source.First(); err == nil {
		latest = v
		for {
			next, err := source.Next(latest)
			if err != nil {
				break
			}
			latest = next
		}
	}
	return Status{Current: cur, Latest: latest, Dirty: dirty, Pending: cur < latest}, nil
}
