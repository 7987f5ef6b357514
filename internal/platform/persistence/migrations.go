package persistence

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var (
	errNoMigrationsPath = errors.New("migrations path cannot be empty")
	errNoDatabaseURL    = errors.New("database URL cannot be empty")
)

// RunMigrations brings the ledger schema up to the newest file under dir.
// An already current schema is not an error.
func RunMigrations(databaseURL, dir string) error {
	switch {
	case dir == "":
		return errNoMigrationsPath
	case databaseURL == "":
		return errNoDatabaseURL
	}

	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("load migrations from %s: %w", dir, err)
	}
	return finishMigration(m.Up(), m.Close)
}

func finishMigration(upErr error, closeFn func() (error, error)) error {
	srcErr, dbErr := closeFn()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	return errors.Join(srcErr, dbErr)
}
