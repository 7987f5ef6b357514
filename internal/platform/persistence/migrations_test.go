package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
)

func TestRunMigrations_Arguments(t *testing.T) {
	assert.ErrorIs(t, RunMigrations("postgres://test", ""), errNoMigrationsPath)
	assert.ErrorIs(t, RunMigrations("", "migrations/postgres"), errNoDatabaseURL)

	err := RunMigrations("postgres://localhost:5432/ledger?sslmode=disable", "/nonexistent/migrations")
	assert.ErrorContains(t, err, "load migrations from /nonexistent/migrations")
}

func TestFinishMigration(t *testing.T) {
	closed := func(src, db error) func() (error, error) {
		return func() (error, error) { return src, db }
	}
	dirty := errors.New("dirty database version 1")
	srcErr := errors.New("source closed twice")

	tests := []struct {
		name    string
		upErr   error
		closeFn func() (error, error)
		wantErr error
	}{
		{name: "Applied", closeFn: closed(nil, nil)},
		{name: "AlreadyCurrent", upErr: migrate.ErrNoChange, closeFn: closed(nil, nil)},
		{name: "UpFails", upErr: fmt.Errorf("wrapped: %w", dirty), closeFn: closed(nil, nil), wantErr: dirty},
		{name: "CloseFails", closeFn: closed(srcErr, nil), wantErr: srcErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := finishMigration(tt.upErr, tt.closeFn)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
