// Package storage opens the configured persistence backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/splax/todolist/internal/repository"
	"github.com/splax/todolist/internal/repository/postgres"
	"github.com/splax/todolist/internal/repository/sqlite"
	"github.com/splax/todolist/pkg/config"
)

// Handle pairs a Store with the database/sql handle migrations run on.
type Handle struct {
	Store  repository.Store
	DB     *sql.DB
	Driver string

	closeDB bool
}

// Open connects to driver at dsn.
func Open(ctx context.Context, driver, dsn string) (*Handle, error) {
	switch driver {
	case config.DriverSQLite:
		repo, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: repo, DB: repo.DB(), Driver: driver}, nil
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		return &Handle{Store: repo, DB: db, Driver: driver, closeDB: true}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Close releases the store and, when separate, the migration handle.
func (h *Handle) Close() error {
	var errs []error
	if h.closeDB {
		errs = append(errs, h.DB.Close())
	}
	errs = append(errs, h.Store.Close())
	return errors.Join(errs...)
}
