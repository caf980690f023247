package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/splax/todolist/internal/repository"
)

func TestMapError(t *testing.T) {
	if err := mapError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	if err := mapError(dup); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	fk := &pgconn.PgError{Code: "23503"}
	if err := mapError(fk); errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("foreign key violation must pass through, got %v", err)
	}
}
