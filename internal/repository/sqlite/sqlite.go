// Package sqlite stores users and todos in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/splax/todolist/internal/domain"
	"github.com/splax/todolist/internal/repository"
)

// DriverName is the database/sql driver registered by go-sqlite3.
const DriverName = "sqlite3"

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.TodoRepository = (*Repository)(nil)
	_ repository.Store          = (*Repository)(nil)
)

// Open creates the parent directory of a file database if needed, enables
// foreign keys and returns a Repository. SQLite allows one writer, so the
// pool is limited to a single connection.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	dsn = PrepareDSN(dsn)
	if path := filePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	repo := New(db)
	if err := repo.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// PrepareDSN adds the foreign key and busy timeout options the store relies on.
func PrepareDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	params := make([]string, 0, 2)
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk=") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func filePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}

// DB exposes the handle for migrations.
func (r *Repository) DB() *sql.DB { return r.db }

// Ping checks the database file is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateUser inserts a user and fills in the assigned id.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)`,
		user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUserByEmail fetches a user by exact, case-sensitive email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// DeleteUser removes a user; their todos go with them through the foreign key.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRows(res)
}

// ListTodos returns the owner's todos in display order.
func (r *Repository) ListTodos(ctx context.Context, ownerID int64) ([]domain.Todo, error) {
	const query = `SELECT id, user_id, text, completed, due_date, position, created_at, updated_at
		FROM todos
		WHERE user_id = ?
		ORDER BY position ASC, due_date ASC NULLS LAST, id ASC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	todos := make([]domain.Todo, 0)
	for rows.Next() {
		var (
			t       domain.Todo
			dueDate sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Text, &t.Completed, &dueDate, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if dueDate.Valid {
			value := dueDate.String
			t.DueDate = &value
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// CreateTodo appends a todo after the owner's current highest position.
func (r *Repository) CreateTodo(ctx context.Context, todo domain.NewTodo) (*domain.Todo, error) {
	const query = `INSERT INTO todos (user_id, text, completed, due_date, position, created_at, updated_at)
		SELECT ?, ?, 0, ?, COALESCE(MAX(position), 0) + 1, ?, ?
		FROM todos WHERE user_id = ?
		RETURNING id, position`
	now := r.now()
	created := &domain.Todo{
		OwnerID:   todo.OwnerID,
		Text:      todo.Text,
		DueDate:   todo.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	row := r.db.QueryRowContext(ctx, query, todo.OwnerID, todo.Text, todo.DueDate, now, now, todo.OwnerID)
	if err := row.Scan(&created.ID, &created.Position); err != nil {
		return nil, mapError(err)
	}
	return created, nil
}

// UpdateTodo applies patch to the owner's todo.
func (r *Repository) UpdateTodo(ctx context.Context, ownerID, todoID int64, patch domain.TodoPatch) error {
	const query = `UPDATE todos
		SET text = COALESCE(?, text),
			completed = COALESCE(?, completed),
			due_date = ?,
			updated_at = ?
		WHERE id = ? AND user_id = ?`
	text, completed := repository.PatchColumns(patch)
	res, err := r.db.ExecContext(ctx, query, text, completed, patch.DueDate.Value, r.now(), todoID, ownerID)
	if err != nil {
		return mapError(err)
	}
	return requireRows(res)
}

// DeleteTodo removes the owner's todo.
func (r *Repository) DeleteTodo(ctx context.Context, ownerID, todoID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ? AND user_id = ?`, todoID, ownerID)
	if err != nil {
		return mapError(err)
	}
	return requireRows(res)
}

// ReorderTodos writes every position inside one transaction.
func (r *Repository) ReorderTodos(ctx context.Context, ownerID int64, todoIDs []int64) error {
	if len(todoIDs) == 0 {
		return nil
	}
	now := r.now()
	return withTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE todos SET position = ?, updated_at = ? WHERE id = ? AND user_id = ?`)
		if err != nil {
			return mapError(err)
		}
		defer stmt.Close()
		for i, id := range todoIDs {
			if _, err := stmt.ExecContext(ctx, int64(i), now, id, ownerID); err != nil {
				return fmt.Errorf("reorder position %d: %w", i, mapError(err))
			}
		}
		return nil
	})
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", repository.ErrConflict, sqliteErr.Error())
	}
	return err
}
