package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/todolist/internal/domain"
	"github.com/splax/todolist/internal/repository"
)

const uniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects a pool for dsn and verifies it.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := New(pool)
	if err := repo.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.TodoRepository = (*Repository)(nil)
	_ repository.Store          = (*Repository)(nil)
)

// Ping checks the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases pooled connections.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser inserts a user and fills in the assigned id.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (email, password_hash, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now()
	}
	err := r.pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// GetUserByEmail fetches a user by exact email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// DeleteUser removes a user; their todos go with them through the foreign key.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListTodos returns the owner's todos in display order.
func (r *Repository) ListTodos(ctx context.Context, ownerID int64) ([]domain.Todo, error) {
	const query = `SELECT id, user_id, text, completed, due_date, position, created_at, updated_at
		FROM todos
		WHERE user_id = $1
		ORDER BY position ASC, due_date ASC NULLS LAST, id ASC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	todos := make([]domain.Todo, 0)
	for rows.Next() {
		var t domain.Todo
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Text, &t.Completed, &t.DueDate, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// CreateTodo appends a todo after the owner's current highest position.
func (r *Repository) CreateTodo(ctx context.Context, todo domain.NewTodo) (*domain.Todo, error) {
	const query = `INSERT INTO todos (user_id, text, completed, due_date, position, created_at, updated_at)
		SELECT $1, $2::text, FALSE, $3::text, COALESCE(MAX(position), 0) + 1, $4::timestamptz, $4::timestamptz
		FROM todos WHERE user_id = $1
		RETURNING id, position`
	now := r.now()
	created := &domain.Todo{
		OwnerID:   todo.OwnerID,
		Text:      todo.Text,
		DueDate:   todo.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.pool.QueryRow(ctx, query, todo.OwnerID, todo.Text, todo.DueDate, now).Scan(&created.ID, &created.Position); err != nil {
		return nil, mapError(err)
	}
	return created, nil
}

// UpdateTodo applies patch to the owner's todo.
func (r *Repository) UpdateTodo(ctx context.Context, ownerID, todoID int64, patch domain.TodoPatch) error {
	const query = `UPDATE todos
		SET text = COALESCE($1, text),
			completed = COALESCE($2, completed),
			due_date = $3,
			updated_at = $4
		WHERE id = $5 AND user_id = $6`
	text, completed := repository.PatchColumns(patch)
	tag, err := r.pool.Exec(ctx, query, text, completed, patch.DueDate.Value, r.now(), todoID, ownerID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTodo removes the owner's todo.
func (r *Repository) DeleteTodo(ctx context.Context, ownerID, todoID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1 AND user_id = $2`, todoID, ownerID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReorderTodos writes every position inside one transaction as a single batch.
func (r *Repository) ReorderTodos(ctx context.Context, ownerID int64, todoIDs []int64) error {
	if len(todoIDs) == 0 {
		return nil
	}
	const query = `UPDATE todos SET position = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`
	now := r.now()
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, id := range todoIDs {
			batch.Queue(query, int64(i), now, id, ownerID)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range todoIDs {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("reorder position %d: %w", i, mapError(err))
			}
		}
		return results.Close()
	})
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
