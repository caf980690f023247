package repository

import (
	"context"

	"github.com/splax/todolist/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// TodoRepository persists todos. Every method is scoped to ownerID; rows of
// other owners behave as if absent.
type TodoRepository interface {
	ListTodos(ctx context.Context, ownerID int64) ([]domain.Todo, error)
	CreateTodo(ctx context.Context, todo domain.NewTodo) (*domain.Todo, error)
	UpdateTodo(ctx context.Context, ownerID, todoID int64, patch domain.TodoPatch) error
	DeleteTodo(ctx context.Context, ownerID, todoID int64) error
	// ReorderTodos sets position i on todoIDs[i] atomically. IDs the owner
	// does not have are skipped.
	ReorderTodos(ctx context.Context, ownerID int64, todoIDs []int64) error
}

// Store is the full persistence surface used by the API process.
type Store interface {
	UserRepository
	TodoRepository
	Ping(ctx context.Context) error
	Close() error
}
