package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/todolist/internal/apperr"
	"github.com/splax/todolist/internal/domain"
	"github.com/splax/todolist/internal/repository"
)

// Publisher receives change events after a mutation commits.
type Publisher interface {
	Publish(event domain.TodoEvent)
}

var (
	errTextRequired    = apperr.Validation("text is required")
	errTodoIDsRequired = apperr.Validation("todoIds must be an array")
	errTodoNotFound    = apperr.NotFound("todo not found")
)

// Service implements the todo operations for an authenticated owner.
type Service struct {
	todos  repository.TodoRepository
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New returns a todo service. events may be nil.
func New(todos repository.TodoRepository, events Publisher, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{todos: todos, events: events, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the owner's todos in display order.
func (s Service) List(ctx context.Context, ownerID int64) ([]domain.Todo, error) {
	todos, err := s.todos.ListTodos(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list todos: %w", err))
	}
	return todos, nil
}

// Create appends a todo to the end of the owner's list.
func (s Service) Create(ctx context.Context, ownerID int64, text string, dueDate *string) (*domain.Todo, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errTextRequired
	}
	created, err := s.todos.CreateTodo(ctx, domain.NewTodo{
		OwnerID: ownerID,
		Text:    text,
		DueDate: normalizeDueDate(dueDate),
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("create todo: %w", err))
	}
	s.logger.Info("todo created", "user_id", ownerID, "todo_id", created.ID, "position", created.Position)
	s.publish(domain.TodoEvent{Type: domain.TodoCreated, OwnerID: ownerID, TodoID: created.ID, Todo: created})
	return created, nil
}

// Update applies a partial update. Blank text is ignored, an omitted
// completed flag is kept and the due date is always replaced.
func (s Service) Update(ctx context.Context, ownerID, todoID int64, patch domain.TodoPatch) error {
	if patch.Text.Set {
		patch.Text.Value = strings.TrimSpace(patch.Text.Value)
	}
	patch.DueDate = domain.Optional[*string]{Set: patch.DueDate.Set, Value: normalizeDueDate(patch.DueDate.Value)}

	if err := s.todos.UpdateTodo(ctx, ownerID, todoID, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errTodoNotFound
		}
		return apperr.Internal(fmt.Errorf("update todo %d: %w", todoID, err))
	}
	s.logger.Info("todo updated", "user_id", ownerID, "todo_id", todoID)
	s.publish(domain.TodoEvent{Type: domain.TodoUpdated, OwnerID: ownerID, TodoID: todoID})
	return nil
}

// Delete removes one of the owner's todos.
func (s Service) Delete(ctx context.Context, ownerID, todoID int64) error {
	if err := s.todos.DeleteTodo(ctx, ownerID, todoID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errTodoNotFound
		}
		return apperr.Internal(fmt.Errorf("delete todo %d: %w", todoID, err))
	}
	s.logger.Info("todo deleted", "user_id", ownerID, "todo_id", todoID)
	s.publish(domain.TodoEvent{Type: domain.TodoDeleted, OwnerID: ownerID, TodoID: todoID})
	return nil
}

// Reorder gives todoIDs[i] position i. IDs the owner does not have are
// skipped; all positions become visible together.
func (s Service) Reorder(ctx context.Context, ownerID int64, todoIDs []int64) error {
	if todoIDs == nil {
		return errTodoIDsRequired
	}
	if err := s.todos.ReorderTodos(ctx, ownerID, todoIDs); err != nil {
		return apperr.Internal(fmt.Errorf("reorder todos: %w", err))
	}
	s.logger.Info("todos reordered", "user_id", ownerID, "count", len(todoIDs))
	s.publish(domain.TodoEvent{Type: domain.TodoReordered, OwnerID: ownerID, TodoIDs: todoIDs})
	return nil
}

func (s Service) publish(event domain.TodoEvent) {
	if s.events == nil {
		return
	}
	event.At = s.now()
	s.events.Publish(event)
}

// normalizeDueDate maps blank strings to no due date.
func normalizeDueDate(due *string) *string {
	if due == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*due)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
