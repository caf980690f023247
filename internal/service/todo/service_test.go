package todo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/todolist/internal/apperr"
	"github.com/splax/todolist/internal/domain"
	"github.com/splax/todolist/internal/repository"
)

// memoryTodos is a map-backed TodoRepository with the same scoping rules as
// the SQL stores.
type memoryTodos struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Todo
	err    error
}

func newMemoryTodos() *memoryTodos {
	return &memoryTodos{rows: map[int64]*domain.Todo{}}
}

func (m *memoryTodos) ListTodos(ctx context.Context, ownerID int64) ([]domain.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Todo, 0)
	for _, t := range m.rows {
		if t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryTodos) CreateTodo(ctx context.Context, todo domain.NewTodo) (*domain.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var maxPos int64
	for _, t := range m.rows {
		if t.OwnerID == todo.OwnerID && t.Position > maxPos {
			maxPos = t.Position
		}
	}
	m.nextID++
	created := &domain.Todo{ID: m.nextID, OwnerID: todo.OwnerID, Text: todo.Text, DueDate: todo.DueDate, Position: maxPos + 1}
	stored := *created
	m.rows[created.ID] = &stored
	return created, nil
}

func (m *memoryTodos) UpdateTodo(ctx context.Context, ownerID, todoID int64, patch domain.TodoPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t, ok := m.rows[todoID]
	if !ok || t.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	text, completed := repository.PatchColumns(patch)
	if text != nil {
		t.Text = *text
	}
	if completed != nil {
		t.Completed = *completed
	}
	t.DueDate = patch.DueDate.Value
	return nil
}

func (m *memoryTodos) DeleteTodo(ctx context.Context, ownerID, todoID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t, ok := m.rows[todoID]
	if !ok || t.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(m.rows, todoID)
	return nil
}

func (m *memoryTodos) ReorderTodos(ctx context.Context, ownerID int64, todoIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, id := range todoIDs {
		if t, ok := m.rows[id]; ok && t.OwnerID == ownerID {
			t.Position = int64(i)
		}
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TodoEvent
}

func (p *recordingPublisher) Publish(event domain.TodoEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func newTestService() (Service, *memoryTodos, *recordingPublisher) {
	repo := newMemoryTodos()
	pub := &recordingPublisher{}
	return New(repo, pub, slog.New(slog.NewTextHandler(io.Discard, nil))), repo, pub
}

func strPtr(s string) *string { return &s }

func texts(todos []domain.Todo) []string {
	out := make([]string, 0, len(todos))
	for _, t := range todos {
		out = append(out, t.Text)
	}
	return out
}

func TestCreateTrimsAndAppends(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, "  buy milk  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", first.Text)
	assert.False(t, first.Completed)
	assert.Equal(t, int64(1), first.Position)

	second, err := svc.Create(ctx, 1, "walk dog", strPtr(" 2026-04-01 "))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Position)
	assert.Equal(t, "2026-04-01", *second.DueDate)

	blankDue, err := svc.Create(ctx, 1, "x", strPtr("   "))
	require.NoError(t, err)
	assert.Nil(t, blankDue.DueDate)

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"buy milk", "walk dog", "x"}, texts(list))

	require.Len(t, pub.events, 3)
	assert.Equal(t, domain.TodoCreated, pub.events[0].Type)
	assert.Equal(t, int64(1), pub.events[0].OwnerID)
	assert.False(t, pub.events[0].At.IsZero())
}

func TestCreateRejectsBlankText(t *testing.T) {
	svc, _, pub := newTestService()
	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := svc.Create(context.Background(), 1, text, nil)
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Equal(t, "text is required", apperr.PublicMessage(err))
	}
	assert.Empty(t, pub.events)
}

func TestUpdateSemantics(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	created, err := svc.Create(ctx, 1, "draft", strPtr("2026-01-01"))
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, 1, created.ID, domain.TodoPatch{
		Completed: domain.Some(true),
		DueDate:   domain.Some(strPtr("2026-01-01")),
	}))
	list, _ := svc.List(ctx, 1)
	assert.True(t, list[0].Completed)

	// omitted completed stays true, whitespace text is ignored
	require.NoError(t, svc.Update(ctx, 1, created.ID, domain.TodoPatch{Text: domain.Some("   ")}))
	list, _ = svc.List(ctx, 1)
	assert.Equal(t, "draft", list[0].Text)
	assert.True(t, list[0].Completed)
	assert.Nil(t, list[0].DueDate)

	require.NoError(t, svc.Update(ctx, 1, created.ID, domain.TodoPatch{
		Text:      domain.Some("  final  "),
		Completed: domain.Some(false),
		DueDate:   domain.Some(strPtr("  ")),
	}))
	list, _ = svc.List(ctx, 1)
	assert.Equal(t, "final", list[0].Text)
	assert.False(t, list[0].Completed)
	assert.Nil(t, list[0].DueDate)
}

func TestOtherOwnersSeeNotFound(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()
	created, err := svc.Create(ctx, 1, "mine", nil)
	require.NoError(t, err)

	list, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = svc.Update(ctx, 2, created.ID, domain.TodoPatch{Completed: domain.Some(true)})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	err = svc.Delete(ctx, 2, created.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	err = svc.Delete(ctx, 1, 999)
	assert.Equal(t, "todo not found", apperr.PublicMessage(err))

	// only the create was published
	assert.Len(t, pub.events, 1)
}

func TestReorder(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()
	a, _ := svc.Create(ctx, 1, "A", nil)
	b, _ := svc.Create(ctx, 1, "B", nil)
	c, _ := svc.Create(ctx, 1, "C", nil)

	require.NoError(t, svc.Reorder(ctx, 1, []int64{c.ID, a.ID, b.ID}))
	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, texts(list))
	assert.Equal(t, []int64{0, 1, 2}, []int64{list[0].Position, list[1].Position, list[2].Position})

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, domain.TodoReordered, last.Type)
	assert.Equal(t, []int64{c.ID, a.ID, b.ID}, last.TodoIDs)

	require.NoError(t, svc.Reorder(ctx, 1, []int64{}))
	err = svc.Reorder(ctx, 1, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStoreFailuresAreInternal(t *testing.T) {
	svc, repo, pub := newTestService()
	ctx := context.Background()
	repo.err = errors.New("database is locked")

	_, err := svc.List(ctx, 1)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	_, err = svc.Create(ctx, 1, "x", nil)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	err = svc.Update(ctx, 1, 1, domain.TodoPatch{})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	err = svc.Delete(ctx, 1, 1)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	err = svc.Reorder(ctx, 1, []int64{1})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, "internal server error", apperr.PublicMessage(err))

	assert.Empty(t, pub.events)
}

func TestNilPublisher(t *testing.T) {
	svc := New(newMemoryTodos(), nil, nil)
	_, err := svc.Create(context.Background(), 1, "ok", nil)
	assert.NoError(t, err)
}
