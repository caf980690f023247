package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/todolist/internal/app/migrate"
	httpx "github.com/splax/todolist/internal/http"
	"github.com/splax/todolist/internal/repository/sqlite"
	"github.com/splax/todolist/internal/service/auth"
	"github.com/splax/todolist/internal/service/todo"
	"github.com/splax/todolist/internal/ws"
	"github.com/splax/todolist/pkg/api/client"
	"github.com/splax/todolist/pkg/config"
)

func newServerClient(t *testing.T) *client.Client {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "todos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	runner, err := migrate.New(repo.DB(), config.DriverSQLite, log)
	require.NoError(t, err)
	require.NoError(t, runner.Ensure(ctx))

	cfg := config.DefaultAPIConfig()
	cfg.JWTSecret = "client-test-secret"
	cfg.BcryptCost = 4
	hub := ws.NewHub(log)
	t.Cleanup(hub.Close)

	router, err := httpx.NewRouter(log, auth.New(repo, log, cfg), todo.New(repo, hub, log), hub, httpx.Options{})
	require.NoError(t, err)
	t.Cleanup(router.Close)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	cli, err := client.New(srv.URL)
	require.NoError(t, err)
	return cli
}

func TestClientAgainstRouter(t *testing.T) {
	cli := newServerClient(t)
	ctx := context.Background()

	session, err := cli.Register(ctx, "client@example.com", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)

	created, err := cli.CreateTodo(ctx, session.Token, "milk", "2026-04-01")
	require.NoError(t, err)

	done := true
	update := client.TodoUpdate{Completed: &done, DueDate: created.DueDate}
	require.NoError(t, cli.UpdateTodo(ctx, session.Token, created.ID, update))

	todos, err := cli.ListTodos(ctx, session.Token)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.True(t, todos[0].Completed)
	assert.Equal(t, "milk", todos[0].Text)
	assert.Equal(t, todos[0], created.Apply(update))

	err = cli.UpdateTodo(ctx, session.Token, created.ID+100, update)
	var apiErr client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "todo not found", apiErr.Message)

	require.NoError(t, cli.DeleteTodo(ctx, session.Token, created.ID))
	todos, err = cli.ListTodos(ctx, session.Token)
	require.NoError(t, err)
	assert.Empty(t, todos)
}
