package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method string
	path   string
	auth   string
	body   string
}

func newTestServer(t *testing.T, status int, response string) (*Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		captured.body = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL + "/api/")
	require.NoError(t, err)
	return cli, captured
}

func TestNewDefaults(t *testing.T) {
	cli, err := New("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cli.baseURL)

	cli, err = New("example.com:3001/api/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:3001/api", cli.baseURL)
}

func TestLogin(t *testing.T) {
	cli, req := newTestServer(t, http.StatusOK, `{"token":"abc","userId":7}`)
	session, err := cli.Login(context.Background(), "a@x.io", "secret1")
	require.NoError(t, err)
	assert.Equal(t, Session{Token: "abc", UserID: 7}, session)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/auth/login", req.path)
	assert.Empty(t, req.auth)
	assert.JSONEq(t, `{"email":"a@x.io","password":"secret1"}`, req.body)
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	cli, _ := newTestServer(t, http.StatusBadRequest, `{"error":"email already registered"}`)
	_, err := cli.Register(context.Background(), "a@x.io", "secret1")
	require.Error(t, err)
	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "email already registered", apiErr.Message)
}

func TestCreateTodoSendsNullDueDate(t *testing.T) {
	cli, req := newTestServer(t, http.StatusCreated, `{"id":3,"text":"milk","completed":false,"dueDate":null,"position":0}`)
	todo, err := cli.CreateTodo(context.Background(), "tok", "milk", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), todo.ID)
	assert.Nil(t, todo.DueDate)
	assert.Equal(t, "Bearer tok", req.auth)
	assert.JSONEq(t, `{"text":"milk","dueDate":null}`, req.body)
}

func TestUpdateTodoPayload(t *testing.T) {
	cli, req := newTestServer(t, http.StatusOK, `{"success":true}`)
	done := true
	due := "2026-01-01"
	require.NoError(t, cli.UpdateTodo(context.Background(), "tok", 3, TodoUpdate{Completed: &done, DueDate: &due}))
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/api/todos/3", req.path)
	assert.JSONEq(t, `{"completed":true,"dueDate":"2026-01-01"}`, req.body)

	require.NoError(t, cli.UpdateTodo(context.Background(), "tok", 3, TodoUpdate{}))
	assert.JSONEq(t, `{"dueDate":null}`, req.body)
}

func TestUpdateTodoNotFound(t *testing.T) {
	cli, _ := newTestServer(t, http.StatusNotFound, `{"error":"todo not found"}`)
	err := cli.UpdateTodo(context.Background(), "tok", 3, TodoUpdate{})
	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestTodoApply(t *testing.T) {
	due := "2026-01-01"
	base := Todo{ID: 3, Text: "milk", DueDate: &due, Position: 2}

	done := true
	got := base.Apply(TodoUpdate{Completed: &done, DueDate: base.DueDate})
	assert.Equal(t, Todo{ID: 3, Text: "milk", Completed: true, DueDate: &due, Position: 2}, got)

	blank := "  "
	got = base.Apply(TodoUpdate{Text: &blank})
	assert.Equal(t, "milk", got.Text)
	assert.Nil(t, got.DueDate)

	text := " oat milk "
	got = base.Apply(TodoUpdate{Text: &text, DueDate: &blank})
	assert.Equal(t, "oat milk", got.Text)
	assert.Nil(t, got.DueDate)
	assert.False(t, got.Completed)
}

func TestReorderAndDelete(t *testing.T) {
	cli, req := newTestServer(t, http.StatusOK, `{"success":true}`)
	require.NoError(t, cli.ReorderTodos(context.Background(), "tok", nil))
	assert.Equal(t, "/api/todos/reorder", req.path)
	var payload map[string][]int64
	require.NoError(t, json.Unmarshal([]byte(req.body), &payload))
	assert.NotNil(t, payload["todoIds"])
	assert.Empty(t, payload["todoIds"])

	require.NoError(t, cli.DeleteTodo(context.Background(), "tok", 9))
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, "/api/todos/9", req.path)
}
