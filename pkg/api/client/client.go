package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is used when New receives an empty base URL.
const DefaultBaseURL = "http://localhost:3001/api"

// Client provides typed access to the todo API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Session is returned by register and login.
type Session struct {
	Token  string `json:"token"`
	UserID int64  `json:"userId"`
}

// Register creates an account and returns a session for it.
func (c *Client) Register(ctx context.Context, email, password string) (Session, error) {
	return c.credentials(ctx, "/auth/register", email, password)
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	return c.credentials(ctx, "/auth/login", email, password)
}

func (c *Client) credentials(ctx context.Context, path, email, password string) (Session, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var session Session
	if err := c.do(ctx, http.MethodPost, path, body, "", &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Todo reflects API todo payloads.
type Todo struct {
	ID        int64   `json:"id"`
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
	DueDate   *string `json:"dueDate"`
	Position  int64   `json:"position"`
}

// ListTodos returns the caller's todos in display order.
func (c *Client) ListTodos(ctx context.Context, token string) ([]Todo, error) {
	var todos []Todo
	if err := c.do(ctx, http.MethodGet, "/todos", nil, token, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// CreateTodo appends a todo. An empty dueDate is sent as null.
func (c *Client) CreateTodo(ctx context.Context, token, text, dueDate string) (Todo, error) {
	body := map[string]any{"text": text, "dueDate": nil}
	if strings.TrimSpace(dueDate) != "" {
		body["dueDate"] = dueDate
	}
	var todo Todo
	if err := c.do(ctx, http.MethodPost, "/todos", body, token, &todo); err != nil {
		return Todo{}, err
	}
	return todo, nil
}

// TodoUpdate is the payload for UpdateTodo. Text and Completed are left
// untouched when nil. DueDate is always sent; nil clears the stored date,
// so callers that only flip Completed should copy the current due date.
type TodoUpdate struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
	DueDate   *string `json:"dueDate"`
}

// UpdateTodo applies a partial update to one of the caller's todos. The
// server answers with a bare success flag, so callers that need the stored
// item list again or apply the update locally with Todo.Apply.
func (c *Client) UpdateTodo(ctx context.Context, token string, id int64, update TodoUpdate) error {
	return c.do(ctx, http.MethodPut, todoPath(id), update, token, nil)
}

// Apply returns t as the server stores it after update: blank text keeps the
// old text and the due date is always replaced.
func (t Todo) Apply(update TodoUpdate) Todo {
	if update.Text != nil && strings.TrimSpace(*update.Text) != "" {
		t.Text = strings.TrimSpace(*update.Text)
	}
	if update.Completed != nil {
		t.Completed = *update.Completed
	}
	t.DueDate = nil
	if update.DueDate != nil && strings.TrimSpace(*update.DueDate) != "" {
		due := strings.TrimSpace(*update.DueDate)
		t.DueDate = &due
	}
	return t
}

// DeleteTodo removes one of the caller's todos.
func (c *Client) DeleteTodo(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodDelete, todoPath(id), nil, token, nil)
}

// ReorderTodos assigns positions 0..n-1 following the order of ids.
func (c *Client) ReorderTodos(ctx context.Context, token string, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	body := map[string][]int64{"todoIds": ids}
	return c.do(ctx, http.MethodPut, "/todos/reorder", body, token, nil)
}

// Health reports the server's health status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", &payload); err != nil {
		return "", err
	}
	return payload.Status, nil
}

func todoPath(id int64) string {
	return "/todos/" + url.PathEscape(strconv.FormatInt(id, 10))
}
