package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/todolist/internal/domain"
	"github.com/splax/todolist/internal/service/auth"
	"github.com/splax/todolist/internal/service/todo"
	"github.com/splax/todolist/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      auth.Service
	todos     todo.Service
	hub       *ws.Hub
	validator *requestValidator
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	trustedProxies []netip.Prefix

	metricsEnabled     bool
	metricsInitialized bool
	registry           *prometheus.Registry
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// Options holds the optional collaborators of a Router.
type Options struct {
	// Limiter defaults to an in-memory limiter.
	Limiter RateLimiter
	// DBHealth is checked by GET /health.
	DBHealth func(context.Context) error
	// Metrics exposes GET /metrics.
	Metrics bool
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string
	// TrustedProxies lists peers (addresses or CIDRs) whose X-Forwarded-For
	// header is honored. Empty means the header is ignored.
	TrustedProxies []string
}

const (
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, todoSvc todo.Service, hub *ws.Hub, opts Options) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	proxies, err := parseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	r := &Router{
		mux:            http.NewServeMux(),
		logger:         logger,
		auth:           authSvc,
		todos:          todoSvc,
		hub:            hub,
		validator:      validator,
		upgrader:       websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)},
		limiter:        opts.Limiter,
		dbHealth:       opts.DBHealth,
		metricsEnabled: opts.Metrics,
		trustedProxies: proxies,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r, nil
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.handle("GET /health", r.handleHealth)
	r.handle("POST /auth/register", r.rateLimited(ruleRegister, r.handleRegister))
	r.handle("POST /auth/login", r.rateLimited(ruleLogin, r.handleLogin))

	r.handle("GET /todos", r.authRateLimited(ruleTodosRead, r.handleListTodos))
	r.handle("POST /todos", r.authRateLimited(ruleTodosWrite, r.handleCreateTodo))
	r.handle("PUT /todos/reorder", r.authRateLimited(ruleTodosWrite, r.handleReorderTodos))
	r.handle("PUT /todos/{id}", r.authRateLimited(ruleTodosWrite, r.handleUpdateTodo))
	r.handle("DELETE /todos/{id}", r.authRateLimited(ruleTodosWrite, r.handleDeleteTodo))
	r.handle("GET /todos/ws", r.requireStreamAuth(r.rateLimited(ruleStream, r.handleTodosWS)))
	r.handle("GET /todos/events", r.requireStreamAuth(r.rateLimited(ruleStream, r.handleTodoEvents)))

	if r.metricsEnabled {
		r.handle("GET /metrics", r.metricsHandler().ServeHTTP)
		r.handle("/metrics", r.methodNotAllowed)
	}

	// method-less patterns catch wrong verbs on known paths
	for _, path := range []string{"/health", "/auth/register", "/auth/login", "/todos", "/todos/{id}"} {
		r.handle(path, r.methodNotAllowed)
	}
	r.handle("/", r.notFound)
}

func (r *Router) handle(pattern string, next http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, next))
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := r.validator.decode(w, req, schemaCredentials, &payload); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	session, err := r.auth.Register(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := r.validator.decode(w, req, schemaCredentials, &payload); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (r *Router) handleListTodos(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	todos, err := r.todos.List(req.Context(), info.UserID)
	if err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

func (r *Router) handleCreateTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	var payload struct {
		Text    string  `json:"text"`
		DueDate *string `json:"dueDate"`
	}
	if err := r.validator.decode(w, req, schemaTodoCreate, &payload); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	created, err := r.todos.Create(req.Context(), info.UserID, payload.Text, payload.DueDate)
	if err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleUpdateTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	todoID, ok := pathID(req)
	if !ok {
		writeError(w, http.StatusNotFound, "todo not found")
		return
	}
	var patch domain.TodoPatch
	if err := r.validator.decode(w, req, schemaTodoUpdate, &patch); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	if err := r.todos.Update(req.Context(), info.UserID, todoID, patch); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeSuccess(w)
}

func (r *Router) handleDeleteTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	todoID, ok := pathID(req)
	if !ok {
		writeError(w, http.StatusNotFound, "todo not found")
		return
	}
	if err := r.todos.Delete(req.Context(), info.UserID, todoID); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeSuccess(w)
}

func (r *Router) handleReorderTodos(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	var payload struct {
		TodoIDs []int64 `json:"todoIds"`
	}
	if err := r.validator.decode(w, req, schemaTodoReorder, &payload); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	if payload.TodoIDs == nil {
		payload.TodoIDs = []int64{}
	}
	if err := r.todos.Reorder(req.Context(), info.UserID, payload.TodoIDs); err != nil {
		writeAppError(w, req, r.logger, err)
		return
	}
	writeSuccess(w)
}

func (r *Router) handleTodosWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.UserID, client)
	go client.WritePump()
	go func() {
		defer r.hub.Unregister(info.UserID, client)
		client.ReadPump()
	}()
}

func (r *Router) handleTodoEvents(w http.ResponseWriter, req *http.Request) {
	info, ok := r.authInfo(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(info.UserID, client)
	defer func() {
		r.hub.Unregister(info.UserID, client)
		client.Close()
	}()
	if err := client.Stream(req.Context(), sseHeartbeat); err != nil {
		r.logger.Debug("event stream ended", "user_id", info.UserID, "error", err)
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			r.logger.Error("database health check failed", "error", err)
			components["database"] = map[string]any{"status": "down"}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	// The limiter fails open, so an unreachable backend is reported without
	// degrading the service.
	if p, ok := r.limiter.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			r.logger.Warn("rate limiter health check failed", "error", err)
			components["rate_limiter"] = map[string]any{"status": "down"}
		} else {
			components["rate_limiter"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

type pinger interface {
	Ping(context.Context) error
}

// authInfo fetches the caller set by requireAuth.
func (r *Router) authInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
	return info, ok
}

// pathID parses the {id} wildcard; anything but a positive integer names no todo.
func pathID(req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ip := r.clientIP(req)
		reqCtx := context.WithValue(req.Context(), requestIDKey{}, reqID)
		req = req.WithContext(context.WithValue(reqCtx, clientIPKey{}, ip))

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

type clientIPKey struct{}

// clientIP returns the peer address, or the nearest untrusted X-Forwarded-For
// hop when the peer is a trusted proxy.
func (r *Router) clientIP(req *http.Request) string {
	host := remoteHost(req)
	if !r.trustedProxy(host) {
		return host
	}
	hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		host = hop
		if !r.trustedProxy(hop) {
			break
		}
	}
	return host
}

func (r *Router) trustedProxy(host string) bool {
	if len(r.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// clientIPFromContext returns the address resolved by audit, falling back to
// the peer address.
func clientIPFromContext(req *http.Request) string {
	if ip, ok := req.Context().Value(clientIPKey{}).(string); ok {
		return ip
	}
	return remoteHost(req)
}

// parseTrustedProxies accepts CIDR prefixes and bare addresses.
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// originChecker allows websocket upgrades from the configured origins and
// from non-browser clients that send no Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", req.Method))
}

func (r *Router) notFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}
