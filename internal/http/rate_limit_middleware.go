package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts hits per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed bool
	count   int
	resetAt time.Time
}

// rateRule limits one route group. Counters are scoped by route, so the read
// and write budgets of the same user are independent.
type rateRule struct {
	route  string
	limit  int
	window time.Duration
	key    func(*http.Request) string
}

var (
	ruleRegister   = rateRule{route: "register", limit: 5, window: time.Minute, key: rateLimitKeyIP}
	ruleLogin      = rateRule{route: "login", limit: 12, window: time.Minute, key: rateLimitKeyIP}
	ruleTodosRead  = rateRule{route: "todos_read", limit: 120, window: time.Minute, key: rateLimitKeyUser}
	ruleTodosWrite = rateRule{route: "todos_write", limit: 60, window: time.Minute, key: rateLimitKeyUser}
	ruleStream     = rateRule{route: "todos_stream", limit: 30, window: 30 * time.Second, key: rateLimitKeyUser}
)

const rateLimiterSweepInterval = 5 * time.Minute

type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type fixedWindow struct {
	hits    int
	resetAt time.Time
}

// NewMemoryRateLimiter returns a process-local RateLimiter.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(window)}
		rl.windows[key] = w
	}
	if w.hits >= limit {
		return rateDecision{allowed: false, count: w.hits, resetAt: w.resetAt}
	}
	w.hits++
	return rateDecision{allowed: true, count: w.hits, resetAt: w.resetAt}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep(rl.now())
		case <-rl.stop:
			return
		}
	}
}

// sweep drops windows that ended before now.
func (rl *memoryRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// rateLimited enforces rule before next. Authenticated rules must run inside
// requireAuth so the user key is available.
func (r *Router) rateLimited(rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if rule.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		subject := rule.key(req)
		if subject == "" {
			subject = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(req.Context(), rule.route+"|"+subject, rule.limit, rule.window)
		applyRateHeaders(w, rule.limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(rule.route, rateMetricKey(subject))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// authRateLimited is the usual chain for todo routes.
func (r *Router) authRateLimited(rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.rateLimited(rule, next))
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.resetAt.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.resetAt.Unix(), 10))
	}
}

func rateLimitKeyUser(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID > 0 {
		return "user:" + strconv.FormatInt(info.UserID, 10)
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host := clientIPFromContext(req)
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// rateMetricKey reduces a subject like "user:42" to its kind for metric labels.
func rateMetricKey(subject string) string {
	if subject == "" {
		return "unknown"
	}
	if kind, _, ok := strings.Cut(subject, ":"); ok && kind != "" {
		return kind
	}
	return subject
}
