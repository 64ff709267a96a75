package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const correlationHeader = "X-Correlation-Id"

// correlationID tags every request with a stable identifier for log and
// trace joins, honouring an inbound header when the caller supplies one.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(withCorrelation(r.Context(), id)))
	})
}

// authenticator checks bearer tokens against a static allow-list using
// constant-time comparison. Admin routes require a token from the admin set.
type authenticator struct {
	apiTokens   []string
	adminTokens []string
}

func newAuthenticator(apiTokens, adminTokens []string) *authenticator {
	return &authenticator{apiTokens: apiTokens, adminTokens: adminTokens}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenAllowed(token string, allowed []string) bool {
	if token == "" {
		return false
	}
	ok := false
	for _, candidate := range allowed {
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			ok = true
		}
	}
	return ok
}

func (a *authenticator) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenAllowed(bearerToken(r), a.apiTokens) && !tokenAllowed(bearerToken(r), a.adminTokens) {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *authenticator) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenAllowed(bearerToken(r), a.adminTokens) {
			writeError(w, r, http.StatusForbidden, "forbidden", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter applies a token-bucket limit per bearer token (falling back to
// the remote address for unauthenticated callers).
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *rateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			key = r.RemoteAddr
		}
		if !l.limiterFor(key).Allow() {
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
