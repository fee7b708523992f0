package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type contextKey string

const (
	callerContextKey    contextKey = "labgrid.caller"
	requestIDContextKey contextKey = "labgrid.request_id"
	requestIDHeader                = "X-Request-Id"
)

// RequestID tags every request with a UUID, propagating an incoming header
// when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimiter applies a per-client token bucket across all routes.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute requests per client with the given burst.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	if burst <= 0 {
		burst = 60
	}
	return &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[id] = limiter
	}
	return limiter
}

// Middleware rejects clients that exceed their bucket with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticator validates HS256 bearer tokens whose subject is the caller's
// hex address. With no secret configured authentication is disabled and the
// caller address is taken from the request payload.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an authenticator for the shared secret. An empty
// secret disables token checks.
func NewAuthenticator(secret string) *Authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &Authenticator{}
	}
	return &Authenticator{secret: []byte(trimmed)}
}

// Enabled reports whether bearer tokens are required.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Middleware authenticates the request and stores the caller address in the
// context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := a.callerFromToken(r)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) callerFromToken(r *http.Request) ([20]byte, error) {
	var caller [20]byte
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return caller, fmt.Errorf("rpc: missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("rpc: unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return caller, fmt.Errorf("rpc: invalid token: %w", err)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return caller, err
	}
	return parseAddress(subject)
}

// IssueToken mints a bearer token for the caller address. Used by operators
// and tests.
func (a *Authenticator) IssueToken(caller [20]byte) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("rpc: authentication disabled")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": hex.EncodeToString(caller[:]),
	})
	return token.SignedString(a.secret)
}

func callerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(callerContextKey).([20]byte)
	return caller, ok
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("rpc: invalid address %q", value)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("rpc: invalid address length %d", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}
