// File: internal/server/middleware.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

type contextKey string

const credentialKey contextKey = "credential"

// credentialFrom returns the authenticated credential ID stored by the auth
// middleware.
func credentialFrom(ctx context.Context) string {
	id, _ := ctx.Value(credentialKey).(string)
	return id
}

// recoveryMiddleware catches handler panics, logs the stack trace, and
// returns a generic 500 so the service stays up.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("Panic recovered in HTTP handler",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("stack", string(debug.Stack())))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request and records the Prometheus request
// counter and duration histogram.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.status),
			zap.Duration("duration", duration),
			zap.String("remote", r.RemoteAddr))

		observability.HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
		observability.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// authMiddleware verifies the bearer credential before any engine work. The
// token is an HS256 JWT signed with the shared secret; its subject claim is
// the credential ID used for rate limiting.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, schemas.ErrUnauthorized.Error())
			return
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.AuthSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, schemas.ErrUnauthorized.Error())
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			writeError(w, http.StatusUnauthorized, schemas.ErrUnauthorized.Error())
			return
		}

		ctx := context.WithValue(r.Context(), credentialKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware enforces the per-credential request ceiling. Excess
// requests fail immediately; they are never queued.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := credentialFrom(r.Context())
		if !s.limiters.get(credential).Allow() {
			writeError(w, http.StatusTooManyRequests, schemas.ErrRateLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterRegistry hands out one token bucket per credential.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterRegistry(rps float64, burst int) *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (reg *limiterRegistry) get(credential string) *rate.Limiter {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	limiter, ok := reg.limiters[credential]
	if !ok {
		limiter = rate.NewLimiter(reg.rps, reg.burst)
		reg.limiters[credential] = limiter
	}
	return limiter
}
