package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/sandbox"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeUnauthorizedError(w, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIKey)) != 1 {
			writeUnauthorizedError(w, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withSandboxKey validates the {key} path segment and binds it to the
// request context, where the data source's key provider resolves it.
func withSandboxKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if err := sandbox.ValidateKey(key); err != nil {
			writeAPIError(w, err)
			return
		}
		next(w, r.WithContext(sandbox.WithKey(r.Context(), key)))
	}
}

// requestLogger tags the server logger with the request ID and, when one
// is bound, the sandbox key.
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	log := s.logger
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		log = log.With(zap.String("request_id", id))
	}
	if key, ok := sandbox.KeyFromContext(r.Context()); ok {
		log = log.With(zap.String("key", key))
	}
	return log
}
