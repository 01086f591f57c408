package bridge

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
)

const requestIDHeader = "X-Request-Id"

// middleware assembles the outer handler chain around the dispatcher:
// correlation -> logging -> CORS -> auth. CORS sits outside auth so
// preflight requests succeed without credentials.
func (b *Bridge) middleware(next http.Handler) http.Handler {
	next = b.authGate(next)
	if len(b.opts.CORSOrigins) > 0 {
		next = cors.New(cors.Options{
			AllowedOrigins:   b.opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
			AllowCredentials: true,
		}).Handler(next)
	}
	next = b.logRequests(next)
	return correlate(next)
}

// correlate guarantees every request carries a request ID, generating one when
// the caller did not supply it, and echoes it on the response.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (b *Bridge) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		switch {
		case sw.status >= 500:
			level = slog.LevelError
		case sw.status >= 400:
			level = slog.LevelWarn
		}
		b.opts.Logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", r.Header.Get(requestIDHeader)),
		)
	})
}

// authGate enforces the shared-secret Bearer scheme. /health is always open;
// documentation routes are open too unless StrictAuth locks them down. A
// missing credential is 401 with a challenge, a wrong one is 403.
func (b *Bridge) authGate(next http.Handler) http.Handler {
	if b.opts.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.authExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(b.opts.APIKey)) != 1 {
			writeError(w, http.StatusForbidden, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Bridge) authExempt(r *http.Request) bool {
	if r.URL.Path == "/health" {
		return true
	}
	if b.opts.StrictAuth || r.Method != http.MethodGet {
		return false
	}
	return isDocsPath(r.URL.Path)
}

// isDocsPath matches the documentation surface: /docs and /openapi.json at
// the root and under any backend prefix.
func isDocsPath(path string) bool {
	if path == "/docs" || path == "/openapi.json" {
		return true
	}
	return strings.HasSuffix(path, "/docs") || strings.HasSuffix(path, "/openapi.json")
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}
