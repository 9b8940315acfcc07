package dov_fixtures

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type contextKey int

const (
	dbKey contextKey = iota
	loggerKey
	requestIDKey
)

// WrapContextFunc adds a value to a request's context.
type WrapContextFunc = func(context.Context) context.Context

// WrapContext applies successive WrapContextFunc functions to a context.Context,
// returning the final value.
func WrapContext(ctx context.Context, wrap ...WrapContextFunc) context.Context {
	for _, w := range wrap {
		ctx = w(ctx)
	}
	return ctx
}

// WrapContextMiddleware runs every WrapContextFunc on the request's context
// before handing it on.
func WrapContextMiddleware(wrap ...WrapContextFunc) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.ServeHTTP(w, r.WithContext(WrapContext(r.Context(), wrap...)))
		})
	}
}

// SetRequestID gives each request a new ID.
func SetRequestID() WrapContextFunc {
	return func(ctx context.Context) context.Context {
		return context.WithValue(ctx, requestIDKey, uuid.New())
	}
}

// GetRequestID returns the ID set by SetRequestID, or uuid.Nil outside a
// request.
func GetRequestID(ctx context.Context) uuid.UUID {
	requestID, _ := ctx.Value(requestIDKey).(uuid.UUID)
	return requestID
}

// SetDatabase attaches the run history database.
func SetDatabase(db *gorm.DB) WrapContextFunc {
	return func(ctx context.Context) context.Context {
		return context.WithValue(ctx, dbKey, db)
	}
}

// GetDatabase gets the database attached by SetDatabase. The history server
// can't do anything without one, so a missing database panics.
func GetDatabase(ctx context.Context) *gorm.DB {
	db, ok := ctx.Value(dbKey).(*gorm.DB)
	if !ok {
		panic("No database attached to the context")
	}
	return db
}

// SetLogger attaches a logger tagged with the request ID, so it must come
// after SetRequestID().
func SetLogger(logger *zap.Logger) WrapContextFunc {
	return func(ctx context.Context) context.Context {
		tagged := logger
		if requestID := GetRequestID(ctx); requestID != uuid.Nil {
			tagged = logger.With(zap.Stringer("request-id", requestID))
		}
		return context.WithValue(ctx, loggerKey, tagged)
	}
}

// GetLogger gets the logger attached by SetLogger, falling back to zap.L().
func GetLogger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.L()
}

// responseHeaders tags every response with the request ID and the tool's
// version.
func responseHeaders() mux.MiddlewareFunc {
	server := "dov-fixtures/" + Version

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("server", server)
			if requestID := GetRequestID(r.Context()); requestID != uuid.Nil {
				w.Header().Set("x-request-id", requestID.String())
			}

			h.ServeHTTP(w, r)
		})
	}
}

// accessLog logs each request once it has been handled.
func accessLog() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			h.ServeHTTP(recorder, r)

			GetLogger(r.Context()).Info("Handled request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Int("bytes-written", recorder.written),
				zap.Duration("duration", time.Since(started)),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(data []byte) (int, error) {
	n, err := s.ResponseWriter.Write(data)
	s.written += n
	return n, err
}
