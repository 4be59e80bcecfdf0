package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
)

const traceHeader = "X-Trace-ID"

// TracingMiddleware assigns a trace ID to every request, logs completion
// and converts panics into 500 responses.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware.
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(traceHeader, traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				m.logger.WithContext(ctx).
					WithField("panic", fmt.Sprint(rec)).
					WithField("stack", string(debug.Stack())).
					Error("handler panicked")
				if !rw.written {
					httputil.WriteError(rw, r.WithContext(ctx), errors.Internal("", nil))
				}
				rw.statusCode = http.StatusInternalServerError
			}
			m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}
