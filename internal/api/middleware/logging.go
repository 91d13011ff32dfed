package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const logFieldsKey contextKey = "log_fields"

// logFields collects request-scoped attributes that are only known after
// inner middleware has run, such as the tenant resolved from the API key.
type logFields struct {
	mu       sync.Mutex
	tenantID string
}

func (f *logFields) setTenant(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenantID = id.String()
}

func (f *logFields) tenant() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenantID
}

// stampTenant records the resolved tenant on the request log line, when a
// Logger is installed above the caller.
func stampTenant(ctx context.Context, id uuid.UUID) {
	if f, ok := ctx.Value(logFieldsKey).(*logFields); ok {
		f.setTenant(id)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger emits one structured line per request. Traffic is keyed by tenant,
// so the tenant id is included whenever authentication identified one.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fields := &logFields{}
		r = r.WithContext(context.WithValue(r.Context(), logFieldsKey, fields))

		next.ServeHTTP(rec, r)

		attrs := []any{
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if t := fields.tenant(); t != "" {
			attrs = append(attrs, "tenant_id", t)
		}
		slog.Info("request", attrs...)
	})
}
