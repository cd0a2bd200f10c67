package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestMiddleware_SetsTraceHeaderAndSpanContext(t *testing.T) {
	tp := Setup()
	defer tp.Shutdown(context.Background())

	var inner trace.SpanContext
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = trace.SpanFromContext(r.Context()).SpanContext()
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.True(t, inner.IsValid())
	assert.Equal(t, inner.TraceID().String(), rec.Header().Get("X-Trace-Id"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	tp := Setup()
	defer tp.Shutdown(context.Background())

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/analyze", nil)
	req.Header.Set("traceparent", parent)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", rec.Header().Get("X-Trace-Id"))
}
