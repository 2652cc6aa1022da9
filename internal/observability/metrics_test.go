package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(entriesApplied.WithLabelValues("rejected"))
	RecordEntries(3, 2)
	RecordEntries(0, 0)
	RecordResync()
	RecordHTTPRequest("GET", "/healthz", 200, 12*time.Millisecond)
	SessionOpened()
	SessionClosed()

	assert.Equal(t, before+2, testutil.ToFloat64(entriesApplied.WithLabelValues("rejected")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger(zap.NewNop()), RequestMetrics)
	r.Get("/games/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", Handler())

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/games/{code}", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games/ABC123", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/games/{code}", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tablesync_http_requests_total"))
}
