package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := New()

	m.RecordHTTPRequest("directory", "GET", "/api/providers/{slug}", "200", 15*time.Millisecond)
	m.RecordHTTPRequest("directory", "GET", "/api/providers/{slug}", "200", 20*time.Millisecond)
	m.RecordCacheLookup("categories", true)
	m.RecordCacheLookup("categories", false)
	m.RecordLLMCall("openai", "ok", 2*time.Second)
	m.RecordJobRun("purge_stories", 50*time.Millisecond, true)
	m.RecordJobRun("", time.Millisecond, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("directory", "GET", "/api/providers/{slug}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("categories", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("openai", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("unknown", "false")))

	m.IncrementInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
	m.DecrementInFlight()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordJobRun("warm_cache", time.Millisecond, true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `needful_jobs_runs_total{job="warm_cache",success="true"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordCacheLookup("featured", true)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheLookups.WithLabelValues("featured", "hit")))
}
