package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FallbackResult("success", "")
	m.FallbackResult("success", "")
	m.FallbackResult("disconnect", "Too many requests")
	m.KeySyncResult("stored")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallback.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallback.WithLabelValues("disconnect", "Too many requests")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keySync.WithLabelValues("stored")))
}

func TestWatchSizeAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	n := 3
	m.WatchSize("cached_profiles", "Number of cached profiles.", func() int { return n })

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fallbackauth_cached_profiles 3")
}
