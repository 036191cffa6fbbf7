package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smdmonitor/smdmonitor/pkg/common"
	"github.com/smdmonitor/smdmonitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveLoad(ResultLoaded, 20*time.Millisecond)
	m.ObserveLoad(ResultLoaded, 30*time.Millisecond)
	m.ObserveLoad(ResultEmpty, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loads.WithLabelValues(ResultLoaded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues(ResultEmpty)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.loads.WithLabelValues(ResultError)))

	m.AddRejected(0)
	m.AddRejected(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rejected))

	m.SetViolations(types.ZoneLuzon, 4)
	m.SetViolations(types.ZoneLuzon, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.violations.WithLabelValues("Luzon")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveLoad(ResultError, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `smdmonitor_dashboard_loads_total{result="error"} 1`)
	assert.Contains(t, w.Body.String(), "smdmonitor_dashboard_load_seconds_bucket")
	assert.Contains(t, w.Body.String(), `smdmonitor_build_info{version="`+common.Version()+`"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLoad(ResultLoaded, time.Second)
		m.AddRejected(2)
		m.SetViolations(types.ZoneSystem, 1)
	})
}
