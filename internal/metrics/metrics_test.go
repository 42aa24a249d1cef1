package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tapop105/internal/coordinator"
	"tapop105/internal/tapocli"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ tapocli.Observer     = (*Device)(nil)
	_ coordinator.Observer = (*Device)(nil)
)

func scrape(t *testing.T, m *Metrics) (int, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)
	return rr.Code, rr.Body.String()
}

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	code, body := scrape(t, m)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "metrics unavailable")
}

func TestHandler_exposesDeviceMetrics(t *testing.T) {
	m := New()
	d := m.Device("kettle")

	d.ObserveInvocation("info", "none", 300*time.Millisecond)
	d.ObserveInvocation("on", "authentication_failed", 100*time.Millisecond)
	d.IncEmptyRetry()
	d.ObservePoll("none", time.Second)
	d.SetAvailable(true)
	d.SetDeviceOn(true)
	d.SetLastSuccess(time.Unix(1700000000, 0))
	m.ObserveHTTPRequest(http.MethodGet, "/api/status", http.StatusOK, 5*time.Millisecond)

	code, body := scrape(t, m)
	require.Equal(t, http.StatusOK, code)

	for _, want := range []string{
		`tapo_p105_helper_invocations_total{command="info",device="kettle",result="none"} 1`,
		`tapo_p105_helper_invocations_total{command="on",device="kettle",result="authentication_failed"} 1`,
		`tapo_p105_helper_empty_retries_total{device="kettle"} 1`,
		`tapo_p105_polls_total{device="kettle",result="none"} 1`,
		`tapo_p105_device_on{device="kettle"} 1`,
		`tapo_p105_device_available{device="kettle"} 1`,
		`tapo_p105_last_success_timestamp_seconds{device="kettle"} 1.7e+09`,
		`tapo_p105_http_requests_total{method="GET",path="/api/status",status="200"} 1`,
		`tapo_p105_poll_duration_seconds_count{device="kettle"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s in\n%s", want, body)
	}
}

func TestDevice_nilSafe(t *testing.T) {
	var d *Device
	assert.NotPanics(t, func() {
		d.ObserveInvocation("info", "none", time.Second)
		d.IncEmptyRetry()
		d.ObservePoll("none", time.Second)
		d.SetAvailable(false)
		d.SetDeviceOn(false)
		d.SetLastSuccess(time.Now())
	})

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTPRequest("GET", "/", 200, time.Second)
		m.Device("x").SetDeviceOn(true)
	})
}
