package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tapo_p105"

// Metrics exposes helper, polling and HTTP metrics on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	helperInvocations  *prometheus.CounterVec
	helperDuration     *prometheus.HistogramVec
	emptyRetries       *prometheus.CounterVec
	pollsTotal         *prometheus.CounterVec
	pollDuration       *prometheus.HistogramVec
	deviceOn           *prometheus.GaugeVec
	deviceAvailable    *prometheus.GaugeVec
	lastSuccess        *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

// New creates a fresh registry with every metric registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		helperInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "helper_invocations_total",
			Help:      "Helper binary runs by command and result",
		}, []string{"device", "command", "result"}),
		helperDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "helper_duration_seconds",
			Help:      "Wall time of helper binary runs",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"device", "command"}),
		emptyRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "helper_empty_retries_total",
			Help:      "Info runs repeated because the helper printed nothing",
		}, []string{"device"}),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status polls by result",
		}, []string{"device", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of status polls including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"device"}),
		deviceOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_on",
			Help:      "Relay state from the last successful poll (1=on, 0=off)",
		}, []string{"device"}),
		deviceAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_available",
			Help:      "Whether the last poll succeeded (1=yes, 0=no)",
		}, []string{"device"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful poll",
		}, []string{"device"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests",
		}, []string{"method", "path", "status"}),
		httpRequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	registry.MustRegister(
		m.helperInvocations,
		m.helperDuration,
		m.emptyRetries,
		m.pollsTotal,
		m.pollDuration,
		m.deviceOn,
		m.deviceAvailable,
		m.lastSuccess,
		m.httpRequests,
		m.httpRequestSeconds,
	)

	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestSeconds.With(labels).Observe(duration.Seconds())
}

// Device returns the metrics view for one plug. It satisfies both the
// helper client's and the coordinator's observer interfaces.
func (m *Metrics) Device(name string) *Device {
	return &Device{m: m, name: name}
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Device records metrics labelled with one plug's name.
type Device struct {
	m    *Metrics
	name string
}

func (d *Device) ObserveInvocation(command, result string, duration time.Duration) {
	if d == nil || d.m == nil {
		return
	}
	d.m.helperInvocations.WithLabelValues(d.name, command, result).Inc()
	d.m.helperDuration.WithLabelValues(d.name, command).Observe(duration.Seconds())
}

func (d *Device) IncEmptyRetry() {
	if d == nil || d.m == nil {
		return
	}
	d.m.emptyRetries.WithLabelValues(d.name).Inc()
}

func (d *Device) ObservePoll(result string, duration time.Duration) {
	if d == nil || d.m == nil {
		return
	}
	d.m.pollsTotal.WithLabelValues(d.name, result).Inc()
	d.m.pollDuration.WithLabelValues(d.name).Observe(duration.Seconds())
}

func (d *Device) SetAvailable(available bool) {
	if d == nil || d.m == nil {
		return
	}
	d.m.deviceAvailable.WithLabelValues(d.name).Set(boolToFloat(available))
}

func (d *Device) SetDeviceOn(on bool) {
	if d == nil || d.m == nil {
		return
	}
	d.m.deviceOn.WithLabelValues(d.name).Set(boolToFloat(on))
}

func (d *Device) SetLastSuccess(t time.Time) {
	if d == nil || d.m == nil {
		return
	}
	d.m.lastSuccess.WithLabelValues(d.name).Set(float64(t.Unix()))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
