package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/crisis"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Crisis control metrics.
var (
	crisisMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crisis_mode",
			Help: "1 for the current platform mode, 0 otherwise.",
		},
		[]string{"mode"},
	)

	crisisOverride = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crisis_override_enabled",
			Help: "1 while the named safety override is on.",
		},
		[]string{"override"},
	)

	crisisTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_transitions_total",
			Help: "Mode transitions by source and target mode.",
		},
		[]string{"from", "to"},
	)

	crisisEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crisis_events_total",
			Help: "Crisis control events, including dual-authorization outcomes.",
		},
		[]string{"event"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions served by the API.",
		},
		[]string{"permission", "decision"},
	)
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			crisisMode, crisisOverride, crisisTransitions, crisisEvents, authzDecisions,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in known routes so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "crisis" && parts[2] == "overrides":
		return "/v1/crisis/overrides/:name"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "crisis" && parts[2] == "activations":
		switch parts[4] {
		case "tokens", "countdown", "cancel":
			return "/v1/crisis/activations/:id/" + parts[4]
		}
	}
	return raw
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RecordAuthz counts one decision served to a caller.
func RecordAuthz(perm auth.Permission, d auth.Decision) {
	authzDecisions.WithLabelValues(string(perm), d.String()).Inc()
}

// CrisisMetrics mirrors machine snapshots into gauges and counters.
type CrisisMetrics struct {
	mu   sync.Mutex
	last crisis.Mode
	seen bool
}

// NewCrisisMetrics returns an observer for crisis.Machine.
func NewCrisisMetrics() *CrisisMetrics { return &CrisisMetrics{} }

// CrisisChanged implements crisis.Observer.
func (c *CrisisMetrics) CrisisChanged(s crisis.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range []crisis.Mode{crisis.Normal, crisis.Elevated, crisis.Lockdown} {
		v := 0.0
		if m == s.Mode {
			v = 1
		}
		crisisMode.WithLabelValues(m.String()).Set(v)
	}
	for _, o := range crisis.Overrides() {
		v := 0.0
		if s.Overrides.Get(o) {
			v = 1
		}
		crisisOverride.WithLabelValues(string(o)).Set(v)
	}
	if s.Event != "" {
		crisisEvents.WithLabelValues(string(s.Event)).Inc()
	}
	if c.seen && c.last != s.Mode {
		crisisTransitions.WithLabelValues(c.last.String(), s.Mode.String()).Inc()
	}
	c.last, c.seen = s.Mode, true
}
