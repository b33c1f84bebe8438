package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const namespace = "trivia"

// Metrics holds the process-wide counters exposed at /metrics in the
// Prometheus text format.
type Metrics struct {
	mu sync.RWMutex

	requestCount    map[requestKey]*uint64
	requestDuration map[requestKey]*Histogram
	requestErrors   map[errorKey]*uint64

	// upstream trivia calls by outcome: ok, empty, rate_limited, error
	triviaCalls map[string]*uint64

	activeWSConnections int64
	cacheHits           uint64
	cacheMisses         uint64

	counters map[string]*uint64

	startTime time.Time
}

type requestKey struct {
	endpoint string
	method   string
}

type errorKey struct {
	requestKey
	statusClass int
}

// Histogram tracks value distributions
type Histogram struct {
	mu         sync.Mutex
	count      uint64
	sum        float64
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a latency histogram with buckets from 5ms to 10s.
func NewHistogram() *Histogram {
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &Histogram{
		buckets:    buckets,
		bucketVals: make([]uint64, len(buckets)),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[requestKey]*uint64),
		requestDuration: make(map[requestKey]*Histogram),
		requestErrors:   make(map[errorKey]*uint64),
		triviaCalls:     make(map[string]*uint64),
		counters:        make(map[string]*uint64),
		startTime:       time.Now(),
	}
}

var defaultMetrics = New()

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	return defaultMetrics
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := requestKey{endpoint: normalizeEndpoint(path), method: method}

	m.mu.Lock()
	count := m.requestCount[key]
	if count == nil {
		count = new(uint64)
		m.requestCount[key] = count
	}
	hist := m.requestDuration[key]
	if hist == nil {
		hist = NewHistogram()
		m.requestDuration[key] = hist
	}
	var errCount *uint64
	if statusCode >= 400 {
		ek := errorKey{requestKey: key, statusClass: statusCode / 100}
		errCount = m.requestErrors[ek]
		if errCount == nil {
			errCount = new(uint64)
			m.requestErrors[ek] = errCount
		}
	}
	m.mu.Unlock()

	atomic.AddUint64(count, 1)
	hist.Observe(duration.Seconds())
	if errCount != nil {
		atomic.AddUint64(errCount, 1)
	}
}

// normalizeEndpoint replaces UUID and numeric path segments with {id}.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// WSConnections returns the number of open websocket connections.
func (m *Metrics) WSConnections() int64 {
	return atomic.LoadInt64(&m.activeWSConnections)
}

// RecordTriviaCall counts one call to the upstream question source.
func (m *Metrics) RecordTriviaCall(outcome string) {
	m.mu.Lock()
	c := m.triviaCalls[outcome]
	if c == nil {
		c = new(uint64)
		m.triviaCalls[outcome] = c
	}
	m.mu.Unlock()
	atomic.AddUint64(c, 1)
}

func (m *Metrics) RecordCacheHit() {
	atomic.AddUint64(&m.cacheHits, 1)
}

func (m *Metrics) RecordCacheMiss() {
	atomic.AddUint64(&m.cacheMisses, 1)
}

// IncCounter increments a named domain event counter.
func (m *Metrics) IncCounter(name string) {
	m.mu.Lock()
	c := m.counters[name]
	if c == nil {
		c = new(uint64)
		m.counters[name] = c
	}
	m.mu.Unlock()
	atomic.AddUint64(c, 1)
}

// Counter returns the current value of a named counter.
func (m *Metrics) Counter(name string) uint64 {
	m.mu.RLock()
	c := m.counters[name]
	m.mu.RUnlock()
	if c == nil {
		return 0
	}
	return atomic.LoadUint64(c)
}

// Handler serves the metrics in the Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		writeHeader(&sb, "uptime_seconds", "gauge", "Time since the server started")
		fmt.Fprintf(&sb, "%s_uptime_seconds %f\n\n", namespace, time.Since(m.startTime).Seconds())

		writeHeader(&sb, "websocket_connections_active", "gauge", "Active WebSocket connections")
		fmt.Fprintf(&sb, "%s_websocket_connections_active %d\n\n", namespace, m.WSConnections())

		writeHeader(&sb, "cache_requests_total", "counter", "Category cache lookups by result")
		fmt.Fprintf(&sb, "%s_cache_requests_total{result=\"hit\"} %d\n", namespace, atomic.LoadUint64(&m.cacheHits))
		fmt.Fprintf(&sb, "%s_cache_requests_total{result=\"miss\"} %d\n\n", namespace, atomic.LoadUint64(&m.cacheMisses))

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.requestCount) > 0 {
			writeHeader(&sb, "http_requests_total", "counter", "Total HTTP requests")
			for _, key := range sortedRequestKeys(m.requestCount) {
				fmt.Fprintf(&sb, "%s_http_requests_total{endpoint=%q,method=%q} %d\n",
					namespace, key.endpoint, key.method, atomic.LoadUint64(m.requestCount[key]))
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			writeHeader(&sb, "http_request_duration_seconds", "histogram", "HTTP request latency")
			for _, key := range sortedRequestKeys(m.requestDuration) {
				m.requestDuration[key].write(&sb, key)
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			writeHeader(&sb, "http_errors_total", "counter", "Total HTTP errors by status class")
			keys := make([]errorKey, 0, len(m.requestErrors))
			for k := range m.requestErrors {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].requestKey != keys[j].requestKey {
					return lessRequestKey(keys[i].requestKey, keys[j].requestKey)
				}
				return keys[i].statusClass < keys[j].statusClass
			})
			for _, key := range keys {
				fmt.Fprintf(&sb, "%s_http_errors_total{endpoint=%q,method=%q,status_class=\"%dxx\"} %d\n",
					namespace, key.endpoint, key.method, key.statusClass, atomic.LoadUint64(m.requestErrors[key]))
			}
			sb.WriteString("\n")
		}

		writeNamedCounters(&sb, "trivia_api_requests_total", "Upstream trivia API calls by outcome", "outcome", m.triviaCalls)
		writeNamedCounters(&sb, "events_total", "Domain events", "name", m.counters)

		w.Write([]byte(sb.String()))
	}
}

func (h *Histogram) write(sb *strings.Builder, key requestKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := namespace + "_http_request_duration_seconds"
	for i, bucket := range h.buckets {
		fmt.Fprintf(sb, "%s_bucket{endpoint=%q,method=%q,le=\"%g\"} %d\n", name, key.endpoint, key.method, bucket, h.bucketVals[i])
	}
	fmt.Fprintf(sb, "%s_bucket{endpoint=%q,method=%q,le=\"+Inf\"} %d\n", name, key.endpoint, key.method, h.count)
	fmt.Fprintf(sb, "%s_sum{endpoint=%q,method=%q} %f\n", name, key.endpoint, key.method, h.sum)
	fmt.Fprintf(sb, "%s_count{endpoint=%q,method=%q} %d\n", name, key.endpoint, key.method, h.count)
}

func writeHeader(sb *strings.Builder, name, kind, help string) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
}

func writeNamedCounters(sb *strings.Builder, name, help, label string, counters map[string]*uint64) {
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, name, "counter", help)
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "%s_%s{%s=%q} %d\n", namespace, name, label, k, atomic.LoadUint64(counters[k]))
	}
	sb.WriteString("\n")
}

func sortedRequestKeys[V any](m map[requestKey]V) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessRequestKey(keys[i], keys[j]) })
	return keys
}

func lessRequestKey(a, b requestKey) bool {
	if a.endpoint != b.endpoint {
		return a.endpoint < b.endpoint
	}
	return a.method < b.method
}

// MetricsMiddleware records request counts and latencies.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/ws" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
