package server

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// requestMetrics accumulates per-route request counters for the metrics
// snapshot endpoint.
type requestMetrics struct {
	mu            sync.Mutex
	started       time.Time
	requestTotal  int64
	requestErrors int64
	latencyTotal  time.Duration
	requestCounts map[string]int64
	statusCounts  map[string]int64
}

func newRequestMetrics() *requestMetrics {
	return &requestMetrics{
		started:       time.Now(),
		requestCounts: make(map[string]int64),
		statusCounts:  make(map[string]int64),
	}
}

// bucketRoute collapses path parameters so counters stay bounded.
func bucketRoute(method, path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/agent-core/workflows/runs/"):
		path = "/v1/agent-core/workflows/runs/{id}"
	case strings.HasPrefix(path, "/v1/agent-core/webhooks/deliveries/"):
		path = "/v1/agent-core/webhooks/deliveries/{id}"
	case strings.HasPrefix(path, "/v1/agent-core/webhooks/"):
		path = "/v1/agent-core/webhooks/{id}"
	}
	return method + " " + path
}

func (m *requestMetrics) record(method, path string, status int, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestTotal++
	m.latencyTotal += elapsed
	m.requestCounts[bucketRoute(method, path)]++
	m.statusCounts[strconv.Itoa(status)]++
	if status >= http.StatusBadRequest {
		m.requestErrors++
	}
}

func (m *requestMetrics) snapshot() map[string]any {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()

	avgLatencyMs := 0.0
	if m.requestTotal > 0 {
		avgLatencyMs = float64(m.latencyTotal) / float64(time.Millisecond) / float64(m.requestTotal)
	}
	requestCounts := make(map[string]int64, len(m.requestCounts))
	for k, v := range m.requestCounts {
		requestCounts[k] = v
	}
	statusCounts := make(map[string]int64, len(m.statusCounts))
	for k, v := range m.statusCounts {
		statusCounts[k] = v
	}

	return map[string]any{
		"service":   "agent-core",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"process": map[string]any{
			"pid":              os.Getpid(),
			"uptimeSeconds":    time.Since(m.started).Seconds(),
			"memoryAllocBytes": ms.Alloc,
		},
		"http": map[string]any{
			"requestTotal":     m.requestTotal,
			"requestErrors":    m.requestErrors,
			"averageLatencyMs": avgLatencyMs,
			"requestCounts":    requestCounts,
			"statusCounts":     statusCounts,
		},
	}
}

// statusWriter captures the response status for metrics. Flush passes
// through so the SSE stream keeps working behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.record(r.Method, r.URL.Path, status, time.Since(start))
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.snapshot())
}
