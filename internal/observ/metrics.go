package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

// histograms keep a bounded window of samples
const maxHistSamples = 1024

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// Reset clears every metric. Intended for tests.
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	reg.counters, reg.gauges, reg.hist = fresh.counters, fresh.gauges, fresh.hist
	reg.mu.Unlock()
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += value
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	samples := append(m[k], value)
	if len(samples) > maxHistSamples {
		samples = samples[len(samples)-maxHistSamples:]
	}
	m[k] = samples
}

// RecordDuration records a duration metric in milliseconds
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Microseconds())/1000, labels)
}

// CounterValue returns the current value of a counter for the given labels.
func CounterValue(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][canonLabels(labels)]
}

// GaugeValue returns the current value of a gauge and whether it was ever set.
func GaugeValue(name string, labels map[string]string) (float64, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	v, ok := reg.gauges[name][canonLabels(labels)]
	return v, ok
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus represents overall engine health
type HealthStatus struct {
	Status    string         `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string         `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Metrics   HealthMetrics  `json:"metrics"`
	Details   map[string]any `json:"details"`
}

// HealthMetrics holds the numbers the health status is derived from
type HealthMetrics struct {
	Cycles             int64   `json:"cycles"`
	CycleErrors        int64   `json:"cycle_errors"`
	CycleLatencyP95Ms  float64 `json:"cycle_latency_p95_ms"`
	PriceFallbacks     int64   `json:"price_fallbacks"`
	Fills              int64   `json:"fills"`
	Halted             bool    `json:"halted"`
	PersistenceFailing bool    `json:"persistence_failing"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// Health computes the current health report.
func Health() HealthStatus {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	m := HealthMetrics{
		Cycles:         sumCounter(reg.counters["cycles_total"]),
		CycleErrors:    sumCounter(reg.counters["cycle_errors_total"]),
		PriceFallbacks: sumCounter(reg.counters["price_fallbacks_total"]),
		Fills:          sumCounter(reg.counters["fills_total"]),
	}
	for _, samples := range reg.hist["cycle_duration_ms"] {
		m.CycleLatencyP95Ms = p95(samples)
	}
	for _, v := range reg.gauges["halted"] {
		m.Halted = m.Halted || v == 1
	}
	for _, v := range reg.gauges["persistence_failing"] {
		m.PersistenceFailing = m.PersistenceFailing || v == 1
	}

	status := "healthy"
	switch {
	case m.PersistenceFailing:
		status = "failed"
	case m.Halted:
		status = "degraded"
	case m.Cycles > 20 && float64(m.CycleErrors)/float64(m.Cycles) > 0.1:
		status = "degraded"
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Version:   version,
		Metrics:   m,
		Details: map[string]any{
			"risk_rejections": copyCounter(reg.counters["risk_rejections_total"]),
		},
	}
}

// HealthHandler serves Health() with a status code matching the verdict
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := Health()

		statusCode := http.StatusOK
		if health.Status == "failed" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func sumCounter(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func copyCounter(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func p95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
