// ABOUTME: Prometheus metrics for commands, cache lookups and cache persistence
// ABOUTME: Owns a private registry and serves it together with a liveness endpoint

package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements SaveObserver and CommandObserver on top of Prometheus.
type Metrics struct {
	registry     *prometheus.Registry
	commands     *prometheus.CounterVec
	lookups      *prometheus.CounterVec
	evictions    prometheus.Counter
	saves        *prometheus.CounterVec
	saveDuration prometheus.Histogram
	cacheScopes  prometheus.Gauge
	cacheEntries prometheus.Gauge

	mu       sync.RWMutex
	lastSave time.Time
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciri_commands_total",
		Help: "Total number of bot commands handled by command and outcome",
	}, []string{"command", "outcome"})

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciri_cache_lookups_total",
		Help: "Gallery candidates checked against the dedupe cache by result",
	}, []string{"result"})

	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ciri_cache_evictions_total",
		Help: "Total number of ids evicted from full scopes",
	})

	saves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciri_cache_saves_total",
		Help: "Total number of cache save cycles by outcome",
	}, []string{"outcome"})

	saveDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ciri_cache_save_duration_seconds",
		Help:    "Duration of cache save cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	cacheScopes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ciri_cache_scopes",
		Help: "Number of rooms with dedupe history at the last save",
	})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ciri_cache_entries",
		Help: "Number of remembered ids across all rooms at the last save",
	})

	reg.MustRegister(commands, lookups, evictions, saves, saveDuration, cacheScopes, cacheEntries)

	return &Metrics{
		registry:     reg,
		commands:     commands,
		lookups:      lookups,
		evictions:    evictions,
		saves:        saves,
		saveDuration: saveDuration,
		cacheScopes:  cacheScopes,
		cacheEntries: cacheEntries,
	}
}

func (m *Metrics) RecordCommand(command, outcome string) {
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEviction() {
	m.evictions.Inc()
}

func (m *Metrics) RecordSave(outcome string, seconds float64) {
	m.saves.WithLabelValues(outcome).Inc()
	m.saveDuration.Observe(seconds)
	if outcome == "ok" {
		m.mu.Lock()
		m.lastSave = time.Now()
		m.mu.Unlock()
	}
}

func (m *Metrics) RecordCacheSize(scopes, entries int) {
	m.cacheScopes.Set(float64(scopes))
	m.cacheEntries.Set(float64(entries))
}

// LastSaveTime returns when the cache was last saved successfully.
func (m *Metrics) LastSaveTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSave
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Mux returns a mux serving /metrics and /healthz. The health body is "ok"
// followed by the last successful cache save and its age in whole seconds.
func (m *Metrics) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(healthBody(m.LastSaveTime(), time.Now())))
	})
	return mux
}

func healthBody(lastSave, now time.Time) string {
	if lastSave.IsZero() {
		return "ok\nlast_save=never\n"
	}
	age := int64(now.Sub(lastSave) / time.Second)
	return fmt.Sprintf("ok\nlast_save=%s\nlast_save_age_seconds=%d\n", lastSave.UTC().Format(time.RFC3339), age)
}
