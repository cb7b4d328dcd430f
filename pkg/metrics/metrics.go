// Package metrics exports helper and sync outcomes to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	stash "github.com/goliatone/go-stash"
	"github.com/goliatone/go-stash/pkg/syncer"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "stash"

const (
	resultOK         = "ok"
	resultError      = "error"
	resultMigrateErr = "migration_error"
)

// Collector implements stash.Observer and syncer.Observer.
type Collector struct {
	registry *prometheus.Registry

	loads         *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	saves         *prometheus.CounterVec
	saveDuration  *prometheus.HistogramVec
	syncMessages  *prometheus.CounterVec
	latestVersion *prometheus.GaugeVec
}

var (
	_ stash.Observer  = (*Collector)(nil)
	_ syncer.Observer = (*Collector)(nil)
)

// NewCollector registers the stash metrics on registry, or on a fresh
// registry when nil.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	buckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

	c := &Collector{
		registry: registry,
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Completed loads by area, key and result.",
		}, []string{"area", "key", "result"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time spent reading and migrating a stored value.",
			Buckets:   buckets,
		}, []string{"area", "key"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Persistence attempts by area, key and result.",
		}, []string{"area", "key", "result"}),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Time spent writing a value to storage.",
			Buckets:   buckets,
		}, []string{"area", "key"}),
		syncMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_messages_total",
			Help:      "Sync messages by area, key and outcome.",
		}, []string{"area", "key", "outcome"}),
		latestVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_version",
			Help:      "Newest version published or applied per key.",
		}, []string{"area", "key"}),
	}
	registry.MustRegister(c.loads, c.loadDuration, c.saves, c.saveDuration, c.syncMessages, c.latestVersion)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveLoad(event stash.LoadEvent) {
	result := resultOK
	switch {
	case event.Err != nil:
		result = resultError
	case event.MigrationErr != nil:
		result = resultMigrateErr
	}
	c.loads.WithLabelValues(event.Area, event.Key, result).Inc()
	c.loadDuration.WithLabelValues(event.Area, event.Key).Observe(event.Duration.Seconds())
}

func (c *Collector) ObserveSave(event stash.SaveEvent) {
	result := resultOK
	if event.Err != nil {
		result = resultError
	}
	c.saves.WithLabelValues(event.Area, event.Key, result).Inc()
	c.saveDuration.WithLabelValues(event.Area, event.Key).Observe(event.Duration.Seconds())
}

func (c *Collector) ObserveSync(event syncer.Event) {
	c.syncMessages.WithLabelValues(event.Area, event.Key, string(event.Outcome)).Inc()
	switch event.Outcome {
	case syncer.OutcomePublished, syncer.OutcomeApplied:
		c.latestVersion.WithLabelValues(event.Area, event.Key).Set(float64(event.Version))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
