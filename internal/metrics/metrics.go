package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/reliability"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// Namespace for all metrics
const namespace = "nodewatch"

// Collector provides a central place for all application metrics
type Collector struct {
	// Source metrics
	SourceFetches       *prometheus.CounterVec
	SourceFetchDuration *prometheus.HistogramVec
	SourceLines         *prometheus.GaugeVec

	// Snapshot metrics
	SnapshotBuilds        *prometheus.CounterVec
	SnapshotBuildDuration prometheus.Histogram
	MetricDefaulted       *prometheus.CounterVec

	// Node metrics, mirroring the last served snapshot
	NodeSyncPercent  *prometheus.GaugeVec
	NodeSynced       prometheus.Gauge
	NodePeers        *prometheus.GaugeVec
	NodeBlocks       prometheus.Gauge
	NodeSlot         prometheus.Gauge
	NodeEpoch        prometheus.Gauge
	NodeErrorEntries *prometheus.GaugeVec

	// Host metrics, mirroring the last served snapshot
	HostMemoryPercent prometheus.Gauge
	HostDiskPercent   prometheus.Gauge
	HostCPULoad       prometheus.Gauge

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRateLimited     prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Runtime metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector on a private registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initSourceMetrics()
	c.initSnapshotMetrics()
	c.initNodeMetrics()
	c.initHTTPMetrics()
	c.initCircuitBreakerMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initSourceMetrics() {
	c.SourceFetches = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Total number of log retrievals by outcome",
		},
		[]string{"service", "backend", "outcome"},
	)

	c.SourceFetchDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Time taken to retrieve a log window",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"service", "backend"},
	)

	c.SourceLines = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "lines",
			Help:      "Number of lines in the last retrieved window",
		},
		[]string{"service"},
	)
}

func (c *Collector) initSnapshotMetrics() {
	c.SnapshotBuilds = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "builds_total",
			Help:      "Total number of snapshots built by outcome",
		},
		[]string{"outcome"},
	)

	c.SnapshotBuildDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "build_duration_seconds",
			Help:      "Time taken to build a snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	c.MetricDefaulted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "metric_defaulted_total",
			Help:      "Total number of times a metric fell back to its default",
		},
		[]string{"service", "metric"},
	)
}

func (c *Collector) initNodeMetrics() {
	c.NodeSyncPercent = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "sync_percent",
			Help:      "Reported sync progress of the chain client",
		},
		[]string{"kind"},
	)

	c.NodeSynced = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "synced",
			Help:      "Whether the chain client reports SYNCED (1) or SYNCING (0)",
		},
	)

	c.NodePeers = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "peers",
			Help:      "Reported peer count",
		},
		[]string{"service"},
	)

	c.NodeBlocks = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "block_height",
			Help:      "Reported block header height",
		},
	)

	c.NodeSlot = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "slot",
			Help:      "Reported consensus slot",
		},
	)

	c.NodeEpoch = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "epoch",
			Help:      "Consensus epoch derived from the slot",
		},
	)

	c.NodeErrorEntries = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "error_entries",
			Help:      "Number of entries in the last served error feed",
		},
		[]string{"service"},
	)

	c.HostMemoryPercent = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_used_percent",
			Help:      "Host memory in use",
		},
	)

	c.HostDiskPercent = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "disk_used_percent",
			Help:      "Highest usage among mounted filesystems",
		},
	)

	c.HostCPULoad = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "cpu_load1",
			Help:      "One-minute load average",
		},
	)
}

func (c *Collector) initHTTPMetrics() {
	c.HTTPRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	c.HTTPRequestDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve an HTTP request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	c.HTTPRateLimited = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited requests",
		},
	)
}

func (c *Collector) initCircuitBreakerMetrics() {
	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)
}

// ObserveFetch implements source.Observer
func (c *Collector) ObserveFetch(service, backend string, duration time.Duration, lines int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "unavailable"
		if errors.Is(err, reliability.ErrCircuitOpen) {
			outcome = "circuit_open"
		}
	}

	c.SourceFetches.WithLabelValues(service, backend, outcome).Inc()
	c.SourceFetchDuration.WithLabelValues(service, backend).Observe(duration.Seconds())
	c.SourceLines.WithLabelValues(service).Set(float64(lines))
}

// ObserveBreakerState implements source.BreakerObserver
func (c *Collector) ObserveBreakerState(name string, state reliability.State) {
	c.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveDefaulted counts the metrics of a service that fell back to defaults
func (c *Collector) ObserveDefaulted(service string, names []string) {
	for _, name := range names {
		c.MetricDefaulted.WithLabelValues(service, name).Inc()
	}
}

// ObserveBuild records the outcome and duration of one snapshot build
func (c *Collector) ObserveBuild(duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.SnapshotBuilds.WithLabelValues(outcome).Inc()
	c.SnapshotBuildDuration.Observe(duration.Seconds())
}

// ObserveSnapshot mirrors a served snapshot into gauges
func (c *Collector) ObserveSnapshot(stats *types.NodeStats) {
	if stats == nil {
		return
	}

	c.NodeSyncPercent.WithLabelValues("chain").Set(stats.Geth.ChainSynced)
	c.NodeSyncPercent.WithLabelValues("state").Set(stats.Geth.StateSynced)
	c.NodeSyncPercent.WithLabelValues("overall").Set(stats.Geth.OverallSynced)
	if stats.Geth.Status == types.StatusSynced {
		c.NodeSynced.Set(1)
	} else {
		c.NodeSynced.Set(0)
	}
	c.NodePeers.WithLabelValues(string(types.ServiceChain)).Set(float64(stats.Geth.Peers))
	c.NodePeers.WithLabelValues(string(types.ServiceConsensus)).Set(float64(stats.Prysm.Peers))
	c.NodeBlocks.Set(float64(stats.Geth.Blocks))
	c.NodeSlot.Set(float64(stats.Prysm.Slot))
	c.NodeEpoch.Set(float64(stats.Prysm.Epoch))

	counts := map[types.Service]int{
		types.ServiceChain:     0,
		types.ServiceConsensus: 0,
		types.ServiceSystem:    0,
	}
	for _, e := range stats.Errors {
		counts[e.Service]++
	}
	for svc, n := range counts {
		c.NodeErrorEntries.WithLabelValues(string(svc)).Set(float64(n))
	}

	c.HostMemoryPercent.Set(float64(stats.System.Memory))
	c.HostDiskPercent.Set(float64(stats.System.Disk))
	c.HostCPULoad.Set(stats.System.CPULoad)
}

// ObserveRequest records one served HTTP request
func (c *Collector) ObserveRequest(route, method, code string, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(route, method, code).Inc()
	c.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveRateLimited counts one rejected request
func (c *Collector) ObserveRateLimited() {
	c.HTTPRateLimited.Inc()
}

// Start begins collecting runtime metrics periodically
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	c.stopCh = stopCh

	c.collectSystemMetrics()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop stops the runtime metrics loop
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry: c.registry,
	})
}
