package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the harness's Prometheus metrics.
type Collector struct {
	runsTotal   prometheus.Counter
	runDuration prometheus.Histogram

	episodesTotal   *prometheus.CounterVec
	episodeDuration *prometheus.HistogramVec
	turnsTotal      *prometheus.CounterVec

	memoryWritesTotal   *prometheus.CounterVec
	rejectedWritesTotal *prometheus.CounterVec
	filteredReadsTotal  *prometheus.CounterVec

	defensesTotal      *prometheus.CounterVec
	attackSuccessTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registry
// under the given namespace. Distinct namespaces keep multiple
// collectors in one process from colliding.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Total number of batch runs",
	})

	c.runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Batch run duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	c.episodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Total number of episodes run",
		},
		[]string{"track", "verdict"},
	)

	c.episodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_duration_seconds",
			Help:      "Episode execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"track"},
	)

	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns executed",
		},
		[]string{"track"},
	)

	c.memoryWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Total number of memory entries written through the policy",
		},
		[]string{"track"},
	)

	c.rejectedWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_writes_total",
			Help:      "Total number of write candidates rejected at the write boundary",
		},
		[]string{"track"},
	)

	c.filteredReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_reads_total",
			Help:      "Total number of retrieved entries dropped by read-time defenses",
		},
		[]string{"track"},
	)

	c.defensesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defenses_triggered_total",
			Help:      "Total number of defense activations",
		},
		[]string{"defense"},
	)

	c.attackSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attack_success_total",
			Help:      "Total number of robustness episodes where the attack landed",
		},
		[]string{"track"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRun records one completed batch run.
func (c *Collector) RecordRun(duration time.Duration) {
	c.runsTotal.Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordEpisode records one completed episode.
func (c *Collector) RecordEpisode(track, verdict string, turns int, duration time.Duration) {
	c.episodesTotal.WithLabelValues(track, verdict).Inc()
	c.episodeDuration.WithLabelValues(track).Observe(duration.Seconds())
	c.turnsTotal.WithLabelValues(track).Add(float64(turns))
}

// RecordMemoryTraffic records per-episode memory write/read filtering counts.
func (c *Collector) RecordMemoryTraffic(track string, writes, rejected, filtered int) {
	c.memoryWritesTotal.WithLabelValues(track).Add(float64(writes))
	c.rejectedWritesTotal.WithLabelValues(track).Add(float64(rejected))
	c.filteredReadsTotal.WithLabelValues(track).Add(float64(filtered))
}

// RecordDefense records one defense activation.
func (c *Collector) RecordDefense(defense string) {
	c.defensesTotal.WithLabelValues(defense).Inc()
}

// RecordAttackSuccess records a robustness episode whose attack landed.
func (c *Collector) RecordAttackSuccess(track string) {
	c.attackSuccessTotal.WithLabelValues(track).Inc()
}
