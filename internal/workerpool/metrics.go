package workerpool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type poolMetrics struct {
	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	poolsActive    prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *poolMetrics
)

// metrics returns the process-wide pool metrics, registering them on first
// use.
func metrics() *poolMetrics {
	metricsOnce.Do(func() {
		metricsInst = &poolMetrics{
			tasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sessionbuddy",
				Subsystem: "workerpool",
				Name:      "tasks_submitted_total",
				Help:      "Tasks accepted into a pool queue.",
			}, []string{"pool"}),
			tasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sessionbuddy",
				Subsystem: "workerpool",
				Name:      "tasks_completed_total",
				Help:      "Tasks that finished successfully.",
			}, []string{"pool"}),
			tasksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sessionbuddy",
				Subsystem: "workerpool",
				Name:      "tasks_failed_total",
				Help:      "Tasks whose executor returned an error.",
			}, []string{"pool"}),
			taskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "sessionbuddy",
				Subsystem: "workerpool",
				Name:      "task_duration_seconds",
				Help:      "Wall-clock task execution time.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			}, []string{"pool"}),
			poolsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "sessionbuddy",
				Subsystem: "workerpool",
				Name:      "pools_active",
				Help:      "Number of pools currently managed.",
			}),
		}
	})
	return metricsInst
}
