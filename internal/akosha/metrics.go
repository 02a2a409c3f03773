package akosha

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncMetrics struct {
	attempts         *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *syncMetrics
)

// metrics returns the process-wide sync metrics, registering them on first
// use.
func metrics() *syncMetrics {
	metricsOnce.Do(func() {
		metricsInst = &syncMetrics{
			attempts: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sessionbuddy",
				Subsystem: "sync",
				Name:      "attempts_total",
				Help:      "Sync attempts per method and outcome.",
			}, []string{"method", "outcome"}),
			bytesTransferred: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sessionbuddy",
				Subsystem: "sync",
				Name:      "bytes_transferred_total",
				Help:      "Bytes shipped per successful method.",
			}, []string{"method"}),
		}
	})
	return metricsInst
}
