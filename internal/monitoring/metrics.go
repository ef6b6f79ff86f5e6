package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LifecycleOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "addon_lifecycle_operations_total",
			Help: "Total number of addon lifecycle operations by action and result code",
		},
		[]string{"action", "code"},
	)
	OperationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "addon_lifecycle_operation_duration_seconds",
			Help:    "Duration of addon lifecycle operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		},
	)
)

func InitMetrics() {
	err := prometheus.Register(LifecycleOperations)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register LifecycleOperations metric")
	}

	err = prometheus.Register(OperationDuration)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register OperationDuration metric")
	}
}
