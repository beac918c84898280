package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	streamEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumwarden_stream_entries_total",
			Help: "Stream entries handled by the consumer, by outcome",
		},
		[]string{"stream", "result"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumwarden_actions_total",
			Help: "Moderation actions executed against the forum or the chat",
		},
		[]string{"action", "result"},
	)

	executeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forumwarden_execute_duration_seconds",
			Help:    "Time spent executing one matched rule payload",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	forceDeleteFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forumwarden_force_delete_finished_total",
			Help: "Force delete tasks that reached a terminal state",
		},
		[]string{"state"},
	)

	forceDeleteAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forumwarden_force_delete_attempts_total",
			Help: "Delete attempts made by the force delete worker",
		},
	)

	forceDeleteQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forumwarden_force_delete_queued",
			Help: "Force delete tasks currently in the registry",
		},
	)
)

func init() {
	prometheus.MustRegister(
		streamEntriesTotal,
		actionsTotal,
		executeDuration,
		forceDeleteFinished,
		forceDeleteAttempts,
		forceDeleteQueued,
	)
}

func RecordStreamEntry(stream, result string) {
	streamEntriesTotal.WithLabelValues(stream, result).Inc()
}

func RecordAction(action string, ok bool) {
	result := "success"
	if !ok {
		result = "failed"
	}
	actionsTotal.WithLabelValues(action, result).Inc()
}

// StartExecute returns a function recording the duration under the given status.
func StartExecute() func(status string) {
	started := time.Now()
	return func(status string) {
		executeDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}
}

func RecordForceDeleteAttempt() {
	forceDeleteAttempts.Inc()
}

func RecordForceDeleteFinished(state string) {
	forceDeleteFinished.WithLabelValues(state).Inc()
}

func SetForceDeleteQueued(n int) {
	forceDeleteQueued.Set(float64(n))
}
