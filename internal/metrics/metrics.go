package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActivitiesSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "ingest",
		Name:      "activities_saved_total",
		Help:      "Activities saved, labeled by type and outcome (created or continued).",
	}, []string{"type", "outcome"})

	ShortActivities = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "ingest",
		Name:      "short_activities_total",
		Help:      "Activities accepted with a duration below the emitter floor.",
	})

	SummaryRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "analytics",
		Name:      "summary_requests_total",
		Help:      "Daily summary requests, labeled by result (cached or computed).",
	}, []string{"result"})

	AggregationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskflow",
		Subsystem: "analytics",
		Name:      "aggregation_duration_seconds",
		Help:      "Time spent loading and folding activities.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"kind"})

	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Realtime notifications that failed to publish.",
	})

	DroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "events",
		Name:      "dropped_messages_total",
		Help:      "Realtime notifications skipped for slow subscribers.",
	})

	AgentSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "agent",
		Name:      "syncs_total",
		Help:      "Agent sync attempts, labeled by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	CronRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Scheduled job runs, labeled by job and outcome.",
	}, []string{"job", "outcome"})
)

func init() {
	prometheus.MustRegister(ActivitiesSaved, ShortActivities, SummaryRequests, AggregationDuration,
		PublishFailures, DroppedMessages, AgentSyncs, CronRuns)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
