package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinerary_jobs_accepted_total",
		Help: "Total number of itinerary jobs accepted",
	})
	JobsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "itinerary_jobs_queued",
		Help: "Number of accepted jobs waiting for a worker",
	})
	JobsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "itinerary_jobs_in_progress",
		Help: "Number of jobs currently generating",
	})
	JobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinerary_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	})
	JobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinerary_jobs_failed_total",
		Help: "Total number of jobs recorded as failed",
	})
	JobsAbortedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinerary_jobs_aborted_total",
		Help: "Total number of jobs abandoned because the document could not be created",
	})
	JobsStuckTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "itinerary_jobs_stuck_total",
		Help: "Total number of jobs left processing because a terminal write failed",
	})
	GenerationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "itinerary_generation_duration_seconds",
		Help:    "Latency of successful itinerary generation calls",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})
	CredentialMintsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_credential_mints_total",
		Help: "Store access tokens minted, by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		JobsAcceptedTotal, JobsQueued, JobsInProgress, JobsCompletedTotal, JobsFailedTotal,
		JobsAbortedTotal, JobsStuckTotal, GenerationDuration, CredentialMintsTotal,
	)
}

// ObserveCredentialMint records the outcome of one token exchange.
func ObserveCredentialMint(err error) {
	if err != nil {
		CredentialMintsTotal.WithLabelValues("error").Inc()
		return
	}
	CredentialMintsTotal.WithLabelValues("ok").Inc()
}
