// Prometheus instrumentation for the processing pipeline. HTTP-level metrics
// live in the middleware package; the counters here track pipeline outcomes
// and provider retries regardless of which transport triggered them.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// pipelineRuns counts pipeline executions by stage and outcome.
	//   stage:   "transcription" | "summarization" | "pipeline"
	//   outcome: "completed" | "failed"
	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicenote_pipeline_runs_total",
			Help: "Total processing pipeline stage executions by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	// providerRetries counts retried provider calls by stage.
	providerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicenote_provider_retries_total",
			Help: "Total retried AI provider calls.",
		},
		[]string{"stage"},
	)

	// quotaRejections counts anonymous uploads rejected by the usage gate.
	quotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicenote_quota_rejections_total",
			Help: "Total anonymous uploads rejected because the quota was exhausted.",
		},
	)
)

func init() {
	prometheus.MustRegister(pipelineRuns, providerRetries, quotaRejections)
}
