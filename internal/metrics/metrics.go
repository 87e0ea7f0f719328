// Package metrics holds the process-wide prometheus collectors that are not
// covered by the per-route HTTP instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

//nolint:gochecknoglobals
var (
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "registry_commands_total", Help: "Total commands executed"},
		[]string{"command", "outcome"})

	jobCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "registry_jobs_total", Help: "Total background job runs"},
		[]string{"job", "outcome"})

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "registry_job_duration_seconds", Help: "Background job run duration"},
		[]string{"job"})
)

//nolint:gochecknoinits
func init() {
	prometheus.MustRegister(commandCounter, jobCounter, jobDuration)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

// Command records one command execution.
func Command(name string, err error) {
	commandCounter.With(prometheus.Labels{"command": name, "outcome": outcome(err)}).Inc()
}

// Job records one background job run.
func Job(name string, seconds float64, err error) {
	jobCounter.With(prometheus.Labels{"job": name, "outcome": outcome(err)}).Inc()
	jobDuration.With(prometheus.Labels{"job": name}).Observe(seconds)
}
