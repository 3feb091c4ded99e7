// Package metrics records per-run counters on a private prometheus registry
// and writes them out in the node_exporter textfile format.
package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pipeline-runner/pipeline"
)

var statuses = []pipeline.ExecutionStatus{
	pipeline.StatusExecuting,
	pipeline.StatusStopping,
	pipeline.StatusSucceeded,
	pipeline.StatusFailed,
	pipeline.StatusStopped,
}

// Recorder is safe to use through a nil pointer, in which case nothing is recorded.
type Recorder struct {
	registry       *prometheus.Registry
	describeCalls  prometheus.Counter
	pollTicks      prometheus.Counter
	elapsedSeconds prometheus.Gauge
	finalStatus    *prometheus.GaugeVec
	timedOut       prometheus.Gauge
}

func NewRecorder(pipelineName string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"pipeline": pipelineName}

	return &Recorder{
		registry: reg,
		describeCalls: factory.NewCounter(prometheus.CounterOpts{
			Name:        "pipeline_runner_describe_calls_total",
			Help:        "Describe calls issued against the execution.",
			ConstLabels: labels,
		}),
		pollTicks: factory.NewCounter(prometheus.CounterOpts{
			Name:        "pipeline_runner_poll_ticks_total",
			Help:        "Poll interval ticks waited.",
			ConstLabels: labels,
		}),
		elapsedSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "pipeline_runner_wait_seconds",
			Help:        "Seconds spent waiting for the execution.",
			ConstLabels: labels,
		}),
		finalStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "pipeline_runner_final_status",
			Help:        "1 for the final status of the execution, 0 otherwise.",
			ConstLabels: labels,
		}, []string{"status"}),
		timedOut: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "pipeline_runner_timed_out",
			Help:        "1 if the runner gave up waiting for the execution.",
			ConstLabels: labels,
		}),
	}
}

func (r *Recorder) Describe() {
	if r == nil {
		return
	}
	r.describeCalls.Inc()
}

func (r *Recorder) Tick(elapsedSeconds float64) {
	if r == nil {
		return
	}
	r.pollTicks.Inc()
	r.elapsedSeconds.Set(elapsedSeconds)
}

func (r *Recorder) Final(status pipeline.ExecutionStatus) {
	if r == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		r.finalStatus.WithLabelValues(s.String()).Set(v)
	}
}

func (r *Recorder) TimedOut() {
	if r == nil {
		return
	}
	r.timedOut.Set(1)
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes all metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
