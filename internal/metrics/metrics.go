// Package metrics collects per-run Prometheus metrics and pushes them to a
// Pushgateway.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"songlake/internal/pipeline"
)

const namespace = "songlake"

// Recorder implements pipeline.Observer on a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	rowsWritten   *prometheus.CounterVec
	bytesWritten  *prometheus.CounterVec
	stageDuration *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
	runFailures   prometheus.Counter
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder registers the run metrics on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written per output table.",
		}, []string{"table"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Parquet bytes written per output table.",
		}, []string{"table"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last execution of each stage.",
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		runFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed runs.",
		}),
	}
	registry.MustRegister(r.rowsWritten, r.bytesWritten, r.stageDuration, r.lastSuccess, r.runFailures)
	return r
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// TableWritten counts the rows and bytes of a published table.
func (r *Recorder) TableWritten(t pipeline.TableResult) {
	r.rowsWritten.WithLabelValues(t.Name).Add(float64(t.Rows))
	r.bytesWritten.WithLabelValues(t.Name).Add(float64(t.Bytes))
}

// StageFinished records the stage duration, failed or not.
func (r *Recorder) StageFinished(stage string, d time.Duration, _ error) {
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// ObserveRun records the outcome of a whole run finished at the given time.
func (r *Recorder) ObserveRun(err error, finished time.Time) {
	if err != nil {
		r.runFailures.Inc()
		return
	}
	r.lastSuccess.Set(float64(finished.Unix()))
}

// Push sends the registry to the Pushgateway at endpoint under job, with
// optional grouping labels. Empty keys or values are skipped.
func (r *Recorder) Push(ctx context.Context, endpoint, job string, grouping map[string]string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("pushgateway endpoint is required")
	}
	job = strings.TrimSpace(job)
	if job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(endpoint, job).Gatherer(r.registry)
	for key, value := range grouping {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pusher = pusher.Grouping(key, value)
	}
	return pusher.PushContext(ctx)
}
