// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the pipeline.
//
// It exposes a narrow Backend interface (counters plus duration-style
// observations) behind a process-global, pluggable backend that defaults to a
// no-op implementation, so instrumentation calls are always safe even when no
// real backend is configured. Concrete systems (Prometheus Pushgateway) live
// in subpackages and are selected by the CLI.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures one pipeline stage: a success/failure counter plus the
// stage duration.
func RecordStage(entity, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"entity": entity,
		"stage":  stage,
		"status": status,
	}
	backend.IncCounter("refinery_stage_total", 1, lbls)
	backend.ObserveHistogram("refinery_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given entity and kind.
//
// Typical kinds mirror the run summary fields: "input", "valid",
// "schema_errors", "duplicates_removed", "rule_violations", "exported".
func RecordRows(entity, kind string, n int) {
	if n == 0 {
		return
	}
	backend.IncCounter("refinery_rows_total", float64(n), Labels{
		"entity": entity,
		"kind":   kind,
	})
}
