package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "carrus"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stepDuration  *prom.HistogramVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	verifications *prom.CounterVec
	warnings      prom.Counter
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_step_duration_seconds",
			Help:      "Duration of individual build pipeline steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build pipeline duration",
			Buckets:   prom.DefBuckets,
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by build type and final status",
		}, []string{"build_type", "outcome"}),
		verifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Signature policy verdicts",
		}, []string{"verdict"}),
		warnings: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-blocking warnings raised by pipeline runs",
		}),
	}

	reg.MustRegister(pr.stepDuration, pr.buildDuration, pr.buildOutcome, pr.verifications, pr.warnings)

	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil {
		return
	}

	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}

	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(buildType string, outcome OutcomeLabel) {
	if p == nil {
		return
	}

	p.buildOutcome.WithLabelValues(buildType, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncVerification(verdict VerdictLabel) {
	if p == nil {
		return
	}

	p.verifications.WithLabelValues(string(verdict)).Inc()
}

func (p *PrometheusRecorder) IncWarnings(n int) {
	if p == nil || n <= 0 {
		return
	}

	p.warnings.Add(float64(n))
}

// WriteTextfile writes everything gathered by g to filename in the text
// exposition format, replacing the file atomically.
func WriteTextfile(filename string, g prom.Gatherer) error {
	if err := prom.WriteToTextfile(filename, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", filename, err)
	}

	return nil
}
