// Package metrics records per-run document and wave timings and exports Prometheus instruments.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Instruments holds the process-wide Prometheus collectors. Per-run state
// lives in Collector; these only aggregate across runs.
type Instruments struct {
	// documentsTotal counts finished documents.
	// Labels:
	//   - status: "completed" or "failed"
	documentsTotal *prometheus.CounterVec

	// documentDuration observes document wall-clock time.
	// Buckets: 1s .. 30m, generation calls routinely run for minutes.
	documentDuration *prometheus.HistogramVec

	wavesTotal     prometheus.Counter
	waveEfficiency prometheus.Histogram

	// runsTotal counts finished runs.
	// Labels:
	//   - status: "complete", "partial_failure" or "failed"
	runsTotal *prometheus.CounterVec

	qualityScore  prometheus.Histogram
	improvedTotal prometheus.Counter
}

// NewInstruments creates the collectors and registers them on reg. Call it
// once per registry and share the result across runs. A nil reg skips registration.
func NewInstruments(reg prometheus.Registerer) (*Instruments, error) {
	in := &Instruments{
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_documents_total",
				Help: "Total number of documents finished, by outcome",
			},
			[]string{"status"},
		),
		documentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docflow_document_duration_seconds",
				Help:    "Duration of document generation including quality review, in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"status"},
		),
		wavesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_waves_total",
			Help: "Total number of scheduler waves executed",
		}),
		waveEfficiency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docflow_wave_parallel_efficiency_percent",
			Help:    "Summed document durations over wave wall-clock, as a percentage",
			Buckets: []float64{50, 100, 150, 200, 300, 400, 600, 800},
		}),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_runs_total",
				Help: "Total number of workflow runs finished, by final status",
			},
			[]string{"status"},
		),
		qualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docflow_quality_review_score",
			Help:    "Structured review scores (1-10)",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 6.5, 7, 8, 9, 10},
		}),
		improvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_documents_improved_total",
			Help: "Total number of documents whose improved content was saved",
		}),
	}
	if reg == nil {
		return in, nil
	}

	for _, c := range []prometheus.Collector{
		in.documentsTotal, in.documentDuration, in.wavesTotal, in.waveEfficiency,
		in.runsTotal, in.qualityScore, in.improvedTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return in, nil
}

func (in *Instruments) observeDocument(success bool, seconds float64) {
	if in == nil {
		return
	}
	status := "failed"
	if success {
		status = "completed"
	}
	in.documentsTotal.WithLabelValues(status).Inc()
	in.documentDuration.WithLabelValues(status).Observe(seconds)
}

func (in *Instruments) observeWave(efficiency float64) {
	if in == nil {
		return
	}
	in.wavesTotal.Inc()
	in.waveEfficiency.Observe(efficiency)
}

// ObserveRun counts a finished run under its final status.
func (in *Instruments) ObserveRun(status string) {
	if in == nil {
		return
	}
	in.runsTotal.WithLabelValues(status).Inc()
}

// ObserveReview records a structured review score.
func (in *Instruments) ObserveReview(score float64) {
	if in == nil {
		return
	}
	in.qualityScore.Observe(score)
}

// ObserveImproved counts a document whose improved content was saved.
func (in *Instruments) ObserveImproved() {
	if in == nil {
		return
	}
	in.improvedTotal.Inc()
}
