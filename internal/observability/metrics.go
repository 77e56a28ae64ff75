package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the regrid service.
type Metrics struct {
	FramesConsumed  prometheus.Counter
	FramesProduced  prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Per-frame results of the streaming pipeline.
	FrameOutcomes *prometheus.CounterVec // labels: outcome={regridded,rejected,unavailable,misconfigured}
	FrameLatency  prometheus.Histogram

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Regridding metrics.
	TransformDuration prometheus.Histogram
	TransformCache    *prometheus.CounterVec // labels: result={hit,miss}

	// Fetch metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,retry,error}
	FetchDuration prometheus.Histogram

	// Batch driver metrics.
	DriverFrames *prometheus.CounterVec // labels: status={converted,skipped,failed}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_regrid",
			Name:      "frames_consumed_total",
			Help:      "Total frame notices read from the source topic.",
		}),
		FramesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_regrid",
			Name:      "frames_produced_total",
			Help:      "Total regridded frame events written to the sink topic.",
		}),
		FrameOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_regrid",
			Name:      "frame_outcomes_total",
			Help:      "Frame notices handled by the pipeline by outcome.",
		}, []string{"outcome"}),
		FrameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_regrid",
			Name:      "frame_latency_seconds",
			Help:      "Time from radar observation to publication of the regridded frame.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radar_regrid",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_regrid",
			Name:      "batch_size",
			Help:      "Number of frame notices per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_regrid",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		TransformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_regrid",
			Name:      "transform_duration_seconds",
			Help:      "Duration of decoding, regridding, and writing one frame.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		TransformCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_regrid",
			Name:      "transform_cache_total",
			Help:      "Region transform cache lookups by result.",
		}, []string{"result"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_regrid",
			Name:      "fetch_requests_total",
			Help:      "Remote frame fetch attempts by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_regrid",
			Name:      "fetch_duration_seconds",
			Help:      "Remote frame download duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		DriverFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_regrid",
			Name:      "batch_driver_frames_total",
			Help:      "Frames handled by the batch driver by status.",
		}, []string{"status"}),
	}

	prometheus.MustRegister(
		m.FramesConsumed,
		m.FramesProduced,
		m.PipelineRunning,
		m.FrameOutcomes,
		m.FrameLatency,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.TransformDuration,
		m.TransformCache,
		m.FetchRequests,
		m.FetchDuration,
		m.DriverFrames,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FramesConsumed:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_regrid", Name: "frames_consumed_total"}),
		FramesProduced:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_regrid", Name: "frames_produced_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "radar_regrid", Name: "pipeline_running"}),
		FrameOutcomes:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_regrid", Name: "frame_outcomes_total"}, []string{"outcome"}),
		FrameLatency:            prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_regrid", Name: "frame_latency_seconds"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_regrid", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_regrid", Name: "batch_processing_duration_seconds"}),
		TransformDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_regrid", Name: "transform_duration_seconds"}),
		TransformCache:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_regrid", Name: "transform_cache_total"}, []string{"result"}),
		FetchRequests:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_regrid", Name: "fetch_requests_total"}, []string{"outcome"}),
		FetchDuration:           prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_regrid", Name: "fetch_duration_seconds"}),
		DriverFrames:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_regrid", Name: "batch_driver_frames_total"}, []string{"status"}),
	}
}
