package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_overlap"

// Metrics holds the Prometheus counters, histograms, and gauges for the overlap engine.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Ingestion metrics.
	TrackPointsParsed *prometheus.CounterVec // labels: input={tracks,companion}
	MalformedLines    *prometheus.CounterVec // labels: input={tracks,companion}
	FieldsLoaded      *prometheus.CounterVec // labels: kind

	// Evaluation metrics.
	Timestamps        *prometheus.CounterVec // labels: outcome={resolved,unresolved}
	TimestampDuration prometheus.Histogram
	MissingData       *prometheus.CounterVec // labels: kind
	EmptyObjectSets   *prometheus.CounterVec // labels: kind
	OverlapHits       *prometheus.CounterVec // labels: kind={ar,front,vortex,companion,triple}
	IndexCache        *prometheus.CounterVec // labels: result={hit,miss}

	// Classification and output metrics.
	TracksClassified *prometheus.CounterVec // labels: class={persistent,transient}
	RowsWritten      *prometheus.CounterVec // labels: sink
	SinkErrors       *prometheus.CounterVec // labels: sink
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete load-evaluate-classify-write run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		TrackPointsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_points_parsed_total",
			Help:      "Track and companion points parsed from text inputs.",
		}, []string{"input"}),
		MalformedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_lines_total",
			Help:      "Text input lines skipped as malformed.",
		}, []string{"input"}),
		FieldsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_loaded_total",
			Help:      "Gridded object fields loaded, by kind.",
		}, []string{"kind"}),
		Timestamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timestamps_total",
			Help:      "Track timestamps evaluated, by alignment outcome.",
		}, []string{"outcome"}),
		TimestampDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "timestamp_duration_seconds",
			Help:      "Duration of a single timestamp evaluation.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		MissingData: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_data_total",
			Help:      "Timestamps with no matching time step in a source, by kind.",
		}, []string{"kind"}),
		EmptyObjectSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_object_sets_total",
			Help:      "Timestamps where a source had zero active objects, by kind.",
		}, []string{"kind"}),
		OverlapHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlap_hits_total",
			Help:      "Track points flagged near an object, by kind.",
		}, []string{"kind"}),
		IndexCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_cache_total",
			Help:      "Spatial index cache lookups by result.",
		}, []string{"result"}),
		TracksClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_classified_total",
			Help:      "Tracks classified, by class.",
		}, []string{"class"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Output rows written, by sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Sink write failures, by sink.",
		}, []string{"sink"}),
	}
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.RunDuration,
		m.TrackPointsParsed,
		m.MalformedLines,
		m.FieldsLoaded,
		m.Timestamps,
		m.TimestampDuration,
		m.MissingData,
		m.EmptyObjectSets,
		m.OverlapHits,
		m.IndexCache,
		m.TracksClassified,
		m.RowsWritten,
		m.SinkErrors,
	)
	return m
}

// NewUnregisteredMetrics creates Metrics without registering them, for tests
// and for commands that never expose /metrics.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}
