package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the notification pipeline.
type Metrics struct {
	EventsInvalid      *prometheus.CounterVec
	IncidentsTotal     *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	RetrievalResults   prometheus.Histogram
	RetrievalFallbacks prometheus.Counter
	AnalysisDuration   prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_events_invalid_total",
			Help: "Malformed incident events dropped by the consumer, by reason.",
		}, []string{"reason"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_incidents_total",
			Help: "Incident pipeline runs by outcome.",
		}, []string{"outcome"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_pipeline_duration_seconds",
			Help:    "Duration of incident pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"outcome"}),
		RetrievalResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_retrieval_results",
			Help:    "Similar incidents returned per retrieval.",
			Buckets: prometheus.LinearBuckets(0, 1, 8), // 0 .. 7
		}),
		RetrievalFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_retrieval_fallbacks_total",
			Help: "Retrievals served by the relational fallback after a vector store failure.",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_analysis_duration_seconds",
			Help:    "Duration of root-cause analysis calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_notifications_total",
			Help: "Notification deliveries by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.EventsInvalid,
		m.IncidentsTotal,
		m.PipelineDuration,
		m.RetrievalResults,
		m.RetrievalFallbacks,
		m.AnalysisDuration,
		m.NotificationsTotal,
	)

	return m
}
