package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the orchestrator counters. A nil *Metrics is safe to use
// so tests can pass nothing.
type Metrics struct {
	MessagesPersisted    prometheus.Counter
	PipelineRejections   *prometheus.CounterVec
	Deliveries           prometheus.Counter
	DeliveryFailures     prometheus.Counter
	SessionsRegistered   prometheus.Counter
	SessionsSuperseded   prometheus.Counter
	TranslationCacheHits prometheus.Counter
	TranslationJobs      prometheus.Counter
	TranslationRetries   prometheus.Counter
	TranslationFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_messages_persisted_total",
			Help: "Messages successfully written by the pipeline.",
		}),
		PipelineRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_pipeline_rejections_total",
			Help: "Pipeline requests rejected by a fatal stage.",
		}, []string{"code"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_fanout_deliveries_total",
			Help: "Events delivered to individual sessions.",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_fanout_delivery_failures_total",
			Help: "Per-session delivery failures (best effort, never fatal).",
		}),
		SessionsRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_sessions_registered_total",
			Help: "Sessions registered.",
		}),
		SessionsSuperseded: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_sessions_superseded_total",
			Help: "Sessions closed by the single-session policy.",
		}),
		TranslationCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_translation_cache_hits_total",
			Help: "Translations served from the content-hash cache.",
		}),
		TranslationJobs: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_translation_jobs_total",
			Help: "Translation jobs dispatched to the worker stream.",
		}),
		TranslationRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_translation_retries_total",
			Help: "Translation jobs re-dispatched after a failure.",
		}),
		TranslationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_translation_failures_total",
			Help: "Translation requests that exhausted their retries.",
		}),
	}
}

func (m *Metrics) IncMessagesPersisted() {
	if m != nil {
		m.MessagesPersisted.Inc()
	}
}

func (m *Metrics) IncRejection(code string) {
	if m != nil {
		m.PipelineRejections.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) IncDelivery() {
	if m != nil {
		m.Deliveries.Inc()
	}
}

func (m *Metrics) IncDeliveryFailure() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}

func (m *Metrics) IncSessionRegistered() {
	if m != nil {
		m.SessionsRegistered.Inc()
	}
}

func (m *Metrics) IncSessionSuperseded() {
	if m != nil {
		m.SessionsSuperseded.Inc()
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.TranslationCacheHits.Inc()
	}
}

func (m *Metrics) IncTranslationJob() {
	if m != nil {
		m.TranslationJobs.Inc()
	}
}

func (m *Metrics) IncTranslationRetry() {
	if m != nil {
		m.TranslationRetries.Inc()
	}
}

func (m *Metrics) IncTranslationFailure() {
	if m != nil {
		m.TranslationFailures.Inc()
	}
}
