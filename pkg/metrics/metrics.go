package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HomeMic server.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	clipsUploadedTotal  prometheus.Counter
	transcriptionsTotal *prometheus.CounterVec
	observersConnected  prometheus.Gauge
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homemic_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homemic_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	clipsUploadedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homemic_clips_uploaded_total",
		Help: "Total number of batch clips accepted for transcription",
	})
	transcriptionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homemic_transcription_jobs_total",
		Help: "Total number of finished transcription jobs by outcome",
	}, []string{"outcome"})
	observersConnected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homemic_observers_connected",
		Help: "Number of connected dashboard observers",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		clipsUploadedTotal,
		transcriptionsTotal,
		observersConnected,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		clipsUploadedTotal:  clipsUploadedTotal,
		transcriptionsTotal: transcriptionsTotal,
		observersConnected:  observersConnected,
	}
}

// IncClipsUploaded increments the accepted-upload counter.
func (m *Metrics) IncClipsUploaded() {
	m.clipsUploadedTotal.Inc()
}

// IncTranscription records one finished transcription job by outcome
// ("transcribed" or "failed").
func (m *Metrics) IncTranscription(outcome string) {
	m.transcriptionsTotal.WithLabelValues(outcome).Inc()
}

// SetObservers sets the connected-observers gauge.
func (m *Metrics) SetObservers(n int) {
	m.observersConnected.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestMiddleware records request and error counts for every route.
func (m *Metrics) RequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.requestsTotal.Inc()
		if c.Writer.Status() >= 400 {
			m.errorsTotal.Inc()
		}
	}
}
