// Package metrics exposes infrastructure level Prometheus metrics for the
// hub client and the revocation publisher.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/hub-revalidator/internal/infra/eventbus/kafka"
	"github.com/ahrav/hub-revalidator/internal/infra/hub"
)

var (
	_ hub.Metrics            = (*Infra)(nil)
	_ kafka.PublisherMetrics = (*Infra)(nil)
)

// Infra implements hub.Metrics and kafka.PublisherMetrics.
type Infra struct {
	// Hub metrics.
	HubRequests       *prometheus.CounterVec   // labels: endpoint, status
	HubRequestLatency *prometheus.HistogramVec // labels: endpoint
	HubRetries        *prometheus.CounterVec   // labels: endpoint

	// Broker metrics.
	MessagesPublished *prometheus.CounterVec // labels: topic
	PublishErrors     *prometheus.CounterVec // labels: topic
}

const namespace = "revalidator"

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// serve them from promhttp.Handler.
func New(reg prometheus.Registerer) *Infra {
	factory := promauto.With(reg)
	return &Infra{
		HubRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "requests_total",
			Help:      "Total number of hub API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		HubRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "request_duration_seconds",
			Help:      "Latency of hub API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		HubRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "retries_total",
			Help:      "Total number of retried hub API requests",
		}, []string{"endpoint"}),

		MessagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published",
		}, []string{"topic"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of publish errors",
		}, []string{"topic"}),
	}
}

func (m *Infra) ObserveRequest(endpoint, status string, d time.Duration) {
	m.HubRequests.WithLabelValues(endpoint, status).Inc()
	m.HubRequestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Infra) IncRetries(endpoint string) {
	m.HubRetries.WithLabelValues(endpoint).Inc()
}

func (m *Infra) IncMessagePublished(topic string) {
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

func (m *Infra) IncPublishError(topic string) {
	m.PublishErrors.WithLabelValues(topic).Inc()
}
