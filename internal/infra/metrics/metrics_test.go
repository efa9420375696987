package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInfraMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("/v1/onChainEventsByFid", "200", 20*time.Millisecond)
	m.ObserveRequest("/v1/onChainEventsByFid", "200", 10*time.Millisecond)
	m.ObserveRequest("/v1/onChainEventsByFid", "503", 5*time.Millisecond)
	m.IncRetries("/v1/onChainEventsByFid")
	m.IncMessagePublished("revocations")
	m.IncPublishError("revocations")
	m.IncPublishError("revocations")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HubRequests.WithLabelValues("/v1/onChainEventsByFid", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubRequests.WithLabelValues("/v1/onChainEventsByFid", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubRetries.WithLabelValues("/v1/onChainEventsByFid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("revocations")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("revocations")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HubRequestLatency))
}
