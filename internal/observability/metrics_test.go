package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	testMetrics     *Metrics
	testMetricsOnce sync.Once
)

// getTestMetrics returns a singleton metrics instance for all tests
// This prevents duplicate Prometheus registration errors since metrics
// are registered globally
func getTestMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

func TestNewMetrics(t *testing.T) {
	metrics := getTestMetrics()
	assert.NotNil(t, metrics)
	assert.NotNil(t, metrics.ConnectionsTotal)
	assert.NotNil(t, metrics.ActiveConnections)
	assert.NotNil(t, metrics.OnlineUsers)
	assert.NotNil(t, metrics.FramesReceived)
	assert.NotNil(t, metrics.FramesRouted)
	assert.NotNil(t, metrics.FramesDropped)
	assert.NotNil(t, metrics.MessagesRelayed)
	assert.NotNil(t, metrics.MessageQueueDepth)
	assert.NotNil(t, metrics.CallsInitiated)
	assert.NotNil(t, metrics.CallsActive)
	assert.NotNil(t, metrics.CallDuration)
	assert.NotNil(t, metrics.AuthAttempts)
	assert.NotNil(t, metrics.AuthSuccesses)
	assert.NotNil(t, metrics.AuthFailures)
	assert.NotNil(t, metrics.VaultOperations)
	assert.NotNil(t, metrics.VaultErrors)
	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.HTTPRequestDuration)
}

func TestMetrics_ConnectionLifecycle(t *testing.T) {
	metrics := getTestMetrics()

	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.ActiveConnections.Inc()
	metrics.ActiveConnections.Dec()
	metrics.OnlineUsers.Set(3)
}

func TestMetrics_FrameRouting(t *testing.T) {
	metrics := getTestMetrics()

	metrics.FramesReceived.WithLabelValues("send_message").Inc()
	metrics.FramesRouted.WithLabelValues("send_message").Inc()
	metrics.FramesDropped.WithLabelValues("unauthenticated").Inc()
}

func TestMetrics_MessageRelay(t *testing.T) {
	metrics := getTestMetrics()

	metrics.MessagesRelayed.WithLabelValues("immediate").Inc()
	metrics.MessagesRelayed.WithLabelValues("queued").Inc()
	metrics.MessageQueueDepth.WithLabelValues("peer-1").Set(4)
}

func TestMetrics_CallSignaling(t *testing.T) {
	metrics := getTestMetrics()

	metrics.CallsInitiated.WithLabelValues("forwarded").Inc()
	metrics.CallsActive.Set(1)
	metrics.CallDuration.Observe(42.5)
}

func TestMetrics_Auth(t *testing.T) {
	metrics := getTestMetrics()

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	metrics.AuthSuccesses.Inc()
	metrics.AuthFailures.WithLabelValues("bad_signature").Inc()
}

func TestMetrics_Vault(t *testing.T) {
	metrics := getTestMetrics()

	metrics.VaultOperations.WithLabelValues("get").Inc()
	metrics.VaultErrors.WithLabelValues("set").Inc()
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	metrics := getTestMetrics()

	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200").Inc()
	metrics.HTTPRequestDuration.WithLabelValues("GET", "/healthz").Observe(12.0)
}
