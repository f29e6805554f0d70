package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchline/relay/internal/common/config"
)

func TestMetrics_DomainCounters(t *testing.T) {
	m := New(config.MetricsConfig{Namespace: "relay_test"})

	m.ClientConnected("synth")
	m.ClientConnected("controller")
	m.ClientDisconnected("synth")
	m.SignalingMessage("offer")
	m.IncQueuedMessages()
	m.IncQueuedMessages()
	m.DecQueuedMessages()
	m.LeadershipChanged()
	m.ReaperEvicted()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "relay_test_connected_clients")
	assert.Contains(t, body, "relay_test_signaling_messages_total")
	assert.Contains(t, body, "relay_test_queued_messages")
	assert.Contains(t, body, "relay_test_leadership_changes_total")
	assert.Contains(t, body, "relay_test_reaper_evictions_total")
}

func TestMetrics_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(config.MetricsConfig{Namespace: "relay_mw_test"})

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(200) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	r.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `relay_mw_test_http_requests_total{method="GET",route="/ping",status="200"} 1`)
}
