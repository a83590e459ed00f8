package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUpstreamMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordUpstreamRequest("news")
	m.RecordUpstreamRequest("news")
	m.RecordUpstreamError("news")
	m.RecordUpstreamLatency("news", 0.05)

	if got := testutil.ToFloat64(m.upstreamRequests.WithLabelValues("news")); got != 2 {
		t.Errorf("Expected upstream_requests_total[news] to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.upstreamErrors.WithLabelValues("news")); got != 1 {
		t.Errorf("Expected upstream_errors_total[news] to be 1, got %f", got)
	}
}

func TestStreamMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordWSConnection()
	m.RecordWSConnection()
	m.RecordWSDisconnect()
	m.RecordProducerStarted()
	m.RecordProducerStopped()
	m.RecordTickSent()

	if got := testutil.ToFloat64(m.activeStreams); got != 1 {
		t.Errorf("Expected active_streams to be 1, got %f", got)
	}
	if got := testutil.ToFloat64(m.wsConnections); got != 2 {
		t.Errorf("Expected ws_connections_total to be 2, got %f", got)
	}
	if testutil.ToFloat64(m.producersStarted) != testutil.ToFloat64(m.producersStopped) {
		t.Errorf("Expected producer starts and stops to match")
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordPostback()
	m.RecordHTTPRequest("/postback", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "gw_broker_postbacks_total 1") {
		t.Errorf("metrics output missing postbacks counter:\n%s", body)
	}
	if !strings.Contains(string(body), `gw_broker_http_requests_total{code="200",route="/postback"} 1`) {
		t.Errorf("metrics output missing http request counter")
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	a := New(DefaultConfig())
	b := New(DefaultConfig())
	a.RecordAuthAttempt()

	if got, err := testutil.GatherAndCount(a.Registry(), "gw_broker_auth_attempts_total"); err != nil || got != 1 {
		t.Errorf("Expected auth_attempts_total in registry a, got %d series", got)
	}
	if got := testutil.ToFloat64(b.authAttempts); got != 0 {
		t.Errorf("Expected registry b untouched, got %f", got)
	}
}
