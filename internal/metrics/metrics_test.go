package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCheckout("created", time.Now())
	m.ObserveCheckout("created", time.Now())
	m.ObserveCheckout("replayed", time.Now())
	m.ObserveWebhook("payment.succeeded", "applied")
	m.StockConflict("payment")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Checkouts.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkouts.WithLabelValues("replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhooks.WithLabelValues("payment.succeeded", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockConflicts.WithLabelValues("payment")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCheckout("created", time.Now())
		m.ObserveWebhook("payment.failed", "applied")
		m.StockConflict("checkout")
		m.ObserveRequest("checkout", "201", time.Now())
	})
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveRequest("checkout", "201", time.Now())

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `checkout_engine_http_requests_total{handler="checkout",status="201"} 1`)
}
