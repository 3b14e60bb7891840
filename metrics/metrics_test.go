package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementAndGauge(t *testing.T) {
	p := NewPrometheus(zerolog.Nop())
	p.Increment(Heartbeat, map[string]string{"task": "dispatcher"})
	p.Increment(Heartbeat, map[string]string{"task": "dispatcher"})
	p.Increment(Heartbeat, map[string]string{"task": "worker"})
	p.Increment(LiquidateGiveUp, nil)
	p.Gauge(ObligationCount, 12, nil)
	p.Gauge(ObligationCount, 7, nil)
	p.Gauge(WalletBalance, 1.5, map[string]string{"symbol": "SOL"})

	assert.Equal(t, float64(2), testutil.ToFloat64(p.counters[Heartbeat].WithLabelValues("dispatcher")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.counters[Heartbeat].WithLabelValues("worker")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.counters[LiquidateGiveUp].WithLabelValues()))
	assert.Equal(t, float64(7), testutil.ToFloat64(p.gauges[ObligationCount].WithLabelValues()))
	assert.Equal(t, 1.5, testutil.ToFloat64(p.gauges[WalletBalance].WithLabelValues("SOL")))
}

func TestMismatchedLabelsAreDropped(t *testing.T) {
	p := NewPrometheus(zerolog.Nop())
	p.Increment(LiquidateError, map[string]string{"type": "submit"})
	assert.NotPanics(t, func() {
		p.Increment(LiquidateError, map[string]string{"kind": "submit"})
		p.Increment(LiquidateError, nil)
	})
	assert.Equal(t, 1, testutil.CollectAndCount(p.counters[LiquidateError]))
}

func TestHandler(t *testing.T) {
	p := NewPrometheus(zerolog.Nop())
	p.Increment(EnqueueLiquidation, nil)
	p.Increment(LiquidateSuccess, map[string]string{"repayAsset": "USDC", "withdrawAsset": "SOL"})

	recorder := httptest.NewRecorder()
	p.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Contains(t, body, "liquidator_enqueue_liquidation 1")
	assert.Contains(t, body, `liquidator_liquidate_success{repayAsset="USDC",withdrawAsset="SOL"} 1`)
}
