package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
)

func TestInit_Disabled(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Name: "ursula"}}

	p, err := Init(context.Background(), cfg, logging.GetLogger())
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_MetricsHandler(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Service:       config.ServiceConfig{Name: "ursula", Version: "test"},
		Observability: config.ObservabilityConfig{Metrics: config.MetricsConfig{Enabled: true}},
	}

	p, err := Init(ctx, cfg, logging.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	counter, err := otel.Meter("nkms/observability/test").Int64Counter("nkms_test_events_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	handler := p.MetricsHandler()
	require.NotNil(t, handler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nkms_test_events_total")
}

func TestMetricsPath(t *testing.T) {
	assert.Equal(t, "/metrics", metricsPath(config.MetricsConfig{}))
	assert.Equal(t, "/stats", metricsPath(config.MetricsConfig{Path: "stats"}))
	assert.Equal(t, "/custom", metricsPath(config.MetricsConfig{Path: "/custom"}))
}
