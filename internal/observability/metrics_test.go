package observability_test

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosmostars/spacefeed/internal/observability"
)

func TestStopMetricsWithoutExporter(t *testing.T) {
	require.NoError(t, observability.StopMetrics())
	require.NoError(t, observability.StopMetrics())
	assert.Nil(t, observability.PrometheusExporter)
	assert.Nil(t, observability.TelemetrySystem)
	assert.Zero(t, observability.GetMetricsPort())
}

func TestInitMetricsBindsAndStops(t *testing.T) {
	err := observability.InitMetrics("spacefeed", 0, "spacefeed_test")
	if err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) ||
			strings.Contains(strings.ToLower(err.Error()), "not permitted") {
			t.Skipf("loopback bind refused: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.StopMetrics() })

	require.NotNil(t, observability.PrometheusExporter)
	require.NotNil(t, observability.TelemetrySystem)
	assert.Positive(t, observability.GetMetricsPort())

	require.NoError(t, observability.StopMetrics())
	assert.Nil(t, observability.PrometheusExporter)
	assert.Nil(t, observability.TelemetrySystem)
	assert.Zero(t, observability.GetMetricsPort())
}
