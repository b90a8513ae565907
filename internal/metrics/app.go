package metrics

import (
	"time"

	"github.com/kosmostars/spacefeed/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Maintenance operations (snapshot prune, CLI fetch runs)
	OperationsTotal       = "spacefeed_operations_total"
	OperationsErrorsTotal = "spacefeed_operations_errors_total"

	// Health check metrics
	HealthCheckTotal    = "spacefeed_health_check_total"
	HealthCheckDuration = "spacefeed_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "spacefeed_server_start_time_seconds"
)

// RecordOperation records one maintenance operation with its status
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsTotal,
			1,
			map[string]string{
				"operation": operation,
				"status":    status,
			},
		)
	}
}

// RecordOperationError records why a maintenance operation failed
func RecordOperationError(operation string, errorType string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsErrorsTotal,
			1,
			map[string]string{
				"operation":  operation,
				"error_type": errorType,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
