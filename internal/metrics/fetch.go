package metrics

import (
	"time"

	"github.com/kosmostars/spacefeed/internal/observability"
)

// Fetch pipeline metric names.
const (
	FetchCyclesTotal   = "spacefeed_fetch_cycles_total"
	FetchCycleDuration = "spacefeed_fetch_cycle_ms"
	FetchAttemptsTotal = "spacefeed_fetch_attempts_total"
	FetchRetriesTotal  = "spacefeed_fetch_retries_total"
	RateLimiterWait    = "spacefeed_ratelimit_wait_ms"
	StoredRecordsTotal = "spacefeed_stored_records_total"
	TicksCoalesced     = "spacefeed_fetch_ticks_coalesced_total"
)

// RecordFetchCycle records the outcome and duration of one fetch cycle.
func RecordFetchCycle(source, outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		FetchCyclesTotal,
		1,
		map[string]string{
			"source":  source,
			"outcome": outcome,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		FetchCycleDuration,
		duration,
		map[string]string{
			"source": source,
		},
	)
}

// RecordFetchAttempt records one HTTP attempt. status is the HTTP code or "transport_error".
func RecordFetchAttempt(source, status string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		FetchAttemptsTotal,
		1,
		map[string]string{
			"source": source,
			"status": status,
		},
	)
}

// RecordFetchRetry records a scheduled retry.
func RecordFetchRetry(source, kind string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		FetchRetriesTotal,
		1,
		map[string]string{
			"source": source,
			"kind":   kind,
		},
	)
}

// RecordLimiterWait records how long a caller waited for a permit.
func RecordLimiterWait(source string, wait time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Histogram(
		RateLimiterWait,
		wait,
		map[string]string{
			"source": source,
		},
	)
}

// RecordStoredRecords counts rows written by a cycle.
func RecordStoredRecords(source string, count int) {
	if observability.TelemetrySystem == nil || count <= 0 {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		StoredRecordsTotal,
		float64(count),
		map[string]string{
			"source": source,
		},
	)
}

// RecordCoalescedTick counts a scheduled tick folded into an already queued cycle.
func RecordCoalescedTick(source string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		TicksCoalesced,
		1,
		map[string]string{
			"source": source,
		},
	)
}
