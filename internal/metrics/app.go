package metrics

import (
	"github.com/tollgate/tollgate/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Admission metrics
	AdmissionDecisionsTotal = "admission_decisions_total"
	AdmissionClients        = "admission_clients"

	// Cache metrics
	CacheLookupsTotal     = "cache_lookups_total"
	CacheEvictionsTotal   = "cache_evictions_total"
	CacheEntries          = "cache_entries"
	CachePopulationsTotal = "cache_populations_total"

	// Upload metrics
	UploadsTotal = "uploads_total"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordAdmission records an admission decision
func RecordAdmission(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AdmissionDecisionsTotal,
			1,
			map[string]string{
				"decision": decision,
			},
		)
	}
}

// SetAdmissionClients sets the number of clients tracked by the admission table
func SetAdmissionClients(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			AdmissionClients,
			float64(count),
			nil,
		)
	}
}

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{
				"result": result,
			},
		)
	}
}

// RecordCacheEviction records a least-recently-used eviction
func RecordCacheEviction() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheEvictionsTotal,
			1,
			nil,
		)
	}
}

// SetCacheEntries sets the number of live cache entries
func SetCacheEntries(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			CacheEntries,
			float64(count),
			nil,
		)
	}
}

// RecordCachePopulation records the outcome of offering a resource to the cache.
// result is one of "stored", "skipped" or "failed".
func RecordCachePopulation(result string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CachePopulationsTotal,
			1,
			map[string]string{
				"result": result,
			},
		)
	}
}

// RecordUpload records an upload attempt by HTTP status
func RecordUpload(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UploadsTotal,
			1,
			map[string]string{
				"status": status,
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
