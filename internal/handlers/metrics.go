package handlers

import "sync/atomic"

var (
	metricRequestsTotal     atomic.Uint64
	metricRequestsFailed    atomic.Uint64
	metricRequestLatencyMs  atomic.Uint64
	metricRateLimited       atomic.Uint64
	metricConversions       atomic.Uint64
	metricConversionsFailed atomic.Uint64
	inflight                atomic.Int64
)

func recordRequest(status int, ms int64) {
	metricRequestsTotal.Add(1)
	metricRequestLatencyMs.Add(uint64(max(ms, 0)))
	if status >= 400 {
		metricRequestsFailed.Add(1)
	}
}

func recordConversion(err error) {
	metricConversions.Add(1)
	if err != nil {
		metricConversionsFailed.Add(1)
	}
}

func snapshotMetrics() map[string]any {
	total := metricRequestsTotal.Load()
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(metricRequestLatencyMs.Load()) / float64(total)
	}
	return map[string]any{
		"requestsTotal":     total,
		"requestsFailed":    metricRequestsFailed.Load(),
		"avgLatencyMs":      avgMs,
		"rateLimited":       metricRateLimited.Load(),
		"conversions":       metricConversions.Load(),
		"conversionsFailed": metricConversionsFailed.Load(),
		"inflight":          inflight.Load(),
	}
}
