package pool

import "github.com/arana198/mission-control-sub011/lib/metrics"

// Pool utilization metrics
var (
	// PoolMaxPerKey is the idle capacity per key.
	PoolMaxPerKey = metrics.NewGauge(
		"gatewaypool_max_per_key",
		"Maximum number of idle connections kept per key",
	)
	// PoolKeys is the number of keys with at least one connection.
	PoolKeys = metrics.NewGauge(
		"gatewaypool_keys",
		"Number of distinct gateway keys in the pool",
	)
	// PoolConnectionsOpen is the current number of tracked connections.
	PoolConnectionsOpen = metrics.NewGauge(
		"gatewaypool_connections_open",
		"Current number of tracked gateway connections",
	)
	// PoolConnectionsIdle is the current number of idle connections.
	PoolConnectionsIdle = metrics.NewGauge(
		"gatewaypool_connections_idle",
		"Current number of idle connections in the pool",
	)
	// PoolConnectionsInUse is the number of connections currently in use.
	PoolConnectionsInUse = metrics.NewGauge(
		"gatewaypool_connections_in_use",
		"Number of connections currently in use",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"gatewaypool_acquire_total",
		"Total number of connection acquire attempts",
	)
	// PoolFastPathTotal is the number of acquires served by reuse.
	PoolFastPathTotal = metrics.NewCounter(
		"gatewaypool_fast_path_total",
		"Total number of acquires that reused a pooled connection",
	)
	// PoolSlowPathTotal is the number of acquires that opened a connection.
	PoolSlowPathTotal = metrics.NewCounter(
		"gatewaypool_slow_path_total",
		"Total number of acquires that established a new connection",
	)
	// PoolConnectFailedTotal is the number of failed connects.
	PoolConnectFailedTotal = metrics.NewCounter(
		"gatewaypool_connect_failed_total",
		"Total number of failed gateway connects",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounter(
		"gatewaypool_release_total",
		"Total number of connection releases",
	)
	// PoolEvictedExpiredTotal counts idle connections evicted after their TTL.
	PoolEvictedExpiredTotal = metrics.NewCounter(
		"gatewaypool_evicted_expired_total",
		"Total number of idle connections evicted after their TTL",
	)
	// PoolEvictedUnhealthyTotal counts connections evicted because they were closed.
	PoolEvictedUnhealthyTotal = metrics.NewCounter(
		"gatewaypool_evicted_unhealthy_total",
		"Total number of connections evicted because they were no longer open",
	)
	// PoolEvictedCapacityTotal counts idle connections evicted to make room.
	PoolEvictedCapacityTotal = metrics.NewCounter(
		"gatewaypool_evicted_capacity_total",
		"Total number of idle connections evicted to stay within capacity",
	)
	// PoolOverCapacityTotal counts admissions beyond the per-key capacity.
	PoolOverCapacityTotal = metrics.NewCounter(
		"gatewaypool_over_capacity_total",
		"Total number of connections admitted while every pooled connection was in use",
	)
	// PoolAcquireLatency tracks time spent acquiring connections.
	PoolAcquireLatency = metrics.NewHistogram(
		"gatewaypool_acquire_duration_seconds",
		"Time spent acquiring a connection from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolMaxPerKey.Set(int64(stats.MaxPerKey))
	PoolKeys.Set(int64(stats.Keys))
	PoolConnectionsOpen.Set(int64(stats.Entries))
	PoolConnectionsIdle.Set(int64(stats.Idle))
	PoolConnectionsInUse.Set(int64(stats.InUse))
}
