// Package pool provides a keyed connection pool for gateway connections.
//
// Connections to a gateway are grouped by a Key derived from the gateway id
// and every parameter that affects the handshake (endpoint URL, token,
// pairing and TLS flags). Two callers share pooled connections only when
// their keys are equal.
//
// The pool supports:
//   - Reuse of idle, open, unexpired connections (fast path)
//   - Establishing new connections outside the pool lock (slow path)
//   - An idle TTL refreshed on every acquire and release
//   - A per-key bound on idle connections
//   - On-acquire and optional periodic eviction sweeps
//   - Metrics for pool utilization
//
// # Basic Usage
//
//	p := pool.New(connector, pool.DefaultConfig())
//	defer p.Close()
//
//	key := pool.KeyFor(gatewayID, cfg)
//	conn, err := p.Acquire(ctx, gatewayID, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(conn, key)
//
//	// Use connection...
//
// A connection that turned out broken should be handed back with Discard
// rather than Release.
//
// # Capacity
//
// MaxPerKey bounds idle connections. When a new connection is admitted for a
// key already at capacity, the idle connection closest to expiry is closed
// first. If every connection for the key is in use, the new one is admitted
// anyway and gatewaypool_over_capacity_total is incremented.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package:
//   - gatewaypool_connections_open: Current tracked connections
//   - gatewaypool_connections_idle: Current idle connections
//   - gatewaypool_connections_in_use: Connections currently in use
//   - gatewaypool_fast_path_total: Acquires served by reuse
//   - gatewaypool_slow_path_total: Acquires that opened a connection
//   - gatewaypool_evicted_*_total: Evictions by cause
package pool
