package web

import (
	"context"
	"time"

	"github.com/arana198/mission-control-sub011/lib/poller"
	"github.com/arana198/mission-control-sub011/lib/pool"
	"github.com/arana198/mission-control-sub011/lib/resilience"
)

// Backend is what the API needs from the daemon. *core.Daemon implements
// it; tests use a fake.
type Backend interface {
	// PoolStats returns a snapshot of the connection pool.
	PoolStats() pool.Stats
	// ClearPool closes every pooled connection.
	ClearPool()
	// Snapshots returns the latest poll result of every gateway.
	Snapshots() []poller.Snapshot
	// Snapshot returns the latest poll result of one gateway.
	Snapshot(id string) (poller.Snapshot, bool)
	// Call runs an on-demand call against a gateway.
	Call(ctx context.Context, gatewayID, method string, params, result any) error
	// BreakerStats returns the gateway dial breakers.
	BreakerStats() []resilience.Stats
	// Uptime returns how long the daemon has been running.
	Uptime() time.Duration
}
