package gateway

import (
	"context"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/pool"
	"github.com/arana198/mission-control-sub011/lib/resilience"
)

// BreakerConnector wraps a connector with one breaker per gateway URL so a
// dead gateway is not redialed on every poll. Credential and URL errors do
// not trip the breaker; they will not heal by waiting.
type BreakerConnector struct {
	next     pool.Connector
	breakers *resilience.Group
}

// NewBreakerConnector wraps next. cfg.IsFailure is replaced.
func NewBreakerConnector(next pool.Connector, cfg resilience.Config) *BreakerConnector {
	cfg.IsFailure = isDialFailure
	return &BreakerConnector{
		next:     next,
		breakers: resilience.NewGroup("gateway", cfg),
	}
}

func isDialFailure(err error) bool {
	return !apperrors.IsUnauthorized(err) && !apperrors.IsInvalidInput(err)
}

// Connect implements pool.Connector.
func (b *BreakerConnector) Connect(ctx context.Context, cfg pool.GatewayConfig) (pool.Connection, error) {
	var conn pool.Connection
	err := b.breakers.Execute(ctx, cfg.URL, func(ctx context.Context) error {
		c, err := b.next.Connect(ctx, cfg)
		conn = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Stats returns the state of every gateway breaker.
func (b *BreakerConnector) Stats() []resilience.Stats {
	return b.breakers.Stats()
}

// Reset closes every breaker.
func (b *BreakerConnector) Reset() {
	b.breakers.Reset()
}
