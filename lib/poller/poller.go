// Package poller periodically checks every configured gateway through the
// connection pool and keeps the latest result for each one.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/gateway"
	"github.com/arana198/mission-control-sub011/lib/metrics"
	"github.com/arana198/mission-control-sub011/lib/pool"
)

// Defaults for Config.
const (
	DefaultInterval    = 30 * time.Second
	DefaultCallTimeout = 10 * time.Second
	DefaultMethod      = gateway.MethodStatus
)

// Caller is implemented by pooled connections that can issue gateway calls.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// Gateway is one polled gateway.
type Gateway struct {
	ID     string
	Config pool.GatewayConfig
}

// Config configures a Poller.
type Config struct {
	Interval    time.Duration
	CallTimeout time.Duration
	Method      string
}

// Snapshot is the result of the most recent poll of a gateway.
type Snapshot struct {
	GatewayID string          `json:"gatewayId"`
	URL       string          `json:"url"`
	Online    bool            `json:"online"`
	Status    json.RawMessage `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Latency   time.Duration   `json:"latencyNs"`
	PolledAt  time.Time       `json:"polledAt,omitzero"`
	Failures  int             `json:"consecutiveFailures"`
}

// Poller drives periodic status calls against a fixed set of gateways.
type Poller struct {
	pool     *pool.Pool
	config   Config
	gateways map[string]Gateway
	order    []string

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// New creates a poller over gateways. Duplicate ids keep the last entry.
func New(p *pool.Pool, gateways []Gateway, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}

	pl := &Poller{
		pool:      p,
		config:    cfg,
		gateways:  make(map[string]Gateway, len(gateways)),
		snapshots: make(map[string]Snapshot, len(gateways)),
	}
	for _, gw := range gateways {
		pl.gateways[gw.ID] = gw
	}
	for id, gw := range pl.gateways {
		pl.order = append(pl.order, id)
		pl.snapshots[id] = Snapshot{GatewayID: id, URL: gw.Config.URL}
	}
	sort.Strings(pl.order)
	metrics.GatewaysConfigured.Set(int64(len(pl.order)))
	return pl
}

// Gateways returns the polled gateways ordered by id.
func (p *Poller) Gateways() []Gateway {
	out := make([]Gateway, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.gateways[id])
	}
	return out
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log.WithField("gateways", len(p.order)).
		WithField("interval", p.config.Interval).
		Info("gateway poller started")

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("gateway poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls every gateway concurrently and waits for all of them.
func (p *Poller) PollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range p.order {
		wg.Add(1)
		go func(gw Gateway) {
			defer wg.Done()
			p.pollGateway(ctx, gw)
		}(p.gateways[id])
	}
	wg.Wait()

	online := 0
	p.mu.RLock()
	for _, s := range p.snapshots {
		if s.Online {
			online++
		}
	}
	p.mu.RUnlock()

	metrics.GatewaysOnline.Set(int64(online))
	metrics.PollRoundsTotal.Inc()
}

func (p *Poller) pollGateway(ctx context.Context, gw Gateway) {
	timer := metrics.NewTimer(metrics.PollLatency)

	var status json.RawMessage
	err := p.withConn(ctx, gw, func(c Caller) error {
		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		defer cancel()
		return c.Call(callCtx, p.config.Method, nil, &status)
	})
	latency := timer.ObserveDuration()

	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snapshots[gw.ID]
	snap.GatewayID = gw.ID
	snap.URL = gw.Config.URL
	snap.PolledAt = time.Now()
	snap.Latency = latency
	if err != nil {
		metrics.PollFailures.With(gw.ID).Inc()
		metrics.GatewayUp.With(gw.ID).Set(0)
		if snap.Online || snap.Failures == 0 {
			log.WithField("gateway", gw.ID).WithError(err).Warn("gateway poll failed")
		}
		snap.Online = false
		snap.Error = err.Error()
		snap.Failures++
	} else {
		if !snap.Online && snap.Failures > 0 {
			log.WithField("gateway", gw.ID).Info("gateway back online")
		}
		metrics.GatewayUp.With(gw.ID).Set(1)
		snap.Online = true
		snap.Error = ""
		snap.Status = status
		snap.Failures = 0
	}
	p.snapshots[gw.ID] = snap
}

// Snapshots returns the latest snapshot of every gateway, ordered by id.
func (p *Poller) Snapshots() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.snapshots[id])
	}
	return out
}

// Snapshot returns the latest snapshot of one gateway.
func (p *Poller) Snapshot(id string) (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.snapshots[id]
	return s, ok
}

// Call runs an on-demand call against a configured gateway using a pooled
// connection.
func (p *Poller) Call(ctx context.Context, id, method string, params, result any) error {
	gw, ok := p.gateways[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrGatewayNotFound, id)
	}
	metrics.RPCCallsTotal.Inc()
	return p.withConn(ctx, gw, func(c Caller) error {
		return c.Call(ctx, method, params, result)
	})
}

// withConn acquires a connection for gw, runs fn and gives the connection
// back. Connections that failed below the RPC layer are discarded.
func (p *Poller) withConn(ctx context.Context, gw Gateway, fn func(Caller) error) error {
	conn, err := p.pool.Acquire(ctx, gw.ID, gw.Config)
	if err != nil {
		return err
	}
	key := pool.KeyFor(gw.ID, gw.Config)

	caller, ok := conn.(Caller)
	if !ok {
		p.pool.Discard(conn, key)
		return fmt.Errorf("connection %T cannot issue calls", conn)
	}

	err = fn(caller)
	if err != nil && !reusable(err) {
		p.pool.Discard(conn, key)
		return err
	}
	p.pool.Release(conn, key)
	return err
}

// reusable reports whether a connection is still good after err. Gateway
// errors, undecodable results and caller timeouts leave the socket intact.
func reusable(err error) bool {
	var rpcErr *gateway.Error
	return errors.As(err, &rpcErr) ||
		errors.Is(err, gateway.ErrResultDecode) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
