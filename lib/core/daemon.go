package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arana198/mission-control-sub011/lib/gateway"
	"github.com/arana198/mission-control-sub011/lib/metrics"
	"github.com/arana198/mission-control-sub011/lib/poller"
	"github.com/arana198/mission-control-sub011/lib/pool"
	"github.com/arana198/mission-control-sub011/lib/resilience"
)

// State represents the lifecycle state of the daemon.
type State int

const (
	// StateInitial is the state before Start is called.
	StateInitial State = iota
	// StateStarting means components are being started.
	StateStarting
	// StateRunning means the daemon is fully operational.
	StateRunning
	// StateStopping means the daemon is shutting down.
	StateStopping
	// StateStopped means the daemon has been stopped.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Daemon owns the connection pool and everything that feeds or uses it.
type Daemon struct {
	mu     sync.RWMutex
	config *Config
	logger *slog.Logger
	state  State

	pool     *pool.Pool
	poller   *poller.Poller
	breakers *gateway.BreakerConnector
	i2p      *gateway.I2PDialer
	probe    *resilience.Probe

	// sweepInterval drives the pool sweeper, which runs only between Start
	// and shutdown.
	sweepInterval time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	onStateChange func(oldState, newState State)
}

// NewDaemon builds the daemon's components from cfg. Nothing is dialed until
// Start is called.
func NewDaemon(cfg *Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		config: cfg,
		logger: logger.With("component", "daemon"),
		state:  StateInitial,
		done:   make(chan struct{}),
	}

	dialer := gateway.NewDialer()
	dialer.Client = cfg.Daemon.Name
	dialer.HandshakeTimeout = cfg.Pool.HandshakeTimeout.Std()

	if cfg.I2P.Enabled {
		d.i2p = gateway.NewI2PDialer(cfg.Daemon.Name, cfg.I2P.SAMAddress, nil)
		d.probe = resilience.NewProbe("sam", cfg.I2P.SAMAddress, resilience.ProbeConfig{
			Breaker:  cfg.BreakerSettings(),
			Interval: cfg.I2P.ProbeInterval.Std(),
		})
		d.i2p.SetProbe(d.probe)
		dialer.NetDialContext = d.i2p.DialContext
	}

	var connector pool.Connector = dialer
	if cfg.Breaker.Enabled {
		d.breakers = gateway.NewBreakerConnector(dialer, cfg.BreakerSettings())
		connector = d.breakers
	}

	settings := cfg.PoolSettings()
	d.sweepInterval = settings.SweepInterval
	settings.SweepInterval = 0
	d.pool = pool.New(connector, settings)

	gateways := make([]poller.Gateway, 0, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		gateways = append(gateways, poller.Gateway{ID: gw.ID, Config: gw.Connection()})
	}
	d.poller = poller.New(d.pool, gateways, poller.Config{
		Interval:    cfg.Poller.Interval.Std(),
		CallTimeout: cfg.Poller.CallTimeout.Std(),
		Method:      cfg.Poller.Method,
	})

	return d, nil
}

// Start launches the background components and returns immediately.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateInitial {
		d.mu.Unlock()
		return fmt.Errorf("cannot start daemon in state %s", d.state)
	}
	d.state = StateStarting
	d.mu.Unlock()
	d.emitStateChange(StateInitial, StateStarting)

	runCtx, cancel := context.WithCancel(ctx)

	d.logger.Info("starting daemon",
		"name", d.config.Daemon.Name,
		"gateways", len(d.config.Gateways),
		"i2p", d.config.I2P.Enabled,
	)
	metrics.RecordStartTime()

	var wg sync.WaitGroup
	if d.probe != nil {
		d.probe.Start(runCtx)
	}
	if d.sweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.sweepLoop(runCtx)
		}()
	}
	if d.config.Poller.Enabled && len(d.config.Gateways) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.poller.Run(runCtx)
		}()
	}

	d.mu.Lock()
	d.cancel = cancel
	d.state = StateRunning
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.emitStateChange(StateStarting, StateRunning)

	go func() {
		<-runCtx.Done()
		wg.Wait()
		d.shutdown()
		close(d.done)
	}()
	return nil
}

// sweepLoop evicts expired idle connections until ctx ends.
func (d *Daemon) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.pool.Sweep(); n > 0 {
				d.logger.Debug("swept idle connections", "evicted", n)
			}
		}
	}
}

// shutdown releases the pool and dialers after the run context ends.
func (d *Daemon) shutdown() {
	if d.probe != nil {
		d.probe.Stop()
	}
	if err := d.pool.Close(); err != nil {
		d.logger.Debug("pool close", "error", err)
	}
	if d.i2p != nil {
		if err := d.i2p.Close(); err != nil {
			d.logger.Warn("closing I2P session", "error", err)
		}
	}

	d.mu.Lock()
	old := d.state
	d.state = StateStopped
	d.mu.Unlock()
	d.emitStateChange(old, StateStopped)
	d.logger.Info("daemon stopped")
}

// Stop cancels the background components and waits for them to exit or for
// ctx to end.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return fmt.Errorf("cannot stop daemon in state %s", d.state)
	}
	d.state = StateStopping
	cancel := d.cancel
	d.mu.Unlock()

	d.emitStateChange(StateRunning, StateStopping)
	d.logger.Info("stopping daemon")
	cancel()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Done is closed once the daemon has fully stopped.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Config returns the daemon configuration.
func (d *Daemon) Config() *Config {
	return d.config
}

// Pool returns the shared connection pool.
func (d *Daemon) Pool() *pool.Pool {
	return d.pool
}

// Poller returns the gateway poller.
func (d *Daemon) Poller() *poller.Poller {
	return d.poller
}

// BreakerStats returns the state of the gateway dial breakers, or nil when
// breakers are disabled.
func (d *Daemon) BreakerStats() []resilience.Stats {
	if d.breakers == nil {
		return nil
	}
	return d.breakers.Stats()
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.startedAt.IsZero() || d.state != StateRunning {
		return 0
	}
	return time.Since(d.startedAt)
}

// SetOnStateChange sets a callback invoked synchronously on transitions.
func (d *Daemon) SetOnStateChange(callback func(oldState, newState State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateChange = callback
}

func (d *Daemon) emitStateChange(oldState, newState State) {
	d.mu.RLock()
	callback := d.onStateChange
	d.mu.RUnlock()

	if callback != nil {
		callback(oldState, newState)
	}
}

// PoolStats returns a snapshot of the connection pool.
func (d *Daemon) PoolStats() pool.Stats {
	return d.pool.Stats()
}

// ClearPool closes every pooled connection.
func (d *Daemon) ClearPool() {
	d.logger.Info("clearing connection pool")
	d.pool.Clear()
}

// Snapshots returns the latest poll result of every gateway.
func (d *Daemon) Snapshots() []poller.Snapshot {
	return d.poller.Snapshots()
}

// Snapshot returns the latest poll result of one gateway.
func (d *Daemon) Snapshot(id string) (poller.Snapshot, bool) {
	return d.poller.Snapshot(id)
}

// Call runs an on-demand call against a configured gateway.
func (d *Daemon) Call(ctx context.Context, gatewayID, method string, params, result any) error {
	return d.poller.Call(ctx, gatewayID, method, params, result)
}
