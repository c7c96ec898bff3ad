package resilience

import (
	"context"
	"net"
	"sync"
	"time"
)

// ProbeConfig configures a Probe.
type ProbeConfig struct {
	Breaker  Config
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultProbeConfig returns defaults for probing a local bridge.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Breaker:  DefaultConfig(),
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Probe periodically checks that a TCP address accepts connections and
// drives a breaker from the results. It is used to stop dialing I2P
// destinations while the SAM bridge is down.
type Probe struct {
	mu      sync.Mutex
	addr    string
	config  ProbeConfig
	breaker *Breaker
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	healthy     bool
	lastCheck   time.Time
	lastHealthy time.Time
	onChange    func(healthy bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProbe creates a probe for addr. It starts out healthy.
func NewProbe(name, addr string, cfg ProbeConfig) *Probe {
	def := DefaultProbeConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	d := &net.Dialer{Timeout: cfg.Timeout}
	p := &Probe{
		addr:    addr,
		config:  cfg,
		breaker: NewBreaker(name, cfg.Breaker),
		dial:    d.DialContext,
		healthy: true,
	}
	p.breaker.OnStateChange(recordTransition)
	return p
}

// OnChange registers fn to be called when health flips.
func (p *Probe) OnChange(fn func(healthy bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Start begins probing in the background. Calling Start twice is a no-op.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log.WithField("addr", p.addr).
		WithField("interval", p.config.Interval).
		Debug("starting bridge probe")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Stop halts probing and waits for the loop to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Probe) loop(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check probes the address once and records the result.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	healthy := true
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		log.WithField("addr", p.addr).WithError(err).Debug("bridge probe failed")
		healthy = false
	} else {
		conn.Close()
	}

	p.mu.Lock()
	was := p.healthy
	p.healthy = healthy
	p.lastCheck = time.Now()
	if healthy {
		p.lastHealthy = p.lastCheck
	}
	onChange := p.onChange
	p.mu.Unlock()

	if healthy {
		// A reachable bridge closes the breaker outright.
		p.breaker.Reset()
	} else {
		p.breaker.RecordFailure()
	}
	if was != healthy && onChange != nil {
		go onChange(healthy)
	}
	return healthy
}

// Healthy reports the result of the last check.
func (p *Probe) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// Allow reports whether work depending on the address should proceed.
func (p *Probe) Allow() bool {
	return p.breaker.State() != StateOpen
}

// Breaker returns the breaker driven by this probe.
func (p *Probe) Breaker() *Breaker {
	return p.breaker
}

// LastHealthy returns when the address last accepted a connection.
func (p *Probe) LastHealthy() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHealthy
}
