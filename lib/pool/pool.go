package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/metrics"
)

// Default pool settings. The TTL is twice the 30 second polling cadence so
// that a connection survives between two polls of the same gateway.
const (
	DefaultTTL       = 60 * time.Second
	DefaultMaxPerKey = 3
)

var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = apperrors.ErrPoolClosed
	// ErrNilConnection is returned when a connector reports success without
	// producing a connection.
	ErrNilConnection = errors.New("pool: connector returned nil connection")
)

// ConnectError reports a failed slow-path connect. The connector's error is
// preserved unchanged so callers can match it with errors.Is and errors.As.
type ConnectError struct {
	GatewayID string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("pool: connect to gateway %q: %v", e.GatewayID, e.Err)
}

// Unwrap returns the connector error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, errors.ErrConnection) match every connect failure.
func (e *ConnectError) Is(target error) bool {
	return target == apperrors.ErrConnection
}

// Config configures the connection pool.
type Config struct {
	// TTL is how long a connection may stay idle before it is evicted.
	// The expiry is refreshed on every acquire and healthy release.
	// Default: 60 seconds
	TTL time.Duration
	// MaxPerKey bounds the number of idle connections kept per key.
	// Connections that are in use are never evicted to honor the bound.
	// Default: 3
	MaxPerKey int
	// SweepInterval is how often a background sweep evicts expired idle
	// connections. Set to 0 to sweep only on Acquire.
	// Default: 0
	SweepInterval time.Duration
	// Now returns the current time. Tests replace it to simulate a clock.
	// Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:       DefaultTTL,
		MaxPerKey: DefaultMaxPerKey,
		Now:       time.Now,
	}
}

// entry wraps a pooled connection with its bookkeeping.
type entry struct {
	conn      Connection
	expiresAt time.Time
	inUse     bool

	// createdAt and seq are diagnostic only.
	createdAt time.Time
	seq       uint64
}

// Pool is a keyed gateway connection pool. It is safe for concurrent use.
type Pool struct {
	connector Connector
	config    Config

	mu        sync.Mutex
	entries   map[Key][]*entry
	closed    bool
	stopSweep chan struct{}
	sweepDone chan struct{}

	// Metrics
	acquireCount     uint64
	fastHits         uint64
	slowConnects     uint64
	connectFailed    uint64
	releaseCount     uint64
	evictedExpired   uint64
	evictedUnhealthy uint64
	evictedCapacity  uint64
	overCapacity     uint64

	nextSeq uint64
}

// New creates a new connection pool that opens connections with connector.
func New(connector Connector, cfg Config) *Pool {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxPerKey <= 0 {
		cfg.MaxPerKey = DefaultMaxPerKey
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Pool{
		connector: connector,
		config:    cfg,
		entries:   make(map[Key][]*entry),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go p.sweepLoop()
	} else {
		close(p.sweepDone)
	}

	PoolMaxPerKey.Set(int64(cfg.MaxPerKey))
	log.WithField("ttl", cfg.TTL).WithField("maxPerKey", cfg.MaxPerKey).Debug("pool created")
	return p
}

// Acquire returns a connection to the gateway described by gatewayID and
// cfg. An idle, open, unexpired connection for the same key is reused;
// otherwise a new one is established through the connector without holding
// the pool lock. The caller owns the connection until Release or Discard.
func (p *Pool) Acquire(ctx context.Context, gatewayID string, cfg GatewayConfig) (Connection, error) {
	atomic.AddUint64(&p.acquireCount, 1)
	PoolAcquireTotal.Inc()
	timer := metrics.NewTimer(PoolAcquireLatency)
	defer timer.ObserveDuration()

	key := KeyFor(gatewayID, cfg)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	now := p.config.Now()
	stale := p.sweepLocked(now)
	conn, unhealthy := p.checkoutLocked(key, now)
	p.updateGaugesLocked()
	p.mu.Unlock()

	closeConns(append(stale, unhealthy...), "evicted on acquire")

	if conn != nil {
		atomic.AddUint64(&p.fastHits, 1)
		PoolFastPathTotal.Inc()
		log.WithField("key", key.String()).Debug("reused pooled connection")
		return conn, nil
	}

	conn, err := p.connector.Connect(ctx, cfg)
	if err == nil && conn == nil {
		err = ErrNilConnection
	}
	if err != nil {
		atomic.AddUint64(&p.connectFailed, 1)
		PoolConnectFailedTotal.Inc()
		log.WithField("key", key.String()).WithError(err).Debug("failed to establish gateway connection")
		return nil, &ConnectError{GatewayID: gatewayID, Err: err}
	}
	atomic.AddUint64(&p.slowConnects, 1)
	PoolSlowPathTotal.Inc()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		closeConns([]Connection{conn}, "pool closed during connect")
		return nil, ErrPoolClosed
	}
	evicted := p.admitLocked(key, conn, p.config.Now())
	p.updateGaugesLocked()
	p.mu.Unlock()

	closeConns(evicted, "evicted for capacity")
	log.WithField("key", key.String()).Debug("created new gateway connection")
	return conn, nil
}

// checkoutLocked marks the first reusable entry for key as in use and
// returns its connection. Idle entries found closed or expired on the way
// are removed and returned for closing. Caller must hold the lock.
func (p *Pool) checkoutLocked(key Key, now time.Time) (Connection, []Connection) {
	list := p.entries[key]
	if len(list) == 0 {
		return nil, nil
	}

	var stale []Connection
	var found *entry
	kept := make([]*entry, 0, len(list))
	for _, e := range list {
		if found == nil && !e.inUse {
			if !e.conn.IsOpen() {
				atomic.AddUint64(&p.evictedUnhealthy, 1)
				PoolEvictedUnhealthyTotal.Inc()
				stale = append(stale, e.conn)
				continue
			}
			if !now.Before(e.expiresAt) {
				atomic.AddUint64(&p.evictedExpired, 1)
				PoolEvictedExpiredTotal.Inc()
				stale = append(stale, e.conn)
				continue
			}
			found = e
		}
		kept = append(kept, e)
	}
	p.setLocked(key, kept)

	if found == nil {
		return nil, stale
	}
	found.inUse = true
	found.expiresAt = now.Add(p.config.TTL)
	return found.conn, stale
}

// admitLocked adds a new in-use entry for key. If the key is at capacity,
// the single idle entry closest to expiry is evicted. If every entry is in
// use the new one is admitted beyond MaxPerKey. Caller must hold the lock.
func (p *Pool) admitLocked(key Key, conn Connection, now time.Time) []Connection {
	list := p.entries[key]

	var evicted []Connection
	if len(list) >= p.config.MaxPerKey {
		if idx := oldestIdle(list); idx >= 0 {
			victim := list[idx]
			evicted = append(evicted, victim.conn)
			list = append(list[:idx], list[idx+1:]...)
			atomic.AddUint64(&p.evictedCapacity, 1)
			PoolEvictedCapacityTotal.Inc()
			log.WithField("key", key.String()).
				WithField("seq", victim.seq).
				WithField("age", now.Sub(victim.createdAt)).
				Debug("evicting idle connection for capacity")
		}
	}

	if len(list) >= p.config.MaxPerKey {
		atomic.AddUint64(&p.overCapacity, 1)
		PoolOverCapacityTotal.Inc()
		log.WithField("key", key.String()).
			WithField("entries", len(list)).
			WithField("maxPerKey", p.config.MaxPerKey).
			Warn("admitting connection beyond capacity")
	}

	list = append(list, &entry{
		conn:      conn,
		expiresAt: now.Add(p.config.TTL),
		inUse:     true,
		createdAt: now,
		seq:       atomic.AddUint64(&p.nextSeq, 1),
	})
	p.entries[key] = list
	return evicted
}

// oldestIdle returns the index of the idle entry with the earliest expiry,
// or -1 if every entry is in use.
func oldestIdle(list []*entry) int {
	idx := -1
	for i, e := range list {
		if e.inUse {
			continue
		}
		if idx < 0 || e.expiresAt.Before(list[idx].expiresAt) {
			idx = i
		}
	}
	return idx
}

// Release returns a connection acquired with key to the pool. A connection
// that no longer reports open is closed and dropped. Releasing a connection
// the pool does not track (already evicted or cleared) is a no-op.
func (p *Pool) Release(conn Connection, key Key) {
	if conn == nil {
		return
	}

	atomic.AddUint64(&p.releaseCount, 1)
	PoolReleaseTotal.Inc()

	p.mu.Lock()
	list := p.entries[key]
	idx := indexOf(list, conn)
	if idx < 0 || !list[idx].inUse {
		p.mu.Unlock()
		log.WithField("key", key.String()).Debug("release of untracked connection ignored")
		return
	}

	if !conn.IsOpen() {
		p.removeLocked(key, idx)
		atomic.AddUint64(&p.evictedUnhealthy, 1)
		PoolEvictedUnhealthyTotal.Inc()
		p.updateGaugesLocked()
		p.mu.Unlock()
		closeConns([]Connection{conn}, "unhealthy on release")
		return
	}

	e := list[idx]
	e.inUse = false
	e.expiresAt = p.config.Now().Add(p.config.TTL)
	p.updateGaugesLocked()
	p.mu.Unlock()
	log.WithField("key", key.String()).Debug("connection released to pool")
}

// Discard removes a connection acquired with key from the pool and closes
// it. Use this when the caller knows the connection is broken.
func (p *Pool) Discard(conn Connection, key Key) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if idx := indexOf(p.entries[key], conn); idx >= 0 {
		p.removeLocked(key, idx)
		atomic.AddUint64(&p.evictedUnhealthy, 1)
		PoolEvictedUnhealthyTotal.Inc()
		p.updateGaugesLocked()
	}
	p.mu.Unlock()

	log.WithField("key", key.String()).Debug("discarding bad connection")
	closeConns([]Connection{conn}, "discarded")
}

// Sweep evicts expired idle connections across all keys and returns how
// many were evicted.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	stale := p.sweepLocked(p.config.Now())
	p.updateGaugesLocked()
	p.mu.Unlock()

	closeConns(stale, "expired")
	if len(stale) > 0 {
		log.WithField("evicted", len(stale)).Debug("sweep removed expired connections")
	}
	return len(stale)
}

// sweepLocked removes idle entries whose expiry has passed and returns
// their connections. In-use entries are never swept. Caller must hold the
// lock.
func (p *Pool) sweepLocked(now time.Time) []Connection {
	var stale []Connection
	for key, list := range p.entries {
		kept := list[:0]
		for _, e := range list {
			if !e.inUse && !now.Before(e.expiresAt) {
				stale = append(stale, e.conn)
				continue
			}
			kept = append(kept, e)
		}
		for i := len(kept); i < len(list); i++ {
			list[i] = nil
		}
		p.setLocked(key, kept)
	}
	if n := uint64(len(stale)); n > 0 {
		atomic.AddUint64(&p.evictedExpired, n)
		PoolEvictedExpiredTotal.Add(n)
	}
	return stale
}

// Size returns the number of live entries: those in use plus those idle and
// unexpired.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.config.Now()
	n := 0
	for _, list := range p.entries {
		for _, e := range list {
			if e.inUse || now.Before(e.expiresAt) {
				n++
			}
		}
	}
	return n
}

// Clear closes every pooled connection, idle or in use, and empties the
// pool. The pool stays usable; later releases of cleared connections are
// ignored.
func (p *Pool) Clear() {
	p.mu.Lock()
	conns := p.drainLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	closeConns(conns, "cleared")
	log.WithField("closed", len(conns)).Debug("pool cleared")
}

// Close stops the background sweep, closes all connections and rejects
// further acquires.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.stopSweep)
	conns := p.drainLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	closeConns(conns, "pool closed")

	// Wait for sweep goroutine
	<-p.sweepDone

	log.Debug("pool closed")
	return nil
}

// drainLocked empties the pool and returns every connection it held.
// Caller must hold the lock.
func (p *Pool) drainLocked() []Connection {
	var conns []Connection
	for _, list := range p.entries {
		for _, e := range list {
			conns = append(conns, e.conn)
		}
	}
	p.entries = make(map[Key][]*entry)
	return conns
}

// sweepLoop periodically evicts expired idle connections.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// setLocked stores list under key, dropping the key when list is empty.
func (p *Pool) setLocked(key Key, list []*entry) {
	if len(list) == 0 {
		delete(p.entries, key)
		return
	}
	p.entries[key] = list
}

// removeLocked deletes the entry at idx from key's list.
func (p *Pool) removeLocked(key Key, idx int) {
	list := p.entries[key]
	list = append(list[:idx], list[idx+1:]...)
	p.setLocked(key, list)
}

func indexOf(list []*entry, conn Connection) int {
	for i, e := range list {
		if e.conn == conn {
			return i
		}
	}
	return -1
}

// closeConns closes connections outside the pool lock. Close errors on
// dead sockets are expected and only logged.
func closeConns(conns []Connection, reason string) {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			log.WithField("reason", reason).WithError(err).Debug("error closing pooled connection")
		}
	}
}

// Stats holds pool statistics.
type Stats struct {
	// MaxPerKey is the idle capacity per key.
	MaxPerKey int `json:"maxPerKey"`
	// TTL is the idle time-to-live.
	TTL time.Duration `json:"ttl"`
	// Keys is the number of distinct keys with at least one entry.
	Keys int `json:"keys"`
	// Entries is the total number of tracked connections.
	Entries int `json:"entries"`
	// Idle is the number of connections waiting for reuse.
	Idle int `json:"idle"`
	// InUse is the number of connections held by callers.
	InUse int `json:"inUse"`
	// AcquireCount is the total number of acquire attempts.
	AcquireCount uint64 `json:"acquireCount"`
	// FastHits is the number of acquires served from the pool.
	FastHits uint64 `json:"fastHits"`
	// SlowConnects is the number of acquires that opened a connection.
	SlowConnects uint64 `json:"slowConnects"`
	// ConnectFailed is the number of failed slow-path connects.
	ConnectFailed uint64 `json:"connectFailed"`
	// ReleaseCount is the number of releases.
	ReleaseCount uint64 `json:"releaseCount"`
	// EvictedExpired counts idle connections removed after their TTL.
	EvictedExpired uint64 `json:"evictedExpired"`
	// EvictedUnhealthy counts connections removed because they were closed.
	EvictedUnhealthy uint64 `json:"evictedUnhealthy"`
	// EvictedCapacity counts idle connections removed to make room.
	EvictedCapacity uint64 `json:"evictedCapacity"`
	// OverCapacity counts admissions beyond MaxPerKey.
	OverCapacity uint64 `json:"overCapacity"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		MaxPerKey:        p.config.MaxPerKey,
		TTL:              p.config.TTL,
		Keys:             len(p.entries),
		AcquireCount:     atomic.LoadUint64(&p.acquireCount),
		FastHits:         atomic.LoadUint64(&p.fastHits),
		SlowConnects:     atomic.LoadUint64(&p.slowConnects),
		ConnectFailed:    atomic.LoadUint64(&p.connectFailed),
		ReleaseCount:     atomic.LoadUint64(&p.releaseCount),
		EvictedExpired:   atomic.LoadUint64(&p.evictedExpired),
		EvictedUnhealthy: atomic.LoadUint64(&p.evictedUnhealthy),
		EvictedCapacity:  atomic.LoadUint64(&p.evictedCapacity),
		OverCapacity:     atomic.LoadUint64(&p.overCapacity),
	}
	for _, list := range p.entries {
		for _, e := range list {
			s.Entries++
			if e.inUse {
				s.InUse++
			} else {
				s.Idle++
			}
		}
	}
	return s
}

// updateGaugesLocked refreshes the pool gauges. Caller must hold the lock.
func (p *Pool) updateGaugesLocked() {
	var entries, inUse int
	for _, list := range p.entries {
		for _, e := range list {
			entries++
			if e.inUse {
				inUse++
			}
		}
	}
	UpdateMetrics(Stats{
		MaxPerKey: p.config.MaxPerKey,
		Keys:      len(p.entries),
		Entries:   entries,
		Idle:      entries - inUse,
		InUse:     inUse,
	})
}
