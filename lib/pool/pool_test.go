package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
)

// mockConn is a mock gateway connection for testing.
type mockConn struct {
	id int

	mu         sync.Mutex
	closed     bool
	broken     bool
	closeCount int

	// holders counts callers currently using the connection.
	holders int32
}

func (m *mockConn) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.broken
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCount++
	return nil
}

// breakConn simulates the remote end dropping the connection.
func (m *mockConn) breakConn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken = true
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockConnector creates mock connections.
func mockConnector(counter *int32) Connector {
	return ConnectorFunc(func(ctx context.Context, cfg GatewayConfig) (Connection, error) {
		id := atomic.AddInt32(counter, 1)
		return &mockConn{id: int(id)}, nil
	})
}

var errDial = errors.New("dial tcp: connection refused")

// failingConnector returns errors.
func failingConnector() Connector {
	return ConnectorFunc(func(ctx context.Context, cfg GatewayConfig) (Connection, error) {
		return nil, errDial
	})
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(clock *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.TTL = 60 * time.Second
	cfg.MaxPerKey = 3
	if clock != nil {
		cfg.Now = clock.Now
	}
	return cfg
}

var gw = GatewayConfig{URL: "ws://gateway.test:18789", Token: "secret"}

func TestPoolAcquireRelease(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)

	conn1, err := p.Acquire(context.Background(), "gw-1", gw)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn1 == nil {
		t.Fatal("Expected non-nil connection")
	}

	stats := p.Stats()
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}
	if stats.InUse != 1 {
		t.Errorf("Expected 1 in use, got %d", stats.InUse)
	}

	p.Release(conn1, key)

	stats = p.Stats()
	if stats.Idle != 1 {
		t.Errorf("Expected 1 idle after release, got %d", stats.Idle)
	}
	if stats.InUse != 0 {
		t.Errorf("Expected 0 in use after release, got %d", stats.InUse)
	}

	// Acquire again - should get same connection
	conn2, err := p.Acquire(context.Background(), "gw-1", gw)
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}
	if conn2 != conn1 {
		t.Error("Expected to get same connection from pool")
	}
	if counter != 1 {
		t.Errorf("Expected 1 connection created, got %d", counter)
	}

	stats = p.Stats()
	if stats.FastHits != 1 {
		t.Errorf("Expected 1 fast hit, got %d", stats.FastHits)
	}
	if stats.SlowConnects != 1 {
		t.Errorf("Expected 1 slow connect, got %d", stats.SlowConnects)
	}
}

func TestPoolHeldConnectionNotShared(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	conn1, _ := p.Acquire(context.Background(), "gw-1", gw)
	conn2, _ := p.Acquire(context.Background(), "gw-1", gw)

	if conn1 == conn2 {
		t.Fatal("Two holders got the same connection")
	}
	if counter != 2 {
		t.Errorf("Expected 2 connections created, got %d", counter)
	}
}

func TestPoolDistinctConfigs(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	configs := []GatewayConfig{
		gw,
		{URL: gw.URL},
		{URL: gw.URL, Token: "other"},
		{URL: gw.URL, Token: gw.Token, DisablePairing: true},
		{URL: gw.URL, Token: gw.Token, InsecureSkipVerify: true},
		{URL: "ws://other.test:18789", Token: gw.Token},
	}

	seen := make(map[Connection]bool)
	for _, cfg := range configs {
		conn, err := p.Acquire(context.Background(), "gw-1", cfg)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		p.Release(conn, KeyFor("gw-1", cfg))
		if seen[conn] {
			t.Errorf("Config %+v reused a connection from another config", cfg)
		}
		seen[conn] = true
	}

	// Same config, different gateway id
	conn, _ := p.Acquire(context.Background(), "gw-2", gw)
	if seen[conn] {
		t.Error("Different gateway id reused a connection")
	}

	if int(counter) != len(configs)+1 {
		t.Errorf("Expected %d connections, got %d", len(configs)+1, counter)
	}
	if stats := p.Stats(); stats.Keys != len(configs)+1 {
		t.Errorf("Expected %d keys, got %d", len(configs)+1, stats.Keys)
	}
}

func TestPoolConnectError(t *testing.T) {
	p := New(failingConnector(), testConfig(nil))
	defer p.Close()

	_, err := p.Acquire(context.Background(), "gw-1", gw)
	if err == nil {
		t.Fatal("Expected error from connector, got nil")
	}
	if !errors.Is(err, errDial) {
		t.Errorf("Expected connector error to be preserved, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrConnection) {
		t.Errorf("Expected connection error class, got %v", err)
	}

	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("Expected *ConnectError, got %T", err)
	}
	if connectErr.GatewayID != "gw-1" {
		t.Errorf("Expected gateway id gw-1, got %q", connectErr.GatewayID)
	}

	if p.Size() != 0 {
		t.Errorf("Expected empty pool after failed connect, got %d", p.Size())
	}
	stats := p.Stats()
	if stats.ConnectFailed != 1 {
		t.Errorf("Expected 1 connect failure, got %d", stats.ConnectFailed)
	}
}

func TestPoolConnectorNilConnection(t *testing.T) {
	connector := ConnectorFunc(func(ctx context.Context, cfg GatewayConfig) (Connection, error) {
		return nil, nil
	})
	p := New(connector, testConfig(nil))
	defer p.Close()

	_, err := p.Acquire(context.Background(), "gw-1", gw)
	if !errors.Is(err, ErrNilConnection) {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
}

func TestPoolIdleTimeout(t *testing.T) {
	var counter int32
	clock := newFakeClock()
	p := New(mockConnector(&counter), testConfig(clock))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)
	p.Release(conn, key)

	clock.Advance(61 * time.Second)

	// Acquire should create new connection (old one is expired)
	conn2, _ := p.Acquire(context.Background(), "gw-1", gw)
	if conn2 == conn {
		t.Error("Should get new connection after idle timeout")
	}
	if !conn.(*mockConn).IsClosed() {
		t.Error("Expired connection should be closed")
	}

	stats := p.Stats()
	if stats.EvictedExpired != 1 {
		t.Errorf("Expected 1 expired eviction, got %d", stats.EvictedExpired)
	}
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}
}

func TestPoolReuseRefreshesExpiry(t *testing.T) {
	var counter int32
	clock := newFakeClock()
	p := New(mockConnector(&counter), testConfig(clock))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)
	p.Release(conn, key)

	// Poll every 30s: each reuse pushes the expiry forward.
	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Second)
		got, _ := p.Acquire(context.Background(), "gw-1", gw)
		if got != conn {
			t.Fatalf("Poll %d: expected reuse of pooled connection", i)
		}
		p.Release(got, key)
	}

	if counter != 1 {
		t.Errorf("Expected 1 connection created, got %d", counter)
	}
}

func TestPoolSweepSkipsInUse(t *testing.T) {
	var counter int32
	clock := newFakeClock()
	p := New(mockConnector(&counter), testConfig(clock))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)

	clock.Advance(5 * time.Minute)

	if n := p.Sweep(); n != 0 {
		t.Errorf("Expected sweep to evict 0, got %d", n)
	}
	if conn.(*mockConn).IsClosed() {
		t.Error("In-use connection must not be closed by a sweep")
	}
	if p.Size() != 1 {
		t.Errorf("Expected in-use entry to count toward size, got %d", p.Size())
	}

	// Release refreshes the expiry, so the connection is reusable.
	p.Release(conn, key)
	got, _ := p.Acquire(context.Background(), "gw-1", gw)
	if got != conn {
		t.Error("Expected released connection to be reused")
	}
}

func TestPoolSizeIgnoresExpired(t *testing.T) {
	var counter int32
	clock := newFakeClock()
	p := New(mockConnector(&counter), testConfig(clock))
	defer p.Close()

	conn, _ := p.Acquire(context.Background(), "gw-1", gw)
	p.Release(conn, KeyFor("gw-1", gw))

	clock.Advance(61 * time.Second)

	if p.Size() != 0 {
		t.Errorf("Expected expired entry to be excluded, got %d", p.Size())
	}
	// Size has no side effects: the entry is still tracked until a sweep.
	if stats := p.Stats(); stats.Entries != 1 {
		t.Errorf("Expected 1 tracked entry, got %d", stats.Entries)
	}
	if conn.(*mockConn).IsClosed() {
		t.Error("Size must not close connections")
	}
}

func TestPoolReleaseUnhealthy(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)
	mc := conn.(*mockConn)
	mc.breakConn()

	p.Release(conn, key)

	if !mc.IsClosed() {
		t.Error("Unhealthy connection should be closed on release")
	}
	if p.Size() != 0 {
		t.Errorf("Expected empty pool, got %d", p.Size())
	}

	conn2, _ := p.Acquire(context.Background(), "gw-1", gw)
	if conn2 == conn {
		t.Error("Should not get unhealthy connection")
	}
	if counter != 2 {
		t.Errorf("Expected 2 connections created, got %d", counter)
	}
}

func TestPoolAcquireSkipsUnhealthyIdle(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)
	p.Release(conn, key)

	// Remote drops the idle connection
	conn.(*mockConn).breakConn()

	conn2, _ := p.Acquire(context.Background(), "gw-1", gw)
	if conn2 == conn {
		t.Error("Should not get unhealthy connection")
	}
	if !conn.(*mockConn).IsClosed() {
		t.Error("Unhealthy idle connection should be closed")
	}

	stats := p.Stats()
	if stats.EvictedUnhealthy != 1 {
		t.Errorf("Expected 1 unhealthy eviction, got %d", stats.EvictedUnhealthy)
	}
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}
}

func TestPoolDiscard(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)

	p.Discard(conn, key)

	if !conn.(*mockConn).IsClosed() {
		t.Error("Discarded connection should be closed")
	}
	if p.Size() != 0 {
		t.Errorf("Expected 0 entries after discard, got %d", p.Size())
	}

	// Releasing after discard is a no-op
	p.Release(conn, key)
	if p.Size() != 0 {
		t.Errorf("Expected 0 entries after stray release, got %d", p.Size())
	}
}

func TestPoolReleaseUnknown(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	conn, _ := p.Acquire(context.Background(), "gw-1", gw)

	// Should not panic
	p.Release(nil, key)
	p.Discard(nil, key)
	p.Release(&mockConn{id: 99}, key)
	p.Release(conn, KeyFor("gw-2", gw))

	stats := p.Stats()
	if stats.InUse != 1 {
		t.Errorf("Expected connection to stay in use, got %d in use", stats.InUse)
	}

	// Double release is a no-op
	p.Release(conn, key)
	p.Release(conn, key)
	if stats := p.Stats(); stats.Idle != 1 || stats.Entries != 1 {
		t.Errorf("Expected 1 idle entry, got %+v", stats)
	}
}

// Four concurrent acquires for the same key open four connections: the
// per-key bound applies to idle entries only.
func TestPoolConcurrentAcquireBeyondCapacity(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	const n = 4
	conns := make([]Connection, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := p.Acquire(context.Background(), "gw-1", gw)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	seen := make(map[Connection]bool)
	for _, c := range conns {
		if seen[c] {
			t.Fatal("Same connection handed to two concurrent acquirers")
		}
		seen[c] = true
		if c.(*mockConn).IsClosed() {
			t.Error("No connection should be evicted")
		}
	}
	if counter != n {
		t.Errorf("Expected %d connections opened, got %d", n, counter)
	}
	if p.Size() != n {
		t.Errorf("Expected size %d, got %d", n, p.Size())
	}

	stats := p.Stats()
	if stats.InUse != n {
		t.Errorf("Expected %d in use, got %d", n, stats.InUse)
	}
	if stats.OverCapacity != 1 {
		t.Errorf("Expected 1 over-capacity admission, got %d", stats.OverCapacity)
	}
}

func TestPoolCapacityEvictsOldestIdle(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(clock)
	cfg.MaxPerKey = 1

	var counter int32
	entered := make(chan struct{})
	proceed := make(chan struct{})
	connector := ConnectorFunc(func(ctx context.Context, gc GatewayConfig) (Connection, error) {
		id := atomic.AddInt32(&counter, 1)
		if id == 2 {
			close(entered)
			<-proceed
		}
		return &mockConn{id: int(id)}, nil
	})

	p := New(connector, cfg)
	defer p.Close()

	key := KeyFor("gw-1", gw)
	first, _ := p.Acquire(context.Background(), "gw-1", gw)

	done := make(chan Connection)
	go func() {
		conn, err := p.Acquire(context.Background(), "gw-1", gw)
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
		}
		done <- conn
	}()

	// The second acquire is connecting outside the lock; release the
	// first so that the key holds one idle entry when it is admitted.
	<-entered
	p.Release(first, key)
	close(proceed)
	second := <-done

	if second == first {
		t.Fatal("Expected a new connection")
	}
	if !first.(*mockConn).IsClosed() {
		t.Error("Idle connection should be evicted to make room")
	}

	stats := p.Stats()
	if stats.EvictedCapacity != 1 {
		t.Errorf("Expected 1 capacity eviction, got %d", stats.EvictedCapacity)
	}
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}
}

func TestPoolCapacityEvictsOnlyOneIdleWhenOverCapacity(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(clock)

	var counter int32
	entered := make(chan struct{})
	proceed := make(chan struct{})
	connector := ConnectorFunc(func(ctx context.Context, gc GatewayConfig) (Connection, error) {
		id := atomic.AddInt32(&counter, 1)
		if id == 5 {
			close(entered)
			<-proceed
		}
		return &mockConn{id: int(id)}, nil
	})

	p := New(connector, cfg)
	defer p.Close()

	key := KeyFor("gw-1", gw)

	// Four concurrent holders push the key one past MaxPerKey.
	held := make([]Connection, 4)
	for i := range held {
		conn, err := p.Acquire(context.Background(), "gw-1", gw)
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		held[i] = conn
	}

	done := make(chan Connection)
	go func() {
		conn, err := p.Acquire(context.Background(), "gw-1", gw)
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
		}
		done <- conn
	}()

	<-entered
	p.Release(held[0], key)
	clock.Advance(time.Second)
	p.Release(held[1], key)
	close(proceed)
	<-done

	if !held[0].(*mockConn).IsClosed() {
		t.Error("Idle connection closest to expiry should be evicted")
	}
	if held[1].(*mockConn).IsClosed() {
		t.Error("Only one idle connection should be evicted per admission")
	}

	stats := p.Stats()
	if stats.EvictedCapacity != 1 {
		t.Errorf("Expected 1 capacity eviction, got %d", stats.EvictedCapacity)
	}
	if stats.Entries != 4 || stats.Idle != 1 || stats.InUse != 3 {
		t.Errorf("Expected 4 entries (1 idle, 3 in use), got %+v", stats)
	}

	reused, err := p.Acquire(context.Background(), "gw-1", gw)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if reused != held[1] {
		t.Error("Surviving idle connection should be reused")
	}
}

func TestPoolEntryCreationOrder(t *testing.T) {
	clock := newFakeClock()
	var counter int32
	p := New(mockConnector(&counter), testConfig(clock))
	defer p.Close()

	start := clock.Now()
	a, _ := p.Acquire(context.Background(), "gw-1", gw)
	clock.Advance(time.Second)
	b, _ := p.Acquire(context.Background(), "gw-1", gw)

	p.mu.Lock()
	list := p.entries[KeyFor("gw-1", gw)]
	p.mu.Unlock()
	if len(list) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(list))
	}
	if list[0].conn != a || list[1].conn != b {
		t.Fatal("Entries should be kept in admission order")
	}
	if list[0].seq >= list[1].seq {
		t.Errorf("Expected increasing sequence numbers, got %d then %d", list[0].seq, list[1].seq)
	}
	if !list[0].createdAt.Equal(start) || !list[1].createdAt.Equal(start.Add(time.Second)) {
		t.Errorf("Unexpected creation times %v and %v", list[0].createdAt, list[1].createdAt)
	}
}

func TestPoolConcurrentAcquireRelease(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)

	var wg sync.WaitGroup
	numWorkers := 20
	opsPerWorker := 25

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerWorker; j++ {
				conn, err := p.Acquire(context.Background(), "gw-1", gw)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				mc := conn.(*mockConn)
				if !atomic.CompareAndSwapInt32(&mc.holders, 0, 1) {
					t.Errorf("Connection %d checked out twice", mc.id)
					return
				}
				// Simulate some work
				time.Sleep(100 * time.Microsecond)
				atomic.StoreInt32(&mc.holders, 0)
				p.Release(conn, key)
			}
		}()
	}

	wg.Wait()

	stats := p.Stats()
	if stats.AcquireCount != uint64(numWorkers*opsPerWorker) {
		t.Errorf("Expected %d acquires, got %d", numWorkers*opsPerWorker, stats.AcquireCount)
	}
	if stats.FastHits+stats.SlowConnects != stats.AcquireCount {
		t.Errorf("Fast %d + slow %d != acquires %d", stats.FastHits, stats.SlowConnects, stats.AcquireCount)
	}
	if stats.InUse != 0 {
		t.Errorf("Expected 0 in use, got %d", stats.InUse)
	}
	if stats.Entries != stats.Idle {
		t.Errorf("Expected every entry idle, got %+v", stats)
	}
}

func TestPoolClear(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	idle, _ := p.Acquire(context.Background(), "gw-1", gw)
	held, _ := p.Acquire(context.Background(), "gw-1", gw)
	other, _ := p.Acquire(context.Background(), "gw-2", gw)
	p.Release(idle, key)

	p.Clear()

	if p.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", p.Size())
	}
	for _, c := range []Connection{idle, held, other} {
		if !c.(*mockConn).IsClosed() {
			t.Errorf("Connection %d should be closed after clear", c.(*mockConn).id)
		}
	}

	// Releasing a cleared connection is silent
	p.Release(held, key)
	if p.Size() != 0 {
		t.Errorf("Expected size 0 after stray release, got %d", p.Size())
	}

	// The pool stays usable
	conn, err := p.Acquire(context.Background(), "gw-1", gw)
	if err != nil {
		t.Fatalf("Acquire after clear failed: %v", err)
	}
	if conn == idle || conn == held {
		t.Error("Cleared connection handed out again")
	}
}

func TestPoolClearConcurrent(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))
	defer p.Close()

	key := KeyFor("gw-1", gw)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, err := p.Acquire(context.Background(), "gw-1", gw)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				p.Release(conn, key)
			}
		}()
	}

	for i := 0; i < 20; i++ {
		p.Clear()
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	p.Clear()
	if p.Size() != 0 {
		t.Errorf("Expected size 0, got %d", p.Size())
	}
}

func TestPoolClose(t *testing.T) {
	var counter int32
	p := New(mockConnector(&counter), testConfig(nil))

	key := KeyFor("gw-1", gw)
	conn1, _ := p.Acquire(context.Background(), "gw-1", gw)
	conn2, _ := p.Acquire(context.Background(), "gw-1", gw)
	p.Release(conn1, key)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !conn1.(*mockConn).IsClosed() {
		t.Error("conn1 should be closed")
	}
	if !conn2.(*mockConn).IsClosed() {
		t.Error("conn2 should be closed")
	}

	// Acquire after close should fail
	_, err := p.Acquire(context.Background(), "gw-1", gw)
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}

	// Double close should return error
	if err := p.Close(); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed on double close, got %v", err)
	}
}

func TestPoolCloseDuringConnect(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var made *mockConn
	connector := ConnectorFunc(func(ctx context.Context, cfg GatewayConfig) (Connection, error) {
		close(entered)
		<-proceed
		made = &mockConn{id: 1}
		return made, nil
	})

	p := New(connector, testConfig(nil))

	errCh := make(chan error)
	go func() {
		_, err := p.Acquire(context.Background(), "gw-1", gw)
		errCh <- err
	}()

	<-entered
	p.Close()
	close(proceed)

	if err := <-errCh; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if !made.IsClosed() {
		t.Error("Connection opened after close should be closed")
	}
}

func TestPoolBackgroundSweep(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.TTL = 20 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond

	p := New(mockConnector(&counter), cfg)

	conn, _ := p.Acquire(context.Background(), "gw-1", gw)
	p.Release(conn, KeyFor("gw-1", gw))

	// Wait for the sweep
	time.Sleep(100 * time.Millisecond)

	if !conn.(*mockConn).IsClosed() {
		t.Error("Expired connection should be closed by the background sweep")
	}
	if stats := p.Stats(); stats.Entries != 0 {
		t.Errorf("Expected 0 entries, got %d", stats.Entries)
	}

	p.Close()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TTL != 60*time.Second {
		t.Errorf("Expected default TTL 60s, got %v", cfg.TTL)
	}
	if cfg.MaxPerKey != 3 {
		t.Errorf("Expected default MaxPerKey 3, got %d", cfg.MaxPerKey)
	}
	if cfg.SweepInterval != 0 {
		t.Errorf("Expected default SweepInterval 0, got %v", cfg.SweepInterval)
	}

	p := New(mockConnector(new(int32)), Config{})
	defer p.Close()
	if stats := p.Stats(); stats.TTL != DefaultTTL || stats.MaxPerKey != DefaultMaxPerKey {
		t.Errorf("Expected zero config to use defaults, got %+v", stats)
	}
}

func TestUpdateMetrics(t *testing.T) {
	stats := Stats{
		MaxPerKey: 3,
		Keys:      2,
		Entries:   5,
		Idle:      3,
		InUse:     2,
	}

	// Should not panic
	UpdateMetrics(stats)

	if PoolMaxPerKey.Value() != 3 {
		t.Errorf("Expected PoolMaxPerKey 3, got %d", PoolMaxPerKey.Value())
	}
	if PoolConnectionsOpen.Value() != 5 {
		t.Errorf("Expected PoolConnectionsOpen 5, got %d", PoolConnectionsOpen.Value())
	}
	if PoolConnectionsIdle.Value() != 3 {
		t.Errorf("Expected PoolConnectionsIdle 3, got %d", PoolConnectionsIdle.Value())
	}
	if PoolConnectionsInUse.Value() != 2 {
		t.Errorf("Expected PoolConnectionsInUse 2, got %d", PoolConnectionsInUse.Value())
	}
}
