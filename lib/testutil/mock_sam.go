package testutil

import (
	"net"
	"sync"
	"sync/atomic"
)

// MockSAM is a TCP listener standing in for a SAM bridge. It accepts
// connections and answers every line with RESULT=OK, which is enough for
// reachability probes.
type MockSAM struct {
	listener net.Listener
	accepted atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewMockSAM starts a mock bridge on a random local port.
func NewMockSAM() (*MockSAM, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := &MockSAM{
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}
	go m.acceptLoop()
	return m, nil
}

// Addr returns the listen address.
func (m *MockSAM) Addr() string {
	return m.listener.Addr().String()
}

// Accepted returns how many connections the bridge has accepted.
func (m *MockSAM) Accepted() int64 {
	return m.accepted.Load()
}

// Close stops listening and drops open connections.
func (m *MockSAM) Close() error {
	err := m.listener.Close()
	m.mu.Lock()
	for c := range m.conns {
		c.Close()
	}
	m.conns = make(map[net.Conn]struct{})
	m.mu.Unlock()
	return err
}

func (m *MockSAM) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		m.accepted.Add(1)
		m.mu.Lock()
		m.conns[conn] = struct{}{}
		m.mu.Unlock()
		go m.handle(conn)
	}
}

func (m *MockSAM) handle(conn net.Conn) {
	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
		if _, err := conn.Write([]byte("RESULT=OK\n")); err != nil {
			return
		}
	}
}
