// Package testutil provides in-process stand-ins for gateways and the SAM
// bridge so packages can be tested without external services.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler answers one gateway method. Returning a non-nil *RPCError sends
// an error response.
type Handler func(params json.RawMessage) (any, *RPCError)

// RPCError is the error object a fake gateway sends back.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// HandshakeInfo records what a client sent in its connect call.
type HandshakeInfo struct {
	Client        string `json:"client"`
	ClientVersion string `json:"clientVersion"`
	Token         string `json:"token"`
	Pairing       bool   `json:"pairing"`
	Authorization string `json:"-"`
}

// FakeGateway is a WebSocket server speaking the gateway protocol. It
// handles connect and status itself; other methods are registered with
// Handle.
type FakeGateway struct {
	ID      string
	Version string
	// Token, when set, must be presented both as a bearer header and in
	// the connect params.
	Token string

	server   *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	handlers   map[string]Handler
	conns      map[*websocket.Conn]struct{}
	handshakes []HandshakeInfo
	delay      time.Duration

	connects atomic.Int64
	calls    atomic.Int64
}

// NewFakeGateway starts a fake gateway over plain HTTP.
func NewFakeGateway(id string) *FakeGateway {
	g := newFakeGateway(id)
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	return g
}

// NewTLSFakeGateway starts a fake gateway with a self-signed certificate.
func NewTLSFakeGateway(id string) *FakeGateway {
	g := newFakeGateway(id)
	g.server = httptest.NewTLSServer(http.HandlerFunc(g.serve))
	return g
}

func newFakeGateway(id string) *FakeGateway {
	return &FakeGateway{
		ID:       id,
		Version:  "test-1.0",
		handlers: make(map[string]Handler),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// URL returns the ws:// or wss:// endpoint of the gateway.
func (g *FakeGateway) URL() string {
	u := g.server.URL
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// Handle registers a handler for method.
func (g *FakeGateway) Handle(method string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[method] = h
}

// SetDelay makes every response wait d before it is sent.
func (g *FakeGateway) SetDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
}

// Connects returns how many handshakes succeeded.
func (g *FakeGateway) Connects() int {
	return int(g.connects.Load())
}

// Calls returns how many non-handshake requests were served.
func (g *FakeGateway) Calls() int {
	return int(g.calls.Load())
}

// OpenConns returns the number of currently connected clients.
func (g *FakeGateway) OpenConns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Handshakes returns every connect call received so far.
func (g *FakeGateway) Handshakes() []HandshakeInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]HandshakeInfo(nil), g.handshakes...)
}

// DropAll closes every client connection without a close handshake.
func (g *FakeGateway) DropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.conns {
		c.UnderlyingConn().Close()
	}
}

// Close drops clients and shuts the server down.
func (g *FakeGateway) Close() {
	g.DropAll()
	g.server.Close()
}

func (g *FakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	if g.Token != "" && r.Header.Get("Authorization") != "Bearer "+g.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.conns[ws] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.conns, ws)
		g.mu.Unlock()
		ws.Close()
	}()

	authorization := r.Header.Get("Authorization")
	start := time.Now()
	var writeMu sync.Mutex
	for {
		var req frame
		if err := ws.ReadJSON(&req); err != nil {
			return
		}

		resp := g.dispatch(&req, authorization, start)

		g.mu.Lock()
		delay := g.delay
		g.mu.Unlock()

		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			ws.WriteJSON(resp)
		}()
	}
}

func (g *FakeGateway) dispatch(req *frame, authorization string, start time.Time) frame {
	resp := frame{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "connect":
		var info HandshakeInfo
		if err := json.Unmarshal(req.Params, &info); err != nil {
			resp.Error = &RPCError{Code: -32602, Message: "invalid params"}
			return resp
		}
		info.Authorization = authorization
		g.mu.Lock()
		g.handshakes = append(g.handshakes, info)
		g.mu.Unlock()

		if g.Token != "" && info.Token != g.Token {
			resp.Error = &RPCError{Code: -32001, Message: "authentication required"}
			return resp
		}
		g.connects.Add(1)
		resp.Result = map[string]string{"gatewayId": g.ID, "version": g.Version}
		return resp

	case "status":
		g.calls.Add(1)
		resp.Result = map[string]any{
			"gatewayId": g.ID,
			"version":   g.Version,
			"uptime":    int64(time.Since(start).Seconds()),
			"healthy":   true,
		}
		return resp
	}

	g.calls.Add(1)
	g.mu.Lock()
	h, ok := g.handlers[req.Method]
	g.mu.Unlock()
	if !ok {
		resp.Error = &RPCError{Code: -32601, Message: "method not found"}
		return resp
	}
	result, rpcErr := h(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}
