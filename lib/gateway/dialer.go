package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/pool"
	"github.com/arana198/mission-control-sub011/version"
)

// Default dialer timeouts.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Dialer opens authenticated gateway connections. It implements
// pool.Connector.
type Dialer struct {
	// HandshakeTimeout bounds the WebSocket upgrade and the connect call.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// NetDialContext dials the underlying TCP connection. Nil uses net.Dialer.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	// Client names this daemon in the connect handshake.
	Client string
}

// NewDialer returns a Dialer with default timeouts.
func NewDialer() *Dialer {
	return &Dialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		Client:           "gatewayd",
	}
}

// ValidateURL checks that raw is an absolute ws:// or wss:// URL.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrGatewayURLInvalid, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: scheme %q is not ws or wss", apperrors.ErrGatewayURLInvalid, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", apperrors.ErrGatewayURLInvalid)
	}
	return u, nil
}

// Connect dials cfg.URL, upgrades to WebSocket and performs the connect
// handshake. The returned connection is a *Conn.
func (d *Dialer) Connect(ctx context.Context, cfg pool.GatewayConfig) (pool.Connection, error) {
	conn, err := d.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Dial is Connect with a concrete return type.
func (d *Dialer) Dial(ctx context.Context, cfg pool.GatewayConfig) (*Conn, error) {
	if _, err := ValidateURL(cfg.URL); err != nil {
		return nil, err
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	writeWait := d.WriteTimeout
	if writeWait <= 0 {
		writeWait = DefaultWriteTimeout
	}

	wsd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   d.NetDialContext,
		HandshakeTimeout: handshake,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	ws, resp, err := wsd.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w: %w", cfg.URL, apperrors.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	conn := newConn(ws, cfg.URL, writeWait)

	hsCtx, cancel := context.WithTimeout(ctx, handshake)
	defer cancel()

	params := ConnectParams{
		Client:          d.Client,
		ClientVersion:   version.Version,
		ProtocolVersion: ProtocolVersion,
		Token:           cfg.Token,
		Pairing:         !cfg.DisablePairing,
	}
	if err := conn.Call(hsCtx, MethodConnect, params, &conn.hello); err != nil {
		conn.Close()
		var rpcErr *Error
		if errors.As(err, &rpcErr) && (rpcErr.Code == ErrCodeAuthRequired || rpcErr.Code == ErrCodePermissionDenied) {
			return nil, fmt.Errorf("%w: %w: %w", apperrors.ErrGatewayHandshake, apperrors.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrGatewayHandshake, err)
	}

	log.WithField("conn", conn.id).
		WithField("url", cfg.URL).
		WithField("gatewayVersion", conn.hello.Version).
		Debug("gateway connection established")
	return conn, nil
}
