package pool

import (
	"context"
	"fmt"
)

// Connection represents a poolable gateway connection.
// Implementations must be comparable (pointer types); Release matches
// connections by identity.
type Connection interface {
	// IsOpen reports whether the connection is still usable.
	IsOpen() bool
	// Close closes the connection.
	Close() error
}

// GatewayConfig holds every connection parameter that affects the
// handshake with a gateway.
type GatewayConfig struct {
	// URL is the gateway endpoint (ws:// or wss://).
	URL string `json:"url" toml:"url"`
	// Token is the bearer credential. Empty means no token.
	Token string `json:"-" toml:"token,omitempty"`
	// DisablePairing asks the gateway not to start device pairing.
	DisablePairing bool `json:"disablePairing" toml:"disable_pairing"`
	// InsecureSkipVerify relaxes TLS certificate verification.
	InsecureSkipVerify bool `json:"insecureSkipVerify" toml:"insecure_tls"`
}

// Connector establishes new authenticated gateway connections.
type Connector interface {
	Connect(ctx context.Context, cfg GatewayConfig) (Connection, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, cfg GatewayConfig) (Connection, error)

// Connect calls f(ctx, cfg).
func (f ConnectorFunc) Connect(ctx context.Context, cfg GatewayConfig) (Connection, error) {
	return f(ctx, cfg)
}

// Key identifies a set of interchangeable pooled connections. Two requests
// share a key only if the gateway id and every handshake parameter match.
type Key struct {
	GatewayID          string
	URL                string
	Token              string
	HasToken           bool
	DisablePairing     bool
	InsecureSkipVerify bool
}

// KeyFor derives the pool key for a gateway and its connection config.
func KeyFor(gatewayID string, cfg GatewayConfig) Key {
	return Key{
		GatewayID:          gatewayID,
		URL:                cfg.URL,
		Token:              cfg.Token,
		HasToken:           cfg.Token != "",
		DisablePairing:     cfg.DisablePairing,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

// String returns a log-safe representation of the key. The token is never
// included.
func (k Key) String() string {
	token := "none"
	if k.HasToken {
		token = "set"
	}
	return fmt.Sprintf("%s@%s(token=%s,pairing=%t,insecure=%t)",
		k.GatewayID, k.URL, token, !k.DisablePairing, k.InsecureSkipVerify)
}
