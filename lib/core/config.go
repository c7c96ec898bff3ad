// Package core wires the gateway daemon together: it loads the TOML
// configuration and runs the pool, dialers and poller as one Daemon.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/gateway"
	"github.com/arana198/mission-control-sub011/lib/pool"
	"github.com/arana198/mission-control-sub011/lib/resilience"
	"github.com/arana198/mission-control-sub011/lib/validation"
)

// Default configuration values
const (
	DefaultDaemonName      = "mission-control"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultSweepInterval   = 30 * time.Second
	DefaultPollInterval    = 30 * time.Second
	DefaultCallTimeout     = 10 * time.Second
	DefaultPollMethod      = gateway.MethodStatus
	DefaultWebListen       = "127.0.0.1:8090"
	DefaultRateLimit       = 2.0
	DefaultRateBurst       = 5
	DefaultProbeInterval   = 30 * time.Second
)

// Duration is a time.Duration written as a Go duration string ("30s") in
// TOML files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds all configuration for the gateway daemon.
type Config struct {
	Daemon   DaemonConfig    `toml:"daemon"`
	Pool     PoolConfig      `toml:"pool"`
	Poller   PollerConfig    `toml:"poller"`
	Web      WebConfig       `toml:"web"`
	I2P      I2PConfig       `toml:"i2p"`
	Breaker  BreakerConfig   `toml:"breaker"`
	Gateways []GatewayConfig `toml:"gateways"`
}

// DaemonConfig contains process-level settings.
type DaemonConfig struct {
	// Name identifies this daemon to gateways and names the I2P tunnel
	Name string `toml:"name"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// PoolConfig mirrors pool.Config.
type PoolConfig struct {
	// TTL is how long an idle connection stays reusable
	TTL Duration `toml:"ttl"`
	// MaxPerKey is the soft cap of connections per gateway key
	MaxPerKey int `toml:"max_per_key"`
	// SweepInterval runs a background sweep; zero sweeps only on acquire
	SweepInterval Duration `toml:"sweep_interval"`
	// HandshakeTimeout bounds the WebSocket upgrade and connect call
	HandshakeTimeout Duration `toml:"handshake_timeout"`
}

// PollerConfig contains status polling settings.
type PollerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    Duration `toml:"interval"`
	CallTimeout Duration `toml:"call_timeout"`
	Method      string   `toml:"method"`
}

// WebConfig contains diagnostics API settings.
type WebConfig struct {
	// Enabled controls whether the HTTP API is started
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the HTTP API to
	Listen string `toml:"listen"`
	// RateLimit is on-demand calls per second allowed per gateway
	RateLimit float64 `toml:"rate_limit"`
	// RateBurst is the burst size for on-demand calls
	RateBurst int `toml:"rate_burst"`
}

// I2PConfig contains settings for reaching .i2p gateways.
type I2PConfig struct {
	Enabled bool `toml:"enabled"`
	// SAMAddress is the SAM bridge address (host:port)
	SAMAddress string `toml:"sam_address"`
	// ProbeInterval is how often the SAM bridge is checked
	ProbeInterval Duration `toml:"probe_interval"`
}

// BreakerConfig configures per-gateway dial breakers.
type BreakerConfig struct {
	Enabled          bool     `toml:"enabled"`
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	Cooldown         Duration `toml:"cooldown"`
}

// GatewayConfig describes one gateway to manage.
type GatewayConfig struct {
	ID             string `toml:"id"`
	URL            string `toml:"url"`
	Token          string `toml:"token,omitempty"`
	DisablePairing bool   `toml:"disable_pairing"`
	InsecureTLS    bool   `toml:"insecure_tls"`
}

// Connection returns the pool-level connection parameters.
func (g GatewayConfig) Connection() pool.GatewayConfig {
	return pool.GatewayConfig{
		URL:                g.URL,
		Token:              g.Token,
		DisablePairing:     g.DisablePairing,
		InsecureSkipVerify: g.InsecureTLS,
	}
}

// DefaultConfig returns a Config with sensible defaults and no gateways.
func DefaultConfig() *Config {
	breaker := resilience.DefaultConfig()
	return &Config{
		Daemon: DaemonConfig{
			Name:            DefaultDaemonName,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Pool: PoolConfig{
			TTL:              Duration(pool.DefaultTTL),
			MaxPerKey:        pool.DefaultMaxPerKey,
			SweepInterval:    Duration(DefaultSweepInterval),
			HandshakeTimeout: Duration(gateway.DefaultHandshakeTimeout),
		},
		Poller: PollerConfig{
			Enabled:     true,
			Interval:    Duration(DefaultPollInterval),
			CallTimeout: Duration(DefaultCallTimeout),
			Method:      DefaultPollMethod,
		},
		Web: WebConfig{
			Enabled:   true,
			Listen:    DefaultWebListen,
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultRateBurst,
		},
		I2P: I2PConfig{
			SAMAddress:    gateway.DefaultSAMAddress,
			ProbeInterval: Duration(DefaultProbeInterval),
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: breaker.FailureThreshold,
			SuccessThreshold: breaker.SuccessThreshold,
			Cooldown:         Duration(breaker.Cooldown),
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w: %w", apperrors.ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Tokens are secrets.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func invalidField(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", apperrors.ErrConfigInvalid, err)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validation.Name("daemon.name", c.Daemon.Name); err != nil {
		return invalidField(err)
	}
	if c.Daemon.ShutdownTimeout.Std() < time.Second {
		return invalid("daemon.shutdown_timeout must be at least 1s")
	}
	if c.Pool.TTL.Std() <= 0 {
		return invalid("pool.ttl must be positive")
	}
	if c.Pool.MaxPerKey < 1 {
		return invalid("pool.max_per_key must be at least 1")
	}
	if c.Pool.SweepInterval.Std() < 0 {
		return invalid("pool.sweep_interval must not be negative")
	}
	if c.Poller.Enabled {
		if c.Poller.Interval.Std() <= 0 {
			return invalid("poller.interval must be positive")
		}
		if err := validation.Method("poller.method", c.Poller.Method); err != nil {
			return invalidField(err)
		}
	}
	if c.Web.Enabled {
		if err := validation.HostPort("web.listen", c.Web.Listen); err != nil {
			return invalidField(err)
		}
	}
	if c.Web.RateLimit < 0 || c.Web.RateBurst < 0 {
		return invalid("web.rate_limit and web.rate_burst must not be negative")
	}
	if c.I2P.Enabled {
		if err := validation.HostPort("i2p.sam_address", c.I2P.SAMAddress); err != nil {
			return invalidField(err)
		}
	}
	if c.Breaker.Enabled && c.Breaker.FailureThreshold < 1 {
		return invalid("breaker.failure_threshold must be at least 1")
	}

	seen := make(map[string]bool, len(c.Gateways))
	for i, gw := range c.Gateways {
		if err := validation.GatewayID(fmt.Sprintf("gateways[%d].id", i), gw.ID); err != nil {
			return invalidField(err)
		}
		if seen[gw.ID] {
			return invalid("duplicate gateway id %q", gw.ID)
		}
		seen[gw.ID] = true
		u, err := gateway.ValidateURL(gw.URL)
		if err != nil {
			return fmt.Errorf("%w: gateways[%d]: %w", apperrors.ErrConfigInvalid, i, err)
		}
		if gateway.IsI2PHost(u.Hostname()) && !c.I2P.Enabled {
			return invalid("gateway %q is an .i2p host but i2p is disabled", gw.ID)
		}
	}
	return nil
}

// PoolSettings returns the pool settings as a pool.Config.
func (c *Config) PoolSettings() pool.Config {
	return pool.Config{
		TTL:           c.Pool.TTL.Std(),
		MaxPerKey:     c.Pool.MaxPerKey,
		SweepInterval: c.Pool.SweepInterval.Std(),
	}
}

// BreakerSettings returns the breaker settings as a resilience.Config.
func (c *Config) BreakerSettings() resilience.Config {
	return resilience.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		Cooldown:         c.Breaker.Cooldown.Std(),
	}
}

// Gateway returns the gateway with the given id.
func (c *Config) Gateway(id string) (GatewayConfig, bool) {
	for _, gw := range c.Gateways {
		if gw.ID == id {
			return gw, true
		}
	}
	return GatewayConfig{}, false
}
