package gateway

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-i2p/onramp"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/resilience"
)

// DefaultSAMAddress is the default SAM bridge address.
const DefaultSAMAddress = "127.0.0.1:7656"

// IsI2PHost reports whether host is an I2P destination.
func IsI2PHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), ".i2p")
}

// I2PDialer routes .i2p hosts through a SAM streaming session and every
// other host through a plain net.Dialer. The session is opened on the first
// .i2p dial so the daemon can start without a running router.
type I2PDialer struct {
	mu      sync.Mutex
	name    string
	samAddr string
	options []string
	garlic  *onramp.Garlic
	closed  bool

	probe  *resilience.Probe
	direct net.Dialer
}

// NewI2PDialer creates a dialer using the SAM bridge at samAddr. Empty
// options use onramp.OPT_DEFAULTS.
func NewI2PDialer(name, samAddr string, options []string) *I2PDialer {
	if samAddr == "" {
		samAddr = DefaultSAMAddress
	}
	if len(options) == 0 {
		options = onramp.OPT_DEFAULTS
	}
	return &I2PDialer{
		name:    name,
		samAddr: samAddr,
		options: options,
	}
}

// SetProbe makes I2P dials fail fast while probe reports the bridge down.
func (d *I2PDialer) SetProbe(p *resilience.Probe) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probe = p
}

// DialContext has the signature of net.Dialer.DialContext.
func (d *I2PDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if !IsI2PHost(host) {
		return d.direct.DialContext(ctx, network, addr)
	}

	garlic, err := d.session()
	if err != nil {
		return nil, err
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := garlic.Dial(network, host)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("i2p dial %s: %w", host, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		// The SAM dial cannot be interrupted; drop its result when it lands.
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *I2PDialer) session() (*onramp.Garlic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("i2p dialer: %w", apperrors.ErrClosed)
	}
	if d.probe != nil && !d.probe.Allow() {
		return nil, fmt.Errorf("sam bridge %s: %w", d.samAddr, apperrors.ErrCircuitOpen)
	}
	if d.garlic != nil {
		return d.garlic, nil
	}

	garlic, err := onramp.NewGarlic(d.name, d.samAddr, d.options)
	if err != nil {
		return nil, fmt.Errorf("open sam session at %s: %w: %w", d.samAddr, apperrors.ErrUnavailable, err)
	}
	log.WithField("sam", d.samAddr).WithField("tunnel", d.name).Info("opened I2P session")
	d.garlic = garlic
	return garlic, nil
}

// Close tears down the SAM session, if one was opened.
func (d *I2PDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.garlic == nil {
		return nil
	}
	err := d.garlic.Close()
	d.garlic = nil
	return err
}
