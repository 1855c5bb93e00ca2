// Package socksproxy implements the outbound SOCKS4/SOCKS5 and HTTP(S)
// CONNECT dialers upstreams use to reach the network through a configured
// proxy (§4.7), translated from the connection-state machine of
// outbound_socks_proxy.cpp into synchronous handshakes over a dialed
// net.Conn.
package socksproxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/metrics"
)

// zeroTime clears a deadline previously set during a handshake, so the
// connection behaves like a plain dial once handed to the caller.
var zeroTime time.Time

// Protocol selects which outbound proxy handshake a [Dialer] performs.
type Protocol int

const (
	// ProtocolSOCKS4 performs a SOCKS4 CONNECT handshake.
	ProtocolSOCKS4 Protocol = iota

	// ProtocolSOCKS5 performs a SOCKS5 handshake, with RFC 1929
	// username/password auth if Config.Username is set.
	ProtocolSOCKS5

	// ProtocolHTTPConnect performs an HTTP CONNECT handshake, optionally
	// over TLS (ProtocolHTTPSConnect).
	ProtocolHTTPConnect

	// ProtocolHTTPSConnect is ProtocolHTTPConnect with a TLS-wrapped
	// connection to the proxy itself.
	ProtocolHTTPSConnect
)

// Config describes one configured outbound proxy, matching the
// `outbound_proxy` settings block named in spec.md §6.2.
type Config struct {
	Protocol Protocol

	// Address is the proxy's own "host:port".
	Address string

	Username string
	Password string
}

// Dialer is the common interface all four protocols implement, and the
// interface internal/asyncsock.Socket consumes — the upstream handle layer
// is protocol-agnostic about which (if any) outbound proxy it is routed
// through.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer returns the [Dialer] for cfg's protocol, instrumented with
// internal/metrics.SocksConnections.
func NewDialer(cfg Config) (d Dialer, err error) {
	switch cfg.Protocol {
	case ProtocolSOCKS4:
		d = &socks4Dialer{proxyAddr: cfg.Address}
	case ProtocolSOCKS5:
		d = &socks5Dialer{proxyAddr: cfg.Address, username: cfg.Username, password: cfg.Password}
	case ProtocolHTTPConnect:
		d = &httpConnectDialer{proxyAddr: cfg.Address}
	case ProtocolHTTPSConnect:
		d = &httpConnectDialer{proxyAddr: cfg.Address, useTLS: true}
	default:
		return nil, fmt.Errorf("socksproxy: unknown protocol %d", cfg.Protocol)
	}

	return &instrumentedDialer{d: d}, nil
}

// instrumentedDialer wraps a Dialer to report every dial's outcome to
// internal/metrics.SocksConnections.
type instrumentedDialer struct {
	d Dialer
}

var _ Dialer = (*instrumentedDialer)(nil)

func (d *instrumentedDialer) DialContext(ctx context.Context, network, addr string) (conn net.Conn, err error) {
	conn, err = d.d.DialContext(ctx, network, addr)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.SocksConnections.WithLabelValues(outcome).Inc()

	return conn, err
}

// directDial connects to the proxy address itself, honoring ctx.
func directDial(ctx context.Context, addr string) (conn net.Conn, err error) {
	var d net.Dialer

	conn, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("socksproxy: dialing proxy %s: %w", addr, err)
	}

	return conn, nil
}

// splitHostPort is a small helper shared by every handshake implementation
// to turn a "host:port" destination into the parts the wire frames need.
func splitHostPort(addr string) (host string, port uint16, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("socksproxy: bad destination %q: %w", addr, err)
	}

	var portNum int
	if _, err = fmt.Sscanf(p, "%d", &portNum); err != nil {
		return "", 0, fmt.Errorf("socksproxy: bad port %q: %w", p, err)
	}

	return h, uint16(portNum), nil
}
