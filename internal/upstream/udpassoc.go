package upstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/socksproxy"
	"github.com/miekg/dns"
)

// knownNonPlainSchemes lists every address scheme
// dnsupstream.AddressToUpstream recognizes that is not a plain
// DNS-over-UDP address: DoT, DoH, DoQ, and DNSCrypt's "sdns://" stamp
// format, plus this package's own "tcp://" marker.
var knownNonPlainSchemes = []string{"tls://", "https://", "quic://", "sdns://", directTCPScheme}

// isPlainUDPAddr reports whether addr is a plain DNS-over-UDP address: one
// with none of [knownNonPlainSchemes]'s prefixes, the only kind
// [newUDPAssociationUpstream] can serve.
func isPlainUDPAddr(addr string) (ok bool) {
	for _, scheme := range knownNonPlainSchemes {
		if strings.HasPrefix(addr, scheme) {
			return false
		}
	}

	return true
}

// udpAssociationPool is the subset of *socksproxy.UDPAssociationPool this
// package depends on, declared locally so it stays agnostic of the
// concrete pool implementation a caller plugs in.
type udpAssociationPool interface {
	Acquire(ctx context.Context) (*socksproxy.UDPAssociation, error)
	Release(assoc *socksproxy.UDPAssociation)
}

// udpAssociationUpstream implements
// github.com/AdguardTeam/dnsproxy/upstream.Upstream for a plain
// DNS-over-UDP address relayed through a shared
// [socksproxy.UDPAssociation] rather than dialed directly, since a plain
// UDP socket cannot reach the network through a SOCKS5 proxy any other
// way. Only constructed by [NewHandle] when Options.UDPAssociationPool is
// set and addr has no other recognized scheme.
type udpAssociationUpstream struct {
	addr    string
	pool    udpAssociationPool
	timeout time.Duration
}

// newUDPAssociationUpstream returns a udpAssociationUpstream for addr,
// relayed through pool.
func newUDPAssociationUpstream(addr string, pool udpAssociationPool, timeout time.Duration) (u *udpAssociationUpstream) {
	return &udpAssociationUpstream{addr: addr, pool: pool, timeout: timeout}
}

// Address implements [dnsupstream.Upstream].
func (u *udpAssociationUpstream) Address() (addr string) { return "udp://" + u.addr }

// Close implements [dnsupstream.Upstream]. A udpAssociationUpstream holds
// no reference of its own between exchanges; the pool tracks the shared
// association's lifetime.
func (u *udpAssociationUpstream) Close() (err error) { return nil }

// Exchange implements [dnsupstream.Upstream], acquiring the shared
// association for the duration of one query/response round trip, per
// §4.7's one-association-per-configured-proxy multiplexing rule.
func (u *udpAssociationUpstream) Exchange(req *dns.Msg) (resp *dns.Msg, err error) {
	ctx := context.Background()
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	assoc, err := u.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream: udp associate %s: %w", u.Address(), err)
	}
	defer u.pool.Release(assoc)

	raw, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("upstream: udp associate %s: packing query: %w", u.Address(), err)
	}

	if err = assoc.SendTo(u.addr, raw); err != nil {
		return nil, fmt.Errorf("upstream: udp associate %s: %w", u.Address(), err)
	}

	respRaw, err := assoc.ReceiveFrom(u.timeout)
	if err != nil {
		return nil, fmt.Errorf("upstream: udp associate %s: %w", u.Address(), err)
	}

	resp = &dns.Msg{}
	if err = resp.Unpack(respRaw); err != nil {
		return nil, fmt.Errorf("upstream: udp associate %s: unpacking response: %w", u.Address(), err)
	}

	return resp, nil
}
