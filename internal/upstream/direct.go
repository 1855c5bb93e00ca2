package upstream

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/asyncsock"
	"github.com/miekg/dns"
)

// directTCPScheme is the only address scheme [NewHandle] will route through
// an outbound dialer itself: every internal/socksproxy.Dialer implementation
// performs a TCP CONNECT-style tunnel, so only a plain DNS-over-TCP upstream
// can be relayed correctly. A bare or "udp://" address is never handed to
// the dialer, since relaying UDP datagrams through a SOCKS5 proxy needs its
// UDP ASSOCIATE flow (internal/socksproxy.UDPAssociation), not a generic
// stream Dialer; [NewHandle] uses that flow when Options.UDPAssociationPool
// is set and the wrapped dnsproxy/upstream library otherwise.
const directTCPScheme = "tcp://"

// isDirectTCPAddr reports whether addr is an explicit plain DNS-over-TCP
// address, the only kind [directUpstream] can serve.
func isDirectTCPAddr(addr string) (ok bool) {
	return strings.HasPrefix(addr, directTCPScheme)
}

// dialer is the subset of internal/socksproxy.Dialer (and asyncsock.Dialer)
// this package depends on. It is declared locally, instead of importing
// internal/socksproxy directly, so this package stays agnostic of which
// outbound proxy implementation a caller plugs in.
type dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// directUpstream implements github.com/AdguardTeam/dnsproxy/upstream.Upstream
// for a plain DNS-over-TCP address, dialed through an outbound proxy dialer
// via internal/asyncsock rather than through the wrapped library's own
// transport, which has no hook for a caller-supplied dialer. It is only
// constructed by [NewHandle] when an outbound dialer is configured and addr
// is an explicit "tcp://" address.
type directUpstream struct {
	addr    string
	dialer  dialer
	timeout time.Duration
}

// newDirectUpstream returns a directUpstream for addr, dialed through d.
func newDirectUpstream(addr string, d dialer, timeout time.Duration) (u *directUpstream) {
	return &directUpstream{addr: strings.TrimPrefix(addr, directTCPScheme), dialer: d, timeout: timeout}
}

// Address implements [dnsupstream.Upstream].
func (u *directUpstream) Address() (addr string) { return directTCPScheme + u.addr }

// Close implements [dnsupstream.Upstream]. A directUpstream holds no
// long-lived connection between exchanges, so there is nothing to release.
func (u *directUpstream) Close() (err error) { return nil }

// Exchange implements [dnsupstream.Upstream], dialing a fresh TCP connection
// through u.dialer for every query and framing both directions with the
// two-byte length prefix RFC 1035 §4.2.2 requires for DNS-over-TCP.
func (u *directUpstream) Exchange(req *dns.Msg) (resp *dns.Msg, err error) {
	ctx := context.Background()
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	sock := asyncsock.New(u.dialer, "tcp")
	if err = sock.Connect(ctx, u.addr); err != nil {
		return nil, fmt.Errorf("upstream: direct %s: %w", u.Address(), err)
	}
	defer func() { _ = sock.Close() }()

	raw, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("upstream: direct %s: packing query: %w", u.Address(), err)
	}

	framed := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(framed, uint16(len(raw)))
	copy(framed[2:], raw)

	if err = sock.Send(framed); err != nil {
		return nil, fmt.Errorf("upstream: direct %s: %w", u.Address(), err)
	}

	respRaw, err := sock.ReceiveDNSPacket(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream: direct %s: %w", u.Address(), err)
	}

	resp = &dns.Msg{}
	if err = resp.Unpack(respRaw); err != nil {
		return nil, fmt.Errorf("upstream: direct %s: unpacking response: %w", u.Address(), err)
	}

	return resp, nil
}
