package upstream

import (
	"fmt"
	"time"

	dnsupstream "github.com/AdguardTeam/dnsproxy/upstream"
)

// Options mirrors the settings this module exposes for constructing
// upstream resolvers, modelled on Server.prepareUpstreamSettings in the
// teacher's internal/dnsforward/upstreams.go.
type Options struct {
	// BootstrapDNS resolves the hostnames of DoH/DoT/DoQ upstream
	// addresses themselves.
	BootstrapDNS []string

	// Timeout bounds every exchange attempt.
	Timeout time.Duration

	// PreferIPv6 prefers AAAA over A when bootstrapping upstream
	// hostnames.
	PreferIPv6 bool

	// EnableHTTP3 allows DoH upstreams to negotiate HTTP/3 (DoQ-over-DoH).
	EnableHTTP3 bool

	// InsecureSkipVerify disables upstream TLS certificate verification.
	// Used only for tests and explicitly-trusted lab upstreams.
	InsecureSkipVerify bool

	// OutboundDialer, when set, routes an explicit "tcp://" upstream
	// through it via internal/asyncsock instead of through the wrapped
	// dnsproxy/upstream library's own transport, which has no hook for a
	// caller-supplied dialer. Every other address (plain UDP, DoH, DoT,
	// DoQ) always uses the wrapped library's own transport and ignores
	// this field.
	OutboundDialer dialer

	// UDPAssociationPool, when set, routes a plain DNS-over-UDP upstream
	// address through it via a shared SOCKS5 UDP ASSOCIATE relay instead
	// of the wrapped library's own transport, which cannot reach the
	// network through a SOCKS5 proxy at all for UDP. DoH/DoT/DoQ/"tcp://"
	// upstreams ignore this field.
	UDPAssociationPool udpAssociationPool
}

func (o Options) toUpstreamOptions() (opts *dnsupstream.Options, err error) {
	httpVersions := dnsupstream.DefaultHTTPVersions
	if o.EnableHTTP3 {
		httpVersions = []dnsupstream.HTTPVersion{
			dnsupstream.HTTPVersion3,
			dnsupstream.HTTPVersion2,
			dnsupstream.HTTPVersion11,
		}
	}

	bootstrap, err := bootstrapResolver(o.BootstrapDNS, o.Timeout, o.PreferIPv6)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &dnsupstream.Options{
		Bootstrap:          bootstrap,
		Timeout:            o.Timeout,
		HTTPVersions:       httpVersions,
		PreferIPv6:         o.PreferIPv6,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}, nil
}

// bootstrapResolver builds a [dnsupstream.Resolver] that queries addrs in
// parallel, used to resolve the hostnames of DoH/DoT/DoQ upstream addresses
// themselves. It returns nil if addrs is empty, in which case the wrapped
// library falls back to [net.DefaultResolver].
func bootstrapResolver(
	addrs []string,
	timeout time.Duration,
	preferIPv6 bool,
) (r dnsupstream.Resolver, err error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	resolvers := make(dnsupstream.ParallelResolver, 0, len(addrs))
	for _, addr := range addrs {
		var ur *dnsupstream.UpstreamResolver
		ur, err = dnsupstream.NewUpstreamResolver(addr, &dnsupstream.Options{
			Timeout:    timeout,
			PreferIPv6: preferIPv6,
		})
		if err != nil {
			return nil, fmt.Errorf("creating bootstrap resolver %q: %w", addr, err)
		}

		resolvers = append(resolvers, ur)
	}

	return resolvers, nil
}

// NewHandle constructs a [Handle] for addr (any scheme dnsproxy/upstream
// understands: plain, tls://, https://, quic://, sdns://) identified by id.
func NewHandle(
	id, addr string,
	opts Options,
	ignoreOutboundProxy bool,
) (h *Handle, err error) {
	if !ignoreOutboundProxy && opts.OutboundDialer != nil && isDirectTCPAddr(addr) {
		return New(id, newDirectUpstream(addr, opts.OutboundDialer, opts.Timeout), ignoreOutboundProxy), nil
	}

	if !ignoreOutboundProxy && opts.UDPAssociationPool != nil && isPlainUDPAddr(addr) {
		return New(id, newUDPAssociationUpstream(addr, opts.UDPAssociationPool, opts.Timeout), ignoreOutboundProxy), nil
	}

	upstreamOpts, err := opts.toUpstreamOptions()
	if err != nil {
		return nil, fmt.Errorf("creating upstream %q: %w", addr, err)
	}

	u, err := dnsupstream.AddressToUpstream(addr, upstreamOpts)
	if err != nil {
		return nil, fmt.Errorf("creating upstream %q: %w", addr, err)
	}

	return New(id, u, ignoreOutboundProxy), nil
}
