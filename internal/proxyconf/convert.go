package proxyconf

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/balancer"
	"github.com/AdguardTeam/dnsproxy-core/internal/dns64"
	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
	"github.com/AdguardTeam/dnsproxy-core/internal/forwarder"
	"github.com/AdguardTeam/dnsproxy-core/internal/socksproxy"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
)

// Built is everything a running proxy needs, assembled from a [Config] by
// [Config.Build]: the forwarder settings plus the long-lived handles and
// engines Settings only references by pointer.
type Built struct {
	Settings forwarder.Settings

	Filters *filterengine.Engine
	Access  *forwarder.AccessControl

	// OutboundDialer is the configured outbound_proxy dialer, or nil if
	// none is set. It is also the dialer every "tcp://" upstream in
	// Settings.Upstreams/Fallbacks already dials through, via
	// internal/upstream's asyncsock-based direct transport; it is exposed
	// here too in case a caller needs to dial something else (e.g. the
	// bootstrap resolver) through the same proxy.
	OutboundDialer socksproxy.Dialer

	// UDPAssociationPool is the shared SOCKS5 UDP ASSOCIATE pool every
	// plain UDP upstream in Settings.Upstreams/Fallbacks already relays
	// through when outbound_proxy.protocol is SOCKS5_UDP, or nil
	// otherwise.
	UDPAssociationPool *socksproxy.UDPAssociationPool

	// DNS64Discovery is set only when dns64.enabled and no static prefixes
	// were configured, so the caller knows to call
	// Forwarder.StartDNS64Discovery with it.
	DNS64Discovery *dns64.DiscoveryConfig
}

// upstreamOptions derives [upstream.Options] shared by every upstream
// handle this config builds, modelled on Server.prepareUpstreamSettings
// (internal/dnsforward/upstreams.go in the teacher).
func (c *Config) upstreamOptions(dialer socksproxy.Dialer, udpPool *socksproxy.UDPAssociationPool) (opts upstream.Options) {
	opts = upstream.Options{
		BootstrapDNS:   c.BootstrapDNS,
		Timeout:        c.Timeout.Duration,
		EnableHTTP3:    c.EnableHTTP3,
		OutboundDialer: dialer,
	}

	// udpPool is only ever a concrete (possibly nil) *socksproxy.
	// UDPAssociationPool; assigning a nil pointer straight into the
	// interface-typed field below would produce a non-nil interface
	// wrapping a nil pointer, so NewHandle's "!= nil" check would pass
	// and it would nil-dereference on first use. Only set the field when
	// there is a real pool to set.
	if udpPool != nil {
		opts.UDPAssociationPool = udpPool
	}

	return opts
}

// buildUpstreamSet constructs a [balancer.Set] from a list of upstream
// addresses, each identified by its own address string.
func buildUpstreamSet(addrs []string, opts upstream.Options) (set balancer.Set, err error) {
	set = make(balancer.Set, 0, len(addrs))
	for _, addr := range addrs {
		var h *upstream.Handle
		h, err = upstream.NewHandle(addr, addr, opts, false)
		if err != nil {
			return nil, err
		}

		set = append(set, h)
	}

	return set, nil
}

// buildOutboundDialer constructs the [socksproxy.Dialer] the outbound_proxy
// settings describe, or nil if none is configured. When protocol is
// SOCKS5_UDP it also constructs the [socksproxy.UDPAssociationPool] every
// plain UDP upstream shares; pool is nil for every other protocol.
func (c *Config) buildOutboundDialer() (d socksproxy.Dialer, pool *socksproxy.UDPAssociationPool, err error) {
	p := c.OutboundProxy
	if p.Protocol == OutboundProxyNone {
		return nil, nil, nil
	}

	var proto socksproxy.Protocol
	switch p.Protocol {
	case OutboundProxySOCKS4:
		proto = socksproxy.ProtocolSOCKS4
	case OutboundProxySOCKS5, OutboundProxySOCKS5UDP:
		// SOCKS5_UDP reuses the plain SOCKS5 dialer for the control
		// connection; actually relaying datagrams through it is
		// socksproxy.UDPAssociationPool/UDPAssociation's job, built below.
		proto = socksproxy.ProtocolSOCKS5
	case OutboundProxyHTTPConnect:
		proto = socksproxy.ProtocolHTTPConnect
	case OutboundProxyHTTPSConnect:
		proto = socksproxy.ProtocolHTTPSConnect
	default:
		return nil, nil, fmt.Errorf("proxyconf: unknown outbound proxy protocol %q", p.Protocol)
	}

	cfg := socksproxy.Config{
		Protocol: proto,
		Address:  net.JoinHostPort(p.Address, fmt.Sprint(p.Port)),
		Username: p.AuthUsername,
		Password: p.AuthPassword,
	}

	d, err = socksproxy.NewDialer(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("proxyconf: outbound_proxy: %w", err)
	}

	if p.Protocol == OutboundProxySOCKS5UDP {
		pool, err = socksproxy.NewUDPAssociationPool(cfg, "0.0.0.0:0")
		if err != nil {
			return nil, nil, fmt.Errorf("proxyconf: outbound_proxy: %w", err)
		}
	}

	return d, pool, nil
}

// buildFilterEngine loads the block/allow rule lists named by
// filter_params from disk, assigning each file a stable list id by its
// position in the configured slice. It returns a nil engine when no list is
// configured.
func buildFilterEngine(blockPaths, allowPaths []string) (e *filterengine.Engine, err error) {
	if len(blockPaths) == 0 && len(allowPaths) == 0 {
		return nil, nil
	}

	block, err := readLists(blockPaths, 0)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: filter_params.block_list_paths: %w", err)
	}

	allow, err := readLists(allowPaths, len(blockPaths))
	if err != nil {
		return nil, fmt.Errorf("proxyconf: filter_params.allow_list_paths: %w", err)
	}

	e, err = filterengine.New(block, allow)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: %w", err)
	}

	return e, nil
}

func readLists(paths []string, idOffset int) (lists []filterengine.List, err error) {
	for i, p := range paths {
		var text []byte
		text, err = os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}

		lists = append(lists, filterengine.List{ID: idOffset + i, Text: text})
	}

	return lists, nil
}

// buildFallbackDomains turns the plain `fallback_domains` hostname list
// into an [filterengine.Engine] matchable the same way a block list is, by
// rendering each entry as an adblock domain-anchor rule.
func buildFallbackDomains(domains []string) (e *filterengine.Engine, err error) {
	if len(domains) == 0 {
		return nil, nil
	}

	var text []byte
	for _, d := range domains {
		text = append(text, []byte("||"+d+"^\n")...)
	}

	e, err = filterengine.New([]filterengine.List{{ID: 0, Text: text}}, nil)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: fallback_domains: %w", err)
	}

	return e, nil
}

func toBlockingMode(m BlockingMode) (out filterengine.BlockingMode) {
	switch m {
	case BlockingModeNXDomain:
		return filterengine.BlockingModeNXDomain
	case BlockingModeAddress:
		return filterengine.BlockingModeAddress
	default:
		return filterengine.BlockingModeRefused
	}
}

func readDisallowedDomains(paths []string) (rules []byte, err error) {
	for _, p := range paths {
		var text []byte
		text, err = os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}

		rules = append(rules, text...)
		rules = append(rules, '\n')
	}

	return rules, nil
}

// Build validates c and assembles every upstream handle, filter engine and
// access-control list it names into a [Built], ready to hand to
// forwarder.New. It is the single place internal/proxyconf turns parsed
// YAML into the types the rest of the module understands.
func (c *Config) Build() (b *Built, err error) {
	if err = c.Validate(); err != nil {
		return nil, err
	}

	dialer, udpPool, err := c.buildOutboundDialer()
	if err != nil {
		return nil, err
	}

	opts := c.upstreamOptions(dialer, udpPool)

	upstreams, err := buildUpstreamSet(c.Upstreams, opts)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: upstreams: %w: %w", ErrUpstreamInit, err)
	}

	fallbacks, err := buildUpstreamSet(c.Fallbacks, opts)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: fallbacks: %w: %w", ErrUpstreamInit, err)
	}

	fallbackDomains, err := buildFallbackDomains(c.FallbackDomains)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFallbackFilterInit, err)
	}

	filters, err := buildFilterEngine(c.FilterParams.BlockListPaths, c.FilterParams.AllowListPaths)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFilterLoad, err)
	}

	disallowedHosts, err := readDisallowedDomains(c.DisallowedDomainsPaths)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: disallowed_domains_paths: %w", err)
	}

	access, err := forwarder.NewAccessControl(c.AllowedClients, c.DisallowedClients, disallowedHosts)
	if err != nil {
		return nil, fmt.Errorf("proxyconf: access control: %w", err)
	}

	settings := forwarder.Settings{
		Upstreams:                        upstreams,
		Fallbacks:                        fallbacks,
		FallbackDomains:                  fallbackDomains,
		EnableParallelUpstreamQueries:    c.EnableParallelUpstreamQueries,
		EnableFallbackOnUpstreamsFailure: c.EnableFallbackOnUpstreamsFailure,
		EnableServfailOnUpstreamsFailure: c.EnableServfailOnUpstreamsFailure,
		EnableRetransmissionHandling:     c.EnableRetransmissionHandling,
		EnableDNSSECOK:                   c.EnableDNSSECOK,
		BlockECH:                         c.BlockECH,
		BlockIPv6:                        c.BlockIPv6,
		IPv6BlockingTTL:                  c.BlockedResponseTTLSecs,
		OptimisticCache:                  c.OptimisticCache,
		CacheCapacity:                    c.DNSCacheSize,
		AdblockRulesBlockingMode:         toBlockingMode(c.AdblockRulesBlockingMode),
		HostsRulesBlockingMode:           toBlockingMode(c.HostsRulesBlockingMode),
		CustomBlockingIPv4:               net.ParseIP(c.CustomBlockingIPv4),
		CustomBlockingIPv6:               net.ParseIP(c.CustomBlockingIPv6),
		BlockedResponseTTL:               c.BlockedResponseTTLSecs,
		DNS64Enabled:                     c.DNS64.Enabled && len(c.DNS64.Prefixes) > 0,
		DNS64Prefixes:                    c.DNS64.Prefixes,
	}

	b = &Built{
		Settings:           settings,
		Filters:            filters,
		Access:             access,
		OutboundDialer:     dialer,
		UDPAssociationPool: udpPool,
	}

	if c.DNS64.Enabled && len(c.DNS64.Prefixes) == 0 {
		discoveryUpstreams := upstreams
		if len(c.DNS64.Upstreams) > 0 {
			discoveryUpstreams, err = buildUpstreamSet(c.DNS64.Upstreams, opts)
			if err != nil {
				return nil, fmt.Errorf("proxyconf: dns64.upstreams: %w", err)
			}
		}

		if len(discoveryUpstreams) == 0 {
			return nil, fmt.Errorf("proxyconf: dns64: enabled but no upstream is available for discovery")
		}

		waitTime := c.DNS64.WaitTime.Duration
		if waitTime == 0 {
			waitTime = time.Second
		}

		b.DNS64Discovery = &dns64.DiscoveryConfig{
			Upstream: discoveryUpstreams[0],
			MaxTries: c.DNS64.MaxTries,
			WaitTime: waitTime,
		}
	}

	return b, nil
}
