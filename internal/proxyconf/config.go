// Package proxyconf implements the YAML-tagged settings document described
// by §6.2, modelled on internal/dnsforward.Config: doc-commented fields,
// snake_case yaml tags, and [timeutil.Duration] for every duration-valued
// key so the file can write "5s" rather than a raw nanosecond count.
package proxyconf

import (
	"github.com/AdguardTeam/golibs/timeutil"
)

// OutboundProxyProtocol selects the outbound_proxy.protocol key.
type OutboundProxyProtocol string

const (
	OutboundProxyNone         OutboundProxyProtocol = ""
	OutboundProxyHTTPConnect  OutboundProxyProtocol = "HTTP_CONNECT"
	OutboundProxyHTTPSConnect OutboundProxyProtocol = "HTTPS_CONNECT"
	OutboundProxySOCKS4       OutboundProxyProtocol = "SOCKS4"
	OutboundProxySOCKS5       OutboundProxyProtocol = "SOCKS5"
	OutboundProxySOCKS5UDP    OutboundProxyProtocol = "SOCKS5_UDP"
)

// BlockingMode selects one of `adblock_rules_blocking_mode` /
// `hosts_rules_blocking_mode`'s values.
type BlockingMode string

const (
	BlockingModeRefused  BlockingMode = "REFUSED"
	BlockingModeNXDomain BlockingMode = "NXDOMAIN"
	BlockingModeAddress  BlockingMode = "ADDRESS"
)

// OutboundProxy configures the outbound SOCKS/CONNECT proxy every upstream
// dials through, unless the upstream opted out.
type OutboundProxy struct {
	Protocol OutboundProxyProtocol `yaml:"protocol"`
	Address  string                `yaml:"address"`
	Port     uint16                `yaml:"port"`
	Bootstrap []string             `yaml:"bootstrap"`

	AuthUsername string `yaml:"auth_username"`
	AuthPassword string `yaml:"auth_password"`

	TrustAnyCertificate bool `yaml:"trust_any_certificate"`

	// IgnoreIfUnavailable is read from the settings file but not used by
	// [Config.Build]: upstreams are not switched to direct dialing when
	// this proxy is unreachable.
	IgnoreIfUnavailable bool `yaml:"ignore_if_unavailable"`
}

// DNS64 configures NAT64 prefix discovery and synthesis (§4.5).
type DNS64 struct {
	Enabled bool `yaml:"enabled"`

	// Upstreams are the addresses RFC 7050 discovery queries. When Enabled
	// is set, [Config.Validate] requires either Upstreams or Prefixes.
	Upstreams []string `yaml:"upstreams"`

	// Prefixes statically configures NAT64 prefixes, skipping discovery.
	// Takes precedence over Upstreams when non-empty.
	Prefixes []string `yaml:"prefixes"`

	MaxTries uint32            `yaml:"max_tries"`
	WaitTime timeutil.Duration `yaml:"wait_time"`
}

// FilterParams names the local rule list files loaded into the filter
// engine, mirroring `filter_params` in §6.2.
type FilterParams struct {
	BlockListPaths []string `yaml:"block_list_paths"`
	AllowListPaths []string `yaml:"allow_list_paths"`
}

// Listener configures one network listener.
type Listener struct {
	// Network is "udp" or "tcp".
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

// Config is the settings document §6.2 describes, loaded from YAML by
// internal/proxyconf.Load.
type Config struct {
	Upstreams       []string `yaml:"upstreams"`
	Fallbacks       []string `yaml:"fallbacks"`
	FallbackDomains []string `yaml:"fallback_domains"`

	BootstrapDNS []string          `yaml:"bootstrap_dns"`
	Timeout      timeutil.Duration `yaml:"timeout"`

	DNS64 DNS64 `yaml:"dns64"`

	BlockedResponseTTLSecs uint32 `yaml:"blocked_response_ttl_secs"`

	FilterParams FilterParams `yaml:"filter_params"`

	Listeners []Listener `yaml:"listeners"`

	OutboundProxy OutboundProxy `yaml:"outbound_proxy"`

	BlockIPv6     bool `yaml:"block_ipv6"`
	IPv6Available bool `yaml:"ipv6_available"`

	AdblockRulesBlockingMode BlockingMode `yaml:"adblock_rules_blocking_mode"`
	HostsRulesBlockingMode   BlockingMode `yaml:"hosts_rules_blocking_mode"`
	CustomBlockingIPv4       string       `yaml:"custom_blocking_ipv4"`
	CustomBlockingIPv6       string       `yaml:"custom_blocking_ipv6"`

	DNSCacheSize    int  `yaml:"dns_cache_size"`
	OptimisticCache bool `yaml:"optimistic_cache"`

	EnableDNSSECOK                   bool `yaml:"enable_dnssec_ok"`
	EnableRetransmissionHandling     bool `yaml:"enable_retransmission_handling"`
	BlockECH                         bool `yaml:"block_ech"`
	EnableParallelUpstreamQueries    bool `yaml:"enable_parallel_upstream_queries"`
	EnableFallbackOnUpstreamsFailure bool `yaml:"enable_fallback_on_upstreams_failure"`
	EnableServfailOnUpstreamsFailure bool `yaml:"enable_servfail_on_upstreams_failure"`
	EnableHTTP3                      bool `yaml:"enable_http3"`

	// AllowedClients/DisallowedClients are IP addresses or CIDR networks,
	// per the **(added)** access-control step.
	AllowedClients    []string `yaml:"allowed_clients"`
	DisallowedClients []string `yaml:"disallowed_clients"`
	DisallowedDomainsPaths []string `yaml:"disallowed_domains_paths"`
}
