package forwarder

import (
	"net"

	"github.com/AdguardTeam/dnsproxy-core/internal/balancer"
	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
)

// Settings is the subset of the proxy's configuration the forwarder reads
// on every query. internal/proxyconf builds one of these from the
// YAML-tagged settings file and hands it to [New]; nothing in this package
// parses configuration itself.
type Settings struct {
	Upstreams balancer.Set
	Fallbacks balancer.Set

	// FallbackDomains matches a query's domain against the
	// `fallback_domains` pattern set (§4.2 step 1). A nil matcher means
	// nothing matches it, so only a detected retransmission can select the
	// fallback set.
	FallbackDomains *filterengine.Engine

	EnableParallelUpstreamQueries    bool
	EnableFallbackOnUpstreamsFailure bool
	EnableServfailOnUpstreamsFailure bool

	EnableRetransmissionHandling bool
	EnableDNSSECOK               bool
	BlockECH                     bool

	BlockIPv6       bool
	IPv6BlockingTTL uint32

	OptimisticCache bool
	CacheCapacity   int

	AdblockRulesBlockingMode filterengine.BlockingMode
	HostsRulesBlockingMode   filterengine.BlockingMode
	CustomBlockingIPv4       net.IP
	CustomBlockingIPv6       net.IP
	BlockedResponseTTL       uint32

	DNS64Enabled  bool
	DNS64Prefixes []string

	MaxEDNSUDPSize int
}
