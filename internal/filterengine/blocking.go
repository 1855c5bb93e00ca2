package filterengine

import (
	"net"

	"github.com/AdguardTeam/dnsproxy-core/internal/dnsmsg"
	"github.com/miekg/dns"
)

// BlockingMode selects how a blocked query is answered, per §4.1.1.
type BlockingMode int

const (
	// BlockingModeRefused answers REFUSED.
	BlockingModeRefused BlockingMode = iota

	// BlockingModeNXDomain answers NXDOMAIN.
	BlockingModeNXDomain

	// BlockingModeAddress answers with an all-zeroes or custom-configured
	// IP for A/AAAA, or an empty SOA otherwise.
	BlockingModeAddress
)

// BlockingConfig carries the settings [BuildBlockingResponse] needs to
// build an ADDRESS-mode answer and the negative-answer TTL.
type BlockingConfig struct {
	Mode BlockingMode

	// CustomIPv4/CustomIPv6 override the all-zeroes default for
	// BlockingModeAddress. Either may be nil.
	CustomIPv4 net.IP
	CustomIPv6 net.IP

	// BlockedTTL is used for the SOA's TTL when a non-A/AAAA query is
	// blocked in BlockingModeAddress, and for the NXDOMAIN SOA's TTL.
	BlockedTTL uint32
}

// BuildBlockingResponse constructs the response for a query blocked by
// rule, per §4.1.1's mode table.
func BuildBlockingResponse(req *dns.Msg, cfg BlockingConfig) (resp *dns.Msg) {
	switch cfg.Mode {
	case BlockingModeRefused:
		return dnsmsg.NewRefused(req)
	case BlockingModeNXDomain:
		return dnsmsg.NewNXDomain(req, cfg.BlockedTTL)
	case BlockingModeAddress:
		return buildAddressBlock(req, cfg)
	default:
		return dnsmsg.NewRefused(req)
	}
}

func buildAddressBlock(req *dns.Msg, cfg BlockingConfig) (resp *dns.Msg) {
	q := req.Question[0]
	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
		return dnsmsg.NewEmptySOA(req, cfg.BlockedTTL)
	}

	v4 := cfg.CustomIPv4
	if v4 == nil {
		v4 = net.IPv4zero
	}

	v6 := cfg.CustomIPv6
	if v6 == nil {
		v6 = net.IPv6unspecified
	}

	return dnsmsg.NewAddressBlock(req, cfg.BlockedTTL, v4, v6)
}
