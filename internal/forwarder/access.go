package forwarder

import (
	"net/netip"
	"strings"

	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
)

// AccessControl gates requests by client address or queried domain ahead of
// cache lookup, restored from `dnsforward/filter.go`'s beforeRequestHandler
// (§4.1's "client/domain access check").
type AccessControl struct {
	allowedNets []netip.Prefix
	blockedNets []netip.Prefix

	// blockedHosts matches queried domains against an AdBlock-style rule
	// set, reusing the same engine the forwarder's main filtering step
	// runs, since the rule syntax is identical.
	blockedHosts *filterengine.Engine
}

// NewAccessControl builds an AccessControl from lists of IPs/CIDRs and
// AdBlock-style domain-blocking rules. Either allowed or blocked may be
// empty.
func NewAccessControl(allowed, blocked []string, blockedHostRules []byte) (ac *AccessControl, err error) {
	ac = &AccessControl{}

	ac.allowedNets, err = parseNets(allowed)
	if err != nil {
		return nil, err
	}

	ac.blockedNets, err = parseNets(blocked)
	if err != nil {
		return nil, err
	}

	if len(blockedHostRules) > 0 {
		ac.blockedHosts, err = filterengine.New(
			[]filterengine.List{{ID: accessFilterListID, Text: blockedHostRules}},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	return ac, nil
}

// accessFilterListID identifies the synthetic rule list backing
// [AccessControl.blockedHosts] in matched-rule reporting; it never
// participates in the main filter engine's list set.
const accessFilterListID = -1

func parseNets(strs []string) (nets []netip.Prefix, err error) {
	for _, s := range strs {
		var p netip.Prefix
		if strings.Contains(s, "/") {
			p, err = netip.ParsePrefix(s)
		} else {
			var addr netip.Addr
			addr, err = netip.ParseAddr(s)
			if err == nil {
				p = netip.PrefixFrom(addr, addr.BitLen())
			}
		}

		if err != nil {
			return nil, err
		}

		nets = append(nets, p)
	}

	return nets, nil
}

// Allow reports whether a client at addr may query domain at all. The
// blocked list takes precedence over the allowed list, and an empty
// allowed list means "allow everyone not explicitly blocked".
func (ac *AccessControl) Allow(addr netip.Addr, domain string) (ok bool) {
	if ac == nil {
		return true
	}

	for _, p := range ac.blockedNets {
		if p.Contains(addr) {
			return false
		}
	}

	if ac.blockedHosts != nil {
		if _, matched := ac.blockedHosts.Match(domain, 0, nil); matched {
			return false
		}
	}

	if len(ac.allowedNets) == 0 {
		return true
	}

	for _, p := range ac.allowedNets {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}
