// Package dns64 implements NAT64 prefix storage and AAAA-record synthesis
// for queries whose name has no native IPv6 answer, per RFC 6147/RFC 6052
// (§4.5).
package dns64

import (
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/miekg/dns"
)

const (
	// maxPrefixBitLen is the maximum length of a NAT64 prefix in bits, per
	// RFC 6147 §5.2.
	maxPrefixBitLen = 96

	// prefixLen is the length of a NAT64 prefix in bytes.
	prefixLen = net.IPv6len - net.IPv4len

	// maxSynthTTL is the TTL ceiling for a synthesized AAAA record when the
	// original response carried no SOA record, per RFC 6147 §5.1.7.
	maxSynthTTL uint32 = 600
)

// WellKnownPrefix is the default algorithmic-mapping prefix used when DNS64
// is enabled but no explicit prefix is configured, per RFC 6052 §2.1.
var WellKnownPrefix = netip.MustParsePrefix("64:ff9b::/96")

// ParsePrefixes validates and normalizes the configured NAT64 prefix
// strings. An empty raw set yields [WellKnownPrefix], matching RFC 6147
// §5.2's "any configured set discards the Well-Known prefix unless named
// explicitly" rule.
func ParsePrefixes(raw []string) (prefixes []netip.Prefix, err error) {
	if len(raw) == 0 {
		return []netip.Prefix{WellKnownPrefix}, nil
	}

	prefixes = make([]netip.Prefix, 0, len(raw))
	for i, s := range raw {
		var p netip.Prefix
		p, err = netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("prefix at index %d: %w", i, err)
		}

		if !p.Addr().Is6() {
			return nil, fmt.Errorf("prefix at index %d: %q is not an IPv6 prefix", i, s)
		}

		if p.Bits() > maxPrefixBitLen {
			return nil, fmt.Errorf("prefix at index %d: %q is too long for DNS64", i, s)
		}

		prefixes = append(prefixes, p.Masked())
	}

	return prefixes, nil
}

// State holds the NAT64 prefix set and performs the request-rewrite,
// answer-filtering, and answer-synthesis operations spec.md's Data Model
// names.
type State struct {
	prefixes atomic.Pointer[[]netip.Prefix]
}

// NewState returns a new State using prefixes. A nil or empty prefixes
// disables DNS64 entirely: every method becomes a no-op, until a
// [Prefixer] installs a non-empty set.
func NewState(prefixes []netip.Prefix) (s *State) {
	s = &State{}
	s.prefixes.Store(&prefixes)

	return s
}

// setPrefixes atomically replaces the active prefix set. Used by
// [Prefixer] once RFC 7050 discovery succeeds.
func (s *State) setPrefixes(prefixes []netip.Prefix) {
	s.prefixes.Store(&prefixes)
}

// current returns the active prefix set.
func (s *State) current() (prefixes []netip.Prefix) {
	return *s.prefixes.Load()
}

// Enabled reports whether any NAT64 prefix is configured.
func (s *State) Enabled() (ok bool) {
	return len(s.current()) > 0
}

// CheckRequest inspects req/resp and returns a synthetic A-type request to
// re-issue against the same upstream when the AAAA query came back empty or
// NAT64-excluded, or nil if no DNS64 rewrite is needed.
func (s *State) CheckRequest(req, resp *dns.Msg) (dns64Req *dns.Msg) {
	if !s.Enabled() {
		return nil
	}

	q := req.Question[0]
	if q.Qtype != dns.TypeAAAA || q.Qclass != dns.ClassINET {
		return nil
	}

	rcode := resp.Rcode
	if rcode == dns.RcodeNameError {
		return nil
	}

	if rcode == dns.RcodeSuccess {
		var hasAnswers bool
		if resp.Answer, hasAnswers = s.FilterExcludedAnswers(resp.Answer); hasAnswers {
			return nil
		}
	}

	return &dns.Msg{
		MsgHdr: dns.MsgHdr{
			Id:                dns.Id(),
			RecursionDesired:  req.RecursionDesired,
			AuthenticatedData: req.AuthenticatedData,
			CheckingDisabled:  req.CheckingDisabled,
		},
		Question: []dns.Question{{
			Name:   q.Name,
			Qtype:  dns.TypeA,
			Qclass: dns.ClassINET,
		}},
	}
}

// FilterExcludedAnswers drops AAAA records within one of the configured
// NAT64 prefixes, per RFC 6147 §5.1.4's exclusion-range handling.
// hasAnswers reports whether the filtered slice still contains a usable
// answer (a non-excluded AAAA, or a CNAME/DNAME that a resolver would
// otherwise follow).
func (s *State) FilterExcludedAnswers(rrs []dns.RR) (filtered []dns.RR, hasAnswers bool) {
	filtered = make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		switch rr := rr.(type) {
		case *dns.AAAA:
			addr, err := netutil.IPToAddrNoMapped(rr.AAAA)
			if err != nil {
				log.Error("dns64: bad AAAA record: %s", err)

				continue
			}

			if s.within(addr) {
				continue
			}

			filtered, hasAnswers = append(filtered, rr), true
		case *dns.CNAME, *dns.DNAME:
			filtered, hasAnswers = append(filtered, rr), true
		default:
			filtered = append(filtered, rr)
		}
	}

	return filtered, hasAnswers
}

// within reports whether addr falls inside any configured NAT64 prefix.
func (s *State) within(addr netip.Addr) (ok bool) {
	for _, p := range s.current() {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}

// ShouldStrip reports whether ip lies within a configured prefix or the
// Well-Known prefix, for stripping synthesized addresses out of PTR
// responses per RFC 6147 §5.3.1.
func (s *State) ShouldStrip(ip net.IP) (ok bool) {
	if !s.Enabled() {
		return false
	}

	addr, err := netutil.IPToAddr(ip, netutil.AddrFamilyIPv6)
	if err != nil {
		return false
	}

	return s.within(addr) || WellKnownPrefix.Contains(addr)
}

// Map maps an IPv4 address to its DNS64-synthesized IPv6 counterpart using
// the first configured prefix, per RFC 6052 §2.2. It panics if DNS64 is
// disabled, since synthesis must never be attempted without a prefix.
func (s *State) Map(ip netip.Addr) (mapped net.IP) {
	pref := s.current()[0].Addr().As16()
	ipData := ip.As4()

	mapped = make(net.IP, net.IPv6len)
	copy(mapped[:prefixLen], pref[:])
	copy(mapped[prefixLen:], ipData[:])

	return mapped
}

// Synthesize rewrites origResp in place using the A-type dns64Resp obtained
// by re-issuing dns64Req (the request produced by [State.CheckRequest]),
// replacing each A record with a synthesized AAAA and copying over the
// authority/additional sections. It reports whether a rewrite happened; a
// response with an empty answer section is passed through unmodified, per
// RFC 6147 §5.1.7's "respond with what the AAAA query actually got" rule.
func (s *State) Synthesize(origReq, origResp, dns64Resp *dns.Msg) (ok bool) {
	if len(dns64Resp.Answer) == 0 {
		return false
	}

	soaTTL := maxSynthTTL
	for _, rr := range origResp.Ns {
		if hdr := rr.Header(); hdr.Rrtype == dns.TypeSOA && hdr.Name == origReq.Question[0].Name {
			soaTTL = hdr.Ttl

			break
		}
	}

	newAns := make([]dns.RR, 0, len(dns64Resp.Answer))
	for _, rr := range dns64Resp.Answer {
		synth := s.synthRR(rr, soaTTL)
		if synth == nil {
			return false
		}

		newAns = append(newAns, synth)
	}

	origResp.Answer = newAns
	origResp.Ns = dns64Resp.Ns
	origResp.Extra = dns64Resp.Extra

	return true
}

// synthRR converts an A record to a DNS64-synthesized AAAA record with a TTL
// capped at soaTTL. Non-A records pass through unchanged; a malformed A
// record yields nil, signalling the caller to abandon the synthesis.
func (s *State) synthRR(rr dns.RR, soaTTL uint32) (result dns.RR) {
	a, ok := rr.(*dns.A)
	if !ok {
		return rr
	}

	addr, err := netutil.IPToAddr(a.A, netutil.AddrFamilyIPv4)
	if err != nil {
		log.Error("dns64: bad A record: %s", err)

		return nil
	}

	ttl := a.Hdr.Ttl
	if ttl >= soaTTL {
		ttl = soaTTL
	}

	return &dns.AAAA{
		Hdr: dns.RR_Header{
			Name:   a.Hdr.Name,
			Rrtype: dns.TypeAAAA,
			Class:  a.Hdr.Class,
			Ttl:    ttl,
		},
		AAAA: s.Map(addr),
	}
}
