// Package filterengine wraps github.com/AdguardTeam/urlfilter into the
// match/effective/apply_dnsrewrite/is_valid_rule contract the forwarder's
// pre- and post-resolution filtering steps need (§4.4), exactly as
// internal/filtering.DNSFilter does against the same library.
package filterengine

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
	"github.com/AdguardTeam/urlfilter/rules"
	"github.com/miekg/dns"
)

// List identifies one loaded rule list by id and source text, mirroring the
// teacher's Filter struct trimmed to what a rule list needs here.
type List struct {
	ID   int
	Text []byte
}

// Engine matches domains and IP literals against a block list and an
// optional allow list loaded via urlfilter.
type Engine struct {
	blockStorage *filterlist.RuleStorage
	block        *urlfilter.DNSEngine

	allowStorage *filterlist.RuleStorage
	allow        *urlfilter.DNSEngine
}

// New builds an Engine from block and allow rule lists. Either may be
// empty, in which case the corresponding engine is left nil and matches
// nothing.
func New(block, allow []List) (e *Engine, err error) {
	blockStorage, err := newRuleStorage(block)
	if err != nil {
		return nil, fmt.Errorf("filterengine: block list: %w", err)
	}

	allowStorage, err := newRuleStorage(allow)
	if err != nil {
		return nil, fmt.Errorf("filterengine: allow list: %w", err)
	}

	e = &Engine{blockStorage: blockStorage, allowStorage: allowStorage}
	if blockStorage != nil {
		e.block = urlfilter.NewDNSEngine(blockStorage)
	}
	if allowStorage != nil {
		e.allow = urlfilter.NewDNSEngine(allowStorage)
	}

	return e, nil
}

func newRuleStorage(lists []List) (rs *filterlist.RuleStorage, err error) {
	if len(lists) == 0 {
		return nil, nil
	}

	ifaces := make([]filterlist.RuleList, 0, len(lists))
	for _, l := range lists {
		ifaces = append(ifaces, &filterlist.StringRuleList{
			ID:             l.ID,
			RulesText:      string(l.Text),
			IgnoreCosmetic: true,
		})
	}

	rs, err = filterlist.NewRuleStorage(ifaces)
	if err != nil {
		return nil, fmt.Errorf("creating rule storage: %w", err)
	}

	return rs, nil
}

// Close releases the underlying rule list files/mmaps.
func (e *Engine) Close() (err error) {
	if e.blockStorage != nil {
		if cErr := e.blockStorage.Close(); cErr != nil {
			err = cErr
		}
	}

	if e.allowStorage != nil {
		if cErr := e.allowStorage.Close(); cErr != nil {
			err = cErr
		}
	}

	return err
}

// MatchResult is what [Engine.Match] returns: the raw urlfilter result plus
// whether it came from the allow list, needed by [Engine.Effective] to
// decide precedence.
type MatchResult struct {
	dnsres    *urlfilter.DNSResult
	Whitelist bool
}

// Match looks up (name, qtype) against the allow list first, falling back
// to the block list. name is a domain or, for resolved A/AAAA answers, the
// IP literal; it is lowercased and any trailing dot is dropped before
// matching. ok is false if neither engine matched anything.
func (e *Engine) Match(name string, qtype uint16, clientIP net.IP) (res MatchResult, ok bool) {
	clientAddr, _ := netip.AddrFromSlice(clientIP)

	req := &urlfilter.DNSRequest{
		Hostname: strings.ToLower(strings.TrimSuffix(name, ".")),
		ClientIP: clientAddr,
		DNSType:  qtype,
	}

	if e.allow != nil {
		if dnsres, matched := e.allow.MatchRequest(req); matched {
			return MatchResult{dnsres: dnsres, Whitelist: true}, true
		}
	}

	if e.block == nil {
		return MatchResult{}, false
	}

	dnsres, matched := e.block.MatchRequest(req)

	return MatchResult{dnsres: dnsres}, matched
}

// Rule is a single matched rule, trimmed to what the processed event and
// the rewrite pipeline need from it.
type Rule struct {
	FilterListID int
	Text         string
	Whitelist    bool
	DNSRewrite   *rules.DNSRewrite

	// IsHostRule is true when the rule came from a hosts-style list
	// (HostRulesV4/HostRulesV6) rather than an AdBlock-style network rule,
	// so the forwarder can pick between `hosts_rules_blocking_mode` and
	// `adblock_rules_blocking_mode` per §4.1.1.
	IsHostRule bool
}

// Effective partitions a [MatchResult] into dnsrewrite rules and
// "leftover" blocking/allow rules, delegating the actual precedence
// decision to urlfilter's own DNSResult fields exactly as
// matchHostProcessDNSResult does.
func (e *Engine) Effective(res MatchResult) (dnsrewrites, leftovers []Rule) {
	if res.dnsres == nil {
		return nil, nil
	}

	for _, nr := range res.dnsres.DNSRewrites() {
		dnsrewrites = append(dnsrewrites, Rule{
			FilterListID: nr.GetFilterListID(),
			Text:         nr.RuleText,
			DNSRewrite:   nr.DNSRewrite,
		})
	}

	if len(dnsrewrites) > 0 {
		return dnsrewrites, nil
	}

	if nr := res.dnsres.NetworkRule; nr != nil {
		leftovers = append(leftovers, Rule{
			FilterListID: nr.GetFilterListID(),
			Text:         nr.RuleText,
			Whitelist:    nr.Whitelist,
		})

		return nil, leftovers
	}

	for _, hr := range res.dnsres.HostRulesV4 {
		leftovers = append(leftovers, Rule{FilterListID: hr.GetFilterListID(), Text: hr.RuleText, IsHostRule: true})
	}
	for _, hr := range res.dnsres.HostRulesV6 {
		leftovers = append(leftovers, Rule{FilterListID: hr.GetFilterListID(), Text: hr.RuleText, IsHostRule: true})
	}

	return nil, leftovers
}

// RewriteInfo is the result of applying $dnsrewrite rules, per §4.1.1.
type RewriteInfo struct {
	// RCode is set when a rule forces a specific response code other than
	// NOERROR (e.g. REFUSED).
	RCode   int
	HasCode bool

	// CName is set when a rule rewrites the query to a new canonical name,
	// which takes precedence over any RR-synthesizing rule.
	CName string

	// Answers are the RRs synthesized by RcodeSuccess dnsrewrite rules.
	Answers []dns.RR
}

// ApplyDNSRewrite applies dnsrewrite rules in list order, mirroring
// processDNSRewrites: a NewCNAME rule wins immediately over every other
// rule; an explicit non-success RCode also wins immediately; otherwise
// every RcodeSuccess rule contributes an answer RR.
func ApplyDNSRewrite(name string, qtype uint16, dnsrewrites []Rule) (used []Rule, info RewriteInfo) {
	for _, r := range dnsrewrites {
		dr := r.DNSRewrite
		if dr == nil {
			continue
		}

		if dr.NewCNAME != "" {
			return []Rule{r}, RewriteInfo{CName: dr.NewCNAME}
		}

		if dr.RCode != dns.RcodeSuccess {
			return []Rule{r}, RewriteInfo{RCode: dr.RCode, HasCode: true}
		}

		rr := synthRR(name, qtype, dr)
		if rr == nil {
			continue
		}

		info.Answers = append(info.Answers, rr)
		used = append(used, r)
	}

	return used, info
}

// synthRR builds a single RR for an RcodeSuccess dnsrewrite rule's
// RRType/Value pair.
func synthRR(name string, qtype uint16, dr *rules.DNSRewrite) (rr dns.RR) {
	hdr := dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dr.RRType, Class: dns.ClassINET, Ttl: 3600}

	switch v := dr.Value.(type) {
	case net.IP:
		if dr.RRType == dns.TypeA {
			if ip4 := v.To4(); ip4 != nil {
				return &dns.A{Hdr: hdr, A: ip4}
			}

			return nil
		}

		return &dns.AAAA{Hdr: hdr, AAAA: v}
	case string:
		switch dr.RRType {
		case dns.TypeTXT:
			return &dns.TXT{Hdr: hdr, Txt: []string{v}}
		case dns.TypePTR:
			return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(v)}
		default:
			return nil
		}
	default:
		_ = qtype

		return nil
	}
}

// IsValidRule reports whether text parses as either a network rule or a
// host rule, used to pre-validate fallback-domain patterns before they are
// added to a rule list.
func IsValidRule(text string) (ok bool) {
	const noFilterListID = 0

	if _, err := rules.NewNetworkRule(text, noFilterListID); err == nil {
		return true
	}

	if _, err := rules.NewHostRule(text, noFilterListID); err == nil {
		return true
	}

	return false
}
