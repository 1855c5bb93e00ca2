package forwarder

import (
	"slices"

	"github.com/AdguardTeam/dnsproxy-core/internal/dnsmsg"
	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
	"github.com/miekg/dns"
)

// applyEffectiveRules implements §4.1.1: it applies any dnsrewrite rules in
// dnsrewrites, or else decides whether leftovers amount to a block, and
// sets qc.resp accordingly. done is true when the pipeline must stop here
// (a rewrite or a block was produced); every matched rule, blocking or not,
// is recorded onto the event for reporting.
func (f *Forwarder) applyEffectiveRules(
	qc *queryContext,
	dnsrewrites, leftovers []filterengine.Rule,
) (rc resultCode, done bool) {
	recordRules(qc, dnsrewrites)
	recordRules(qc, leftovers)

	if len(dnsrewrites) > 0 {
		return f.applyDNSRewrite(qc, dnsrewrites)
	}

	if allExceptions(leftovers) {
		return resultSuccess, false
	}

	qc.resp = f.buildBlockingResponse(qc.req, leftovers)
	qc.ev.Whitelist = false

	return resultFinish, true
}

// allExceptions reports whether every rule in leftovers is a whitelist
// exception, in which case there is no block (§4.1.1's "no block" case).
func allExceptions(leftovers []filterengine.Rule) (ok bool) {
	if len(leftovers) == 0 {
		return true
	}

	for _, r := range leftovers {
		if !r.Whitelist {
			return false
		}
	}

	return true
}

// recordRules prepends rs's texts and filter-list ids onto the event,
// most-recent first, per §4.1.2. A rule text already on the event is not
// recorded again.
func recordRules(qc *queryContext, rs []filterengine.Rule) {
	for _, r := range rs {
		if r.Whitelist {
			qc.ev.Whitelist = true
		}

		if slices.Contains(qc.ev.Rules, r.Text) {
			continue
		}

		qc.ev.Rules = append([]string{r.Text}, qc.ev.Rules...)
		qc.ev.FilterListIDs = append([]int{r.FilterListID}, qc.ev.FilterListIDs...)
	}
}

// applyDNSRewrite applies dnsrewrites in order (§4.1.1), performing a
// secondary upstream exchange for a CNAME rewrite's target before
// returning.
func (f *Forwarder) applyDNSRewrite(qc *queryContext, dnsrewrites []filterengine.Rule) (rc resultCode, done bool) {
	_, info := filterengine.ApplyDNSRewrite(qc.req.Question[0].Name, qc.req.Question[0].Qtype, dnsrewrites)

	qc.ev.Rewritten = true

	if info.CName != "" {
		return f.resolveRewrittenCNAME(qc, info.CName)
	}

	if info.HasCode {
		qc.resp = dnsmsg.NewRcode(qc.req, info.RCode)

		return resultFinish, true
	}

	resp := dnsmsg.NewReply(qc.req)
	resp.Rcode = dns.RcodeSuccess
	resp.Answer = info.Answers
	qc.resp = resp

	return resultFinish, true
}

// resolveRewrittenCNAME issues a secondary exchange for (cname, qtype),
// appending matching RRs to the rewrite answers, per §4.1.1.
func (f *Forwarder) resolveRewrittenCNAME(qc *queryContext, cname string) (rc resultCode, done bool) {
	cnameReq := &dns.Msg{
		MsgHdr: dns.MsgHdr{Id: dns.Id(), RecursionDesired: qc.req.RecursionDesired},
		Question: []dns.Question{{
			Name:   dns.Fqdn(cname),
			Qtype:  qc.req.Question[0].Qtype,
			Qclass: dns.ClassINET,
		}},
	}

	resp := dnsmsg.NewReply(qc.req)
	resp.Answer = append(resp.Answer, &dns.CNAME{
		Hdr:    dns.RR_Header{Name: qc.req.Question[0].Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 3600},
		Target: dns.Fqdn(cname),
	})

	if !f.loopGuard.Allow(cnameReq) {
		qc.resp = resp

		return resultFinish, true
	}

	res, err := f.exchange(cnameReq, false)
	if err == nil {
		for _, rr := range res.Response.Answer {
			if rr.Header().Rrtype == qc.req.Question[0].Qtype {
				resp.Answer = append(resp.Answer, rr)
			}
		}
	}

	qc.resp = resp

	return resultFinish, true
}

// buildBlockingResponse picks the blocking mode from the first matched
// rule's origin (hosts-style vs AdBlock-style) and builds the response.
func (f *Forwarder) buildBlockingResponse(req *dns.Msg, leftovers []filterengine.Rule) (resp *dns.Msg) {
	mode := f.settings.AdblockRulesBlockingMode
	for _, r := range leftovers {
		if r.IsHostRule {
			mode = f.settings.HostsRulesBlockingMode

			break
		}
	}

	return filterengine.BuildBlockingResponse(req, filterengine.BlockingConfig{
		Mode:       mode,
		CustomIPv4: f.settings.CustomBlockingIPv4,
		CustomIPv6: f.settings.CustomBlockingIPv6,
		BlockedTTL: f.settings.BlockedResponseTTL,
	})
}
