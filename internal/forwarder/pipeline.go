package forwarder

import (
	"net/netip"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/balancer"
	"github.com/AdguardTeam/dnsproxy-core/internal/cache"
	"github.com/AdguardTeam/dnsproxy-core/internal/dnsmsg"
	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
	"github.com/AdguardTeam/dnsproxy-core/internal/metrics"
	"github.com/AdguardTeam/dnsproxy-core/internal/retransmit"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/miekg/dns"
)

// Transport is the network transport a query arrived on, needed for
// retransmission accounting (UDP-only) and truncation (§4.1 steps 2, 14).
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

// PeerInfo describes the client a query arrived from. A nil *PeerInfo
// (e.g. for an embedder calling [Forwarder.HandleMessage] directly without
// a listener) disables retransmission accounting and treats the query as
// non-UDP for truncation purposes.
type PeerInfo struct {
	Addr      netip.AddrPort
	Transport Transport

	// EDNSUDPSize is the client's advertised EDNS0 UDP payload size, used
	// as the truncation ceiling in place of the configured default when
	// non-zero.
	EDNSUDPSize int
}

// resultCode mirrors the teacher's mod-process-func chain: each step either
// lets the chain continue, stops it with a response already decided, or
// stops it on an unrecoverable error.
type resultCode int

const (
	resultSuccess resultCode = iota
	resultFinish
	resultError
)

// mozillaCanaryFQDN is the Firefox DoH-opt-out canary domain (§4.1 step 5).
const mozillaCanaryFQDN = "use-application-dns.net."

// queryContext carries one query's state through the pipeline.
type queryContext struct {
	fwd  *Forwarder
	raw  []byte
	peer *PeerInfo

	req  *dns.Msg
	resp *dns.Msg

	start time.Time
	ev    *ProcessedEvent

	fallbackOnly  bool
	retransmitKey retransmit.Key
	haveRetransmitKey bool

	isOurDOBit bool

	cacheKey cache.Key

	// upstream is the upstream that answered the query in
	// stepUpstreamExchange, reused for the DNS64 A lookup.
	upstream *upstream.Handle
}

// step is one pipeline stage.
type step func(qc *queryContext) resultCode

// HandleMessage is the forwarder's entry point, implementing §4.1's
// handle_message in its entirety.
func (f *Forwarder) HandleMessage(raw []byte, peer *PeerInfo) (out []byte) {
	if len(raw) < 12 {
		return nil
	}

	qc := &queryContext{
		fwd:   f,
		raw:   raw,
		peer:  peer,
		start: time.Now(),
		ev:    &ProcessedEvent{StartTime: time.Now(), Status: -1},
	}

	steps := []step{
		f.stepRetransmission,
		f.stepDecode,
		f.stepExtractQuestion,
		f.stepMozillaCanary,
		f.stepAccessControl,
		f.stepCacheLookup,
		f.stepPreResolutionFilter,
		f.stepDNSSECSetup,
		f.stepUpstreamExchange,
		f.stepDNSSECHandling,
		f.stepPostResolutionFilter,
		f.stepDNS64,
		f.stepECHStrip,
		f.stepTruncate,
	}

	for _, s := range steps {
		switch s(qc) {
		case resultSuccess:
			continue
		case resultFinish, resultError:
			return f.finish(qc)
		}
	}

	return f.finish(qc)
}

// finish deregisters any retransmission accounting, emits the processed
// event, and encodes the response, per step 15.
func (f *Forwarder) finish(qc *queryContext) (out []byte) {
	if qc.haveRetransmitKey {
		f.retransmitTable.Deregister(qc.retransmitKey)
	}

	qc.ev.Elapsed = time.Since(qc.start)
	qc.ev.BytesReceived = len(qc.raw)

	defer func() {
		metrics.Queries.WithLabelValues(resultLabel(qc.ev)).Inc()
		metrics.ObserveResponseTime(qc.ev.Elapsed)
	}()

	if qc.resp == nil {
		f.events.HandleProcessedEvent(qc.ev)

		return nil
	}

	qc.resp.Compress = true

	out, err := qc.resp.Pack()
	if err != nil {
		qc.ev.Error = err.Error()
		f.events.HandleProcessedEvent(qc.ev)

		return nil
	}

	qc.ev.Status = qc.resp.Rcode
	qc.ev.Answer = qc.resp
	qc.ev.BytesSent = len(out)
	f.events.HandleProcessedEvent(qc.ev)

	if qc.fwd.cache != nil && qc.cacheKey != (cache.Key{}) && !qc.ev.CacheHit {
		qc.fwd.cache.Put(qc.cacheKey, qc.resp, qc.ev.UpstreamID)
	}

	return out
}

// resultLabel maps a finished query's event onto one of
// [metrics.ResultNotFiltered] and friends, in priority order: an error
// outcome matters most, then a cache hit, then whether a filter rule
// matched at all.
func resultLabel(ev *ProcessedEvent) (label string) {
	switch {
	case ev.Error != "":
		return metrics.ResultError
	case ev.CacheHit:
		return metrics.ResultCached
	case ev.Rewritten:
		return metrics.ResultRewritten
	case len(ev.Rules) > 0:
		return metrics.ResultFiltered
	default:
		return metrics.ResultNotFiltered
	}
}

// stepRetransmission is §4.1 step 2.
func (f *Forwarder) stepRetransmission(qc *queryContext) resultCode {
	if !f.settings.EnableRetransmissionHandling || qc.peer == nil || qc.peer.Transport != TransportUDP {
		return resultSuccess
	}

	if len(qc.raw) < 2 {
		return resultSuccess
	}

	key := retransmit.Key{
		ID:   uint16(qc.raw[0])<<8 | uint16(qc.raw[1]),
		Peer: qc.peer.Addr.String(),
	}

	qc.retransmitKey = key
	qc.haveRetransmitKey = true

	if f.retransmitTable.Register(key) > 1 {
		qc.fallbackOnly = true
	}

	return resultSuccess
}

// stepDecode is §4.1 step 3.
func (f *Forwarder) stepDecode(qc *queryContext) resultCode {
	req := new(dns.Msg)
	if err := req.Unpack(qc.raw); err != nil {
		resp := new(dns.Msg)
		resp.SetRcodeFormatError(req)
		if len(qc.raw) >= 2 {
			resp.Id = uint16(qc.raw[0])<<8 | uint16(qc.raw[1])
		}

		qc.ev.Error = "decode error: " + err.Error()
		qc.resp = resp

		return resultFinish
	}

	qc.req = req
	qc.ev.Type = 0
	if len(req.Question) > 0 {
		qc.ev.Domain = req.Question[0].Name
		qc.ev.Type = req.Question[0].Qtype
	}

	return resultSuccess
}

// stepExtractQuestion is §4.1 step 4.
func (f *Forwarder) stepExtractQuestion(qc *queryContext) resultCode {
	if len(qc.req.Question) == 0 {
		qc.ev.Error = "decode error: no question section"
		qc.resp = dnsmsg.NewServerFailure(qc.req)

		return resultFinish
	}

	return resultSuccess
}

// stepMozillaCanary is §4.1 step 5.
func (f *Forwarder) stepMozillaCanary(qc *queryContext) resultCode {
	q := qc.req.Question[0]
	if (q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA) || q.Name != mozillaCanaryFQDN {
		return resultSuccess
	}

	qc.resp = dnsmsg.NewNXDomain(qc.req, f.settings.BlockedResponseTTL)

	return resultFinish
}

// stepAccessControl is the **(added)** client/domain access check ahead of
// cache lookup.
func (f *Forwarder) stepAccessControl(qc *queryContext) resultCode {
	if f.access == nil || qc.peer == nil {
		return resultSuccess
	}

	if f.access.Allow(qc.peer.Addr.Addr(), qc.req.Question[0].Name) {
		return resultSuccess
	}

	qc.ev.Error = "blocked by access control"
	qc.resp = dnsmsg.NewRefused(qc.req)

	return resultFinish
}

// stepCacheLookup is §4.1 step 6.
func (f *Forwarder) stepCacheLookup(qc *queryContext) resultCode {
	if f.cache == nil || !f.cache.Enabled() {
		return resultSuccess
	}

	qc.cacheKey = cache.KeyFor(qc.req)
	res := f.cache.Get(qc.cacheKey)
	if !res.Found {
		metrics.CacheLookups.WithLabelValues("miss").Inc()

		return resultSuccess
	}

	if !res.Expired || f.settings.OptimisticCache {
		resp := res.Response
		resp.Id = qc.req.Id
		resp.Question = qc.req.Question

		if qc.peer != nil && qc.peer.Transport == TransportUDP {
			resp = dnsmsg.Truncate(resp, qc.maxUDPSize())
		}

		qc.resp = resp
		qc.ev.CacheHit = true
		qc.ev.UpstreamID = res.UpstreamID

		outcome := "hit"
		if res.Expired {
			outcome = "hit_stale"

			go f.refreshCache(qc.req.Copy(), qc.cacheKey)
		}
		metrics.CacheLookups.WithLabelValues(outcome).Inc()

		return resultFinish
	}

	metrics.CacheLookups.WithLabelValues("hit_expired").Inc()

	return resultSuccess
}

// refreshCache re-runs the upstream exchange for req in the background and
// updates or evicts the cache entry, per step 6's optimistic-refresh rule.
func (f *Forwarder) refreshCache(req *dns.Msg, key cache.Key) {
	res, err := f.exchange(req, false)
	if err != nil {
		f.cache.Remove(key)

		return
	}

	f.cache.Put(key, res.Response, res.Upstream.ID)
}

// maxUDPSize returns the truncation ceiling for the current query: the
// client's advertised EDNS0 UDP size, or the configured default, or
// [dns.MinMsgSize], per §4.1 step 14.
func (qc *queryContext) maxUDPSize() (n int) {
	if qc.peer == nil || qc.peer.Transport != TransportUDP {
		return 0
	}

	if qc.peer.EDNSUDPSize > 0 {
		return qc.peer.EDNSUDPSize
	}

	if qc.fwd.settings.MaxEDNSUDPSize > 0 {
		return qc.fwd.settings.MaxEDNSUDPSize
	}

	return dns.MinMsgSize
}

// stepPreResolutionFilter is §4.1 step 7.
func (f *Forwarder) stepPreResolutionFilter(qc *queryContext) resultCode {
	q := qc.req.Question[0]

	var clientIP []byte
	if qc.peer != nil {
		if ip := qc.peer.Addr.Addr(); ip.IsValid() {
			clientIP = ip.AsSlice()
		}
	}

	var matched bool

	if f.filters != nil {
		var res filterengine.MatchResult
		if res, matched = f.filters.Match(q.Name, q.Qtype, clientIP); matched {
			dnsrewrites, leftovers := f.filters.Effective(res)
			if rc, done := f.applyEffectiveRules(qc, dnsrewrites, leftovers); done {
				return rc
			}
		}
	}

	if f.settings.BlockIPv6 && q.Qtype == dns.TypeAAAA && !matched {
		qc.resp = dnsmsg.NewEmptySOA(qc.req, f.settings.IPv6BlockingTTL)

		return resultFinish
	}

	return resultSuccess
}

// stepDNSSECSetup is §4.1 step 8.
func (f *Forwarder) stepDNSSECSetup(qc *queryContext) resultCode {
	if !f.settings.EnableDNSSECOK || dnsmsg.HasDO(qc.req) {
		return resultSuccess
	}

	dnsmsg.SetDO(qc.req)
	qc.isOurDOBit = true

	return resultSuccess
}

// stepUpstreamExchange is §4.1 step 9, delegating to the balancer (§4.2).
func (f *Forwarder) stepUpstreamExchange(qc *queryContext) resultCode {
	res, err := f.exchange(qc.req, qc.fallbackOnly)
	if err != nil {
		qc.ev.Error = err.Error()

		if !f.settings.EnableServfailOnUpstreamsFailure {
			return resultFinish
		}

		qc.resp = dnsmsg.NewServerFailure(qc.req)

		return resultFinish
	}

	qc.resp = res.Response
	qc.resp.Id = qc.req.Id
	qc.ev.UpstreamID = res.Upstream.ID
	qc.upstream = res.Upstream

	return resultSuccess
}

// exchange runs the balancer's fallback-gating and selection algorithm
// (§4.2 steps 1-4) for req.
func (f *Forwarder) exchange(req *dns.Msg, forceFallback bool) (res balancer.Result, err error) {
	useFallbacks := len(f.settings.Fallbacks) > 0 && (forceFallback || f.matchesFallbackDomain(req))

	return balancer.Exchange(f.baseCtx, req, f.settings.Upstreams, balancer.Options{
		UseFallbacks:            useFallbacks,
		Parallel:                f.settings.EnableParallelUpstreamQueries,
		EnableFallbackOnFailure: f.settings.EnableFallbackOnUpstreamsFailure,
		Fallbacks:               f.settings.Fallbacks,
	})
}

func (f *Forwarder) matchesFallbackDomain(req *dns.Msg) (ok bool) {
	if f.settings.FallbackDomains == nil || len(req.Question) == 0 {
		return false
	}

	_, matched := f.settings.FallbackDomains.Match(req.Question[0].Name, req.Question[0].Qtype, nil)

	return matched
}

// stepDNSSECHandling is §4.1 step 10.
func (f *Forwarder) stepDNSSECHandling(qc *queryContext) resultCode {
	if !f.settings.EnableDNSSECOK {
		return resultSuccess
	}

	qc.ev.DNSSEC = dnsmsg.HasRRSIG(qc.resp)

	if qc.isOurDOBit {
		dnsmsg.ScrubDNSSEC(qc.resp)
	}

	return resultSuccess
}

// stepPostResolutionFilter is §4.1 step 11.
func (f *Forwarder) stepPostResolutionFilter(qc *queryContext) resultCode {
	if f.filters == nil || qc.resp.Rcode != dns.RcodeSuccess {
		return resultSuccess
	}

	var clientIP []byte
	if qc.peer != nil {
		if ip := qc.peer.Addr.Addr(); ip.IsValid() {
			clientIP = ip.AsSlice()
		}
	}

	for _, rr := range qc.resp.Answer {
		var name string
		var qtype uint16

		switch v := rr.(type) {
		case *dns.CNAME:
			name, qtype = v.Target, dns.TypeCNAME
		case *dns.A:
			name, qtype = v.A.String(), dns.TypeA
		case *dns.AAAA:
			name, qtype = v.AAAA.String(), dns.TypeAAAA
		default:
			continue
		}

		res, matched := f.filters.Match(name, qtype, clientIP)
		if !matched {
			continue
		}

		dnsrewrites, leftovers := f.filters.Effective(res)
		if rc, done := f.applyEffectiveRules(qc, dnsrewrites, leftovers); done {
			return rc
		}
	}

	return resultSuccess
}

// stepDNS64 is §4.1 step 12.
func (f *Forwarder) stepDNS64(qc *queryContext) resultCode {
	if f.dns64 == nil || !f.dns64.Enabled() {
		return resultSuccess
	}

	dns64Req := f.dns64.CheckRequest(qc.req, qc.resp)
	if dns64Req == nil {
		return resultSuccess
	}

	if !f.loopGuard.Allow(dns64Req) {
		return resultSuccess
	}

	res, err := balancer.Exchange(f.baseCtx, dns64Req, balancer.Set{qc.upstream}, balancer.Options{})
	if err != nil {
		return resultSuccess
	}

	f.dns64.Synthesize(qc.req, qc.resp, res.Response)

	return resultSuccess
}

// stepECHStrip is §4.1 step 13.
func (f *Forwarder) stepECHStrip(qc *queryContext) resultCode {
	if f.settings.BlockECH {
		dnsmsg.StripECHSvcParam(qc.resp)
	}

	return resultSuccess
}

// stepTruncate is §4.1 step 14: truncation only ever applies to UDP
// responses.
func (f *Forwarder) stepTruncate(qc *queryContext) resultCode {
	if qc.peer != nil && qc.peer.Transport == TransportUDP {
		qc.resp = dnsmsg.Truncate(qc.resp, qc.maxUDPSize())
	}

	return resultSuccess
}
