// Package dnsmsg contains small, allocation-light helpers for building DNS
// response messages.  It complements, rather than replaces, the wire-format
// codec (github.com/miekg/dns): every helper here operates on an already
// decoded *dns.Msg.
package dnsmsg

import (
	"net"
	"time"

	"github.com/miekg/dns"
)

// NewReply returns a new reply message for req, with RD and CD copied from
// req and RA/AD not yet set.
func NewReply(req *dns.Msg) (resp *dns.Msg) {
	resp = new(dns.Msg)
	resp.SetReply(req)

	return resp
}

// NewRcode returns a reply to req with the given rcode and no answers.
func NewRcode(req *dns.Msg, rcode int) (resp *dns.Msg) {
	resp = NewReply(req)
	resp.Rcode = rcode

	return resp
}

// NewFormErr returns a FORMERR reply carrying req's Id.  req may not have
// parsed far enough for that Id to be trusted; callers that only have the
// raw id should set resp.Id directly afterwards.
func NewFormErr(req *dns.Msg) (resp *dns.Msg) {
	return NewRcode(req, dns.RcodeFormatError)
}

// NewServerFailure returns a SERVFAIL reply.
func NewServerFailure(req *dns.Msg) (resp *dns.Msg) {
	return NewRcode(req, dns.RcodeServerFailure)
}

// NewRefused returns a REFUSED reply.
func NewRefused(req *dns.Msg) (resp *dns.Msg) {
	return NewRcode(req, dns.RcodeRefused)
}

// NewNXDomain returns an NXDOMAIN reply carrying a negative-caching SOA in
// the authority section, with the given TTL.
func NewNXDomain(req *dns.Msg, ttl uint32) (resp *dns.Msg) {
	resp = NewRcode(req, dns.RcodeNameError)
	if len(req.Question) == 1 {
		resp.Ns = []dns.RR{genSOA(req.Question[0].Name, ttl)}
	}

	return resp
}

// NewEmptySOA returns a NOERROR reply with zero answers and a negative
// caching SOA in the authority section, with the given TTL.  Used for
// IPv6-blocking and DNS64-synthesis-failed responses.
func NewEmptySOA(req *dns.Msg, ttl uint32) (resp *dns.Msg) {
	resp = NewReply(req)
	resp.Rcode = dns.RcodeSuccess
	if len(req.Question) == 1 {
		resp.Ns = []dns.RR{genSOA(req.Question[0].Name, ttl)}
	}

	return resp
}

// genSOA builds a synthetic, negative-caching SOA record for owner.
func genSOA(owner string, ttl uint32) (rr *dns.SOA) {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   owner,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Ns:      "fake-for-negative-caching.dnsproxy-core.invalid.",
		Mbox:    "hostmaster.",
		Serial:  100500,
		Refresh: 1800,
		Retry:   900,
		Expire:  604800,
		Minttl:  ttl,
	}
}

// NewAddressBlock returns a NOERROR reply for an A/AAAA/other query per the
// "ADDRESS" blocking mode: an all-zeroes (or custom) address for A/AAAA
// questions, or an empty SOA otherwise.
func NewAddressBlock(req *dns.Msg, ttl uint32, v4, v6 net.IP) (resp *dns.Msg) {
	if len(req.Question) != 1 {
		return NewEmptySOA(req, ttl)
	}

	q := req.Question[0]
	switch q.Qtype {
	case dns.TypeA:
		ip := v4
		if ip == nil {
			ip = net.IPv4zero
		}

		resp = NewReply(req)
		resp.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   ip.To4(),
		}}

		return resp
	case dns.TypeAAAA:
		ip := v6
		if ip == nil {
			ip = net.IPv6zero
		}

		resp = NewReply(req)
		resp.Answer = []dns.RR{&dns.AAAA{
			Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
			AAAA: ip,
		}}

		return resp
	default:
		return NewEmptySOA(req, ttl)
	}
}

// MinTTL returns the smallest TTL across every RR in msg's answer, authority
// and additional sections.  It returns 0 if msg has no RRs at all.
func MinTTL(msg *dns.Msg) (ttl uint32) {
	first := true
	for _, set := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range set {
			h := rr.Header()
			if h.Rrtype == dns.TypeOPT {
				continue
			}

			if first || h.Ttl < ttl {
				ttl = h.Ttl
				first = false
			}
		}
	}

	return ttl
}

// SetMinTTL clamps every RR's TTL in msg to be at least min and at most max.
// A max of 0 means "no upper clamp".
func SetMinTTL(msg *dns.Msg, minTTL, maxTTL uint32) {
	for _, set := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range set {
			h := rr.Header()
			if h.Rrtype == dns.TypeOPT {
				continue
			}

			if h.Ttl < minTTL {
				h.Ttl = minTTL
			}

			if maxTTL > 0 && h.Ttl > maxTTL {
				h.Ttl = maxTTL
			}
		}
	}
}

// AgeTTL subtracts age from every RR's TTL in msg, floored at 1 second, to
// reflect time spent sitting in the cache.
func AgeTTL(msg *dns.Msg, age time.Duration) {
	sub := uint32(age / time.Second)
	for _, set := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range set {
			h := rr.Header()
			if h.Rrtype == dns.TypeOPT {
				continue
			}

			if h.Ttl <= sub {
				h.Ttl = 1
			} else {
				h.Ttl -= sub
			}
		}
	}
}

// HasDO reports whether req carries an EDNS0 OPT RR with the DO bit set.
func HasDO(req *dns.Msg) (ok bool) {
	opt := req.IsEdns0()

	return opt != nil && opt.Do()
}

// SetDO ensures req carries an EDNS0 OPT RR with the DO bit set, adding one
// if necessary.
func SetDO(req *dns.Msg) {
	opt := req.IsEdns0()
	if opt == nil {
		req.SetEdns0(dns.MinMsgSize, true)

		return
	}

	opt.SetDo()
}

// HasRRSIG reports whether msg carries any RRSIG record in any section.
func HasRRSIG(msg *dns.Msg) (ok bool) {
	for _, set := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range set {
			if rr.Header().Rrtype == dns.TypeRRSIG {
				return true
			}
		}
	}

	return false
}

// dnssecTypes are the RR types scrubbed from a response when the forwarder
// itself, rather than the client, set the DO bit to request DNSSEC data.
var dnssecTypes = map[uint16]bool{
	dns.TypeRRSIG:  true,
	dns.TypeNSEC:   true,
	dns.TypeNSEC3:  true,
	dns.TypeDNSKEY: true,
	dns.TypeDS:     true,
}

// ScrubDNSSEC removes RRSIG/NSEC/NSEC3/DNSKEY/DS records from every section
// of msg and clears the DO bit on its EDNS0 OPT RR, if any.
func ScrubDNSSEC(msg *dns.Msg) {
	msg.Answer = scrubSet(msg.Answer)
	msg.Ns = scrubSet(msg.Ns)
	msg.Extra = scrubSet(msg.Extra)

	if opt := msg.IsEdns0(); opt != nil {
		opt.SetDo(false)
	}
}

func scrubSet(rrs []dns.RR) (out []dns.RR) {
	out = make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if !dnssecTypes[rr.Header().Rrtype] {
			out = append(out, rr)
		}
	}

	return out
}

// StripECHSvcParam removes the "ech" SvcParamKey from every SVCB/HTTPS RR in
// msg's answer section.
func StripECHSvcParam(msg *dns.Msg) {
	for _, rr := range msg.Answer {
		var params *[]dns.SVCBKeyValue
		switch v := rr.(type) {
		case *dns.SVCB:
			params = &v.Value
		case *dns.HTTPS:
			params = &v.Value
		default:
			continue
		}

		filtered := (*params)[:0]
		for _, kv := range *params {
			if kv.Key() != dns.SVCB_ECHCONFIG {
				filtered = append(filtered, kv)
			}
		}
		*params = filtered
	}
}

// Truncate applies the stable truncation rule of §4.1.3: keep the header
// and question, keep answers in document order until the next one would
// overflow maxSize once re-encoded, then drop authority and additional and
// set TC.  A response that already fits is returned unchanged.
func Truncate(msg *dns.Msg, maxSize int) (truncated *dns.Msg) {
	if maxSize <= 0 {
		maxSize = dns.MinMsgSize
	}

	if msg.Len() <= maxSize {
		return msg
	}

	out := msg.Copy()
	out.Truncated = true
	out.Ns = nil
	out.Extra = nil

	kept := out.Answer[:0:0]
	base := out
	base.Answer = nil
	for _, rr := range msg.Answer {
		candidate := append(append([]dns.RR{}, kept...), rr)
		base.Answer = candidate
		if base.Len() > maxSize {
			break
		}

		kept = candidate
	}

	out.Answer = kept

	return out
}
