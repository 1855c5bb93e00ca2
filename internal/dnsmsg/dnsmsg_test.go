package dnsmsg_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/dnsmsg"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuery(name string, qtype uint16) (req *dns.Msg) {
	req = new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)

	return req
}

func TestNewNXDomain(t *testing.T) {
	req := newQuery("ads.example", dns.TypeA)
	resp := dnsmsg.NewNXDomain(req, 60)

	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Len(t, resp.Ns, 1)
	soa, ok := resp.Ns[0].(*dns.SOA)
	require.True(t, ok)
	assert.EqualValues(t, 60, soa.Hdr.Ttl)
}

func TestNewAddressBlock(t *testing.T) {
	req := newQuery("ads.example", dns.TypeA)
	resp := dnsmsg.NewAddressBlock(req, 10, nil, nil)

	require.Len(t, resp.Answer, 1)
	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.True(t, a.A.IsUnspecified())
}

func TestMinTTL(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Ttl: 300}},
		&dns.A{Hdr: dns.RR_Header{Ttl: 60}},
	}

	assert.EqualValues(t, 60, dnsmsg.MinTTL(msg))
}

func TestAgeTTL(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Ttl: 100}}}

	dnsmsg.AgeTTL(msg, 30*time.Second)
	assert.EqualValues(t, 70, msg.Answer[0].Header().Ttl)

	dnsmsg.AgeTTL(msg, time.Hour)
	assert.EqualValues(t, 1, msg.Answer[0].Header().Ttl)
}

func TestScrubDNSSEC(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Rrtype: dns.TypeA}},
		&dns.RRSIG{Hdr: dns.RR_Header{Rrtype: dns.TypeRRSIG}},
	}
	msg.SetEdns0(4096, true)

	dnsmsg.ScrubDNSSEC(msg)

	require.Len(t, msg.Answer, 1)
	assert.Equal(t, dns.TypeA, msg.Answer[0].Header().Rrtype)
	assert.False(t, msg.IsEdns0().Do())
}

func TestTruncate(t *testing.T) {
	req := newQuery("example.com", dns.TypeA)
	msg := dnsmsg.NewReply(req)
	for i := 0; i < 200; i++ {
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   []byte{1, 2, 3, byte(i)},
		})
	}

	out := dnsmsg.Truncate(msg, 512)
	assert.True(t, out.Truncated)
	assert.LessOrEqual(t, out.Len(), 512)
	assert.Less(t, len(out.Answer), len(msg.Answer))

	again := dnsmsg.Truncate(out, 512)
	assert.Equal(t, len(out.Answer), len(again.Answer))
}
