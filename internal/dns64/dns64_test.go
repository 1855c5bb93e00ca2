package dns64_test

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/dnsproxy-core/internal/dns64"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefixes_Default(t *testing.T) {
	prefixes, err := dns64.ParsePrefixes(nil)
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{dns64.WellKnownPrefix}, prefixes)
}

func TestParsePrefixes_Invalid(t *testing.T) {
	_, err := dns64.ParsePrefixes([]string{"10.0.0.0/8"})
	assert.Error(t, err, "IPv4 prefix should be rejected")

	_, err = dns64.ParsePrefixes([]string{"64:ff9b::/104"})
	assert.Error(t, err, "prefix longer than 96 bits should be rejected")
}

func TestState_CheckRequestAndSynthesize(t *testing.T) {
	prefixes, err := dns64.ParsePrefixes(nil)
	require.NoError(t, err)

	s := dns64.NewState(prefixes)
	assert.True(t, s.Enabled())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAAAA)

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Rcode = dns.RcodeSuccess

	dns64Req := s.CheckRequest(req, resp)
	require.NotNil(t, dns64Req)
	assert.Equal(t, dns.TypeA, dns64Req.Question[0].Qtype)

	dns64Resp := new(dns.Msg)
	dns64Resp.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   []byte{192, 0, 2, 1},
	}}

	ok := s.Synthesize(req, resp, dns64Resp)
	require.True(t, ok)
	require.Len(t, resp.Answer, 1)

	aaaa, ok := resp.Answer[0].(*dns.AAAA)
	require.True(t, ok)
	assert.True(t, dns64.WellKnownPrefix.Contains(netip.MustParseAddr(aaaa.AAAA.String())))
}

func TestState_Disabled(t *testing.T) {
	s := dns64.NewState(nil)
	assert.False(t, s.Enabled())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAAAA)
	resp := new(dns.Msg)
	resp.SetReply(req)

	assert.Nil(t, s.CheckRequest(req, resp))
}
