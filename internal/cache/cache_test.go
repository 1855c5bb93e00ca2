package cache_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/cache"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(name string, ttl uint32) (resp *dns.Msg) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), dns.TypeA)

	resp = new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   []byte{1, 2, 3, 4},
	}}

	return resp
}

func TestCache_PutGet(t *testing.T) {
	c := cache.New(10)
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	key := cache.KeyFor(req)

	miss := c.Get(key)
	assert.False(t, miss.Found)

	c.Put(key, newResponse("example.com", 300), "upstream-1")

	res := c.Get(key)
	require.True(t, res.Found)
	assert.False(t, res.Expired)
	assert.Equal(t, "upstream-1", res.UpstreamID)
	require.Len(t, res.Response.Answer, 1)
	assert.LessOrEqual(t, res.Response.Answer[0].Header().Ttl, uint32(300))
}

func TestCache_Expired(t *testing.T) {
	c := cache.New(10)
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	key := cache.KeyFor(req)

	c.Put(key, newResponse("example.com", 1), "upstream-1")
	time.Sleep(1100 * time.Millisecond)

	res := c.Get(key)
	require.True(t, res.Found)
	assert.True(t, res.Expired)
}

func TestCache_ZeroTTLNotCached(t *testing.T) {
	c := cache.New(10)
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	key := cache.KeyFor(req)

	c.Put(key, newResponse("example.com", 0), "upstream-1")
	assert.False(t, c.Get(key).Found)
}

func TestCache_Disabled(t *testing.T) {
	c := cache.New(0)
	assert.False(t, c.Enabled())

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	key := cache.KeyFor(req)

	c.Put(key, newResponse("example.com", 300), "upstream-1")
	assert.False(t, c.Get(key).Found)
}

func TestCache_Remove(t *testing.T) {
	c := cache.New(10)
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	key := cache.KeyFor(req)

	c.Put(key, newResponse("example.com", 300), "upstream-1")
	require.True(t, c.Get(key).Found)

	c.Remove(key)
	assert.False(t, c.Get(key).Found)
}
