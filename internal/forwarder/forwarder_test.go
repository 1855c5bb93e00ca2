package forwarder_test

import (
	"testing"

	"github.com/AdguardTeam/dnsproxy-core/internal/balancer"
	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
	"github.com/AdguardTeam/dnsproxy-core/internal/forwarder"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream/upstreamtest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	events []*forwarder.ProcessedEvent
}

func (r *recordingEvents) HandleProcessedEvent(ev *forwarder.ProcessedEvent) {
	r.events = append(r.events, ev)
}

func newQuery(name string, qtype uint16) (req *dns.Msg) {
	req = new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	req.RecursionDesired = true

	return req
}

func TestForwarder_HandleMessage_Success(t *testing.T) {
	fake := upstreamtest.New()
	h := upstream.New("fake", fake, false)

	ev := &recordingEvents{}
	fwd, err := forwarder.New(forwarder.Settings{
		Upstreams:     balancer.Set{h},
		CacheCapacity: 100,
	}, nil, nil, ev)
	require.NoError(t, err)

	req := newQuery("example.com", dns.TypeA)
	raw, err := req.Pack()
	require.NoError(t, err)

	out := fwd.HandleMessage(raw, &forwarder.PeerInfo{Transport: forwarder.TransportUDP})
	require.NotEmpty(t, out)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(out))
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, ev.events, 1)
	require.False(t, ev.events[0].CacheHit)

	// Second identical query should be served from cache.
	out2 := fwd.HandleMessage(raw, &forwarder.PeerInfo{Transport: forwarder.TransportUDP})
	require.NotEmpty(t, out2)
	require.Len(t, ev.events, 2)
	require.True(t, ev.events[1].CacheHit)
	require.Equal(t, 1, fake.AttemptCount())
}

func TestForwarder_HandleMessage_TooShort(t *testing.T) {
	fwd, err := forwarder.New(forwarder.Settings{}, nil, nil, nil)
	require.NoError(t, err)

	out := fwd.HandleMessage([]byte{0x01, 0x02}, nil)
	require.Nil(t, out)
}

func TestForwarder_HandleMessage_MozillaCanary(t *testing.T) {
	fwd, err := forwarder.New(forwarder.Settings{}, nil, nil, nil)
	require.NoError(t, err)

	req := newQuery("use-application-dns.net", dns.TypeA)
	raw, err := req.Pack()
	require.NoError(t, err)

	out := fwd.HandleMessage(raw, nil)
	require.NotEmpty(t, out)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(out))
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestForwarder_HandleMessage_Blocked(t *testing.T) {
	eng, err := filterengine.New([]filterengine.List{{
		ID:   1,
		Text: []byte("||blocked.example^\n"),
	}}, nil)
	require.NoError(t, err)

	fake := upstreamtest.New()
	h := upstream.New("fake", fake, false)

	fwd, err := forwarder.New(forwarder.Settings{
		Upstreams:                balancer.Set{h},
		AdblockRulesBlockingMode: filterengine.BlockingModeNXDomain,
	}, eng, nil, nil)
	require.NoError(t, err)

	req := newQuery("blocked.example", dns.TypeA)
	raw, err := req.Pack()
	require.NoError(t, err)

	out := fwd.HandleMessage(raw, nil)
	require.NotEmpty(t, out)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(out))
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Equal(t, 0, fake.AttemptCount())
}

func TestForwarder_HandleMessage_UpstreamFailureSilent(t *testing.T) {
	fake := upstreamtest.New(upstreamtest.WithPermanentFailure())
	h := upstream.New("fake", fake, false)

	fwd, err := forwarder.New(forwarder.Settings{
		Upstreams: balancer.Set{h},
	}, nil, nil, nil)
	require.NoError(t, err)

	req := newQuery("example.com", dns.TypeA)
	raw, err := req.Pack()
	require.NoError(t, err)

	out := fwd.HandleMessage(raw, nil)
	require.Nil(t, out)
}

func TestForwarder_HandleMessage_UpstreamFailureServfail(t *testing.T) {
	fake := upstreamtest.New(upstreamtest.WithPermanentFailure())
	h := upstream.New("fake", fake, false)

	fwd, err := forwarder.New(forwarder.Settings{
		Upstreams:                        balancer.Set{h},
		EnableServfailOnUpstreamsFailure: true,
	}, nil, nil, nil)
	require.NoError(t, err)

	req := newQuery("example.com", dns.TypeA)
	raw, err := req.Pack()
	require.NoError(t, err)

	out := fwd.HandleMessage(raw, nil)
	require.NotEmpty(t, out)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(out))
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}
