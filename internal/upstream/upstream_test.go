package upstream_test

import (
	"testing"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream/upstreamtest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_Exchange(t *testing.T) {
	fake := upstreamtest.New(upstreamtest.WithDelay(5 * time.Millisecond))
	h := upstream.New("fake-1", fake, false)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	_, ok := h.RTT()
	assert.False(t, ok, "handle with no exchanges yet should report no RTT")

	resp, err := h.Exchange(req, time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)

	d, ok := h.RTT()
	assert.True(t, ok)
	assert.Positive(t, d)
}

func TestHandle_ExchangeRetriesOnConnReset(t *testing.T) {
	fake := upstreamtest.New(upstreamtest.WithFailuresThenSuccess(1))
	h := upstream.New("fake-2", fake, false)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp, err := h.Exchange(req, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestHandle_ExchangeRecordsErrorRTT(t *testing.T) {
	fake := upstreamtest.New(upstreamtest.WithPermanentFailure())
	h := upstream.New("fake-3", fake, false)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	const errorRTT = 750 * time.Millisecond

	_, err := h.Exchange(req, errorRTT)
	require.Error(t, err)

	d, ok := h.RTT()
	require.True(t, ok)
	assert.Equal(t, errorRTT, d)
}
