package balancer_test

import (
	"context"
	"testing"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/balancer"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream/upstreamtest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReq() (req *dns.Msg) {
	req = new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	return req
}

func TestExchange_SerialSuccess(t *testing.T) {
	good := upstream.New("good", upstreamtest.New(), false)
	bad := upstream.New("bad", upstreamtest.New(upstreamtest.WithPermanentFailure()), false)

	res, err := balancer.Exchange(context.Background(), newReq(), balancer.Set{bad, good}, balancer.Options{})
	require.NoError(t, err)
	assert.NotNil(t, res.Upstream)
}

func TestExchange_SerialExhaustsToFallback(t *testing.T) {
	bad := upstream.New("bad", upstreamtest.New(upstreamtest.WithPermanentFailure()), false)
	fallback := upstream.New("fallback", upstreamtest.New(), false)

	res, err := balancer.Exchange(context.Background(), newReq(), balancer.Set{bad}, balancer.Options{
		EnableFallbackOnFailure: true,
		Fallbacks:               balancer.Set{fallback},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Upstream.ID)
}

func TestExchange_ParallelFirstNonError(t *testing.T) {
	slow := upstream.New("slow", upstreamtest.New(upstreamtest.WithDelay(50*time.Millisecond)), false)
	fast := upstream.New("fast", upstreamtest.New(), false)

	res, err := balancer.Exchange(context.Background(), newReq(), balancer.Set{slow, fast}, balancer.Options{
		Parallel: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Upstream.ID)
}

func TestExchange_WaitAllFallbackRanking(t *testing.T) {
	empty := upstream.New("empty", upstreamtest.New(upstreamtest.WithNoAnswer()), false)
	withAnswer := upstream.New("with-answer", upstreamtest.New(), false)

	req := newReq()
	res, err := balancer.Exchange(context.Background(), req, nil, balancer.Options{
		UseFallbacks: true,
		Fallbacks:    balancer.Set{empty, withAnswer},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.NotEmpty(t, res.Response.Answer)
}

func TestExchange_NoUpstreams(t *testing.T) {
	_, err := balancer.Exchange(context.Background(), newReq(), nil, balancer.Options{})
	assert.Error(t, err)
}
