package filterengine_test

import (
	"testing"

	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_MatchBlockList(t *testing.T) {
	e, err := filterengine.New([]filterengine.List{{
		ID:   1,
		Text: []byte("||blocked.example^\n"),
	}}, nil)
	require.NoError(t, err)
	defer e.Close()

	res, ok := e.Match("blocked.example", dns.TypeA, nil)
	require.True(t, ok)

	_, leftovers := e.Effective(res)
	require.Len(t, leftovers, 1)
	assert.False(t, leftovers[0].Whitelist)

	_, ok = e.Match("example.com", dns.TypeA, nil)
	assert.False(t, ok)
}

func TestEngine_AllowListWins(t *testing.T) {
	e, err := filterengine.New(
		[]filterengine.List{{ID: 1, Text: []byte("||example.com^\n")}},
		[]filterengine.List{{ID: 2, Text: []byte("@@||example.com^\n")}},
	)
	require.NoError(t, err)
	defer e.Close()

	res, ok := e.Match("example.com", dns.TypeA, nil)
	require.True(t, ok)
	assert.True(t, res.Whitelist)
}

func TestIsValidRule(t *testing.T) {
	assert.True(t, filterengine.IsValidRule("||example.com^"))
	assert.True(t, filterengine.IsValidRule("0.0.0.0 example.com"))
	assert.False(t, filterengine.IsValidRule(""))
}

func TestBuildBlockingResponse(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("blocked.example.", dns.TypeA)

	resp := filterengine.BuildBlockingResponse(req, filterengine.BlockingConfig{
		Mode:       filterengine.BlockingModeAddress,
		BlockedTTL: 10,
	})
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.True(t, a.A.IsUnspecified())
}
