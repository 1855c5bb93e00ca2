package loopguard_test

import (
	"testing"

	"github.com/AdguardTeam/dnsproxy-core/internal/loopguard"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func TestGuard_Allow(t *testing.T) {
	g := loopguard.New(0)

	req := new(dns.Msg)
	req.Id = 7
	req.SetQuestion("v4only.example.", dns.TypeA)

	assert.True(t, g.Allow(req))
	assert.False(t, g.Allow(req), "identical signature reissued")

	other := req.Copy()
	other.Id = 8
	assert.True(t, g.Allow(other), "different id is a different signature")
}
