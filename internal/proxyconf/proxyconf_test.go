package proxyconf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/dnsproxy-core/internal/proxyconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig() (c *proxyconf.Config) {
	return &proxyconf.Config{
		Upstreams: []string{"1.1.1.1"},
		Listeners: []proxyconf.Listener{{Network: "udp", Address: "127.0.0.1:53"}},
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, minimalConfig().Validate())
	})

	t.Run("no upstreams", func(t *testing.T) {
		c := minimalConfig()
		c.Upstreams = nil

		assert.Error(t, c.Validate())
	})

	t.Run("no listeners", func(t *testing.T) {
		c := minimalConfig()
		c.Listeners = nil

		assert.Error(t, c.Validate())
	})

	t.Run("bad listener network", func(t *testing.T) {
		c := minimalConfig()
		c.Listeners[0].Network = "icmp"

		assert.Error(t, c.Validate())
	})

	t.Run("bad blocking mode", func(t *testing.T) {
		c := minimalConfig()
		c.AdblockRulesBlockingMode = "BOGUS"

		assert.Error(t, c.Validate())
	})

	t.Run("dns64 without upstreams or prefixes", func(t *testing.T) {
		c := minimalConfig()
		c.DNS64.Enabled = true

		assert.Error(t, c.Validate())
	})

	t.Run("outbound proxy missing address", func(t *testing.T) {
		c := minimalConfig()
		c.OutboundProxy.Protocol = proxyconf.OutboundProxySOCKS5
		c.OutboundProxy.Port = 1080

		assert.Error(t, c.Validate())
	})

	t.Run("multiple violations joined", func(t *testing.T) {
		c := &proxyconf.Config{}

		err := c.Validate()
		require.Error(t, err)
		assert.ErrorContains(t, err, "upstreams")
		assert.ErrorContains(t, err, "listeners")
	})

	t.Run("duplicate upstream rejected", func(t *testing.T) {
		c := minimalConfig()
		c.Upstreams = []string{"1.1.1.1", "8.8.8.8", "1.1.1.1"}

		assert.ErrorContains(t, c.Validate(), "upstreams")
	})

	t.Run("duplicate filter list path rejected", func(t *testing.T) {
		c := minimalConfig()
		c.FilterParams.BlockListPaths = []string{"a.txt", "b.txt", "a.txt"}

		assert.ErrorContains(t, c.Validate(), "filter_params.block_list_paths")
	})
}

func TestConfig_Build(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		b, err := minimalConfig().Build()
		require.NoError(t, err)
		require.NotNil(t, b)

		assert.Len(t, b.Settings.Upstreams, 1)
		assert.Nil(t, b.Filters)
		assert.Nil(t, b.DNS64Discovery)
	})

	t.Run("fallback domains", func(t *testing.T) {
		c := minimalConfig()
		c.FallbackDomains = []string{"corp.example"}

		b, err := c.Build()
		require.NoError(t, err)
		require.NotNil(t, b.Settings.FallbackDomains)
	})

	t.Run("dns64 static prefixes", func(t *testing.T) {
		c := minimalConfig()
		c.DNS64.Enabled = true
		c.DNS64.Prefixes = []string{"64:ff9b::/96"}

		b, err := c.Build()
		require.NoError(t, err)
		assert.True(t, b.Settings.DNS64Enabled)
		assert.Nil(t, b.DNS64Discovery)
	})

	t.Run("dns64 discovery rejects a bad discovery upstream", func(t *testing.T) {
		c := minimalConfig()
		c.DNS64.Enabled = true
		c.DNS64.Upstreams = []string{"://not-a-valid-upstream"}

		_, err := c.Build()
		assert.Error(t, err)
	})

	t.Run("bad outbound proxy protocol rejected by Validate first", func(t *testing.T) {
		c := minimalConfig()
		c.OutboundProxy.Protocol = "BOGUS"

		_, err := c.Build()
		assert.Error(t, err)
	})

	t.Run("outbound proxy dialer constructed", func(t *testing.T) {
		c := minimalConfig()
		c.OutboundProxy.Protocol = proxyconf.OutboundProxySOCKS5
		c.OutboundProxy.Address = "proxy.example"
		c.OutboundProxy.Port = 1080

		b, err := c.Build()
		require.NoError(t, err)
		assert.NotNil(t, b.OutboundDialer)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	const doc = `
upstreams:
  - "1.1.1.1"
listeners:
  - network: udp
    address: "127.0.0.1:53"
dns_cache_size: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := proxyconf.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1"}, c.Upstreams)
	assert.Equal(t, 1000, c.DNSCacheSize)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstreams: [1, 2"), 0o644))

	_, err := proxyconf.Load(path)
	assert.Error(t, err)
}
