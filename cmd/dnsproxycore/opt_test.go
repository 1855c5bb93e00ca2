package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions("dnsproxycore", []string{"-config", "test.yaml", "-verbose"})
	require.NoError(t, err)
	assert.Equal(t, "test.yaml", opts.confFile)
	assert.True(t, opts.verbose)
	assert.False(t, opts.help)
}

func TestParseOptions_ServiceAction(t *testing.T) {
	opts, err := parseOptions("dnsproxycore", []string{"-service", "install"})
	require.NoError(t, err)
	assert.Equal(t, "install", opts.serviceAction)
}

func TestParseOptions_BadFlag(t *testing.T) {
	_, err := parseOptions("dnsproxycore", []string{"-not-a-real-flag"})
	assert.Error(t, err)
}
