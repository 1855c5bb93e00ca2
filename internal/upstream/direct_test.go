package upstream_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughDialer dials addr directly, standing in for a real outbound
// proxy dialer in tests that only need to exercise the framing, not the
// handshake.
type passthroughDialer struct{}

func (passthroughDialer) DialContext(ctx context.Context, _, addr string) (conn net.Conn, err error) {
	var d net.Dialer

	return d.DialContext(ctx, "tcp", addr)
}

// serveOneTCPDNSQuery accepts a single connection on ln, reads one
// length-prefixed DNS query, and replies with a length-prefixed NOERROR
// response to the same question.
func serveOneTCPDNSQuery(t *testing.T, ln net.Listener) {
	t.Helper()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var lenBuf [2]byte
	_, err = io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)

	query := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	_, err = io.ReadFull(conn, query)
	require.NoError(t, err)

	req := new(dns.Msg)
	require.NoError(t, req.Unpack(query))

	resp := new(dns.Msg)
	resp.SetReply(req)

	raw, err := resp.Pack()
	require.NoError(t, err)

	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(raw)))
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)
}

func TestNewHandle_DirectTCPUpstream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOneTCPDNSQuery(t, ln)
	}()

	opts := upstream.Options{Timeout: 2 * time.Second, OutboundDialer: passthroughDialer{}}

	h, err := upstream.NewHandle("direct-1", "tcp://"+ln.Addr().String(), opts, false)
	require.NoError(t, err)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp, err := h.Exchange(req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)

	<-done
}

func TestNewHandle_NonTCPSchemeIgnoresOutboundDialer(t *testing.T) {
	opts := upstream.Options{OutboundDialer: passthroughDialer{}}

	// A bare address has no explicit "tcp://" scheme, so NewHandle must
	// build it through AddressToUpstream rather than the direct
	// transport, regardless of OutboundDialer being set.
	_, err := upstream.NewHandle("direct-2", "127.0.0.1:53", opts, false)
	require.NoError(t, err)
}
