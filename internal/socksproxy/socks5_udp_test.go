package socksproxy_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/socksproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocks5UDPServer grants every UDP ASSOCIATE request its own relay UDP
// socket that echoes back whatever datagram it receives, and counts how
// many associations it has granted.
type fakeSocks5UDPServer struct {
	ln         net.Listener
	associates atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeSocks5UDPServer(t *testing.T) (s *fakeSocks5UDPServer) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s = &fakeSocks5UDPServer{ln: ln}
	go s.serve()

	t.Cleanup(func() {
		_ = ln.Close()
	})

	return s
}

func (s *fakeSocks5UDPServer) addr() (addr string) { return s.ln.Addr().String() }

func (s *fakeSocks5UDPServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

// closeControlConns forcibly closes every control connection accepted so
// far, simulating the proxy tearing down an association out from under the
// client.
func (s *fakeSocks5UDPServer) closeControlConns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *fakeSocks5UDPServer) handle(conn net.Conn) {
	defer conn.Close()

	methodReq := make([]byte, 3)
	if _, err := io.ReadFull(conn, methodReq); err != nil {
		return
	}

	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return
	}

	if err := discardAddrPort(conn, hdr[3]); err != nil {
		return
	}

	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		return
	}
	defer pc.Close()

	s.associates.Add(1)

	relay := pc.LocalAddr().(*net.UDPAddr)
	reply := []byte{0x05, 0x00, 0x00, 0x01}
	reply = append(reply, relay.IP.To4()...)
	reply = binary.BigEndian.AppendUint16(reply, uint16(relay.Port))
	if _, err = conn.Write(reply); err != nil {
		return
	}

	go echoUDP(pc)

	// Block until the control connection closes, mirroring the real
	// proxy's "closing control terminates the UDP peer" behavior.
	buf := make([]byte, 1)
	_, _ = conn.Read(buf)
}

// discardAddrPort consumes the variable-length address/port following a
// SOCKS5 request header's address type byte.
func discardAddrPort(conn net.Conn, atyp byte) (err error) {
	var addrLen int
	switch atyp {
	case 0x01:
		addrLen = net.IPv4len
	case 0x04:
		addrLen = net.IPv6len
	case 0x03:
		lenByte := make([]byte, 1)
		if _, err = io.ReadFull(conn, lenByte); err != nil {
			return err
		}

		addrLen = int(lenByte[0])
	}

	_, err = io.ReadFull(conn, make([]byte, addrLen+2))

	return err
}

// echoUDP relays every datagram received on pc back to its sender
// unmodified, header and all, simulating a proxy echoing a DNS upstream's
// reply back through the same Socks5UdpHeader framing.
func echoUDP(pc *net.UDPConn) {
	buf := make([]byte, 65535)
	for {
		n, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if _, err = pc.WriteToUDP(buf[:n], from); err != nil {
			return
		}
	}
}

func TestUDPAssociationPool_SharesOneAssociation(t *testing.T) {
	srv := newFakeSocks5UDPServer(t)

	pool, err := socksproxy.NewUDPAssociationPool(socksproxy.Config{
		Protocol: socksproxy.ProtocolSOCKS5,
		Address:  srv.addr(),
	}, "0.0.0.0:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var assoc1, assoc2 *socksproxy.UDPAssociation
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var aErr error
		assoc1, aErr = pool.Acquire(ctx)
		assert.NoError(t, aErr)
	}()
	go func() {
		defer wg.Done()
		var aErr error
		assoc2, aErr = pool.Acquire(ctx)
		assert.NoError(t, aErr)
	}()
	wg.Wait()

	require.NotNil(t, assoc1)
	require.NotNil(t, assoc2)
	require.Same(t, assoc1, assoc2, "two concurrent Acquires must share one association")
	assert.EqualValues(t, 1, srv.associates.Load())

	pool.Release(assoc1)
	pool.Release(assoc2)

	assoc3, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(assoc3)

	require.NotSame(t, assoc1, assoc3, "reissuing after the last release must start a new association")
	assert.EqualValues(t, 2, srv.associates.Load())
}

func TestUDPAssociation_SendReceiveRoundTrip(t *testing.T) {
	srv := newFakeSocks5UDPServer(t)

	pool, err := socksproxy.NewUDPAssociationPool(socksproxy.Config{
		Protocol: socksproxy.ProtocolSOCKS5,
		Address:  srv.addr(),
	}, "0.0.0.0:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assoc, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(assoc)

	payload := []byte("hello upstream")
	require.NoError(t, assoc.SendTo("93.184.216.34:53", payload))

	got, err := assoc.ReceiveFrom(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUDPAssociation_ControlClosedTerminatesPeer(t *testing.T) {
	srv := newFakeSocks5UDPServer(t)

	pool, err := socksproxy.NewUDPAssociationPool(socksproxy.Config{
		Protocol: socksproxy.ProtocolSOCKS5,
		Address:  srv.addr(),
	}, "0.0.0.0:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assoc, err := pool.Acquire(ctx)
	require.NoError(t, err)

	srv.closeControlConns()

	require.Eventually(t, func() bool {
		sendErr := assoc.SendTo("93.184.216.34:53", []byte("x"))

		return sendErr == socksproxy.ErrUDPAssociationTerminated
	}, 2*time.Second, 10*time.Millisecond, "control close must terminate the shared UDP peer")
}
