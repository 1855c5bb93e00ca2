package main

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/AdguardTeam/dnsproxy-core/internal/proxycore"
	"github.com/AdguardTeam/golibs/log"
)

// maxUDPPacketSize is the largest UDP datagram dnsproxycore will read. DNS
// over UDP with EDNS0 rarely exceeds 4096 bytes; this leaves generous
// headroom.
const maxUDPPacketSize = 65535

// udpListener serves DNS queries arriving as UDP datagrams on pc until
// Close is called.
type udpListener struct {
	pc    net.PacketConn
	proxy *proxycore.Proxy
}

func newUDPListener(addr string, proxy *proxycore.Proxy) (l *udpListener, err error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}

	return &udpListener{pc: pc, proxy: proxy}, nil
}

func (l *udpListener) Close() (err error) { return l.pc.Close() }

func (l *udpListener) serve() {
	buf := make([]byte, maxUDPPacketSize)
	for {
		n, addr, err := l.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			log.Debug("udp %s: read: %s", l.pc.LocalAddr(), err)

			continue
		}

		query := append([]byte(nil), buf[:n]...)
		go l.handle(query, addr)
	}
}

func (l *udpListener) handle(query []byte, addr net.Addr) {
	peer := &proxycore.PeerInfo{Transport: proxycore.TransportUDP}
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		peer.Addr = udpAddr.AddrPort()
	}

	resp := l.proxy.HandleMessage(query, peer)
	if resp == nil {
		return
	}

	if _, err := l.pc.WriteTo(resp, addr); err != nil {
		log.Debug("udp %s: write to %s: %s", l.pc.LocalAddr(), addr, err)
	}
}

// tcpListener serves DNS queries arriving over TCP connections on ln,
// using the two-byte length-prefix framing of RFC 1035 §4.2.2, until
// Close is called.
type tcpListener struct {
	ln    net.Listener
	proxy *proxycore.Proxy
}

func newTCPListener(addr string, proxy *proxycore.Proxy) (l *tcpListener, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &tcpListener{ln: ln, proxy: proxy}, nil
}

func (l *tcpListener) Close() (err error) { return l.ln.Close() }

func (l *tcpListener) serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			log.Debug("tcp %s: accept: %s", l.ln.Addr(), err)

			continue
		}

		go l.handleConn(conn)
	}
}

func (l *tcpListener) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	peer := &proxycore.PeerInfo{Transport: proxycore.TransportTCP}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		peer.Addr = tcpAddr.AddrPort()
	}

	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}

		query := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
		if _, err := io.ReadFull(conn, query); err != nil {
			return
		}

		resp := l.proxy.HandleMessage(query, peer)
		if resp == nil {
			return
		}

		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(resp)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			return
		}

		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}
