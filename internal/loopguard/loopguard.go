// Package loopguard protects internally-issued requests (DNS64 A-lookups,
// rewritten-CNAME lookups) from looping the forwarder against itself under
// a pathological rewrite or DNS64 configuration.  It is modelled on
// AdGuardHome's internal/dnsforward recursion detector, which solves the
// adjacent problem of detecting AdGuardHome querying itself, using the same
// signature-over-an-LRU approach.
package loopguard

import (
	"encoding/binary"

	"github.com/AdguardTeam/golibs/cache"
	"github.com/miekg/dns"
)

// defaultSize is the number of recently-issued internal message signatures
// remembered at once.
const defaultSize = 128

// Guard remembers recently issued internal request signatures and refuses
// to reissue an identical one.  The zero Guard is not usable; use [New].
type Guard struct {
	suspects cache.Cache
}

// New returns a new Guard that remembers up to size recent signatures.  A
// size of 0 uses a sensible default.
func New(size int) (g *Guard) {
	if size <= 0 {
		size = defaultSize
	}

	return &Guard{
		suspects: cache.New(cache.Config{
			EnableLRU: true,
			MaxCount:  uint(size),
		}),
	}
}

// Allow reports whether req may be issued as a new internal request, and
// records it if so.  A false return means a message with the exact same
// id and question was issued recently and is presumably still in flight or
// just answered; the caller must not reissue it.
func (g *Guard) Allow(req *dns.Msg) (ok bool) {
	sig := signature(req)
	if g.suspects.Get(sig) != nil {
		return false
	}

	g.suspects.Set(sig, []byte{1})

	return true
}

// signature packs a message's id and question into a comparable byte
// string, mirroring msgToSignature in the teacher's recursion detector.
func signature(m *dns.Msg) (sig []byte) {
	var q dns.Question
	if len(m.Question) > 0 {
		q = m.Question[0]
	}

	sig = make([]byte, 2+2+2+len(q.Name))
	binary.BigEndian.PutUint16(sig[0:2], m.Id)
	binary.BigEndian.PutUint16(sig[2:4], q.Qtype)
	binary.BigEndian.PutUint16(sig[4:6], q.Qclass)
	copy(sig[6:], q.Name)

	return sig
}
