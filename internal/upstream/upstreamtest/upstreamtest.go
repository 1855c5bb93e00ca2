// Package upstreamtest provides fake implementations of
// github.com/AdguardTeam/dnsproxy/upstream.Upstream for exercising the
// balancer and the upstream handle without a network, adapted from the
// teacher's internal/aghtest mock upstreams.
package upstreamtest

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
)

// Fake is a configurable stand-in for a real upstream resolver.
type Fake struct {
	mu sync.Mutex

	addr string

	delay time.Duration

	// failures is how many times in a row Exchange should fail with a
	// retriable error before succeeding.
	failures int

	// permanent, if true, makes every Exchange call fail with a
	// non-retriable error.
	permanent bool

	// noAnswer, if true, makes every successful Exchange reply with an
	// empty answer section.
	noAnswer bool

	attempts int
}

// Option configures a [Fake].
type Option func(*Fake)

// WithAddress sets the address [Fake.Address] reports.
func WithAddress(addr string) Option {
	return func(f *Fake) { f.addr = addr }
}

// WithDelay makes every successful Exchange sleep for d before replying, so
// that RTT samples are observably non-zero.
func WithDelay(d time.Duration) Option {
	return func(f *Fake) { f.delay = d }
}

// WithFailuresThenSuccess makes the first n calls to Exchange fail with a
// connection-reset error (see [upstream.isRetriable]), then succeed.
func WithFailuresThenSuccess(n int) Option {
	return func(f *Fake) { f.failures = n }
}

// WithPermanentFailure makes every call to Exchange fail with a
// non-retriable error.
func WithPermanentFailure() Option {
	return func(f *Fake) { f.permanent = true }
}

// WithNoAnswer makes every successful Exchange reply NOERROR with no
// answer records.
func WithNoAnswer() Option {
	return func(f *Fake) { f.noAnswer = true }
}

// New returns a new *Fake configured by opts.
func New(opts ...Option) (f *Fake) {
	f = &Fake{addr: "127.0.0.1:53"}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Address implements the upstream.Upstream interface for *Fake.
func (f *Fake) Address() (addr string) {
	return f.addr
}

// Close implements the upstream.Upstream interface for *Fake.
func (f *Fake) Close() (err error) {
	return nil
}

// Exchange implements the upstream.Upstream interface for *Fake.
func (f *Fake) Exchange(m *dns.Msg) (resp *dns.Msg, err error) {
	f.mu.Lock()
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	if f.permanent {
		return nil, fmt.Errorf("fake upstream: permanent failure")
	}

	if attempt <= f.failures {
		return nil, fmt.Errorf("fake upstream: %w", syscall.ECONNRESET)
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if len(m.Question) == 0 {
		return nil, fmt.Errorf("question should not be empty")
	}

	resp = new(dns.Msg).SetReply(m)
	q := m.Question[0]
	if q.Qtype == dns.TypeA && !f.noAnswer {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   []byte{127, 0, 0, 1},
		})
	}

	return resp, nil
}

// AttemptCount returns how many times Exchange has been called. It's safe
// for concurrent use.
func (f *Fake) AttemptCount() (n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}
