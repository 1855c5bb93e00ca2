// Package upstream wraps github.com/AdguardTeam/dnsproxy/upstream.Upstream
// with the RTT bookkeeping the balancer (§4.2) needs: every handle tracks a
// short history of recent round-trip times and exposes a single
// rtt_estimate, updated after every completed attempt, success or failure,
// before the result is handed back to the caller.
package upstream

import (
	"errors"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/aghalg"
	dnsupstream "github.com/AdguardTeam/dnsproxy/upstream"
	"github.com/miekg/dns"
)

// rttHistory is how many recent RTT samples are kept per handle.  Only the
// most recent sample is currently read back (see [Handle.RTT]); the window
// exists so a future smoothing strategy (e.g. trimmed mean) has the data
// without changing the handle's shape again.
const rttHistory = 8

// Handle wraps a configured upstream resolver with an id and a running RTT
// estimate, as described by the Data Model's "Upstream handle".
type Handle struct {
	// ID identifies this upstream in cache entries and processed events.
	ID string

	// IgnoreOutboundProxy is true if this upstream must never be dialed
	// through the configured outbound SOCKS/CONNECT proxy, even when one
	// is configured globally.
	IgnoreOutboundProxy bool

	u dnsupstream.Upstream

	mu      sync.Mutex
	history *aghalg.RingBuffer[time.Duration]
	hasRTT  bool
}

// New returns a new Handle wrapping u, identified by id.
func New(id string, u dnsupstream.Upstream, ignoreOutboundProxy bool) (h *Handle) {
	return &Handle{
		ID:                  id,
		IgnoreOutboundProxy: ignoreOutboundProxy,
		u:                   u,
		history:             aghalg.NewRingBuffer[time.Duration](rttHistory),
	}
}

// Address returns the upstream's configured address, for logging and
// events.
func (h *Handle) Address() (addr string) {
	return h.u.Address()
}

// Close releases any resources held by the underlying upstream (e.g.
// pooled connections).
func (h *Handle) Close() (err error) {
	return h.u.Close()
}

// RTT returns the most recent RTT estimate and whether one has been
// recorded yet.  A handle that has never completed an attempt has no
// estimate, which the balancer's cold-start rule treats specially.
func (h *Handle) RTT() (d time.Duration, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasRTT {
		return 0, false
	}

	var last time.Duration
	h.history.ReverseRange(func(v time.Duration) (cont bool) {
		last = v

		return false
	})

	return last, true
}

// recordRTT appends d to the handle's history.  Called after every
// completed attempt, success or failure, before the result reaches the
// caller, satisfying invariant 6 of §8.
func (h *Handle) recordRTT(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.Append(d)
	h.hasRTT = true
}

// Exchange performs a single attempt against the wrapped upstream,
// following §4.2.1: a CONNECTION_CLOSED-shaped error is retried exactly
// once, and the RTT estimate is updated with the measured elapsed time on
// success or errorRTT on failure, before returning.
func (h *Handle) Exchange(req *dns.Msg, errorRTT time.Duration) (resp *dns.Msg, err error) {
	start := time.Now()
	resp, err = h.u.Exchange(req)
	if err != nil && isRetriable(err) {
		resp, err = h.u.Exchange(req)
	}

	if err != nil {
		h.recordRTT(errorRTT)

		return nil, err
	}

	h.recordRTT(time.Since(start))

	return resp, nil
}

// isRetriable reports whether err looks like a transient connection drop
// worth one immediate retry, mirroring the CONNECTION_CLOSED/CURL_ERROR
// retry rule of §4.2.1.  The concrete transports in this corpus surface
// such failures as plain I/O errors rather than a tagged error kind, so
// this is a best-effort check for io.EOF, io.ErrUnexpectedEOF and
// ECONNRESET.
func isRetriable(err error) (ok bool) {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET)
}
