package balancer

import (
	"context"
	"sort"

	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/miekg/dns"
)

// errNoUpstreams is returned when a working set is empty, either because it
// started that way or because every member failed.
const errNoUpstreams errors.Error = "balancer: no upstreams available"

// raceFirstNonError launches one exchange per upstream in parallel and
// returns as soon as the first success arrives; the remaining goroutines
// keep running and their results drain into the buffered channel, never
// blocking on a send (Go's analogue of the original's "detached sibling"
// coroutines).
func raceFirstNonError(ctx context.Context, req *dns.Msg, set Set) (res Result, err error) {
	if len(set) == 0 {
		return Result{}, errNoUpstreams
	}

	results := make(chan Attempt, len(set))
	penalty := errorRTT(set)

	for _, u := range set {
		go func(u *upstream.Handle) {
			resp, exchErr := u.Exchange(req, penalty)
			recordExchange(u, exchErr)
			results <- Attempt{Upstream: u, Response: resp, Err: exchErr}
		}(u)
	}

	var lastErr error
	for i := 0; i < len(set); i++ {
		select {
		case a := <-results:
			if a.Err == nil {
				return Result{Response: a.Response, Upstream: a.Upstream}, nil
			}

			lastErr = a.Err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = errNoUpstreams
	}

	return Result{}, lastErr
}

// raceWaitAll launches one exchange per upstream in parallel, awaits every
// result, and returns the best-ranked one per §4.2 step 3's rank order.
func raceWaitAll(ctx context.Context, req *dns.Msg, set Set) (res Result, err error) {
	if len(set) == 0 {
		return Result{}, errNoUpstreams
	}

	results := make(chan Attempt, len(set))
	penalty := errorRTT(set)

	for _, u := range set {
		go func(u *upstream.Handle) {
			resp, exchErr := u.Exchange(req, penalty)
			recordExchange(u, exchErr)
			results <- Attempt{Upstream: u, Response: resp, Err: exchErr}
		}(u)
	}

	attempts := make([]Attempt, 0, len(set))
	for i := 0; i < len(set); i++ {
		select {
		case a := <-results:
			attempts = append(attempts, a)
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	best := bestAttempt(attempts)
	if best.Err != nil {
		return Result{}, best.Err
	}

	return Result{Response: best.Response, Upstream: best.Upstream}, nil
}

// bestAttempt picks the highest-ranked attempt: non-error beats error;
// among non-errors, NOERROR beats any other rcode; among NOERRORs, more
// answers wins; ties break arbitrarily (stable sort keeps input order).
func bestAttempt(attempts []Attempt) (best Attempt) {
	sort.SliceStable(attempts, func(i, j int) bool {
		return rank(attempts[i]) > rank(attempts[j])
	})

	return attempts[0]
}

// rank assigns a comparable score to an attempt per §4.2 step 3's order.
func rank(a Attempt) (score int) {
	if a.Err != nil {
		return 0
	}

	if a.Response == nil {
		return 1
	}

	if a.Response.Rcode != dns.RcodeSuccess {
		return 2
	}

	return 3 + len(a.Response.Answer)
}
