// Package balancer selects and races upstream resolvers for a single
// query, per §4.2–§4.2.1: a weighted-random serial path by default, and
// two parallel racing modes (wait-all, first-non-error) for fallback and
// opted-in parallel queries.
package balancer

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/metrics"
	"github.com/AdguardTeam/dnsproxy-core/internal/upstream"
	"github.com/miekg/dns"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Set is the pool the balancer chooses from: the primary upstreams or the
// fallback upstreams, selected by the caller's fallback-gating decision.
type Set []*upstream.Handle

// Attempt is the outcome of a single upstream exchange, used to rank
// parallel race results.
type Attempt struct {
	Upstream *upstream.Handle
	Response *dns.Msg
	Err      error
}

// Options configures [Exchange].
type Options struct {
	// UseFallbacks selects the wait-all race over fallbacks instead of the
	// serial weighted-random path over the primary set.
	UseFallbacks bool

	// Parallel additionally enables the first-non-error race over the
	// primary set when not using fallbacks.
	Parallel bool

	// EnableFallbackOnFailure performs a wait-all race over fallback when
	// the serial path exhausts every primary upstream.
	EnableFallbackOnFailure bool

	Fallbacks Set
}

// Result is what [Exchange] returns on success.
type Result struct {
	Response *dns.Msg
	Upstream *upstream.Handle
}

// Exchange resolves req against primary (or, per opts, the fallback set),
// following §4.2's selection algorithm.
func Exchange(ctx context.Context, req *dns.Msg, primary Set, opts Options) (res Result, err error) {
	if opts.UseFallbacks {
		return raceWaitAll(ctx, req, opts.Fallbacks)
	}

	if opts.Parallel {
		return raceFirstNonError(ctx, req, primary)
	}

	res, err = serialWeightedRandom(ctx, req, primary)
	if err == nil {
		return res, nil
	}

	if opts.EnableFallbackOnFailure && len(opts.Fallbacks) > 0 {
		return raceWaitAll(ctx, req, opts.Fallbacks)
	}

	return Result{}, err
}

// errorRTT is the per-attempt penalty passed to a failed exchange's RTT
// update, twice the slowest current estimate in the working set (or a
// fixed floor if nothing has an estimate yet).
func errorRTT(set Set) (d time.Duration) {
	var maxRTT time.Duration
	for _, u := range set {
		if rtt, ok := u.RTT(); ok && rtt > maxRTT {
			maxRTT = rtt
		}
	}

	if maxRTT == 0 {
		maxRTT = 500 * time.Millisecond
	}

	return 2 * maxRTT
}

// recordExchange reports one upstream exchange's outcome and, on success,
// its RTT to internal/metrics.
func recordExchange(u *upstream.Handle, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	metrics.UpstreamExchanges.WithLabelValues(u.Address(), outcome).Inc()

	if err == nil {
		if rtt, ok := u.RTT(); ok {
			metrics.ObserveUpstreamRTT(u.Address(), rtt)
		}
	}
}

// isTimeout reports whether err represents a client-abandoned timeout,
// which must not cascade to another upstream per §4.2 step 4.
func isTimeout(err error) (ok bool) {
	var netErr interface{ Timeout() bool }

	return err != nil && asTimeout(err, &netErr) && netErr.Timeout()
}

// asTimeout is a tiny errors.As shim kept local to avoid importing the
// stdlib errors package solely for this one check.
func asTimeout(err error, target *interface{ Timeout() bool }) (ok bool) {
	for err != nil {
		if t, ok := err.(interface{ Timeout() bool }); ok {
			*target = t

			return true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}

// serialWeightedRandom is the default selection path: cold-start upstreams
// (no RTT sample yet) go first, then weighted-random by inverse RTT,
// shrinking the working set on non-timeout failure.
func serialWeightedRandom(ctx context.Context, req *dns.Msg, set Set) (res Result, err error) {
	working := make(Set, len(set))
	copy(working, set)

	for len(working) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		idx := pickIndex(working)
		u := working[idx]

		resp, exchErr := u.Exchange(req, errorRTT(working))
		recordExchange(u, exchErr)
		if exchErr == nil {
			return Result{Response: resp, Upstream: u}, nil
		}

		if isTimeout(exchErr) {
			return Result{}, exchErr
		}

		err = exchErr
		working = append(working[:idx], working[idx+1:]...)
	}

	if err == nil {
		err = errNoUpstreams
	}

	return Result{}, err
}

// pickIndex returns the index of the next upstream to try: the first
// cold-start upstream found, or else a weighted-random sample by inverse
// RTT via gonum's discrete-distribution sampler.
func pickIndex(set Set) (idx int) {
	weights := make([]float64, len(set))
	for i, u := range set {
		rtt, ok := u.RTT()
		if !ok {
			return i
		}

		ms := float64(rtt) / float64(time.Millisecond)
		if ms <= 0 {
			ms = 1
		}

		weights[i] = 1 / ms
	}

	w := sampleuv.NewWeighted(weights, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	idx, _ = w.Take()

	return idx
}
