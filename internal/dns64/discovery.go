package dns64

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
)

// Exchanger is the minimal upstream capability the discovery loop needs: a
// single synchronous exchange, satisfied by *upstream.Handle.
type Exchanger interface {
	Exchange(req *dns.Msg, errorRTT time.Duration) (resp *dns.Msg, err error)
}

// DiscoveryConfig configures [Discover], grounded on dns_forwarder.cpp's
// discover_dns64_prefixes parameters (max_tries, wait_time).
type DiscoveryConfig struct {
	// Upstream performs the ipv4only.arpa AAAA query.
	Upstream Exchanger

	// MaxTries bounds the number of discovery attempts. Zero means retry
	// forever until ctx is done.
	MaxTries uint32

	// WaitTime is the delay between failed attempts.
	WaitTime time.Duration
}

// wellKnownDiscoveryName is the RFC 7050 §3.1 discovery name.
const wellKnownDiscoveryName = "ipv4only.arpa."

// Discover performs the RFC 7050 §3.1 ipv4only.arpa AAAA lookup against
// cfg.Upstream, retrying up to cfg.MaxTries times (or until ctx is
// cancelled), and returns the NAT64 prefixes synthesized into the answer.
func Discover(ctx context.Context, cfg DiscoveryConfig) (prefixes []netip.Prefix, err error) {
	req := new(dns.Msg)
	req.SetQuestion(wellKnownDiscoveryName, dns.TypeAAAA)
	req.RecursionDesired = true

	var tries uint32
	for {
		tries++

		resp, exchErr := cfg.Upstream.Exchange(req, time.Second)
		if exchErr == nil {
			if prefixes = prefixesFromAnswer(resp); len(prefixes) > 0 {
				return prefixes, nil
			}

			log.Debug("dns64: discovery: no prefixes in %s response, retrying", wellKnownDiscoveryName)
		} else {
			log.Debug("dns64: discovery: attempt %d failed: %s", tries, exchErr)
		}

		if cfg.MaxTries != 0 && tries >= cfg.MaxTries {
			return nil, fmt.Errorf("dns64: discovery: exhausted %d attempts", cfg.MaxTries)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.WaitTime):
		}
	}
}

// prefixesFromAnswer derives a /96 NAT64 prefix from each AAAA record in
// resp by masking off the low 32 bits (the embedded ipv4only.arpa address),
// per RFC 7050 §3.1.
func prefixesFromAnswer(resp *dns.Msg) (prefixes []netip.Prefix) {
	if resp == nil {
		return nil
	}

	for _, rr := range resp.Answer {
		aaaa, ok := rr.(*dns.AAAA)
		if !ok {
			continue
		}

		addr, ok := netip.AddrFromSlice(aaaa.AAAA)
		if !ok || !addr.Is6() {
			continue
		}

		p := netip.PrefixFrom(addr, maxPrefixBitLen).Masked()
		prefixes = append(prefixes, p)
	}

	return prefixes
}

// Prefixer runs [Discover] in a background goroutine and installs the
// result into state once discovery succeeds, restoring the discovery
// coroutine dns_forwarder.cpp runs alongside its dns64::State (the teacher's
// dnsforward/dns64.go only wires static configuration, not discovery).
type Prefixer struct {
	state  *State
	cancel context.CancelFunc
	done   chan struct{}
}

// StartPrefixer launches the discovery loop against cfg.Upstream and
// installs discovered prefixes into state as soon as they arrive. Call
// [Prefixer.Stop] to cancel the loop, e.g. when the forwarder shuts down.
func StartPrefixer(state *State, cfg DiscoveryConfig) (p *Prefixer) {
	ctx, cancel := context.WithCancel(context.Background())
	p = &Prefixer{state: state, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)

		prefixes, err := Discover(ctx, cfg)
		if err != nil {
			log.Info("dns64: discovery: giving up: %s", err)

			return
		}

		state.setPrefixes(prefixes)
		log.Info("dns64: discovery: installed %d prefix(es)", len(prefixes))
	}()

	return p
}

// Stop cancels the discovery loop and waits for its goroutine to exit.
func (p *Prefixer) Stop() {
	p.cancel()
	<-p.done
}
