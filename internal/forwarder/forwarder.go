// Package forwarder implements the DNS forwarding pipeline of §4.1: the
// ordered chain of steps from raw wire bytes in to raw wire bytes out,
// wiring together the cache, filter engine, upstream balancer, DNS64
// synthesizer, retransmission detector and loop guard built in sibling
// packages. It is modelled on the teacher's handleDNSRequest/modProcessFunc
// chain in internal/dnsforward/process.go, generalized to this fixed,
// non-pluggable step order.
package forwarder

import (
	"context"
	"net/netip"

	"github.com/AdguardTeam/dnsproxy-core/internal/cache"
	"github.com/AdguardTeam/dnsproxy-core/internal/dns64"
	"github.com/AdguardTeam/dnsproxy-core/internal/filterengine"
	"github.com/AdguardTeam/dnsproxy-core/internal/loopguard"
	"github.com/AdguardTeam/dnsproxy-core/internal/retransmit"
)

// Forwarder is a single configured forwarding pipeline. A Forwarder is safe
// for concurrent use by multiple goroutines, matching the teacher's
// *dnsforward.Server usage pattern under a single shared *proxy.Proxy.
type Forwarder struct {
	settings Settings

	cache           *cache.Cache
	filters         *filterengine.Engine
	access          *AccessControl
	dns64           *dns64.State
	dns64Prefixer   *dns64.Prefixer
	retransmitTable *retransmit.Table
	loopGuard       *loopguard.Guard

	events EventsConsumer

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New builds a Forwarder from settings. filters and access may be nil,
// disabling filtering and access control respectively. events may be nil,
// in which case a [NopEventsConsumer] is used.
func New(settings Settings, filters *filterengine.Engine, access *AccessControl, events EventsConsumer) (f *Forwarder, err error) {
	if events == nil {
		events = NopEventsConsumer{}
	}

	state := dns64.NewState(nil)
	if settings.DNS64Enabled {
		var prefixes []netip.Prefix
		prefixes, err = dns64.ParsePrefixes(settings.DNS64Prefixes)
		if err != nil {
			return nil, err
		}

		state = dns64.NewState(prefixes)
	}

	ctx, cancel := context.WithCancel(context.Background())

	f = &Forwarder{
		settings:        settings,
		cache:           cache.New(settings.CacheCapacity),
		filters:         filters,
		access:          access,
		dns64:           state,
		retransmitTable: retransmit.NewTable(),
		loopGuard:       loopguard.New(0),
		events:          events,
		baseCtx:         ctx,
		cancelBase:      cancel,
	}

	return f, nil
}

// StartDNS64Discovery starts the background RFC 7050 discovery loop that
// installs the forwarder's DNS64 prefixes once discovery succeeds, using
// cfg.Upstream for the `ipv4only.arpa` lookups. Call once after
// construction if discovery (rather than static prefixes) is desired.
func (f *Forwarder) StartDNS64Discovery(cfg dns64.DiscoveryConfig) {
	f.dns64Prefixer = dns64.StartPrefixer(f.dns64, cfg)
}

// Settings returns the forwarder's active settings snapshot, per §6.1's
// get_settings.
func (f *Forwarder) Settings() (s Settings) {
	return f.settings
}

// Close stops any background DNS64 discovery and releases the filter
// engine's rule storage, per §6.1's deinit.
func (f *Forwarder) Close() (err error) {
	f.cancelBase()

	if f.dns64Prefixer != nil {
		f.dns64Prefixer.Stop()
	}

	if f.filters != nil {
		err = f.filters.Close()
	}

	return err
}
