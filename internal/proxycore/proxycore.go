// Package proxycore implements the public API of §6.1: init/handle_message/
// get_settings/deinit, renamed to the idiomatic New/HandleMessage/Settings/
// Close. It is the thinnest possible wrapper over internal/forwarder and
// internal/proxyconf — proxycore owns construction and lifecycle, nothing
// about the forwarding pipeline itself.
package proxycore

import (
	"fmt"

	"github.com/AdguardTeam/dnsproxy-core/internal/forwarder"
	"github.com/AdguardTeam/dnsproxy-core/internal/proxyconf"
)

// PeerInfo and Transport are re-exported so embedders never need to import
// internal/forwarder directly.
type (
	PeerInfo  = forwarder.PeerInfo
	Transport = forwarder.Transport
)

const (
	TransportUDP = forwarder.TransportUDP
	TransportTCP = forwarder.TransportTCP
)

// EventsConsumer is re-exported for the same reason as [PeerInfo].
type EventsConsumer = forwarder.EventsConsumer

// Proxy is the constructed, running instance init/deinit describes:
// validated settings plus the upstreams, filters and background DNS64
// discovery loop init creates from them.
type Proxy struct {
	settings *proxyconf.Config
	fwd      *forwarder.Forwarder
}

// New validates settings, creates upstreams and filters, and starts DNS64
// discovery if configured, implementing §6.1's `init`. The errors
// proxyconf.Validate/Build return are wrapped with proxyconf's
// ErrInvalidIPv4/ErrInvalidIPv6/ErrUpstreamInit/ErrFallbackFilterInit/
// ErrFilterLoad sentinels, matching the original's error table; a failure
// to start a network listener (`LISTENER_INIT_ERROR`) is the caller's to
// report, since listening on settings.Listeners is cmd/dnsproxycore's job,
// not this package's.
func New(settings *proxyconf.Config, events EventsConsumer) (p *Proxy, err error) {
	built, err := settings.Build()
	if err != nil {
		return nil, fmt.Errorf("proxycore: init: %w", err)
	}

	fwd, err := forwarder.New(built.Settings, built.Filters, built.Access, events)
	if err != nil {
		return nil, fmt.Errorf("proxycore: init: %w", err)
	}

	if built.DNS64Discovery != nil {
		fwd.StartDNS64Discovery(*built.DNS64Discovery)
	}

	return &Proxy{settings: settings, fwd: fwd}, nil
}

// HandleMessage processes one raw DNS message, implementing §6.1's
// `handle_message`. An empty return means "do not send".
func (p *Proxy) HandleMessage(raw []byte, peer *PeerInfo) (out []byte) {
	return p.fwd.HandleMessage(raw, peer)
}

// Settings returns the settings document init was called with,
// implementing §6.1's `get_settings`.
func (p *Proxy) Settings() (s *proxyconf.Config) {
	return p.settings
}

// Close tears down the forwarder — stopping DNS64 discovery and releasing
// the filter engine — implementing §6.1's `deinit`. Shutting down any
// listeners built on top of HandleMessage is the caller's responsibility.
func (p *Proxy) Close() (err error) {
	return p.fwd.Close()
}
