package proxyconf

import (
	"fmt"
	"net"

	"github.com/AdguardTeam/dnsproxy-core/internal/aghalg"
	"github.com/AdguardTeam/golibs/errors"
)

// checkUnique reports an error naming field if values contains any
// duplicate entry, using [aghalg.UniqChecker] the same way a settings
// validator dedups upstream addresses or filter-list paths.
func checkUnique(field string, values []string) (err error) {
	uc := aghalg.UniqChecker[string]{}
	uc.Add(values...)

	if err = uc.Validate(func(a, b string) (less bool) { return a < b }); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	return nil
}

// Validate checks c for internal consistency, collecting every violation
// found via [errors.Join] rather than stopping at the first one, modelled
// on the multi-section accumulation in internal/dnsforward/configvalidator.go
// (there applied to upstream liveness, here to the settings document
// itself).
func (c *Config) Validate() (err error) {
	var errs []error

	if len(c.Upstreams) == 0 {
		errs = append(errs, errors.Error("upstreams: at least one upstream is required"))
	}

	if err := checkUnique("upstreams", c.Upstreams); err != nil {
		errs = append(errs, err)
	}

	if err := checkUnique("fallbacks", c.Fallbacks); err != nil {
		errs = append(errs, err)
	}

	if err := checkUnique("filter_params.block_list_paths", c.FilterParams.BlockListPaths); err != nil {
		errs = append(errs, err)
	}

	if err := checkUnique("filter_params.allow_list_paths", c.FilterParams.AllowListPaths); err != nil {
		errs = append(errs, err)
	}

	if len(c.Listeners) == 0 {
		errs = append(errs, errors.Error("listeners: at least one listener is required"))
	}
	for i, l := range c.Listeners {
		switch l.Network {
		case "udp", "tcp":
		default:
			errs = append(errs, fmt.Errorf("listeners[%d]: network must be %q or %q, got %q", i, "udp", "tcp", l.Network))
		}
		if l.Address == "" {
			errs = append(errs, fmt.Errorf("listeners[%d]: address must not be empty", i))
		}
	}

	switch c.AdblockRulesBlockingMode {
	case "", BlockingModeRefused, BlockingModeNXDomain, BlockingModeAddress:
	default:
		errs = append(errs, fmt.Errorf("adblock_rules_blocking_mode: unknown mode %q", c.AdblockRulesBlockingMode))
	}

	switch c.HostsRulesBlockingMode {
	case "", BlockingModeRefused, BlockingModeNXDomain, BlockingModeAddress:
	default:
		errs = append(errs, fmt.Errorf("hosts_rules_blocking_mode: unknown mode %q", c.HostsRulesBlockingMode))
	}

	if c.CustomBlockingIPv4 != "" {
		if ip := net.ParseIP(c.CustomBlockingIPv4); ip == nil || ip.To4() == nil {
			errs = append(errs, fmt.Errorf("custom_blocking_ipv4: %w: %q", ErrInvalidIPv4, c.CustomBlockingIPv4))
		}
	}

	if c.CustomBlockingIPv6 != "" {
		if ip := net.ParseIP(c.CustomBlockingIPv6); ip == nil || ip.To4() != nil {
			errs = append(errs, fmt.Errorf("custom_blocking_ipv6: %w: %q", ErrInvalidIPv6, c.CustomBlockingIPv6))
		}
	}

	if c.DNSCacheSize < 0 {
		errs = append(errs, errors.Error("dns_cache_size: must not be negative"))
	}

	if c.DNS64.Enabled && len(c.DNS64.Upstreams) == 0 && len(c.DNS64.Prefixes) == 0 {
		errs = append(errs, errors.Error("dns64: enabled but neither upstreams nor prefixes are configured"))
	}

	switch c.OutboundProxy.Protocol {
	case OutboundProxyNone:
	case OutboundProxyHTTPConnect, OutboundProxyHTTPSConnect,
		OutboundProxySOCKS4, OutboundProxySOCKS5, OutboundProxySOCKS5UDP:
		if c.OutboundProxy.Address == "" {
			errs = append(errs, errors.Error("outbound_proxy: address is required when protocol is set"))
		}
		if c.OutboundProxy.Port == 0 {
			errs = append(errs, errors.Error("outbound_proxy: port is required when protocol is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("outbound_proxy: unknown protocol %q", c.OutboundProxy.Protocol))
	}

	return errors.Join(errs...)
}
