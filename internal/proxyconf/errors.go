package proxyconf

import "github.com/AdguardTeam/golibs/errors"

// Sentinel errors [Config.Validate] and [Config.Build] wrap their failures
// in, matching the `init` error table of spec.md §6.1
// (`INVALID_IPV4/6`, `UPSTREAM_INIT_ERROR`, `FALLBACK_FILTER_INIT_ERROR`,
// `FILTER_LOAD_ERROR`). `LISTENER_INIT_ERROR` has no sentinel here, since
// this package opens no listeners. Callers use errors.Is to tell which init
// phase failed.
const (
	ErrInvalidIPv4 errors.Error = "invalid custom blocking ipv4 address"
	ErrInvalidIPv6 errors.Error = "invalid custom blocking ipv6 address"

	ErrUpstreamInit       errors.Error = "upstream initialization failed"
	ErrFallbackFilterInit errors.Error = "fallback domain filter initialization failed"
	ErrFilterLoad         errors.Error = "filter list load failed"
)
