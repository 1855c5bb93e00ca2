// Package metrics exposes Prometheus counters and histograms for the
// forwarder pipeline, the upstream balancer and the outbound SOCKS proxy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels used by [Queries].
const (
	ResultNotFiltered = "not_filtered"
	ResultFiltered    = "filtered"
	ResultRewritten   = "rewritten"
	ResultError       = "error"
	ResultCached      = "cached"
)

// Queries tracks DNS queries handled by the forwarder, by processing
// result.
var Queries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dnsproxycore",
	Subsystem: "forwarder",
	Name:      "queries_total",
	Help:      "Total number of DNS queries by processing result.",
}, []string{"result"})

// ResponseTime tracks end-to-end query handling latency.
var ResponseTime = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "dnsproxycore",
	Subsystem: "forwarder",
	Name:      "response_time_seconds",
	Help:      "DNS query response time in seconds.",
	Buckets:   prometheus.ExponentialBuckets(0.00025, 2, 16),
})

// CacheLookups tracks cache lookups by whether they hit.
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dnsproxycore",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Total number of cache lookups by outcome.",
}, []string{"outcome"})

// UpstreamExchanges tracks per-upstream exchange outcomes.
var UpstreamExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dnsproxycore",
	Subsystem: "balancer",
	Name:      "upstream_exchanges_total",
	Help:      "Total number of upstream exchanges by upstream address and outcome.",
}, []string{"upstream", "outcome"})

// UpstreamRTT tracks observed upstream round-trip times.
var UpstreamRTT = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "dnsproxycore",
	Subsystem: "balancer",
	Name:      "upstream_rtt_seconds",
	Help:      "Observed upstream round-trip time in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"upstream"})

// SocksConnections tracks outbound SOCKS/HTTP-CONNECT connection state
// transitions.
var SocksConnections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dnsproxycore",
	Subsystem: "socksproxy",
	Name:      "connections_total",
	Help:      "Total number of outbound proxy connections by outcome.",
}, []string{"outcome"})

// ObserveResponseTime records the end-to-end handling time of one query.
func ObserveResponseTime(d time.Duration) {
	ResponseTime.Observe(d.Seconds())
}

// ObserveUpstreamRTT records an observed round-trip time for upstream.
func ObserveUpstreamRTT(upstream string, d time.Duration) {
	UpstreamRTT.WithLabelValues(upstream).Observe(d.Seconds())
}
