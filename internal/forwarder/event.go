package forwarder

import (
	"time"

	"github.com/miekg/dns"
)

// ProcessedEvent is the per-query record emitted exactly once on every
// terminal path, per §4.1.2.
type ProcessedEvent struct {
	Domain string
	Type   uint16

	StartTime time.Time
	Elapsed   time.Duration

	// Status is the response's rcode, or -1 if no response was produced.
	Status int

	Answer         *dns.Msg
	OriginalAnswer *dns.Msg

	UpstreamID string

	BytesSent     int
	BytesReceived int

	// Rules holds the unique matched rule texts, most-recent first.
	Rules         []string
	FilterListIDs []int
	Whitelist     bool
	Rewritten     bool
	Error         string
	CacheHit      bool
	DNSSEC        bool
}

// EventsConsumer receives a [ProcessedEvent] synchronously, before the
// encoded response bytes are handed back to the caller of [Forwarder.HandleMessage],
// matching §4.1.2's "invoked synchronously before bytes are handed back"
// rule.
type EventsConsumer interface {
	HandleProcessedEvent(ev *ProcessedEvent)
}

// NopEventsConsumer discards every event. Used when no embedder has
// registered a consumer.
type NopEventsConsumer struct{}

// HandleProcessedEvent implements the [EventsConsumer] interface for
// [NopEventsConsumer].
func (NopEventsConsumer) HandleProcessedEvent(*ProcessedEvent) {}
