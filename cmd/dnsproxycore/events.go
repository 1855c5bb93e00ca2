package main

import (
	"github.com/AdguardTeam/dnsproxy-core/internal/forwarder"
	"github.com/AdguardTeam/golibs/log"
)

// logEventsConsumer logs every processed query at debug level. It is the
// default [forwarder.EventsConsumer] used when running as a standalone
// daemon rather than embedded in a larger program.
type logEventsConsumer struct{}

// HandleProcessedEvent implements the [forwarder.EventsConsumer] interface
// for logEventsConsumer.
func (logEventsConsumer) HandleProcessedEvent(ev *forwarder.ProcessedEvent) {
	if ev.Error != "" {
		log.Debug("query %s: type %d: error: %s", ev.Domain, ev.Type, ev.Error)

		return
	}

	log.Debug(
		"query %s: type %d: status %d, %d byte(s), %s, cached=%t",
		ev.Domain, ev.Type, ev.Status, ev.BytesReceived, ev.Elapsed, ev.CacheHit,
	)
}
