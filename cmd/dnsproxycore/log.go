package main

import "github.com/AdguardTeam/golibs/log"

// setLog configures the golibs/log package according to opts.
func setLog(opts *options) {
	if opts.verbose {
		log.SetLevel(log.DEBUG)
		log.Debug("dnsproxycore: verbose logging enabled")
	}
}
