package main

import (
	"os"
	"strconv"

	"github.com/AdguardTeam/golibs/log"
)

// writePID writes the current process's PID to path, if path is non-empty.
func writePID(path string) {
	if path == "" {
		return
	}

	data := strconv.AppendInt(make([]byte, 0, 8), int64(os.Getpid()), 10)
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error("dnsproxycore: writing pidfile %s: %s", path, err)

		return
	}

	log.Debug("dnsproxycore: wrote pid to %s", path)
}

// removePID removes the PID file at path, if path is non-empty.
func removePID(path string) {
	if path == "" {
		return
	}

	if err := os.Remove(path); err != nil {
		log.Error("dnsproxycore: removing pidfile %s: %s", path, err)
	}
}
