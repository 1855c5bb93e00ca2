package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/AdguardTeam/dnsproxy-core/internal/proxyconf"
	"github.com/AdguardTeam/dnsproxy-core/internal/proxycore"
	"github.com/AdguardTeam/golibs/log"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// daemon implements [service.Interface], so it can be run directly in the
// foreground or handed to the OS service manager through
// internal/svcmanager.
type daemon struct {
	opts *options

	mu        sync.Mutex
	proxy     *proxycore.Proxy
	listeners []io.Closer

	watcher    *proxyconf.Watcher
	metricsSrv *http.Server

	done chan struct{}
}

var _ service.Interface = (*daemon)(nil)

// Start implements [service.Interface]. It loads the configuration, builds
// the proxy core, opens every configured listener, and begins watching the
// config file for live reloads. It must return quickly; the actual serving
// happens on goroutines it spawns.
func (d *daemon) Start(service.Service) (err error) {
	d.done = make(chan struct{})

	cfg, err := proxyconf.Load(d.opts.confFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err = d.reload(cfg); err != nil {
		return err
	}

	d.startMetrics()
	writePID(d.opts.pidFile)

	watcher, err := proxyconf.WatchFile(d.opts.confFile)
	if err != nil {
		log.Error("watching %s for changes: %s, live reload disabled", d.opts.confFile, err)
	} else {
		d.watcher = watcher
		go d.watchLoop()
	}

	log.Info("dnsproxycore: started, serving %d listener(s)", len(d.listeners))

	return nil
}

// Stop implements [service.Interface]. It tears down the config watcher,
// every listener, the metrics server, and the proxy core, in that order.
func (d *daemon) Stop(service.Service) (err error) {
	close(d.done)
	removePID(d.opts.pidFile)

	if d.watcher != nil {
		_ = d.watcher.Close()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeListenersLocked()

	if d.metricsSrv != nil {
		_ = d.metricsSrv.Shutdown(context.Background())
	}

	if d.proxy != nil {
		_ = d.proxy.Close()
	}

	log.Info("dnsproxycore: stopped")

	return nil
}

// watchLoop applies every config update the watcher delivers until the
// daemon is stopped.
func (d *daemon) watchLoop() {
	for {
		select {
		case cfg, ok := <-d.watcher.Updates():
			if !ok {
				return
			}

			log.Info("dnsproxycore: reloading configuration")
			if err := d.reload(cfg); err != nil {
				log.Error("dnsproxycore: reload failed, keeping previous configuration: %s", err)
			}
		case <-d.done:
			return
		}
	}
}

// reload builds a new proxy core and listener set from cfg and swaps them
// in, closing whatever was running before.
func (d *daemon) reload(cfg *proxyconf.Config) (err error) {
	proxy, err := proxycore.New(cfg, logEventsConsumer{})
	if err != nil {
		return fmt.Errorf("building proxy: %w", err)
	}

	listeners, err := openListeners(cfg, proxy)
	if err != nil {
		_ = proxy.Close()

		return fmt.Errorf("opening listeners: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	oldProxy, oldListeners := d.proxy, d.listeners
	d.proxy, d.listeners = proxy, listeners

	d.closeListenersSlice(oldListeners)
	if oldProxy != nil {
		_ = oldProxy.Close()
	}

	return nil
}

// closeListenersLocked closes every currently-open listener. The caller
// must hold d.mu.
func (d *daemon) closeListenersLocked() {
	d.closeListenersSlice(d.listeners)
	d.listeners = nil
}

func (d *daemon) closeListenersSlice(listeners []io.Closer) {
	for _, l := range listeners {
		_ = l.Close()
	}
}

// startMetrics serves Prometheus metrics on opts.metricsAddr, if set.
func (d *daemon) startMetrics() {
	if d.opts.metricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	d.metricsSrv = &http.Server{Addr: d.opts.metricsAddr, Handler: mux}

	go func() {
		if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("dnsproxycore: metrics server: %s", err)
		}
	}()

	log.Info("dnsproxycore: serving metrics on %s", d.opts.metricsAddr)
}

// openListeners opens one net.PacketConn or net.Listener per entry in
// cfg.Listeners, and starts serving each in its own goroutine.
func openListeners(cfg *proxyconf.Config, proxy *proxycore.Proxy) (closers []io.Closer, err error) {
	closers = make([]io.Closer, 0, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		switch lc.Network {
		case "udp":
			var l *udpListener
			l, err = newUDPListener(lc.Address, proxy)
			if err != nil {
				closeAll(closers)

				return nil, fmt.Errorf("udp %s: %w", lc.Address, err)
			}

			closers = append(closers, l)
			go l.serve()
		case "tcp":
			var l *tcpListener
			l, err = newTCPListener(lc.Address, proxy)
			if err != nil {
				closeAll(closers)

				return nil, fmt.Errorf("tcp %s: %w", lc.Address, err)
			}

			closers = append(closers, l)
			go l.serve()
		default:
			closeAll(closers)

			return nil, fmt.Errorf("unsupported listener network %q", lc.Network)
		}
	}

	return closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
