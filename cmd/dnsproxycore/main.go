// Command dnsproxycore runs the DNS forwarding proxy as a standalone
// daemon, optionally installed as an OS service.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/dnsproxy-core/internal/svcmanager"
	"github.com/AdguardTeam/dnsproxy-core/internal/version"
	"github.com/AdguardTeam/golibs/log"
	"github.com/kardianos/service"
)

// serviceName identifies dnsproxycore to the OS service manager.
const serviceName = "dnsproxycore"

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) (exitCode int) {
	cmdName := filepath.Base(args[0])

	opts, err := parseOptions(cmdName, args[1:])
	if err != nil {
		return exitArgumentError
	}

	if opts.help {
		usage(cmdName, os.Stdout)

		return exitSuccess
	}

	if opts.version {
		fmt.Println(version.Full())

		return exitSuccess
	}

	setLog(opts)

	d := &daemon{opts: opts}

	exePath, err := os.Executable()
	if err != nil {
		log.Error("dnsproxycore: resolving executable path: %s", err)

		return exitFailure
	}

	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: "DNS Proxy Core",
		Description: "Recursive-style DNS forwarding proxy.",
		Executable:  exePath,
		Arguments:   []string{"-config", opts.confFile},
	}

	if opts.serviceAction != "" {
		mgr := svcmanager.New(&svcmanager.Config{
			Name:        svcConfig.Name,
			DisplayName: svcConfig.DisplayName,
			Description: svcConfig.Description,
			Executable:  svcConfig.Executable,
			Arguments:   svcConfig.Arguments,
		})

		if err = mgr.Perform(svcmanager.ActionName(opts.serviceAction)); err != nil {
			log.Error("dnsproxycore: service %s: %s", opts.serviceAction, err)

			return exitFailure
		}

		return exitSuccess
	}

	svc, err := service.New(d, svcConfig)
	if err != nil {
		log.Error("dnsproxycore: creating service: %s", err)

		return exitFailure
	}

	log.Info("dnsproxycore: version %s, pid %d", version.Version(), os.Getpid())

	if err = svc.Run(); err != nil {
		log.Error("dnsproxycore: %s", err)

		return exitFailure
	}

	return exitSuccess
}
