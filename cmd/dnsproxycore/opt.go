package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// options contains all command-line options for the dnsproxycore binary.
type options struct {
	// confFile is the path to the configuration file.
	confFile string

	// pidFile is the path to the file where to store the PID, if any.
	pidFile string

	// serviceAction is the service control action to perform: "install",
	// "uninstall", "start", "stop", "restart", or "" to run in the
	// foreground.
	serviceAction string

	// metricsAddr is the address to serve Prometheus metrics on, or empty
	// to disable the metrics endpoint.
	metricsAddr string

	// verbose, if true, enables debug-level logging.
	verbose bool

	// help, if true, prints the usage message and quits.
	help bool

	// version, if true, prints the version and quits.
	version bool
}

// newFlagSet builds the flag.FlagSet for cmdName, binding every field of
// opts.
func newFlagSet(cmdName string, opts *options) (flags *flag.FlagSet) {
	flags = flag.NewFlagSet(cmdName, flag.ContinueOnError)

	flags.StringVar(&opts.confFile, "config", "dnsproxycore.yaml", "Path to the config file.")
	flags.StringVar(&opts.confFile, "c", "dnsproxycore.yaml", "Path to the config file.")
	flags.StringVar(&opts.pidFile, "pidfile", "", "Path to the file where to store the PID.")
	flags.StringVar(
		&opts.serviceAction,
		"service",
		"",
		`Service control action: "install", "uninstall", "start", "stop", "restart".`,
	)
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on.")
	flags.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging.")
	flags.BoolVar(&opts.verbose, "v", false, "Enable verbose logging.")
	flags.BoolVar(&opts.help, "help", false, "Print this help message and quit.")
	flags.BoolVar(&opts.help, "h", false, "Print this help message and quit.")
	flags.BoolVar(&opts.version, "version", false, "Print the version and quit.")

	return flags
}

// parseOptions parses the command-line options for dnsproxycore.
func parseOptions(cmdName string, args []string) (opts *options, err error) {
	opts = &options{}
	flags := newFlagSet(cmdName, opts)
	flags.Usage = func() { usage(cmdName, os.Stderr) }

	if err = flags.Parse(args); err != nil {
		return nil, err
	}

	return opts, nil
}

// usage prints a usage message for cmdName to output.
func usage(cmdName string, output io.Writer) {
	_, _ = fmt.Fprintf(output, "Usage of %s:\n", cmdName)

	flags := newFlagSet(cmdName, &options{})
	flags.SetOutput(output)
	flags.PrintDefaults()
}

// Exit status constants.
const (
	exitSuccess       = 0
	exitFailure       = 1
	exitArgumentError = 2
)
