// Package svcmanager contains abstractions for platform-independent service
// management, backed by [service.Service].
package svcmanager

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/kardianos/service"
)

// ActionName is the type for actions' names.
type ActionName string

// Valid ActionName values.
const (
	ActionNameInstall   ActionName = "install"
	ActionNameRestart   ActionName = "restart"
	ActionNameStart     ActionName = "start"
	ActionNameStop      ActionName = "stop"
	ActionNameUninstall ActionName = "uninstall"
)

// Status represents the status of a service.
type Status string

// Valid Status values.
const (
	StatusNotInstalled Status = "not installed"
	StatusStopped      Status = "stopped"
	StatusRunning      Status = "running"
)

// Config describes the service to manage.  Name and Executable must not be
// empty.
type Config struct {
	// Name is the service's unique name, used as the service's Unix unit
	// name or Windows service name.
	Name string

	// DisplayName is the service's human-readable name.
	DisplayName string

	// Description describes the service's purpose.
	Description string

	// Executable is the absolute path to the binary to run.
	Executable string

	// Arguments are the command-line arguments passed to Executable.
	Arguments []string
}

func (c *Config) toServiceConfig() *service.Config {
	return &service.Config{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Executable:  c.Executable,
		Arguments:   c.Arguments,
	}
}

// Manager performs service actions through the OS service manager.
type Manager struct {
	conf *Config
}

// New returns a new Manager for conf.  conf must not be nil.
func New(conf *Config) (m *Manager) {
	return &Manager{conf: conf}
}

// Perform performs the named action.
func (m *Manager) Perform(name ActionName) (err error) {
	svc, err := service.New(emptyInterface{}, m.conf.toServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	switch name {
	case ActionNameInstall:
		err = svc.Install()
	case ActionNameRestart:
		err = svc.Restart()
	case ActionNameStart:
		err = svc.Start()
	case ActionNameStop:
		err = svc.Stop()
	case ActionNameUninstall:
		err = svc.Uninstall()
	default:
		return fmt.Errorf("action: %w: %q", errors.ErrBadEnumValue, name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// Status returns the current status of the configured service.
func (m *Manager) Status() (st Status, err error) {
	svc, err := service.New(emptyInterface{}, m.conf.toServiceConfig())
	if err != nil {
		return "", fmt.Errorf("creating service: %w", err)
	}

	svcStatus, err := svc.Status()
	if err != nil {
		if errors.Is(err, service.ErrNotInstalled) {
			return StatusNotInstalled, nil
		}

		return "", fmt.Errorf("getting service status: %w", err)
	}

	switch svcStatus {
	case service.StatusRunning:
		return StatusRunning, nil
	case service.StatusStopped:
		return StatusStopped, nil
	default:
		return "", fmt.Errorf("service status: %w: %v", errors.ErrBadEnumValue, svcStatus)
	}
}

// emptyInterface is a no-op implementation of [service.Interface].  It
// exists because this manager only drives install/start/stop/status
// actions from the CLI; the actual Start/Stop hooks used when the OS
// service manager runs the daemon itself are supplied by cmd/dnsproxycore.
type emptyInterface struct{}

func (emptyInterface) Start(service.Service) error { return nil }
func (emptyInterface) Stop(service.Service) error  { return nil }
