/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"github.com/Juice-Labs/session-proxy/cmd/session-proxy/prometheus"
	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/forwarder"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
	"github.com/Juice-Labs/session-proxy/pkg/notify"
	"github.com/Juice-Labs/session-proxy/pkg/server"
	"github.com/Juice-Labs/session-proxy/pkg/sessionipc"
	"github.com/Juice-Labs/session-proxy/pkg/task"
	"github.com/Juice-Labs/session-proxy/pkg/utilities"
)

// Daemon owns the forwarder and everything around it: readiness, the
// session manager socket and the optional status server.
type Daemon struct {
	config Config

	state *utilities.ConcurrentVariable[State]

	Forwarder *forwarder.Forwarder
	Readiness *notify.Readiness
	Collector *prometheus.Collector
	Server    *server.Server

	session *sessionipc.Conn
}

func NewDaemon(config Config) (*Daemon, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	daemon := &Daemon{
		config: config,
		state:  utilities.NewConcurrentVariableD(StateInitializing),
		Forwarder: forwarder.New(forwarder.Config{
			ListenPath:   config.ListenPath,
			UpstreamPath: config.UpstreamPath,
			DialTimeout:  config.DialTimeout,
			DrainTimeout: config.DrainTimeout,
			IdleTimeout:  config.IdleTimeout,
		}),
		Collector: prometheus.NewCollector(),
	}
	daemon.Forwarder.AddObserver(daemon.Collector)

	var notifiers []notify.Notifier

	if config.SessionFd >= 0 {
		session, err := sessionipc.FromFd(config.SessionFd)
		if err != nil {
			logger.Warningf("continuing without the session manager: %v", err)
		} else {
			daemon.session = session
			notifiers = append(notifiers, notify.NewSessionNotifier(session, config.EnvVars, config.Announced()))
		}
	}

	switch config.SystemdNotify {
	case NotifyAuto:
		notifiers = append(notifiers, notify.NewSystemdNotifier(false))
	case NotifyAlways:
		notifiers = append(notifiers, notify.NewSystemdNotifier(true))
	}

	daemon.Readiness = notify.NewReadiness(notifiers...)

	if config.MetricsAddress != "" {
		statusServer, err := server.NewServer(config.MetricsAddress, nil)
		if err != nil {
			daemon.closeSession()
			return nil, errors.ErrConfiguration.Wrapf("metrics address %s: %w", config.MetricsAddress, err)
		}

		daemon.Server = statusServer
		daemon.initializeEndpoints()
	}

	return daemon, nil
}

func (daemon *Daemon) State() State {
	return daemon.state.Get()
}

func (daemon *Daemon) setState(state State) {
	previous := daemon.state.Swap(state)
	if previous != state {
		logger.Debugf("state %s -> %s", previous, state)
	}
}

func (daemon *Daemon) fail(err error) error {
	daemon.setState(StateFailed)
	daemon.closeSession()
	return err
}

// Run binds the privileged socket, announces readiness and forwards until
// the group is cancelled, then drains. Startup failures are returned and
// cancel the group.
func (daemon *Daemon) Run(group task.Group) error {
	if err := daemon.Forwarder.Listen(); err != nil {
		return daemon.fail(err)
	}

	if daemon.Server != nil {
		if err := daemon.Server.Listen(); err != nil {
			daemon.Forwarder.Stop()
			return daemon.fail(errors.ErrBind.Wrapf("metrics address %s: %w", daemon.config.MetricsAddress, err))
		}
	}

	daemon.setState(StateListening)

	group.GoFn("Forwarder Serve", func(group task.Group) error {
		return daemon.Forwarder.Serve()
	})

	if daemon.Server != nil {
		if err := daemon.Server.Run(group); err != nil {
			daemon.Forwarder.Stop()
			return daemon.fail(err)
		}
	}

	if err := daemon.Readiness.Notify(); err != nil {
		logger.Warning(err)
	}
	daemon.setState(StateReady)
	logger.Infof("ready, forwarding %s to %s", daemon.config.ListenPath, daemon.config.UpstreamPath)

	if daemon.session != nil {
		group.GoFn("Session Intake", daemon.runIntake)
	}

	<-group.Ctx().Done()

	daemon.setState(StateShuttingDown)
	logger.Info("shutting down, no longer accepting clients")

	if err := daemon.Readiness.Stopping(); err != nil {
		logger.Debug(err)
	}

	err := daemon.Forwarder.Stop()
	daemon.closeSession()
	daemon.Forwarder.Wait()

	daemon.setState(StateStopped)
	logger.Info("stopped")

	return err
}

func (daemon *Daemon) closeSession() {
	if daemon.session != nil {
		daemon.session.Close()
	}
}
