/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/forwarder"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
	"github.com/Juice-Labs/session-proxy/pkg/sessionipc"
	"github.com/Juice-Labs/session-proxy/pkg/task"
)

// runIntake adopts the privileged clients the session manager hands over.
// It ends when the session socket closes; the listener keeps serving.
func (daemon *Daemon) runIntake(group task.Group) error {
	for {
		message, err := daemon.session.ReadMessage()
		if err != nil {
			if errors.Is(err, sessionipc.ErrInvalidMessage) {
				logger.Warningf("ignoring invalid message from the session manager: %v", err)
				continue
			}

			daemon.endIntake(group, err)
			return nil
		}

		switch message.Kind {
		case sessionipc.KindNewPrivilegedClient:
			if !daemon.adoptClients(message.Count) {
				return nil
			}

		case sessionipc.KindSetEnv:
			logger.Warning("ignoring set_env sent by the session manager")

		default:
			logger.Warningf("ignoring unknown session manager message %q", message.Kind)
		}
	}
}

// adoptClients receives count descriptors and forwards each one. It reports
// false when the session socket is gone.
func (daemon *Daemon) adoptClients(count int) bool {
	conns, err := daemon.session.ReceiveConns(count)
	if err != nil && len(conns) == 0 && forwarder.IsExpectedCloseError(err) {
		logger.Info("session socket closed while receiving clients")
		return false
	}
	if errors.Is(err, sessionipc.ErrInvalidMessage) {
		logger.Warningf("ignoring privileged client hand-over: %v", err)
		return true
	}
	if err != nil {
		logger.Warningf("receiving privileged clients: %v", err)
	}
	if len(conns) != count {
		logger.Warningf("session manager announced %d privileged clients, received %d", count, len(conns))
	}

	for _, conn := range conns {
		if err := daemon.Forwarder.Adopt(conn); err != nil {
			logger.Warningf("dropping privileged client: %v", err)
		}
	}

	return true
}

func (daemon *Daemon) endIntake(group task.Group, err error) {
	if group.Ctx().Err() != nil || forwarder.IsExpectedCloseError(err) {
		logger.Info("session socket closed, no more privileged clients will be handed over")
		return
	}

	logger.Warningf("session socket failed, no more privileged clients will be handed over: %v", err)
}
