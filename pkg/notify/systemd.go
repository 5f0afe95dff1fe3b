/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package notify

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
)

var ErrNotifySocketUnset = errors.New("NOTIFY_SOCKET is not set")

// SystemdNotifier sends READY=1 to the service manager. A missing
// NOTIFY_SOCKET is only an error when the notifier is required.
type SystemdNotifier struct {
	required bool
	send     func(unsetEnvironment bool, state string) (bool, error)
}

func NewSystemdNotifier(required bool) *SystemdNotifier {
	return &SystemdNotifier{
		required: required,
		send:     daemon.SdNotify,
	}
}

func (notifier *SystemdNotifier) Name() string {
	return "systemd"
}

func (notifier *SystemdNotifier) Notify() error {
	return notifier.notify(daemon.SdNotifyReady)
}

func (notifier *SystemdNotifier) Stopping() error {
	return notifier.notify(daemon.SdNotifyStopping)
}

func (notifier *SystemdNotifier) notify(state string) error {
	sent, err := notifier.send(false, state)
	if err != nil {
		return err
	}

	if !sent && notifier.required {
		return ErrNotifySocketUnset
	}

	return nil
}
