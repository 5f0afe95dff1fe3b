/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package notify

import (
	"github.com/Juice-Labs/session-proxy/pkg/sessionipc"
)

type MessageWriter interface {
	WriteMessage(message sessionipc.Message) error
}

// SessionNotifier reports readiness to the session manager by sending the
// environment clients need to reach the compositor.
type SessionNotifier struct {
	writer MessageWriter
	names  []string
	lookup func(string) (string, bool)
}

// NewSessionNotifier sends the variables named in names, resolved through
// lookup at notify time. Unset and empty variables are left out.
func NewSessionNotifier(writer MessageWriter, names []string, lookup func(string) (string, bool)) *SessionNotifier {
	return &SessionNotifier{
		writer: writer,
		names:  names,
		lookup: lookup,
	}
}

func (notifier *SessionNotifier) Name() string {
	return "session"
}

func (notifier *SessionNotifier) Variables() map[string]string {
	variables := make(map[string]string, len(notifier.names))
	for _, name := range notifier.names {
		if value, ok := notifier.lookup(name); ok && value != "" {
			variables[name] = value
		}
	}

	return variables
}

func (notifier *SessionNotifier) Notify() error {
	return notifier.writer.WriteMessage(sessionipc.SetEnv(notifier.Variables()))
}
