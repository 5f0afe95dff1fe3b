/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */

// Package notify tells whoever launched the daemon that the privileged
// socket is accepting connections.
package notify

import (
	"fmt"
	"sync/atomic"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

type Notifier interface {
	Name() string
	Notify() error
}

// Stopper is implemented by backends that also announce shutdown.
type Stopper interface {
	Stopping() error
}

// Readiness delivers the readiness signal to every backend at most once per
// process. Delivery is fire-and-forget; a failing backend is reported but
// never retried.
type Readiness struct {
	notifiers []Notifier
	notified  atomic.Bool
	stopping  atomic.Bool
}

func NewReadiness(notifiers ...Notifier) *Readiness {
	return &Readiness{
		notifiers: notifiers,
	}
}

func (readiness *Readiness) Notified() bool {
	return readiness.notified.Load()
}

// Notify signals every backend. Calls after the first are no-ops. The
// returned error wraps ErrNotify and joins every backend failure.
func (readiness *Readiness) Notify() error {
	if !readiness.notified.CompareAndSwap(false, true) {
		return nil
	}

	var result error
	for _, notifier := range readiness.notifiers {
		if err := notifier.Notify(); err != nil {
			result = errors.Join(result, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}

		logger.Debugf("readiness delivered via %s", notifier.Name())
	}

	if result != nil {
		return errors.ErrNotify.Wrap(result)
	}

	return nil
}

// Stopping announces shutdown to the backends that support it. It does
// nothing unless readiness was delivered.
func (readiness *Readiness) Stopping() error {
	if !readiness.notified.Load() || !readiness.stopping.CompareAndSwap(false, true) {
		return nil
	}

	var result error
	for _, notifier := range readiness.notifiers {
		if stopper, ok := notifier.(Stopper); ok {
			if err := stopper.Stopping(); err != nil {
				result = errors.Join(result, fmt.Errorf("%s: %w", notifier.Name(), err))
			}
		}
	}

	if result != nil {
		return errors.ErrNotify.Wrap(result)
	}

	return nil
}
