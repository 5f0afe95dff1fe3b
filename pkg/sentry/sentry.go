/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package sentry

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Juice-Labs/session-proxy/pkg/logger"
)

const flushTimeout = 2 * time.Second

var (
	// Set at build time to report without SENTRY_DSN.
	SentryDsn = ""
)

type ClientOptions = sentry.ClientOptions

func Initialize(config sentry.ClientOptions) error {
	var err error

	// Config DSN first, then SENTRY_DSN, then the build time DSN
	if config.Dsn == "" {
		config.Dsn = os.Getenv("SENTRY_DSN")
		if config.Dsn == "" {
			config.Dsn = SentryDsn
		}
	}

	if config.Dsn != "" {
		err = sentry.Init(config)

		if err == nil {
			logger.AddOption(zap.Hooks(func(entry zapcore.Entry) error {
				if entry.Level >= zapcore.ErrorLevel {
					sentry.AddBreadcrumb(&sentry.Breadcrumb{
						Type:      "error",
						Category:  "error",
						Level:     sentry.LevelError,
						Message:   fmt.Sprintf("%s %s", entry.Caller.TrimmedPath(), entry.Message),
						Timestamp: entry.Time,
					})
				}
				return nil
			}))
		}
	}

	return err
}

func Enabled() bool {
	return sentry.CurrentHub().Client() != nil
}

// CaptureError reports err when sentry is enabled.
func CaptureError(err error) {
	if err != nil && Enabled() {
		sentry.CaptureException(err)
	}
}

// Close flushes pending events. Deferred first thing in main, it also
// reports a panic before re-raising it.
func Close() {
	if err := recover(); err != nil {
		sentry.CurrentHub().Recover(err)
		sentry.Flush(flushTimeout)
		panic(err)
	}
	sentry.Flush(flushTimeout)
}
